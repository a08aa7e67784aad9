// Package telegram wraps the messaging provider behind small Client and
// Factory interfaces so the broadcast engine never touches telebot directly
// and tests can substitute fakes.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"github.com/viktordrukker/telegram-bot-ui/internal/ads"
	logx "github.com/viktordrukker/telegram-bot-ui/pkg/logx"
)

// Client sends messages through one bot credential.
type Client interface {
	// SendText delivers a plain text message (HTML parse mode).
	SendText(ctx context.Context, chatID int64, text string) error
	// SendMedia delivers one media item with the advertisement body as caption.
	// The provider call is chosen by the media's precomputed kind.
	SendMedia(ctx context.Context, chatID int64, m ads.MediaRef, caption string) error
}

// Factory produces a Client for a bot credential, verifying the credential
// against the provider in the process.
type Factory interface {
	Client(ctx context.Context, token string) (Client, error)
}

type Config struct {
	// APIEndpoint overrides the provider URL (tests, local bot API servers).
	APIEndpoint string
	// SendTimeout bounds every single provider call. A hung delivery to one
	// recipient must never hang the campaign.
	SendTimeout time.Duration
	// RatePerSec is the provider-wide send rate shared by all bots.
	RatePerSec int
}

func (c Config) withDefaults() Config {
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 25
	}
	return c
}

// BotFactory builds telebot-backed clients. The rate limiter is shared
// across all bots so concurrent campaigns stay inside provider limits.
type BotFactory struct {
	cfg     Config
	log     logx.Logger
	limiter *rate.Limiter
}

func NewFactory(cfg Config, log logx.Logger) *BotFactory {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &BotFactory{
		cfg:     cfg,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

// Client validates the token (telebot performs getMe on construction) and
// returns a sender bound to it.
func (f *BotFactory) Client(ctx context.Context, token string) (Client, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := tele.NewBot(tele.Settings{
		Token: token,
		URL:   f.cfg.APIEndpoint,
		// The http timeout is the per-call bound for every send.
		Client: &http.Client{Timeout: f.cfg.SendTimeout},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram credential check: %w", err)
	}
	return &teleClient{bot: b, limiter: f.limiter}, nil
}

type teleClient struct {
	bot     *tele.Bot
	limiter *rate.Limiter
}

func (c *teleClient) SendText(ctx context.Context, chatID int64, text string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := c.bot.Send(tele.ChatID(chatID), text, &tele.SendOptions{ParseMode: tele.ModeHTML})
	return err
}

func (c *teleClient) SendMedia(ctx context.Context, chatID int64, m ads.MediaRef, caption string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var payload any
	switch m.Kind {
	case ads.MediaImage:
		payload = &tele.Photo{File: tele.FromURL(m.URL), Caption: caption}
	case ads.MediaVideo:
		payload = &tele.Video{File: tele.FromURL(m.URL), Caption: caption}
	case ads.MediaAudio:
		payload = &tele.Audio{File: tele.FromURL(m.URL), Caption: caption}
	default:
		payload = &tele.Document{File: tele.FromURL(m.URL), Caption: caption}
	}

	_, err := c.bot.Send(tele.ChatID(chatID), payload, &tele.SendOptions{ParseMode: tele.ModeHTML})
	return err
}
