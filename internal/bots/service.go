// Package bots manages bot account records and their lifecycle status.
// Starting a bot verifies the credential against the messaging provider;
// only running bots are eligible broadcast targets. Supervising actual bot
// processes is a separate concern and lives outside this service.
package bots

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/viktordrukker/telegram-bot-ui/internal/ads"
	"github.com/viktordrukker/telegram-bot-ui/internal/storage"
	"github.com/viktordrukker/telegram-bot-ui/internal/telegram"
	logx "github.com/viktordrukker/telegram-bot-ui/pkg/logx"
)

type Service struct {
	store   storage.Store
	factory telegram.Factory
	log     logx.Logger
}

func New(st storage.Store, factory telegram.Factory, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: st, factory: factory, log: log}
}

// Register stores a new bot in the stopped state.
func (s *Service) Register(ctx context.Context, userID int64, token, name string) (*ads.Bot, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("bot token is required")
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("bot name is required")
	}
	b := &ads.Bot{UserID: userID, Token: token, Name: name, Status: ads.BotStopped}
	if err := s.store.CreateBot(ctx, b); err != nil {
		return nil, err
	}
	s.log.Info("bot registered", logx.Int64("bot", b.ID), logx.Int64("user", userID))
	return b, nil
}

// Start verifies the bot's credential against the provider and marks it
// running. A provider rejection moves the bot to the error state.
func (s *Service) Start(ctx context.Context, id int64) (*ads.Bot, error) {
	b, err := s.store.GetBot(ctx, id)
	if err != nil {
		return nil, err
	}

	if _, err := s.factory.Client(ctx, b.Token); err != nil {
		if serr := s.store.SetBotStatus(ctx, id, ads.BotError, nil); serr != nil {
			s.log.Warn("bot error-state write failed", logx.Int64("bot", id), logx.Err(serr))
		}
		return nil, fmt.Errorf("start bot %d: %w", id, err)
	}

	now := time.Now()
	if err := s.store.SetBotStatus(ctx, id, ads.BotRunning, &now); err != nil {
		return nil, err
	}
	b.Status = ads.BotRunning
	b.LastActive = &now
	s.log.Info("bot started", logx.Int64("bot", id))
	return b, nil
}

// Stop marks the bot stopped. An in-flight dispatch through this bot is
// allowed to finish; no new dispatch will start against it.
func (s *Service) Stop(ctx context.Context, id int64) (*ads.Bot, error) {
	b, err := s.store.GetBot(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetBotStatus(ctx, id, ads.BotStopped, nil); err != nil {
		return nil, err
	}
	b.Status = ads.BotStopped
	s.log.Info("bot stopped", logx.Int64("bot", id))
	return b, nil
}

// RegisterChat records a chat in the bot's recipient ledger.
func (s *Service) RegisterChat(ctx context.Context, botID, chatID int64) error {
	if _, err := s.store.GetBot(ctx, botID); err != nil {
		return err
	}
	return s.store.AddChat(ctx, botID, chatID)
}
