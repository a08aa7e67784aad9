package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/viktordrukker/telegram-bot-ui/internal/ads"
	"github.com/viktordrukker/telegram-bot-ui/internal/storage"
	"github.com/viktordrukker/telegram-bot-ui/internal/telegram"
	logx "github.com/viktordrukker/telegram-bot-ui/pkg/logx"
)

// DispatcherConfig tunes per-bot recipient fan-out.
type DispatcherConfig struct {
	// RecipientConcurrency bounds concurrent sends within one bot's
	// dispatch. 1 means sequential delivery.
	RecipientConcurrency int
}

// Dispatcher drives the delivery adapter over all recipients of one bot and
// persists exactly one BroadcastOutcome per completed dispatch.
type Dispatcher struct {
	cfg      DispatcherConfig
	resolver RecipientResolver
	factory  telegram.Factory
	deliver  Deliverer
	store    storage.Store
	log      logx.Logger
}

func NewDispatcher(cfg DispatcherConfig, resolver RecipientResolver, factory telegram.Factory, deliver Deliverer, st storage.Store, log logx.Logger) *Dispatcher {
	if cfg.RecipientConcurrency <= 0 {
		cfg.RecipientConcurrency = 4
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{cfg: cfg, resolver: resolver, factory: factory, deliver: deliver, store: st, log: log}
}

// Dispatch delivers the advertisement to every recipient of one bot.
//
// A recipient failure is counted, never propagated: the only error returns
// are bot-level (stale bot status, bad credential, resolution failure,
// outcome persistence failure), which the orchestrator records as a failed
// bot without touching its siblings.
func (d *Dispatcher) Dispatch(ctx context.Context, ad *ads.Advertisement, botID int64) (ads.BroadcastOutcome, error) {
	var zero ads.BroadcastOutcome

	// Re-read the bot at dispatch time: an operator may have stopped it
	// after the campaign's target set was filtered.
	bot, err := d.store.GetBot(ctx, botID)
	if err != nil {
		return zero, err
	}
	if bot.Status != ads.BotRunning {
		return zero, fmt.Errorf("bot %d is %s, not running", bot.ID, bot.Status)
	}

	client, err := d.factory.Client(ctx, bot.Token)
	if err != nil {
		return zero, fmt.Errorf("bot %d: %w", bot.ID, err)
	}

	chats, err := d.resolver.Resolve(ctx, *bot)
	if err != nil {
		return zero, fmt.Errorf("resolve recipients for bot %d: %w", bot.ID, err)
	}

	var (
		mu         sync.Mutex
		wg         sync.WaitGroup
		successful int
		failed     int
	)
	sem := make(chan struct{}, d.cfg.RecipientConcurrency)

	for _, chatID := range chats {
		wg.Add(1)
		sem <- struct{}{}
		go func(chatID int64) {
			defer wg.Done()
			defer func() { <-sem }()

			err := d.deliver.Deliver(ctx, client, chatID, ad)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				d.log.Debug("delivery failed",
					logx.Int64("ad", ad.ID), logx.Int64("bot", bot.ID), logx.Int64("chat", chatID), logx.Err(err))
				return
			}
			successful++
		}(chatID)
	}
	wg.Wait()

	out := ads.BroadcastOutcome{
		AdID:            ad.ID,
		BotID:           bot.ID,
		TotalRecipients: len(chats),
		Successful:      successful,
		Failed:          failed,
		At:              time.Now(),
	}
	if err := d.store.AppendOutcome(ctx, out); err != nil {
		return zero, fmt.Errorf("append outcome for bot %d: %w", bot.ID, err)
	}

	d.log.Info("bot dispatch completed",
		logx.Int64("ad", ad.ID), logx.Int64("bot", bot.ID),
		logx.Int("total", out.TotalRecipients), logx.Int("ok", out.Successful), logx.Int("failed", out.Failed))
	return out, nil
}
