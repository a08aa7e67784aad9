package broadcast

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/viktordrukker/telegram-bot-ui/internal/ads"
	"github.com/viktordrukker/telegram-bot-ui/internal/eventbus"
	"github.com/viktordrukker/telegram-bot-ui/internal/storage"
	logx "github.com/viktordrukker/telegram-bot-ui/pkg/logx"
)

// CampaignEvent is published on the event bus when a campaign starts and
// when it reaches a terminal state.
type CampaignEvent struct {
	AdID   int64               `json:"ad_id"`
	Status ads.Status          `json:"status"`
	Result *ads.CampaignResult `json:"result,omitempty"`
	Totals *ads.OutcomeTotals  `json:"totals,omitempty"`
}

// Orchestrator runs one campaign end to end: load, filter targets, guarded
// entry into broadcasting, concurrent per-bot dispatch, aggregation, and
// the terminal status write.
type Orchestrator struct {
	store      storage.Store
	dispatcher *Dispatcher
	bus        eventbus.Bus
	log        logx.Logger
}

func NewOrchestrator(st storage.Store, d *Dispatcher, bus eventbus.Bus, log logx.Logger) *Orchestrator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Orchestrator{store: st, dispatcher: d, bus: bus, log: log}
}

// Run executes the campaign for adID. botIDs overrides the advertisement's
// configured target set when non-empty. from is the set of statuses the
// campaign may be entered from; the store's compare-and-set enforces it, so
// two racing runs cannot both enter broadcasting.
//
// Errors wrapping ads.ErrConflict mean another writer owns the campaign;
// ads.ErrNoValidTargets means the advertisement was moved to failed.
// Anything else is an orchestration failure for the caller's retry policy.
func (o *Orchestrator) Run(ctx context.Context, adID int64, botIDs []int64, from []ads.Status) (*ads.CampaignResult, error) {
	ad, err := o.store.GetAd(ctx, adID)
	if err != nil {
		return nil, err
	}
	if ad.Status == ads.StatusBroadcasting {
		return nil, fmt.Errorf("advertisement %d already broadcasting: %w", adID, ads.ErrConflict)
	}

	ids := botIDs
	if len(ids) == 0 {
		ids = ad.TargetBots
	}
	// Fresh running-state read; never reuse the trigger-time filter.
	bots, err := o.store.RunningBots(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(bots) == 0 {
		if terr := o.store.Transition(ctx, adID, from, ads.StatusFailed, time.Now()); terr != nil {
			o.log.Warn("failed-state write rejected", logx.Int64("ad", adID), logx.Err(terr))
		}
		return nil, fmt.Errorf("advertisement %d: %w", adID, ads.ErrNoValidTargets)
	}

	if err := o.store.Transition(ctx, adID, from, ads.StatusBroadcasting, time.Now()); err != nil {
		return nil, err
	}
	o.publish(eventbus.TypeCampaignStarted, CampaignEvent{AdID: adID, Status: ads.StatusBroadcasting})
	o.log.Info("campaign started", logx.Int64("ad", adID), logx.Int("bots", len(bots)))

	res, outcomes := o.dispatchAll(ctx, ad, bots)

	// The terminal status must not be visible until every bot-level
	// dispatch has finished; dispatchAll blocks on all of them.
	final := terminalStatus(res, outcomes)
	if err := o.store.Transition(ctx, adID, []ads.Status{ads.StatusBroadcasting}, final, time.Now()); err != nil {
		return res, fmt.Errorf("finalize advertisement %d: %w", adID, err)
	}

	totals := ads.FoldOutcomes(outcomes)
	o.publish(eventbus.TypeCampaignFinished, CampaignEvent{AdID: adID, Status: final, Result: res, Totals: &totals})
	o.log.Info("campaign finished",
		logx.Int64("ad", adID), logx.String("status", string(final)),
		logx.Int("bots_ok", res.Successful), logx.Int("bots_failed", res.Failed),
		logx.Int("recipients", totals.TotalRecipients), logx.Int("delivery_failed", totals.Failed))
	return res, nil
}

// dispatchAll fans out one goroutine per bot. A panic or error inside one
// bot's dispatch is recorded as that bot's failure and never aborts its
// siblings.
func (o *Orchestrator) dispatchAll(ctx context.Context, ad *ads.Advertisement, bots []ads.Bot) (*ads.CampaignResult, []ads.BroadcastOutcome) {
	res := &ads.CampaignResult{TotalBots: len(bots)}
	outcomes := make([]ads.BroadcastOutcome, 0, len(bots))

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, bot := range bots {
		wg.Add(1)
		go func(bot ads.Bot) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					o.log.Error("panic in bot dispatch",
						logx.Int64("ad", ad.ID), logx.Int64("bot", bot.ID),
						logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
					mu.Lock()
					res.Failed++
					res.Errors = append(res.Errors, ads.BotDispatchError{BotID: bot.ID, Error: fmt.Sprintf("panic: %v", r)})
					mu.Unlock()
				}
			}()

			out, err := o.dispatcher.Dispatch(ctx, ad, bot.ID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed++
				res.Errors = append(res.Errors, ads.BotDispatchError{BotID: bot.ID, Error: err.Error()})
				o.log.Warn("bot dispatch failed", logx.Int64("ad", ad.ID), logx.Int64("bot", bot.ID), logx.Err(err))
				return
			}
			res.Successful++
			outcomes = append(outcomes, out)
		}(bot)
	}
	wg.Wait()

	return res, outcomes
}

// terminalStatus applies the state machine rule on recipient-level counts:
// completed only when no bot failed and no recipient failed; failed when
// every bot dispatch failed entirely; partially_completed otherwise.
func terminalStatus(res *ads.CampaignResult, outcomes []ads.BroadcastOutcome) ads.Status {
	if res.Successful == 0 {
		return ads.StatusFailed
	}
	totals := ads.FoldOutcomes(outcomes)
	if totals.Failed > 0 || res.Failed > 0 {
		return ads.StatusPartiallyCompleted
	}
	return ads.StatusCompleted
}

func (o *Orchestrator) publish(typ string, ev CampaignEvent) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
}
