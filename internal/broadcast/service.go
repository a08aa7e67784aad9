package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/viktordrukker/telegram-bot-ui/internal/ads"
	"github.com/viktordrukker/telegram-bot-ui/internal/storage"
	"github.com/viktordrukker/telegram-bot-ui/internal/taskengine"
	logx "github.com/viktordrukker/telegram-bot-ui/pkg/logx"
)

// Config tunes campaign execution.
type Config struct {
	// RetryMax bounds orchestration retries per campaign task.
	RetryMax int
	// TaskTimeout bounds one orchestration attempt end to end.
	TaskTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.RetryMax <= 0 {
		c.RetryMax = 3
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 10 * time.Minute
	}
	return c
}

// Service is the operator-facing broadcast surface. Triggers are validated
// synchronously and executed asynchronously on the task engine.
type Service struct {
	cfg    Config
	store  storage.Store
	orc    *Orchestrator
	engine *taskengine.Service
	log    logx.Logger
}

func NewService(cfg Config, st storage.Store, orc *Orchestrator, engine *taskengine.Service, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg.withDefaults(), store: st, orc: orc, engine: engine, log: log}
}

// TriggerBroadcast validates the request and queues the campaign.
//
// Rejections surface as wrapped domain errors: ads.ErrNotFound,
// ads.ErrConflict (already broadcasting), ads.ErrNoValidTargets (which also
// moves the advertisement to failed, target set untouched).
func (s *Service) TriggerBroadcast(ctx context.Context, adID int64, botIDs []int64) error {
	ad, err := s.store.GetAd(ctx, adID)
	if err != nil {
		return err
	}
	if ad.Status == ads.StatusBroadcasting {
		return fmt.Errorf("advertisement %d already broadcasting: %w", adID, ads.ErrConflict)
	}

	ids := botIDs
	if len(ids) == 0 {
		ids = ad.TargetBots
	}
	bots, err := s.store.RunningBots(ctx, ids)
	if err != nil {
		return err
	}
	if len(bots) == 0 {
		if terr := s.store.Transition(ctx, adID, triggerFrom(), ads.StatusFailed, time.Now()); terr != nil {
			s.log.Warn("failed-state write rejected", logx.Int64("ad", adID), logx.Err(terr))
		}
		return fmt.Errorf("advertisement %d: %w", adID, ads.ErrNoValidTargets)
	}

	return s.enqueue(adID, botIDs, false)
}

// EnqueueScheduled queues a campaign promoted by the scheduler. Promotion
// only ever happens out of pending; the store-level compare-and-set is the
// guard against a tick racing a manual trigger.
func (s *Service) EnqueueScheduled(adID int64) error {
	return s.enqueue(adID, nil, true)
}

func (s *Service) enqueue(adID int64, botIDs []int64, scheduled bool) error {
	name := fmt.Sprintf("campaign:%d", adID)
	attempted := false

	err := s.engine.Enqueue(taskengine.Task{
		ID:             uuid.NewString(),
		Name:           name,
		ConcurrencyKey: name,
		Timeout:        s.cfg.TaskTimeout,
		Opt: taskengine.TaskOptions{
			Overlap:  taskengine.OverlapSkipIfRunning,
			RetryMax: s.cfg.RetryMax,
		},
		Run: func(ctx context.Context) error {
			// The from-set narrows on retry so a retry never resurrects a
			// campaign that some other writer completed meanwhile.
			from := runFrom(scheduled, attempted)
			attempted = true

			_, err := s.orc.Run(ctx, adID, botIDs, from)
			if errors.Is(err, ads.ErrConflict) {
				s.log.Debug("campaign already owned elsewhere; dropping attempt", logx.Int64("ad", adID))
				return nil
			}
			if errors.Is(err, ads.ErrNoValidTargets) || errors.Is(err, ads.ErrNotFound) {
				// Nothing a retry can fix.
				s.log.Warn("campaign not runnable", logx.Int64("ad", adID), logx.Err(err))
				return nil
			}
			if err != nil {
				// Park a campaign that failed mid-broadcast in failed so it
				// is never stuck in broadcasting; the retry re-enters from
				// there. Failures before entering broadcasting leave the
				// status alone.
				terr := s.store.Transition(context.WithoutCancel(ctx), adID,
					[]ads.Status{ads.StatusBroadcasting}, ads.StatusFailed, time.Now())
				if terr != nil && !errors.Is(terr, ads.ErrConflict) && !errors.Is(terr, ads.ErrNotFound) {
					s.log.Warn("failed-state write rejected", logx.Int64("ad", adID), logx.Err(terr))
				}
			}
			return err
		},
	})
	if errors.Is(err, taskengine.ErrOverlapSkip) {
		// Identical campaign already queued or running.
		return fmt.Errorf("advertisement %d already queued: %w", adID, ads.ErrConflict)
	}
	return err
}

// triggerFrom is the status set an operator trigger may act from: anything
// but broadcasting.
func triggerFrom() []ads.Status {
	return []ads.Status{ads.StatusPending, ads.StatusCompleted, ads.StatusPartiallyCompleted, ads.StatusFailed}
}

func runFrom(scheduled, retry bool) []ads.Status {
	if retry {
		// Retries may re-enter only from our own failure mark.
		return []ads.Status{ads.StatusPending, ads.StatusFailed}
	}
	if scheduled {
		return []ads.Status{ads.StatusPending}
	}
	return triggerFrom()
}

// CampaignStatus is the operator-facing read model for one campaign.
type CampaignStatus struct {
	AdID         int64              `json:"ad_id"`
	Status       ads.Status         `json:"status"`
	ScheduledFor *time.Time         `json:"scheduled_for,omitempty"`
	CompletedAt  *time.Time         `json:"completed_at,omitempty"`
	Metrics      *ads.OutcomeTotals `json:"metrics,omitempty"`
}

// Status folds the campaign's outcome records into the aggregate view.
func (s *Service) Status(ctx context.Context, adID int64) (*CampaignStatus, error) {
	ad, err := s.store.GetAd(ctx, adID)
	if err != nil {
		return nil, err
	}
	outs, err := s.store.OutcomesByAd(ctx, adID)
	if err != nil {
		return nil, err
	}

	st := &CampaignStatus{
		AdID:         ad.ID,
		Status:       ad.Status,
		ScheduledFor: ad.ScheduledFor,
		CompletedAt:  ad.CompletedAt,
	}
	if len(outs) > 0 {
		totals := ads.FoldOutcomes(outs)
		st.Metrics = &totals
	}
	return st, nil
}
