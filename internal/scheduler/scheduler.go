// Package scheduler promotes advertisements whose scheduled time has
// arrived into active campaigns. Promotion and the pending→broadcasting
// transition are not one atomic step; the store's compare-and-set is what
// keeps an overlapping tick (or a tick racing a manual trigger) from
// double-broadcasting.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/viktordrukker/telegram-bot-ui/internal/ads"
	"github.com/viktordrukker/telegram-bot-ui/internal/broadcast"
	"github.com/viktordrukker/telegram-bot-ui/internal/storage"
	logx "github.com/viktordrukker/telegram-bot-ui/pkg/logx"
)

type Config struct {
	Enabled  bool
	Interval time.Duration // default 60s
}

type Service struct {
	cfg   Config
	store storage.Store
	svc   *broadcast.Service
	log   logx.Logger

	mu     sync.Mutex
	c      *cron.Cron
	cancel context.CancelFunc
}

func New(cfg Config, st storage.Store, svc *broadcast.Service, log logx.Logger) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, store: st, svc: svc, log: log}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.c != nil {
		return nil
	}

	tickCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	c := cron.New()
	spec := fmt.Sprintf("@every %s", s.cfg.Interval)
	if _, err := c.AddFunc(spec, func() { s.tick(tickCtx) }); err != nil {
		cancel()
		s.cancel = nil
		return fmt.Errorf("schedule %q: %w", spec, err)
	}
	c.Start()
	s.c = c

	s.log.Info("scheduler started", logx.Duration("interval", s.cfg.Interval))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	cancel := s.cancel
	s.c = nil
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

// tick queries due pending advertisements and queues a campaign for each.
func (s *Service) tick(ctx context.Context) {
	due, err := s.store.DueAds(ctx, time.Now())
	if err != nil {
		s.log.Warn("due-advertisement query failed", logx.Err(err))
		return
	}
	for _, ad := range due {
		if err := s.svc.EnqueueScheduled(ad.ID); err != nil {
			if errors.Is(err, ads.ErrConflict) {
				// Already queued by a previous tick or a manual trigger.
				s.log.Debug("scheduled campaign already queued", logx.Int64("ad", ad.ID))
				continue
			}
			s.log.Warn("scheduled campaign enqueue failed", logx.Int64("ad", ad.ID), logx.Err(err))
			continue
		}
		s.log.Info("scheduled campaign promoted", logx.Int64("ad", ad.ID), logx.Time("scheduled_for", derefTime(ad.ScheduledFor)))
	}
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
