// Package taskengine executes background units of work (campaign
// orchestrations, scheduled promotions) from a bounded queue with a worker
// pool, panic recovery, and bounded retry with backoff. Execution is
// at-least-once; tasks are expected to re-check persistent state on retry.
package taskengine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/viktordrukker/telegram-bot-ui/internal/eventbus"
	logx "github.com/viktordrukker/telegram-bot-ui/pkg/logx"
)

type queuedTask struct {
	task    Task
	opt     TaskOptions
	state   *RunState
	track   bool // release state when done
	timeout time.Duration
}

// Service executes tasks from a queue using a worker pool.
type Service struct {
	mu sync.Mutex

	log logx.Logger
	bus eventbus.Bus
	cfg Config

	queue     chan queuedTask
	stopCh    chan struct{}
	stopDone  chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup

	stateMu sync.Mutex
	states  map[string]*RunState

	hmu     sync.Mutex
	history []HistoryItem

	dropped uint64
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log, bus: bus, states: map[string]*RunState{}}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	// Live pool resizing is out of scope; takes effect on next Start.
}

func (s *Service) Start(ctx context.Context) {
	// If a Stop() is in progress, wait for it (prevents double worker pools).
	for {
		s.mu.Lock()
		if s.stopCh == nil {
			break
		}
		done := s.stopDone
		if done == nil {
			// already running
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
	}
	defer s.mu.Unlock()

	s.stopCh = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)

	workers := s.cfg.Workers
	if workers <= 0 {
		workers = 2
	}
	qs := s.cfg.QueueSize
	if qs <= 0 {
		qs = 256
	}
	// Fresh queue per run to avoid executing stale items after a stop/start.
	s.queue = make(chan queuedTask, qs)

	runCtx := s.runCtx
	stopCh := s.stopCh
	queue := s.queue

	s.workerWG.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer s.workerWG.Done()
			s.worker(runCtx, stopCh, queue, idx)
		}()
	}

	s.log.Info("task engine started", logx.Int("workers", workers), logx.Int("queue_size", qs))
}

func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	stopCh := s.stopCh
	cancel := s.runCancel
	s.runCancel = nil
	s.mu.Unlock()

	close(stopCh)
	if cancel != nil {
		cancel()
	}

	go func() {
		s.workerWG.Wait()
		s.mu.Lock()
		s.stopCh = nil
		s.runCtx = nil
		s.queue = nil
		s.stopDone = nil
		s.mu.Unlock()
		close(done)
		s.log.Info("task engine stopped", logx.Duration("took", time.Since(start)))
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// stop continues in background
	}
}

func (s *Service) stateFor(key string) *RunState {
	key = strings.TrimSpace(key)
	if key == "" {
		return &RunState{}
	}
	s.stateMu.Lock()
	st := s.states[key]
	if st == nil {
		st = &RunState{}
		s.states[key] = st
	}
	s.stateMu.Unlock()
	return st
}

// Enqueue submits a task for execution.
//
// It is non-blocking: if the queue is full it returns ErrQueueFull and drops
// the task.
func (s *Service) Enqueue(t Task) error {
	s.mu.Lock()
	cfg := s.cfg
	q := s.queue
	s.mu.Unlock()

	if !cfg.Enabled {
		return ErrDisabled
	}
	if q == nil {
		return ErrStopped
	}
	if t.Run == nil {
		return errors.New("task Run is nil")
	}

	opt := t.Opt.withDefaults(cfg)

	key := strings.TrimSpace(t.ConcurrencyKey)
	if key == "" {
		key = t.Name
	}
	st := s.stateFor(key)

	track := false
	if opt.Overlap == OverlapSkipIfRunning {
		if !st.tryAcquire() {
			now := time.Now()
			s.log.Debug("task skipped (overlap)", logx.String("task", t.Name))
			s.publish(eventbus.TypeTaskSkipped, now, TaskEvent{ID: t.ID, Name: t.Name, Started: now, Error: "overlap_skip"})
			return ErrOverlapSkip
		}
		track = true
	}

	timeout := t.Timeout
	if timeout <= 0 && cfg.DefaultTimeout > 0 {
		timeout = cfg.DefaultTimeout
	}

	qt := queuedTask{task: t, opt: opt, state: st, track: track, timeout: timeout}
	select {
	case q <- qt:
		return nil
	default:
		if track {
			st.release()
		}
		atomic.AddUint64(&s.dropped, 1)
		now := time.Now()
		s.log.Warn("task queue full; dropping task", logx.String("task", t.Name), logx.Int("queue_len", len(q)), logx.Int("queue_cap", cap(q)))
		s.publish(eventbus.TypeTaskDropped, now, TaskEvent{ID: t.ID, Name: t.Name, Started: now, Error: "queue_full"})
		return ErrQueueFull
	}
}

func (s *Service) publish(typ string, at time.Time, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: at, Data: data})
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	enabled := s.cfg.Enabled
	workers := s.cfg.Workers
	defTimeout := s.cfg.DefaultTimeout
	retryMax := s.cfg.RetryMax
	ql, qc := 0, 0
	if s.queue != nil {
		ql = len(s.queue)
		qc = cap(s.queue)
	}
	s.mu.Unlock()

	if workers <= 0 {
		workers = 2
	}

	s.hmu.Lock()
	hist := make([]HistoryItem, len(s.history))
	copy(hist, s.history)
	s.hmu.Unlock()

	return Snapshot{
		Enabled:        enabled,
		Workers:        workers,
		QueueLen:       ql,
		QueueCap:       qc,
		Dropped:        atomic.LoadUint64(&s.dropped),
		DefaultTimeout: defTimeout,
		RetryMax:       retryMax,
		History:        hist,
	}
}
