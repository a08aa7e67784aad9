// Package app wires the service together: config, logging, storage, the
// provider factory, the broadcast engine, the scheduler, and the HTTP
// surface. It owns startup and shutdown ordering.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/viktordrukker/telegram-bot-ui/internal/bots"
	"github.com/viktordrukker/telegram-bot-ui/internal/broadcast"
	"github.com/viktordrukker/telegram-bot-ui/internal/config"
	"github.com/viktordrukker/telegram-bot-ui/internal/eventbus"
	"github.com/viktordrukker/telegram-bot-ui/internal/httpapi"
	"github.com/viktordrukker/telegram-bot-ui/internal/scheduler"
	"github.com/viktordrukker/telegram-bot-ui/internal/storage"
	"github.com/viktordrukker/telegram-bot-ui/internal/taskengine"
	"github.com/viktordrukker/telegram-bot-ui/internal/telegram"
	logx "github.com/viktordrukker/telegram-bot-ui/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	store     storage.Store
	bus       eventbus.Bus
	engine    *taskengine.Service
	broadcast *broadcast.Service
	sched     *scheduler.Service

	srv   *http.Server
	unsub func()
}

func New(cfgPath string) (*App, error) {
	mgr, err := config.NewManager(cfgPath)
	if err != nil {
		return nil, err
	}
	cfg := mgr.Get()

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig(cfg.Logging.File),
	})

	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: config.MustDuration(cfg.Storage.BusyTimeout, 0),
	}, log.With(logx.String("component", "storage")))
	if err != nil {
		logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	factory := telegram.NewFactory(telegram.Config{
		APIEndpoint: cfg.Telegram.APIEndpoint,
		SendTimeout: config.MustDuration(cfg.Telegram.SendTimeout, 0),
		RatePerSec:  cfg.Telegram.RatePerSec,
	}, log.With(logx.String("component", "telegram")))

	bus := eventbus.New()

	engine := taskengine.New(taskengine.Config{
		Enabled:        true,
		Workers:        cfg.TaskEngine.Workers,
		QueueSize:      cfg.TaskEngine.QueueSize,
		DefaultTimeout: config.MustDuration(cfg.TaskEngine.DefaultTimeout, 0),
		HistorySize:    cfg.TaskEngine.HistorySize,
		RetryMax:       cfg.TaskEngine.RetryMax,
	}, log.With(logx.String("component", "taskengine")), bus)

	resolver := broadcast.NewLedgerResolver(store)
	deliverer := broadcast.NewDeliverer(log.With(logx.String("component", "delivery")))
	dispatcher := broadcast.NewDispatcher(broadcast.DispatcherConfig{
		RecipientConcurrency: cfg.Broadcast.RecipientConcurrency,
	}, resolver, factory, deliverer, store, log.With(logx.String("component", "dispatch")))
	orc := broadcast.NewOrchestrator(store, dispatcher, bus, log.With(logx.String("component", "orchestrator")))

	bcast := broadcast.NewService(broadcast.Config{
		RetryMax:    cfg.Broadcast.RetryMax,
		TaskTimeout: config.MustDuration(cfg.Broadcast.TaskTimeout, 0),
	}, store, orc, engine, log.With(logx.String("component", "broadcast")))

	botSvc := bots.New(store, factory, log.With(logx.String("component", "bots")))

	sched := scheduler.New(scheduler.Config{
		Enabled:  cfg.Scheduler.IsEnabled(),
		Interval: config.MustDuration(cfg.Scheduler.Interval, 0),
	}, store, bcast, log.With(logx.String("component", "scheduler")))

	api := httpapi.New(store, bcast, botSvc, log.With(logx.String("component", "http")))
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.Router(),
		ReadTimeout:  config.MustDuration(cfg.Server.ReadTimeout, 15*time.Second),
		WriteTimeout: config.MustDuration(cfg.Server.WriteTimeout, 30*time.Second),
		IdleTimeout:  config.MustDuration(cfg.Server.IdleTimeout, time.Minute),
	}

	return &App{
		cfgMgr:    mgr,
		logSvc:    logSvc,
		log:       log,
		store:     store,
		bus:       bus,
		engine:    engine,
		broadcast: bcast,
		sched:     sched,
		srv:       srv,
	}, nil
}

// Start brings up background services and the HTTP listener. It returns once
// everything is running; the HTTP server serves in its own goroutine and
// reports fatal errors on the returned channel.
func (a *App) Start(ctx context.Context) (<-chan error, error) {
	a.engine.Start(ctx)
	if err := a.sched.Start(ctx); err != nil {
		return nil, err
	}
	a.watchEvents()
	a.watchConfig(ctx)

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("http server listening", logx.String("addr", a.srv.Addr))
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh, nil
}

// Stop shuts the service down in reverse order: stop intake (HTTP), then the
// scheduler, then drain the engine, then close storage.
func (a *App) Stop(ctx context.Context) {
	if err := a.srv.Shutdown(ctx); err != nil {
		a.log.Warn("http shutdown incomplete", logx.Err(err))
	}
	a.sched.Stop(ctx)
	a.engine.Stop(ctx)
	if a.unsub != nil {
		a.unsub()
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close failed", logx.Err(err))
	}
	a.log.Info("shutdown complete")
	a.logSvc.Close()
}

// watchEvents logs campaign lifecycle events from the bus.
func (a *App) watchEvents() {
	ch, unsub := a.bus.Subscribe(64)
	a.unsub = unsub
	log := a.log.With(logx.String("component", "events"))
	go func() {
		for ev := range ch {
			switch ev.Type {
			case eventbus.TypeCampaignStarted, eventbus.TypeCampaignFinished:
				log.Info(ev.Type, logx.Any("data", ev.Data))
			case eventbus.TypeTaskFailed, eventbus.TypeTaskDropped:
				log.Warn(ev.Type, logx.Any("data", ev.Data))
			default:
				log.Debug(ev.Type, logx.Any("data", ev.Data))
			}
		}
	}()
}

// watchConfig applies live edits to the settings that can change at runtime.
// Structural settings (listen address, storage path) take effect on restart.
func (a *App) watchConfig(ctx context.Context) {
	updates := a.cfgMgr.Subscribe()
	if err := a.cfgMgr.Watch(ctx, func(err error) {
		a.log.Warn("config reload failed", logx.Err(err))
	}); err != nil {
		a.log.Warn("config watch unavailable", logx.Err(err))
		return
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case cfg, ok := <-updates:
				if !ok {
					return
				}
				a.logSvc.Apply(logx.Config{
					Level:   cfg.Logging.Level,
					Console: cfg.Logging.Console,
					File:    logx.FileConfig(cfg.Logging.File),
				})
				a.engine.Apply(taskengine.Config{
					Enabled:        true,
					Workers:        cfg.TaskEngine.Workers,
					QueueSize:      cfg.TaskEngine.QueueSize,
					DefaultTimeout: config.MustDuration(cfg.TaskEngine.DefaultTimeout, 0),
					HistorySize:    cfg.TaskEngine.HistorySize,
					RetryMax:       cfg.TaskEngine.RetryMax,
				})
				a.log.Info("config reloaded")
			}
		}
	}()
}
