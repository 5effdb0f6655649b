// Package app wires the automation engine together and owns its lifecycle.
package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/coreos/go-systemd/v22/daemon"

	"automail/internal/config"
	"automail/internal/engine"
	"automail/internal/eventbus"
	"automail/internal/mailer"
	"automail/internal/rule"
	"automail/internal/scheduler"
	"automail/internal/storage"
	"automail/internal/template"
	"automail/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	db    *storage.DB
	bus   eventbus.Bus
	sched *scheduler.Service
	eng   *engine.Engine
	disp  *engine.Dispatcher
	rules *rule.Service

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
	cfgCh    chan *config.Config
}

// New loads the config and constructs every component. Nothing is running
// yet; Start launches the scheduler and background loops.
func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(cfg.LogConfig())
	mgr.SetLogger(log.With(logx.String("component", "config")))

	stCfg, err := cfg.StorageConfig()
	if err != nil {
		return nil, err
	}
	db, err := storage.Open(stCfg, log.With(logx.String("component", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	mail, err := mailer.New(cfg.MailerConfig(), log.With(logx.String("component", "mailer")))
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	render, err := template.New(cfg.Templates.Dir)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	eng := engine.New(db, db, render, mail, log.With(logx.String("component", "engine")))

	schedCfg, err := cfg.SchedulerConfig()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	sched := scheduler.New(schedCfg, eng, log.With(logx.String("component", "scheduler")))

	bus := eventbus.New()

	return &App{
		cfgMgr: mgr,
		logSvc: logSvc,
		log:    log,
		db:     db,
		bus:    bus,
		sched:  sched,
		eng:    eng,
		disp:   engine.NewDispatcher(eng, db, bus, log.With(logx.String("component", "dispatch"))),
		rules:  rule.NewService(db, sched, log.With(logx.String("component", "rules"))),
	}, nil
}

// Rules exposes the rule-management service to embedding surfaces
// (admin handlers, seeding). All rule mutations must go through it so the
// live scheduler stays synchronized.
func (a *App) Rules() *rule.Service { return a.rules }

// Bus exposes the domain event bus; CRM surfaces publish entity events
// into it to drive event-based rules.
func (a *App) Bus() eventbus.Bus { return a.bus }

// Start bootstraps the trigger registry from the store, then launches the
// scheduler, the event dispatcher and the config watcher. The bootstrap
// pass runs to completion before any triggering work is accepted; its
// failure (store unavailable) fails startup outright.
func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgMgr.Get()

	bootTimeout, err := cfg.BootstrapTimeoutOrDefault()
	if err != nil {
		return err
	}
	bctx, cancel := context.WithTimeout(ctx, bootTimeout)
	err = engine.Bootstrap(bctx, a.db, a.sched, a.log.With(logx.String("component", "bootstrap")))
	cancel()
	if err != nil {
		return err
	}

	a.sched.Start(ctx)

	bgCtx, bgCancel := context.WithCancel(context.Background())
	a.bgCancel = bgCancel

	a.bgWG.Add(1)
	go func() {
		defer a.bgWG.Done()
		a.disp.Run(bgCtx)
	}()

	a.bgWG.Add(1)
	go func() {
		defer a.bgWG.Done()
		_ = a.cfgMgr.Watch(bgCtx)
	}()

	a.cfgCh = a.cfgMgr.Subscribe(4)
	a.bgWG.Add(1)
	go func() {
		defer a.bgWG.Done()
		a.applyLoop(bgCtx)
	}()

	// Best-effort; no-op outside systemd.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("automail started")
	return nil
}

// applyLoop applies hot-reloadable settings from config updates.
// Storage, mailer and template changes require a restart.
func (a *App) applyLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-a.cfgCh:
			if !ok || cfg == nil {
				return
			}
			a.logSvc.Apply(cfg.LogConfig())
			if sc, err := cfg.SchedulerConfig(); err == nil {
				a.sched.Apply(sc)
			}
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if a.bgCancel != nil {
		a.bgCancel()
	}
	a.sched.Stop(ctx)
	a.bgWG.Wait()
	if a.cfgCh != nil {
		a.cfgMgr.Unsubscribe(a.cfgCh)
		a.cfgCh = nil
	}

	err := a.db.Close()
	a.log.Info("automail stopped")
	_ = a.logSvc.Close()
	return err
}
