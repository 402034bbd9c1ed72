// Package app wires the crash relay for cmd/crashrelay: config, logging,
// the crash store, the dispatch engine, metrics and, for the long-running
// mode, the stdin intake, config hot reload, HTTP endpoint and digest.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"crashrelay/internal/config"
	"crashrelay/internal/engine"
	"crashrelay/internal/eventbus"
	"crashrelay/internal/metrics"
	"crashrelay/internal/notifier"
	"crashrelay/internal/observability/server"
	"crashrelay/internal/report"
	"crashrelay/internal/storage"
	logx "crashrelay/pkg/logx"
)

// Options are command-line overrides applied on top of the config file.
type Options struct {
	Version  string
	LogLevel string
}

type App struct {
	cfgm *config.Manager

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	engine  *engine.Engine
	metrics *metrics.Metrics
	http    *server.Service

	logLevel string

	cronMu sync.Mutex
	cron   *cron.Cron
}

// New loads the config file and opens the store. The engine is built but
// not initialized; call Initialize (one-shot commands) or Run.
func New(cfgPath string, opts Options) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	lc := cfg.LoggerConfig()
	if opts.LogLevel != "" {
		lc.Level = opts.LogLevel
	}
	logSvc, log := logx.NewService(lc)
	cfgm.SetLogger(log)

	sc, err := cfg.StoreConfig()
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	engOpts, err := cfg.EngineOptions()
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	bus := eventbus.New()
	engOpts = append(engOpts,
		engine.WithLogger(log),
		engine.WithBus(bus),
		engine.WithVersion(opts.Version),
	)

	m := metrics.New()
	return &App{
		cfgm:     cfgm,
		log:      log.With(logx.String("comp", "app")),
		logs:     logSvc,
		bus:      bus,
		store:    store,
		engine:   engine.New(store, engOpts...),
		metrics:  m,
		http:     server.New(m.Handler(), log),
		logLevel: opts.LogLevel,
	}, nil
}

func (a *App) Engine() *engine.Engine { return a.engine }

func (a *App) Config() *config.Config { return a.cfgm.Get() }

func (a *App) Metrics() *metrics.Metrics { return a.metrics }

// Initialize applies the current config to the engine.
func (a *App) Initialize(ctx context.Context) {
	a.engine.Initialize(ctx, a.cfgm.Get().Settings())
}

// Close disposes the engine and closes the store and log file.
func (a *App) Close() error {
	return errors.Join(a.engine.Close(), a.logs.Close())
}

// Status is the point-in-time view printed by the status command.
type Status struct {
	Enabled       bool                      `json:"enabled"`
	Initialized   bool                      `json:"initialized"`
	Pending       int                       `json:"pending"`
	Crashes       int                       `json:"crashes"`
	Channels      map[notifier.Kind]bool    `json:"channels"`
	Notifications engine.NotificationConfig `json:"notifications"`
	LastCrash     *report.Crash             `json:"last_crash,omitempty"`
}

func (a *App) Status(ctx context.Context) Status {
	st := Status{
		Enabled:       a.engine.Enabled(),
		Initialized:   a.engine.Initialized(),
		Pending:       a.engine.PendingCount(),
		Channels:      a.engine.NotifierStatus(),
		Notifications: a.engine.NotificationConfig(),
	}
	crashes := a.engine.LocalCrashLogs(ctx)
	st.Crashes = len(crashes)
	if n := len(crashes); n > 0 {
		last := crashes[n-1]
		st.LastCrash = &last
	}
	return st
}

func serverConfig(cfg *config.Config) server.Config {
	return server.Config{
		Enabled: cfg.Metrics.Enabled,
		Addr:    cfg.MetricsAddr(),
		Token:   cfg.Metrics.Token,
		Pprof:   cfg.Metrics.Pprof,
	}
}
