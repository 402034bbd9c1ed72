package app

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	rtsup "crashrelay/internal/runtime/supervisor"
	logx "crashrelay/pkg/logx"
)

const shutdownTimeout = 5 * time.Second

// Run is the long-running host. It initializes the engine, starts the
// background loops and blocks until ctx ends. in may be nil; its EOF does
// not stop the host.
func (a *App) Run(ctx context.Context, in io.Reader) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(a.log))
	runCtx := sup.Context()

	events, unsub := a.bus.Subscribe(256)
	sup.Go("metrics.collect", func(c context.Context) error {
		defer unsub()
		return a.metrics.Consume(c, events)
	})

	cfg := a.cfgm.Get()
	a.engine.Initialize(runCtx, cfg.Settings())
	a.engine.SendAppStartup(runCtx, nil)

	a.http.Reconfigure(runCtx, serverConfig(cfg))
	a.applyDigest(runCtx, cfg)

	sub := a.cfgm.Subscribe(8)
	sup.Go("config.apply", func(c context.Context) error { return a.watchConfig(c, sub, cfg) })
	sup.GoRestart("config.watch", a.cfgm.Watch)
	if in != nil {
		sup.Go("stdin.intake", func(c context.Context) error { return a.Intake(c, in) })
	}

	a.sdNotify(daemon.SdNotifyReady)
	a.log.Info("crashrelay running", logx.String("config", a.cfgm.Path()), logx.Bool("stdin", in != nil))

	<-runCtx.Done()
	a.sdNotify(daemon.SdNotifyStopping)
	a.log.Info("crashrelay stopping")

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.stopDigest()
	a.http.Stop(stopCtx)
	err := sup.Stop(stopCtx)
	a.engine.Dispose()
	if errors.Is(err, context.DeadlineExceeded) {
		a.log.Warn("background loops still running at shutdown", logx.Any("loops", sup.Snapshot()))
	}
	return err
}

// sdNotify is a no-op outside systemd.
func (a *App) sdNotify(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
		return
	}
	if sent {
		a.log.Debug("sd_notify", logx.String("state", state))
	}
}
