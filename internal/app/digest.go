package app

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"

	"crashrelay/internal/config"
	"crashrelay/internal/engine"
	"crashrelay/internal/report"
	logx "crashrelay/pkg/logx"
)

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Warn("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}

// applyDigest replaces the digest job with the one cfg describes. An empty
// schedule stops it.
func (a *App) applyDigest(ctx context.Context, cfg *config.Config) {
	a.stopDigest()

	sched, err := cfg.DigestSchedule()
	if err != nil {
		a.log.Warn("digest disabled", logx.Err(err))
		return
	}
	if sched == nil {
		return
	}
	cl := cronLogger{log: a.log.With(logx.String("comp", "digest"))}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	c.Schedule(sched, cron.FuncJob(func() { a.SendDigest(ctx) }))
	c.Start()

	a.cronMu.Lock()
	a.cron = c
	a.cronMu.Unlock()
	a.log.Info("digest scheduled", logx.String("schedule", cfg.Digest.Schedule), logx.Time("next", sched.Next(time.Now())))
}

func (a *App) stopDigest() {
	a.cronMu.Lock()
	c := a.cron
	a.cron = nil
	a.cronMu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-time.After(5 * time.Second):
		a.log.Warn("digest job still running after stop")
	}
}

// SendDigest sends a "N crash records stored locally" event. Nothing is
// sent while the log is empty.
func (a *App) SendDigest(ctx context.Context) engine.Results {
	crashes := a.engine.LocalCrashLogs(ctx)
	n := len(crashes)
	if n == 0 {
		a.log.Debug("digest skipped: no crash records")
		return nil
	}
	last := crashes[n-1]
	extra := report.Extra{}.
		Add("count", n).
		Add("last_crash", humanize.Time(last.CreatedAt)).
		Add("last_error", last.Error)
	noun := "records"
	if n == 1 {
		noun = "record"
	}
	return a.engine.SendEvent(ctx, engine.EventInput{
		Message: fmt.Sprintf("%s crash %s stored locally", humanize.Comma(int64(n)), noun),
		Context: "digest",
		Extra:   extra,
	})
}
