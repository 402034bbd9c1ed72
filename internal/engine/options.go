package engine

import (
	"time"

	"crashrelay/internal/eventbus"
	"crashrelay/internal/notifier"
	logx "crashrelay/pkg/logx"
)

const DefaultFlushInterval = time.Second

type Option func(*Engine)

func WithLogger(log logx.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithBus publishes every per-channel outcome on bus.
func WithBus(bus eventbus.Bus) Option {
	return func(e *Engine) { e.bus = bus }
}

// WithFlushInterval sets the pause between replayed pending submissions.
func WithFlushInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.flushInterval = d
		}
	}
}

func WithClientOptions(o notifier.ClientOptions) Option {
	return func(e *Engine) { e.client = o }
}

func WithPlatform(p string) Option {
	return func(e *Engine) {
		if p != "" {
			e.platform = p
		}
	}
}

// WithDebugMode marks every record as produced by a debug build.
func WithDebugMode(debug bool) Option {
	return func(e *Engine) { e.debugMode = debug }
}

func WithVersion(v string) Option {
	return func(e *Engine) { e.version = v }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}
