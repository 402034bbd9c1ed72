// Package metrics turns engine events from the bus into Prometheus
// collectors and a small JSON status snapshot.
package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"crashrelay/internal/eventbus"
)

type Metrics struct {
	reg *prometheus.Registry

	deliveries *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	stored     prometheus.Counter
	queued     prometheus.Counter
	lastCrash  prometheus.Gauge
	reloads    prometheus.Counter

	sent        atomic.Int64
	failed      atomic.Int64
	crashes     atomic.Int64
	pending     atomic.Int64
	lastCrashAt atomic.Int64

	mu      sync.Mutex
	lastErr map[string]string
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crashrelay_deliveries_total",
			Help: "Notifications attempted per channel, kind and outcome",
		}, []string{"channel", "kind", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crashrelay_delivery_duration_seconds",
			Help:    "Duration of one channel request",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"channel"}),
		stored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crashrelay_crashes_stored_total",
			Help: "Crash records written to the local log",
		}),
		queued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crashrelay_crashes_queued_total",
			Help: "Crashes held for delivery until initialization",
		}),
		lastCrash: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crashrelay_last_crash_timestamp_seconds",
			Help: "Unix timestamp of the last stored crash",
		}),
		reloads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crashrelay_config_applied_total",
			Help: "Configuration changes applied to the engine",
		}),
		lastErr: map[string]string{},
	}
	m.reg.MustRegister(m.deliveries, m.duration, m.stored, m.queued, m.lastCrash, m.reloads)
	return m
}

// Observe folds one bus event into the collectors.
func (m *Metrics) Observe(ev eventbus.Event) {
	switch ev.Type {
	case eventbus.TypeDispatchSent, eventbus.TypeDispatchFailed:
		d, ok := ev.Data.(eventbus.Delivery)
		if !ok {
			return
		}
		status := "success"
		if ev.Type == eventbus.TypeDispatchFailed {
			status = "failure"
			m.failed.Add(1)
			m.mu.Lock()
			m.lastErr[d.Channel] = d.Err
			m.mu.Unlock()
		} else {
			m.sent.Add(1)
		}
		m.deliveries.WithLabelValues(d.Channel, d.Kind, status).Inc()
		m.duration.WithLabelValues(d.Channel).Observe(d.Took.Seconds())
	case eventbus.TypeCrashStored:
		m.crashes.Add(1)
		m.stored.Inc()
		m.lastCrashAt.Store(ev.Time.Unix())
		m.lastCrash.Set(float64(ev.Time.Unix()))
	case eventbus.TypeCrashQueued:
		m.pending.Add(1)
		m.queued.Inc()
	case eventbus.TypeConfigApplied:
		m.reloads.Inc()
	}
}

// Run subscribes to bus and consumes its events until ctx ends.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	return m.Consume(ctx, ch)
}

// Consume observes events from an existing subscription until ctx ends or
// the channel is closed.
func (m *Metrics) Consume(ctx context.Context, events <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			m.Observe(ev)
		}
	}
}

type Snapshot struct {
	Sent          int64             `json:"sent"`
	Failed        int64             `json:"failed"`
	CrashesStored int64             `json:"crashes_stored"`
	CrashesQueued int64             `json:"crashes_queued"`
	LastCrash     string            `json:"last_crash,omitempty"`
	LastErrors    map[string]string `json:"last_errors,omitempty"`
}

func (m *Metrics) Snapshot() Snapshot {
	s := Snapshot{
		Sent:          m.sent.Load(),
		Failed:        m.failed.Load(),
		CrashesStored: m.crashes.Load(),
		CrashesQueued: m.pending.Load(),
	}
	if ts := m.lastCrashAt.Load(); ts > 0 {
		s.LastCrash = time.Unix(ts, 0).UTC().Format(time.RFC3339)
	}
	m.mu.Lock()
	if len(m.lastErr) > 0 {
		s.LastErrors = make(map[string]string, len(m.lastErr))
		for k, v := range m.lastErr {
			s.LastErrors[k] = v
		}
	}
	m.mu.Unlock()
	return s
}

// Handler serves /metrics (Prometheus text) and /status (JSON snapshot).
func (m *Metrics) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(m.Snapshot())
	})
	return mux
}
