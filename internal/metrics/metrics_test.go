package metrics

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"crashrelay/internal/eventbus"
)

func TestObserveCountsDeliveries(t *testing.T) {
	m := New()
	m.Observe(eventbus.Event{Type: eventbus.TypeDispatchSent, Data: eventbus.Delivery{Channel: "slack", Kind: "event", Took: 10 * time.Millisecond}})
	m.Observe(eventbus.Event{Type: eventbus.TypeDispatchFailed, Data: eventbus.Delivery{Channel: "telegram", Kind: "crash_report", Err: "http 401"}})
	m.Observe(eventbus.Event{Type: eventbus.TypeCrashStored, Time: time.Unix(1700000000, 0), Data: "id"})
	m.Observe(eventbus.Event{Type: eventbus.TypeDispatchSent, Data: "not a delivery"})

	s := m.Snapshot()
	if s.Sent != 1 || s.Failed != 1 || s.CrashesStored != 1 {
		t.Fatalf("snapshot = %+v", s)
	}
	if s.LastErrors["telegram"] != "http 401" {
		t.Fatalf("last errors = %v", s.LastErrors)
	}
	if s.LastCrash != "2023-11-14T22:13:20Z" {
		t.Fatalf("last crash = %q", s.LastCrash)
	}
}

func TestRunConsumesBus(t *testing.T) {
	m := New()
	bus := eventbus.New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, bus) }()

	deadline := time.Now().Add(2 * time.Second)
	for m.Snapshot().CrashesQueued == 0 {
		bus.Publish(eventbus.Event{Type: eventbus.TypeCrashQueued})
		if time.Now().After(deadline) {
			t.Fatalf("Run never observed an event")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestHandlerServesPrometheusAndStatus(t *testing.T) {
	m := New()
	m.Observe(eventbus.Event{Type: eventbus.TypeDispatchSent, Data: eventbus.Delivery{Channel: "discord", Kind: "event"}})
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `crashrelay_deliveries_total{channel="discord",kind="event",status="success"} 1`) {
		t.Fatalf("metrics body:\n%s", body)
	}

	resp, err = http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()
	var s Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.Sent != 1 {
		t.Fatalf("status = %+v", s)
	}
}
