package payload

import (
	"bytes"
	"encoding/json"
	"time"

	"crashrelay/internal/report"
)

// WebhookEnvelope is the generic webhook body.
type WebhookEnvelope struct {
	Type      report.Kind    `json:"type"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

func envelope(kind report.Kind, at time.Time, data map[string]any) WebhookEnvelope {
	return WebhookEnvelope{Type: kind, Timestamp: at.UTC().Format(time.RFC3339Nano), Data: data}
}

// ExtraObject encodes extra data as a JSON object in insertion order. A
// repeated key stays at its first position and takes its last value.
type ExtraObject report.Extra

func (x ExtraObject) MarshalJSON() ([]byte, error) {
	pos := make(map[string]int, len(x))
	var pairs []report.Pair
	for _, p := range x {
		if i, ok := pos[p.Key]; ok {
			pairs[i].Value = p.Value
			continue
		}
		pos[p.Key] = len(pairs)
		pairs = append(pairs, p)
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range pairs {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(p.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(p.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func WebhookCrash(c report.Crash) WebhookEnvelope {
	return envelope(report.KindCrash, c.CreatedAt, map[string]any{
		"id":          c.ID,
		"error":       c.Error,
		"stack_trace": c.StackTrace,
		"context":     c.Context,
		"fatal":       c.Fatal,
		"platform":    c.Platform,
		"debug_mode":  c.DebugMode,
		"extra_data":  ExtraObject(c.Extra),
	})
}

func WebhookEvent(e report.Event) WebhookEnvelope {
	return envelope(report.KindEvent, e.CreatedAt, map[string]any{
		"message":    e.Message,
		"context":    e.Context,
		"platform":   e.Platform,
		"debug_mode": e.DebugMode,
		"extra_data": ExtraObject(e.Extra),
	})
}

func WebhookStartup(s report.Startup) WebhookEnvelope {
	return envelope(report.KindStartup, s.CreatedAt, map[string]any{
		"platform":   s.Platform,
		"debug_mode": s.DebugMode,
		"hostname":   s.Hostname,
		"pid":        s.PID,
		"version":    s.Version,
	})
}

func WebhookTest(platform string, at time.Time) WebhookEnvelope {
	return envelope(report.KindTest, at, map[string]any{
		"platform": platform,
		"message":  "Crash notifications are configured correctly.",
	})
}
