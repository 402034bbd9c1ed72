package notifier

import (
	"context"
	"net/http"
	"strings"

	"crashrelay/internal/payload"
	"crashrelay/internal/report"
)

// WebhookConfig configures a generic JSON webhook. Headers are sent as-is
// (use them for auth); Content-Type is always application/json.
type WebhookConfig struct {
	URL     string            `json:"url" validate:"required,url"`
	Method  string            `json:"method,omitempty" validate:"omitempty,oneof=POST PUT PATCH post put patch"`
	Headers map[string]string `json:"headers,omitempty"`
}

func (c WebhookConfig) Kind() Kind      { return KindWebhook }
func (c WebhookConfig) Validate() error { return validateStruct(KindWebhook, c) }

type Webhook struct {
	base
	cfg WebhookConfig
}

func (w *Webhook) method() string {
	if m := strings.ToUpper(strings.TrimSpace(w.cfg.Method)); m != "" {
		return m
	}
	return http.MethodPost
}

func (w *Webhook) post(ctx context.Context, env payload.WebhookEnvelope) error {
	return w.send(ctx, env.Type, w.method(), w.cfg.URL, w.cfg.Headers, env, accept2xx, genericReason)
}

func (w *Webhook) SendCrashReport(ctx context.Context, c report.Crash) error {
	return w.post(ctx, payload.WebhookCrash(c))
}

func (w *Webhook) SendEvent(ctx context.Context, e report.Event) error {
	return w.post(ctx, payload.WebhookEvent(e))
}

func (w *Webhook) SendAppStartup(ctx context.Context, s report.Startup) error {
	return w.post(ctx, payload.WebhookStartup(s))
}

func (w *Webhook) TestConnection(ctx context.Context) error {
	return w.post(ctx, payload.WebhookTest(w.platform, w.now()))
}
