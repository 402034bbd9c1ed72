package notifier

import (
	"context"
	"net/http"

	"crashrelay/internal/payload"
	"crashrelay/internal/report"
)

// DiscordConfig configures a Discord channel webhook.
type DiscordConfig struct {
	WebhookURL string `json:"webhook_url" validate:"required,url"`
	Username   string `json:"username,omitempty"`
	AvatarURL  string `json:"avatar_url,omitempty" validate:"omitempty,url"`
}

func (c DiscordConfig) Kind() Kind      { return KindDiscord }
func (c DiscordConfig) Validate() error { return validateStruct(KindDiscord, c) }

type Discord struct {
	base
	cfg DiscordConfig
}

func (d *Discord) meta() payload.DiscordMeta {
	name := d.cfg.Username
	if name == "" {
		name = defaultUsername
	}
	return payload.DiscordMeta{Username: name, AvatarURL: d.cfg.AvatarURL}
}

// Discord answers 204 unless ?wait=true is set.
func discordAccept(code int) bool { return code == http.StatusOK || code == http.StatusNoContent }

func (d *Discord) post(ctx context.Context, what report.Kind, body payload.DiscordMessage) error {
	return d.send(ctx, what, http.MethodPost, d.cfg.WebhookURL, nil, body, discordAccept, genericReason)
}

func (d *Discord) SendCrashReport(ctx context.Context, c report.Crash) error {
	return d.post(ctx, report.KindCrash, payload.DiscordCrash(d.meta(), c))
}

func (d *Discord) SendEvent(ctx context.Context, e report.Event) error {
	return d.post(ctx, report.KindEvent, payload.DiscordEvent(d.meta(), e))
}

func (d *Discord) SendAppStartup(ctx context.Context, s report.Startup) error {
	return d.post(ctx, report.KindStartup, payload.DiscordStartup(d.meta(), s))
}

func (d *Discord) TestConnection(ctx context.Context) error {
	return d.post(ctx, report.KindTest, payload.DiscordTest(d.meta(), d.platform, d.now()))
}
