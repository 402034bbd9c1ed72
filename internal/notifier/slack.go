package notifier

import (
	"context"
	"net/http"

	"crashrelay/internal/payload"
	"crashrelay/internal/report"
)

const defaultUsername = "Crash Reporter"

// SlackConfig configures a Slack incoming webhook.
type SlackConfig struct {
	WebhookURL string `json:"webhook_url" validate:"required,url"`
	Channel    string `json:"channel,omitempty"`
	Username   string `json:"username,omitempty"`
	IconEmoji  string `json:"icon_emoji,omitempty"`
}

func (c SlackConfig) Kind() Kind      { return KindSlack }
func (c SlackConfig) Validate() error { return validateStruct(KindSlack, c) }

type Slack struct {
	base
	cfg SlackConfig
}

func (s *Slack) meta() payload.SlackMeta {
	name := s.cfg.Username
	if name == "" {
		name = defaultUsername
	}
	return payload.SlackMeta{Channel: s.cfg.Channel, Username: name, IconEmoji: s.cfg.IconEmoji}
}

func (s *Slack) post(ctx context.Context, what report.Kind, body payload.SlackMessage) error {
	return s.send(ctx, what, http.MethodPost, s.cfg.WebhookURL, nil, body, acceptOK, genericReason)
}

func (s *Slack) SendCrashReport(ctx context.Context, c report.Crash) error {
	return s.post(ctx, report.KindCrash, payload.SlackCrash(s.meta(), c))
}

func (s *Slack) SendEvent(ctx context.Context, e report.Event) error {
	return s.post(ctx, report.KindEvent, payload.SlackEvent(s.meta(), e))
}

func (s *Slack) SendAppStartup(ctx context.Context, st report.Startup) error {
	return s.post(ctx, report.KindStartup, payload.SlackStartup(s.meta(), st))
}

func (s *Slack) TestConnection(ctx context.Context) error {
	return s.post(ctx, report.KindTest, payload.SlackTest(s.meta(), s.platform, s.now()))
}
