// Package notifier delivers submissions to external channels.
//
// Every channel implements Notifier. A notifier owns exactly one outbound
// HTTP client (see NewHTTPClient), builds its body with package payload,
// issues one request per call and classifies the response: 2xx is success,
// anything else is a *StatusError carrying the status code and body.
//
// Notifiers hold no state between calls besides the client and, for
// Telegram, the cached chat id and bot identity. Close releases the client's
// idle connections; a notifier must not be used after Close.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crashrelay/internal/report"
	logx "crashrelay/pkg/logx"

	"github.com/go-playground/validator/v10"
)

// Kind names a channel.
type Kind string

const (
	KindTelegram Kind = "telegram"
	KindSlack    Kind = "slack"
	KindDiscord  Kind = "discord"
	KindWebhook  Kind = "webhook"
)

// Kinds lists every channel in a stable order.
var Kinds = []Kind{KindTelegram, KindSlack, KindDiscord, KindWebhook}

var (
	ErrUnsupported = errors.New("notifier: unsupported channel config")
	ErrInvalid     = errors.New("notifier: invalid channel config")
)

type Notifier interface {
	Kind() Kind
	SendCrashReport(ctx context.Context, c report.Crash) error
	SendEvent(ctx context.Context, e report.Event) error
	SendAppStartup(ctx context.Context, s report.Startup) error
	TestConnection(ctx context.Context) error
	Close() error
}

// Config is implemented by the four channel config types.
type Config interface {
	Kind() Kind
	Validate() error
}

// Options are shared by every notifier built by New.
type Options struct {
	Log      logx.Logger
	Client   ClientOptions
	Platform string
	Now      func() time.Time
}

var validate = validator.New()

func validateStruct(kind Kind, v any) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, kind, err)
	}
	return nil
}

// New builds the notifier matching cfg's type.
func New(cfg Config, opts Options) (Notifier, error) {
	if cfg == nil {
		return nil, ErrUnsupported
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := newBase(cfg.Kind(), opts)
	switch c := cfg.(type) {
	case TelegramConfig:
		return newTelegram(c, b), nil
	case *TelegramConfig:
		return newTelegram(*c, b), nil
	case SlackConfig:
		return &Slack{base: b, cfg: c}, nil
	case *SlackConfig:
		return &Slack{base: b, cfg: *c}, nil
	case DiscordConfig:
		return &Discord{base: b, cfg: c}, nil
	case *DiscordConfig:
		return &Discord{base: b, cfg: *c}, nil
	case WebhookConfig:
		return &Webhook{base: b, cfg: c}, nil
	case *WebhookConfig:
		return &Webhook{base: b, cfg: *c}, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupported, cfg)
	}
}
