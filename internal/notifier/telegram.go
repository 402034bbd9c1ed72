package notifier

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"crashrelay/internal/payload"
	"crashrelay/internal/report"
	logx "crashrelay/pkg/logx"

	tele "gopkg.in/telebot.v4"
)

const DefaultTelegramAPI = "https://api.telegram.org"

// TelegramConfig configures the Telegram bot channel.
//
// ChatID is either a numeric chat id ("-1001234") or a public channel
// username ("@alerts").
type TelegramConfig struct {
	BotToken              string `json:"bot_token" validate:"required"`
	ChatID                string `json:"chat_id" validate:"required"`
	ParseMode             string `json:"parse_mode,omitempty" validate:"omitempty,oneof=HTML"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview,omitempty"`
	DisableNotification   bool   `json:"disable_notification,omitempty"`
	APIBase               string `json:"api_base,omitempty" validate:"omitempty,url"`
}

func (c TelegramConfig) Kind() Kind      { return KindTelegram }
func (c TelegramConfig) Validate() error { return validateStruct(KindTelegram, c) }

func (c TelegramConfig) apiBase() string {
	if s := strings.TrimRight(strings.TrimSpace(c.APIBase), "/"); s != "" {
		return s
	}
	return DefaultTelegramAPI
}

// Telegram posts HTML messages through the Bot API sendMessage method.
type Telegram struct {
	base
	cfg TelegramConfig

	// cached at construction
	chatID  any
	sendURL string

	mu      sync.Mutex
	botName string
}

func newTelegram(cfg TelegramConfig, b base) *Telegram {
	t := &Telegram{base: b, cfg: cfg}
	t.chatID = parseChatID(cfg.ChatID)
	t.sendURL = cfg.apiBase() + "/bot" + strings.TrimSpace(cfg.BotToken) + "/sendMessage"
	return t
}

// parseChatID sends numeric ids as JSON numbers and usernames as strings.
func parseChatID(s string) any {
	s = strings.TrimSpace(s)
	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		return id
	}
	return s
}

// BotName is the username reported by the last successful TestConnection.
func (t *Telegram) BotName() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.botName
}

func (t *Telegram) SendCrashReport(ctx context.Context, c report.Crash) error {
	return t.sendText(ctx, report.KindCrash, payload.TelegramCrash(c))
}

func (t *Telegram) SendEvent(ctx context.Context, e report.Event) error {
	return t.sendText(ctx, report.KindEvent, payload.TelegramEvent(e))
}

func (t *Telegram) SendAppStartup(ctx context.Context, s report.Startup) error {
	return t.sendText(ctx, report.KindStartup, payload.TelegramStartup(s))
}

// TestConnection verifies the token with getMe, then posts a test message
// so chat id and bot membership are checked too.
func (t *Telegram) TestConnection(ctx context.Context) error {
	if err := t.verifyToken(ctx); err != nil {
		t.log.Debug("telegram token check failed", logx.Err(err))
		return err
	}
	return t.sendText(ctx, report.KindTest, payload.TelegramTest(t.platform, t.now()))
}

func (t *Telegram) verifyToken(ctx context.Context) error {
	type result struct {
		bot *tele.Bot
		err error
	}
	// telebot's getMe has no context parameter; honour ctx by racing it.
	ch := make(chan result, 1)
	go func() {
		b, err := tele.NewBot(tele.Settings{
			URL:    t.cfg.apiBase(),
			Token:  strings.TrimSpace(t.cfg.BotToken),
			Client: t.client,
		})
		ch <- result{bot: b, err: err}
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("telegram: getMe: %w", ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return fmt.Errorf("telegram: getMe: %w", r.err)
		}
		if r.bot != nil && r.bot.Me != nil {
			t.mu.Lock()
			t.botName = r.bot.Me.Username
			t.mu.Unlock()
		}
		return nil
	}
}

func (t *Telegram) sendText(ctx context.Context, what report.Kind, text string) error {
	body := payload.TelegramBody(t.chatID, text, t.cfg.ParseMode, t.cfg.DisableWebPagePreview, t.cfg.DisableNotification)
	return t.send(ctx, what, http.MethodPost, t.sendURL, nil, body, acceptOK, telegramReason)
}

func telegramReason(code int) string {
	switch code {
	case http.StatusNotFound:
		return "check bot token, chat id and that the bot is a member of the chat"
	case http.StatusBadRequest:
		return "bad request"
	case http.StatusUnauthorized:
		return "invalid bot token"
	case http.StatusTooManyRequests:
		return "rate limited"
	default:
		return ""
	}
}
