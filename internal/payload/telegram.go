package payload

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"crashrelay/internal/report"
)

const (
	TelegramStackLimit = 1000
	TelegramErrorLimit = 500
	// Telegram rejects messages longer than 4096 characters.
	telegramMaxText  = 4096
	telegramKeyLimit = 64
	telegramMinValue = 16
)

// TelegramMessage is the sendMessage request body.
type TelegramMessage struct {
	ChatID                any    `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
	DisableNotification   bool   `json:"disable_notification"`
}

type htmlDoc struct{ b strings.Builder }

func (d *htmlDoc) title(s string) {
	d.b.WriteString("<b>")
	d.b.WriteString(EscapeHTML(s))
	d.b.WriteString("</b>\n")
}

func (d *htmlDoc) row(label, value string) {
	d.b.WriteString("\n<b>")
	d.b.WriteString(EscapeHTML(label))
	d.b.WriteString(":</b> ")
	d.b.WriteString(EscapeHTML(value))
}

func (d *htmlDoc) block(label, tag, value string) {
	d.b.WriteString("\n<b>")
	d.b.WriteString(EscapeHTML(label))
	d.b.WriteString(":</b>\n<")
	d.b.WriteString(tag)
	d.b.WriteString(">")
	d.b.WriteString(EscapeHTML(value))
	d.b.WriteString("</")
	d.b.WriteString(tag)
	d.b.WriteString(">")
}

func (d *htmlDoc) extra(x report.Extra, keep int) {
	for _, p := range x[:min(keep, len(x))] {
		d.row(Truncate(p.Key, telegramKeyLimit), Truncate(p.Value, TelegramErrorLimit))
	}
	if dropped := len(x) - keep; dropped > 0 {
		d.row("Extra", fmt.Sprintf("%d more field(s) omitted", dropped))
	}
}

func (d *htmlDoc) String() string { return d.b.String() }

func crashTitle(fatal bool) string {
	if fatal {
		return "💥 Fatal Crash"
	}
	return "🚨 Crash Report"
}

// telegramLimits bounds the raw, unescaped values of one message.
type telegramLimits struct {
	text   int // error or event message
	stack  int
	ctx    int
	extras int
}

// shrink lowers one limit, extras first. It reports false once every limit
// is at its floor.
func (l *telegramLimits) shrink() bool {
	switch {
	case l.extras > 0:
		l.extras /= 2
	case l.stack > telegramMinValue:
		l.stack /= 2
	case l.text > telegramMinValue:
		l.text /= 2
	case l.ctx > telegramMinValue:
		l.ctx /= 2
	default:
		return false
	}
	return true
}

// fitTelegram renders with the full limits and shrinks the raw values until
// the rendered text fits in one message. The rendered HTML itself is never
// cut.
func fitTelegram(l telegramLimits, render func(telegramLimits) string) string {
	text := render(l)
	for utf8.RuneCountInString(text) > telegramMaxText && l.shrink() {
		text = render(l)
	}
	return text
}

// TelegramCrash renders a crash as Telegram HTML.
//
// Row order: Context, Platform, Debug Mode, Error, Stack Trace, then extras.
func TelegramCrash(c report.Crash) string {
	l := telegramLimits{text: TelegramErrorLimit, stack: TelegramStackLimit, ctx: TelegramErrorLimit, extras: len(c.Extra)}
	return fitTelegram(l, func(l telegramLimits) string {
		var d htmlDoc
		d.title(crashTitle(c.Fatal))
		if c.Context != "" {
			d.row("Context", Truncate(c.Context, l.ctx))
		}
		d.row("Platform", Truncate(c.Platform, telegramKeyLimit))
		d.row("Debug Mode", yesNo(c.DebugMode))
		d.block("Error", "code", Truncate(c.Error, l.text))
		d.block("Stack Trace", "pre", Truncate(orDash(c.StackTrace), l.stack))
		d.extra(c.Extra, l.extras)
		return d.String()
	})
}

// TelegramEvent renders an event as Telegram HTML.
func TelegramEvent(e report.Event) string {
	l := telegramLimits{text: TelegramStackLimit, ctx: TelegramErrorLimit, extras: len(e.Extra)}
	return fitTelegram(l, func(l telegramLimits) string {
		var d htmlDoc
		d.title("📢 Event")
		if e.Context != "" {
			d.row("Context", Truncate(e.Context, l.ctx))
		}
		d.row("Platform", Truncate(e.Platform, telegramKeyLimit))
		d.row("Debug Mode", yesNo(e.DebugMode))
		d.row("Message", Truncate(e.Message, l.text))
		d.extra(e.Extra, l.extras)
		return d.String()
	})
}

// TelegramStartup renders a startup notice as Telegram HTML.
func TelegramStartup(s report.Startup) string {
	var d htmlDoc
	d.title("🚀 App Started")
	d.row("Platform", s.Platform)
	d.row("Debug Mode", yesNo(s.DebugMode))
	if s.Hostname != "" {
		d.row("Host", Truncate(s.Hostname, telegramKeyLimit))
	}
	if s.Version != "" {
		d.row("Version", Truncate(s.Version, telegramKeyLimit))
	}
	d.row("Time", s.CreatedAt.UTC().Format(time.RFC3339))
	return d.String()
}

// TelegramTest renders the connection test message.
func TelegramTest(platform string, at time.Time) string {
	var d htmlDoc
	d.title("✅ Test Connection")
	d.row("Platform", platform)
	d.row("Time", at.UTC().Format(time.RFC3339))
	d.b.WriteString("\n\nCrash notifications are configured correctly.")
	return d.String()
}

// TelegramBody wraps rendered text into the request body. The Telegram*
// builders already keep text within one message.
func TelegramBody(chatID any, text, parseMode string, disablePreview, silent bool) TelegramMessage {
	if parseMode == "" {
		parseMode = "HTML"
	}
	return TelegramMessage{
		ChatID:                chatID,
		Text:                  text,
		ParseMode:             parseMode,
		DisableWebPagePreview: disablePreview,
		DisableNotification:   silent,
	}
}
