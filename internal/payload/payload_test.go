package payload

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"crashrelay/internal/report"
)

var at = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func sampleCrash() report.Crash {
	return report.Crash{
		Version:    report.SchemaVersion,
		ID:         "id-1",
		Error:      "nil pointer",
		StackTrace: "main.main()\n\tmain.go:10",
		Context:    "checkout",
		Extra:      report.Extra{{Key: "user", Value: "42"}, {Key: "cart", Value: "3 items"}},
		Platform:   "linux/amd64",
		DebugMode:  true,
		CreatedAt:  at,
	}
}

func TestEscapeHTML(t *testing.T) {
	got := EscapeHTML(`<a href="x">Tom & 'Jerry'</a>`)
	want := "&lt;a href=&quot;x&quot;&gt;Tom &amp; &#39;Jerry&#39;&lt;/a&gt;"
	if got != want {
		t.Fatalf("EscapeHTML = %q, want %q", got, want)
	}
}

func TestTelegramCrashEscapesOnce(t *testing.T) {
	c := sampleCrash()
	c.Error = `<>&"'`
	c.Context = `<ctx>`
	c.Extra = report.Extra{{Key: "k&", Value: `"v"`}}

	text := TelegramCrash(c)
	if !strings.Contains(text, "<code>&lt;&gt;&amp;&quot;&#39;</code>") {
		t.Fatalf("error not escaped as expected:\n%s", text)
	}
	if strings.Contains(text, "&amp;lt;") || strings.Contains(text, "&amp;amp;") || strings.Contains(text, "&amp;quot;") {
		t.Fatalf("double escaping detected:\n%s", text)
	}
	if !strings.Contains(text, "<b>Context:</b> &lt;ctx&gt;") {
		t.Fatalf("context not escaped:\n%s", text)
	}
	if !strings.Contains(text, "<b>k&amp;:</b> &quot;v&quot;") {
		t.Fatalf("extra not escaped:\n%s", text)
	}
}

func TestTelegramCrashFieldOrder(t *testing.T) {
	text := TelegramCrash(sampleCrash())
	order := []string{"Crash Report", "Context:", "Platform:", "Debug Mode:", "Error:", "Stack Trace:", "user:", "cart:"}
	last := -1
	for _, marker := range order {
		idx := strings.Index(text, marker)
		if idx < 0 {
			t.Fatalf("missing %q in:\n%s", marker, text)
		}
		if idx <= last {
			t.Fatalf("%q out of order in:\n%s", marker, text)
		}
		last = idx
	}
	if TelegramCrash(sampleCrash()) != text {
		t.Fatalf("builder is not deterministic")
	}
}

func TestTelegramEventAndStartupOmitErrorFields(t *testing.T) {
	ev := TelegramEvent(report.Event{Message: "deploy done", Platform: "linux/amd64", CreatedAt: at})
	st := TelegramStartup(report.Startup{Platform: "linux/amd64", Hostname: "box", CreatedAt: at})
	for _, text := range []string{ev, st} {
		if strings.Contains(text, "Error:") || strings.Contains(text, "Stack Trace:") {
			t.Fatalf("unexpected crash fields in:\n%s", text)
		}
	}
	if !strings.Contains(ev, "📢 Event") || !strings.Contains(ev, "deploy done") {
		t.Fatalf("unexpected event text:\n%s", ev)
	}
	if !strings.Contains(st, "🚀 App Started") || !strings.Contains(st, "<b>Host:</b> box") {
		t.Fatalf("unexpected startup text:\n%s", st)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Fatalf("Truncate short = %q", got)
	}
	long := strings.Repeat("é", TelegramStackLimit+5)
	got := Truncate(long, TelegramStackLimit)
	if !strings.HasSuffix(got, Ellipsis) {
		t.Fatalf("missing ellipsis")
	}
	if n := len([]rune(strings.TrimSuffix(got, Ellipsis))); n != TelegramStackLimit {
		t.Fatalf("kept %d runes, want %d", n, TelegramStackLimit)
	}
	if got := Truncate(strings.Repeat("x", 10), 10); got != strings.Repeat("x", 10) {
		t.Fatalf("exact length should not be truncated: %q", got)
	}
}

func TestTelegramTruncatesBeforeEscaping(t *testing.T) {
	c := sampleCrash()
	c.StackTrace = "&" + strings.Repeat("a", TelegramStackLimit+50)
	text := TelegramCrash(c)
	want := "<pre>&amp;" + strings.Repeat("a", TelegramStackLimit-1) + Ellipsis + "</pre>"
	if !strings.Contains(text, want) {
		t.Fatalf("stack not truncated then escaped")
	}
}

// checkTelegramHTML fails unless text fits one message, every tag is closed
// in order and every entity is complete.
func checkTelegramHTML(t *testing.T, text string) {
	t.Helper()
	if n := utf8.RuneCountInString(text); n > telegramMaxText {
		t.Fatalf("rendered %d runes, limit %d", n, telegramMaxText)
	}
	var open []string
	for rest := text; ; {
		i := strings.IndexAny(rest, "<&")
		if i < 0 {
			break
		}
		rest = rest[i:]
		if rest[0] == '&' {
			end := strings.IndexByte(rest, ';')
			if end < 0 {
				t.Fatalf("unterminated entity at %q", rest[:min(len(rest), 12)])
			}
			switch rest[:end+1] {
			case "&amp;", "&lt;", "&gt;", "&quot;", "&#39;":
			default:
				t.Fatalf("bad entity %q", rest[:end+1])
			}
			rest = rest[end+1:]
			continue
		}
		end := strings.IndexByte(rest, '>')
		if end < 0 {
			t.Fatalf("unterminated tag at %q", rest[:min(len(rest), 12)])
		}
		tag := rest[1:end]
		if name, ok := strings.CutPrefix(tag, "/"); ok {
			if len(open) == 0 || open[len(open)-1] != name {
				t.Fatalf("unbalanced </%s>, open %v", name, open)
			}
			open = open[:len(open)-1]
		} else {
			open = append(open, tag)
		}
		rest = rest[end+1:]
	}
	if len(open) != 0 {
		t.Fatalf("unclosed tags %v", open)
	}
}

func TestTelegramCrashFitsOneMessage(t *testing.T) {
	c := sampleCrash()
	c.Error = strings.Repeat(`"`, 2*TelegramErrorLimit)
	c.StackTrace = strings.Repeat("<", TelegramStackLimit)
	c.Context = strings.Repeat("&", 2*TelegramErrorLimit)
	c.Extra = nil
	for i := 0; i < 20; i++ {
		c.Extra = c.Extra.Add(fmt.Sprintf("key<%d>", i), strings.Repeat("'", TelegramErrorLimit))
	}
	text := TelegramCrash(c)
	checkTelegramHTML(t, text)
	if !strings.Contains(text, "<pre>&lt;") || !strings.Contains(text, "more field(s) omitted") {
		t.Fatalf("expected a shortened stack and dropped extras:\n%s", text)
	}

	// A stack of 1000 "<" alone escapes past the limit.
	c = sampleCrash()
	c.StackTrace = strings.Repeat("<", TelegramStackLimit)
	checkTelegramHTML(t, TelegramCrash(c))

	// Short input is left alone.
	c = sampleCrash()
	if text := TelegramCrash(c); !strings.Contains(text, "<b>cart:</b> 3 items") {
		t.Fatalf("extras dropped from a short message:\n%s", text)
	}
}

func TestTelegramEventFitsOneMessage(t *testing.T) {
	e := report.Event{Message: strings.Repeat(">", TelegramStackLimit), Platform: "linux/amd64", CreatedAt: at}
	for i := 0; i < 20; i++ {
		e.Extra = e.Extra.Add(fmt.Sprint("k", i), strings.Repeat("&", TelegramErrorLimit))
	}
	checkTelegramHTML(t, TelegramEvent(e))
}

func TestTelegramBodyJSON(t *testing.T) {
	b, err := json.Marshal(TelegramBody(int64(-100123), "hi", "", true, true))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	_ = json.Unmarshal(b, &m)
	if m["chat_id"] != float64(-100123) || m["parse_mode"] != "HTML" || m["disable_notification"] != true || m["disable_web_page_preview"] != true {
		t.Fatalf("unexpected body: %s", b)
	}
}

func TestSlackCrashShape(t *testing.T) {
	c := sampleCrash()
	c.StackTrace = strings.Repeat("s", SlackTextLimit+10)
	msg := SlackCrash(SlackMeta{Channel: "#alerts", Username: "relay", IconEmoji: ":fire:"}, c)
	if msg.Channel != "#alerts" || msg.Username != "relay" || msg.IconEmoji != ":fire:" {
		t.Fatalf("meta not applied: %+v", msg)
	}
	if len(msg.Attachments) != 1 {
		t.Fatalf("attachments = %d", len(msg.Attachments))
	}
	a := msg.Attachments[0]
	if a.Ts != at.Unix() || a.Color != slackColorCrash {
		t.Fatalf("unexpected attachment: %+v", a)
	}
	titles := make([]string, 0, len(a.Fields))
	for _, f := range a.Fields {
		titles = append(titles, f.Title)
	}
	if got := strings.Join(titles, ","); got != "Context,Platform,Debug Mode,Error,Stack Trace,user,cart" {
		t.Fatalf("field order = %s", got)
	}
	if !strings.Contains(a.Fields[4].Value, Ellipsis) {
		t.Fatalf("stack trace not truncated")
	}
	b, _ := json.Marshal(SlackMessage{Channel: "c", Username: "u"})
	if strings.Contains(string(b), "icon_emoji") {
		t.Fatalf("icon_emoji should be omitted when empty: %s", b)
	}
}

func TestDiscordCrashShape(t *testing.T) {
	msg := DiscordCrash(DiscordMeta{Username: "relay"}, sampleCrash())
	b, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(b), "avatar_url") {
		t.Fatalf("avatar_url should be omitted: %s", b)
	}
	e := msg.Embeds[0]
	if e.Color != discordColorCrash || e.Timestamp != "2024-05-01T12:00:00Z" {
		t.Fatalf("unexpected embed: %+v", e)
	}
	if e.Fields[0].Name != "Context" || e.Fields[3].Name != "Error" || e.Fields[5].Name != "user" {
		t.Fatalf("unexpected fields: %+v", e.Fields)
	}
}

func TestWebhookEnvelopes(t *testing.T) {
	cases := []struct {
		env  WebhookEnvelope
		kind report.Kind
		key  string
	}{
		{WebhookCrash(sampleCrash()), report.KindCrash, "stack_trace"},
		{WebhookEvent(report.Event{Message: "m", CreatedAt: at}), report.KindEvent, "message"},
		{WebhookStartup(report.Startup{PID: 7, CreatedAt: at}), report.KindStartup, "pid"},
		{WebhookTest("linux/amd64", at), report.KindTest, "platform"},
	}
	for _, tc := range cases {
		if tc.env.Type != tc.kind {
			t.Fatalf("type = %s, want %s", tc.env.Type, tc.kind)
		}
		if _, ok := tc.env.Data[tc.key]; !ok {
			t.Fatalf("%s: missing data.%s", tc.kind, tc.key)
		}
		if tc.env.Timestamp == "" {
			t.Fatalf("%s: empty timestamp", tc.kind)
		}
	}
	b, err := json.Marshal(WebhookCrash(sampleCrash()))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), `"extra_data":{"user":"42","cart":"3 items"}`) {
		t.Fatalf("extra_data order lost: %s", b)
	}
	b, _ = json.Marshal(WebhookEvent(report.Event{Message: "m", CreatedAt: at}))
	if !strings.Contains(string(b), `"extra_data":{}`) {
		t.Fatalf("empty extra_data: %s", b)
	}
}

func TestExtraObjectKeepsInsertionOrder(t *testing.T) {
	x := report.Extra{{Key: "zeta", Value: "1"}, {Key: "alpha", Value: "2"}, {Key: "zeta", Value: "3"}, {Key: "q\"", Value: "<"}}
	b, err := json.Marshal(ExtraObject(x))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"zeta":"3","alpha":"2","q\"":"\u003c"}`
	if string(b) != want {
		t.Fatalf("ExtraObject = %s, want %s", b, want)
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil || len(m) != 3 {
		t.Fatalf("not a valid object: %v %v", m, err)
	}
}
