package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"crashrelay/internal/report"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type captured struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// recorder is a fake channel endpoint answering every request with status.
type recorder struct {
	mu     sync.Mutex
	status int
	reply  string
	reqs   []captured
}

func (r *recorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	b, _ := io.ReadAll(req.Body)
	r.mu.Lock()
	r.reqs = append(r.reqs, captured{Method: req.Method, Path: req.URL.Path, Header: req.Header.Clone(), Body: b})
	status, reply := r.status, r.reply
	r.mu.Unlock()
	w.WriteHeader(status)
	_, _ = io.WriteString(w, reply)
}

func (r *recorder) last(t *testing.T) captured {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.reqs) == 0 {
		t.Fatalf("no request recorded")
	}
	return r.reqs[len(r.reqs)-1]
}

func newServer(t *testing.T, status int, reply string) (*recorder, *httptest.Server) {
	t.Helper()
	rec := &recorder{status: status, reply: reply}
	srv := httptest.NewServer(rec)
	t.Cleanup(srv.Close)
	return rec, srv
}

func opts() Options {
	return Options{Platform: "linux/amd64", Now: func() time.Time { return fixedNow }}
}

func crash() report.Crash {
	return report.Crash{
		Version:    report.SchemaVersion,
		ID:         "c-1",
		Error:      "boom <x>",
		StackTrace: "main.go:1",
		Platform:   "linux/amd64",
		CreatedAt:  fixedNow,
	}
}

func mustNew(t *testing.T, cfg Config) Notifier {
	t.Helper()
	n, err := New(cfg, opts())
	if err != nil {
		t.Fatalf("New(%T): %v", cfg, err)
	}
	t.Cleanup(func() { _ = n.Close() })
	return n
}

func TestNewValidates(t *testing.T) {
	cases := []Config{
		TelegramConfig{ChatID: "1"},
		TelegramConfig{BotToken: "t"},
		SlackConfig{WebhookURL: "not a url"},
		DiscordConfig{},
		WebhookConfig{URL: "http://x", Method: "DELETE"},
	}
	for _, cfg := range cases {
		if _, err := New(cfg, opts()); !errors.Is(err, ErrInvalid) {
			t.Fatalf("New(%+v) err = %v, want ErrInvalid", cfg, err)
		}
	}
	if _, err := New(nil, opts()); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("New(nil) err = %v, want ErrUnsupported", err)
	}
}

func TestTelegramSendMessage(t *testing.T) {
	rec, srv := newServer(t, http.StatusOK, `{"ok":true}`)
	n := mustNew(t, TelegramConfig{BotToken: "123:abc", ChatID: "-100500", APIBase: srv.URL, DisableNotification: true})

	if err := n.SendCrashReport(context.Background(), crash()); err != nil {
		t.Fatalf("SendCrashReport: %v", err)
	}
	req := rec.last(t)
	if req.Path != "/bot123:abc/sendMessage" {
		t.Fatalf("path = %q", req.Path)
	}
	if ct := req.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}
	var body map[string]any
	if err := json.Unmarshal(req.Body, &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if id, ok := body["chat_id"].(float64); !ok || id != -100500 {
		t.Fatalf("chat_id = %#v, want numeric -100500", body["chat_id"])
	}
	if body["parse_mode"] != "HTML" || body["disable_notification"] != true {
		t.Fatalf("unexpected flags: %v", body)
	}
	if text, _ := body["text"].(string); !strings.Contains(text, "boom &lt;x&gt;") {
		t.Fatalf("text not escaped: %q", text)
	}
}

func TestTelegramUsernameChatID(t *testing.T) {
	rec, srv := newServer(t, http.StatusOK, `{"ok":true}`)
	n := mustNew(t, TelegramConfig{BotToken: "t", ChatID: "@alerts", APIBase: srv.URL})
	if err := n.SendEvent(context.Background(), report.Event{Message: "hi", CreatedAt: fixedNow}); err != nil {
		t.Fatalf("SendEvent: %v", err)
	}
	var body map[string]any
	_ = json.Unmarshal(rec.last(t).Body, &body)
	if body["chat_id"] != "@alerts" {
		t.Fatalf("chat_id = %#v", body["chat_id"])
	}
}

func TestTelegramStatusReasons(t *testing.T) {
	cases := map[int]string{
		http.StatusBadRequest:      "bad request",
		http.StatusUnauthorized:    "invalid bot token",
		http.StatusNotFound:        "chat id",
		http.StatusTooManyRequests: "rate limited",
	}
	for code, want := range cases {
		_, srv := newServer(t, code, `{"ok":false,"description":"nope"}`)
		n := mustNew(t, TelegramConfig{BotToken: "t", ChatID: "1", APIBase: srv.URL})
		err := n.SendEvent(context.Background(), report.Event{Message: "x"})
		var se *StatusError
		if !errors.As(err, &se) {
			t.Fatalf("code %d: err = %v, want *StatusError", code, err)
		}
		if se.StatusCode != code || se.Channel != KindTelegram {
			t.Fatalf("code %d: got %+v", code, se)
		}
		if !strings.Contains(err.Error(), want) || !strings.Contains(err.Error(), "nope") {
			t.Fatalf("code %d: error %q lacks %q or body", code, err, want)
		}
	}
}

func TestTelegramTestConnectionChecksToken(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if strings.HasSuffix(r.URL.Path, "/getMe") {
			_, _ = io.WriteString(w, `{"ok":true,"result":{"id":7,"is_bot":true,"first_name":"Crash","username":"crash_bot"}}`)
			return
		}
		_, _ = io.WriteString(w, `{"ok":true,"result":{}}`)
	}))
	t.Cleanup(srv.Close)

	n := mustNew(t, TelegramConfig{BotToken: "123:abc", ChatID: "42", APIBase: srv.URL})
	if err := n.TestConnection(context.Background()); err != nil {
		t.Fatalf("TestConnection: %v", err)
	}
	if name := n.(*Telegram).BotName(); name != "crash_bot" {
		t.Fatalf("BotName = %q", name)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(paths) != 2 || !strings.HasSuffix(paths[0], "/getMe") || !strings.HasSuffix(paths[1], "/sendMessage") {
		t.Fatalf("paths = %v", paths)
	}
}

func TestTelegramTestConnectionBadToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"ok":false,"error_code":401,"description":"Unauthorized"}`)
	}))
	t.Cleanup(srv.Close)

	n := mustNew(t, TelegramConfig{BotToken: "bad", ChatID: "42", APIBase: srv.URL})
	if err := n.TestConnection(context.Background()); err == nil {
		t.Fatalf("expected error for rejected token")
	}
}

func TestSlackPostsAttachment(t *testing.T) {
	rec, srv := newServer(t, http.StatusOK, "ok")
	n := mustNew(t, SlackConfig{WebhookURL: srv.URL + "/hook", Channel: "#ops"})
	if err := n.SendCrashReport(context.Background(), crash()); err != nil {
		t.Fatalf("SendCrashReport: %v", err)
	}
	var body struct {
		Channel     string `json:"channel"`
		Username    string `json:"username"`
		Attachments []struct {
			Color string `json:"color"`
		} `json:"attachments"`
	}
	if err := json.Unmarshal(rec.last(t).Body, &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Channel != "#ops" || body.Username != "Crash Reporter" {
		t.Fatalf("meta = %+v", body)
	}
	if len(body.Attachments) != 1 || body.Attachments[0].Color != "danger" {
		t.Fatalf("attachments = %+v", body.Attachments)
	}
}

func TestSlackRejectsNon200(t *testing.T) {
	_, srv := newServer(t, http.StatusNoContent, "")
	n := mustNew(t, SlackConfig{WebhookURL: srv.URL})
	if err := n.TestConnection(context.Background()); err == nil {
		t.Fatalf("slack accepted 204")
	}
}

func TestDiscordAccepts204(t *testing.T) {
	rec, srv := newServer(t, http.StatusNoContent, "")
	n := mustNew(t, DiscordConfig{WebhookURL: srv.URL + "/api/webhooks/1/x"})
	if err := n.SendAppStartup(context.Background(), report.Startup{Platform: "linux/amd64", CreatedAt: fixedNow}); err != nil {
		t.Fatalf("SendAppStartup: %v", err)
	}
	var body struct {
		Embeds []struct {
			Title string `json:"title"`
		} `json:"embeds"`
	}
	_ = json.Unmarshal(rec.last(t).Body, &body)
	if len(body.Embeds) != 1 || body.Embeds[0].Title == "" {
		t.Fatalf("embeds = %+v", body.Embeds)
	}

	_, bad := newServer(t, http.StatusTooManyRequests, "slow down")
	n = mustNew(t, DiscordConfig{WebhookURL: bad.URL})
	err := n.SendEvent(context.Background(), report.Event{Message: "x"})
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("err = %v", err)
	}
}

func TestWebhookMethodAndHeaders(t *testing.T) {
	rec, srv := newServer(t, http.StatusAccepted, "")
	n := mustNew(t, WebhookConfig{
		URL:     srv.URL + "/ingest",
		Method:  "put",
		Headers: map[string]string{"Authorization": "Bearer s3cret", "Content-Type": "text/plain"},
	})
	if err := n.SendCrashReport(context.Background(), crash()); err != nil {
		t.Fatalf("SendCrashReport: %v", err)
	}
	req := rec.last(t)
	if req.Method != http.MethodPut {
		t.Fatalf("method = %s", req.Method)
	}
	if req.Header.Get("Authorization") != "Bearer s3cret" {
		t.Fatalf("auth header lost")
	}
	if req.Header.Get("Content-Type") != "application/json" {
		t.Fatalf("content type = %q", req.Header.Get("Content-Type"))
	}
	var env struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(req.Body, &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Type != string(report.KindCrash) || env.Data["id"] != "c-1" {
		t.Fatalf("envelope = %+v", env)
	}
}

func TestWebhookServerError(t *testing.T) {
	_, srv := newServer(t, http.StatusInternalServerError, "down")
	n := mustNew(t, WebhookConfig{URL: srv.URL})
	err := n.SendEvent(context.Background(), report.Event{Message: "x"})
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != 500 || se.Body != "down" {
		t.Fatalf("err = %v", err)
	}
}

func TestRequestTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() { close(release); srv.Close() })

	o := opts()
	o.Client = ClientOptions{RequestTimeout: 50 * time.Millisecond}
	n, err := New(WebhookConfig{URL: srv.URL}, o)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer n.Close()

	start := time.Now()
	if err := n.SendEvent(context.Background(), report.Event{Message: "x"}); err == nil {
		t.Fatalf("expected timeout")
	}
	if took := time.Since(start); took > 2*time.Second {
		t.Fatalf("timeout not enforced, took %v", took)
	}
}

func TestContextCancel(t *testing.T) {
	_, srv := newServer(t, http.StatusOK, "")
	n := mustNew(t, SlackConfig{WebhookURL: srv.URL})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := n.SendEvent(ctx, report.Event{Message: "x"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
