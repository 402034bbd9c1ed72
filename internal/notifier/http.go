package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"crashrelay/internal/report"
	logx "crashrelay/pkg/logx"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultRequestTimeout = 30 * time.Second

	// Error bodies are kept for diagnostics only.
	maxErrorBody = 4 << 10
)

// ClientOptions bounds the outbound transport.
//
// ConnectTimeout covers dialing and the TLS handshake. RequestTimeout is the
// overall deadline for one request including reading the response; 0 keeps
// DefaultRequestTimeout, a negative value disables it.
type ClientOptions struct {
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// NewHTTPClient returns a client with its own connection pool.
func NewHTTPClient(o ClientOptions) *http.Client {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.RequestTimeout == 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.RequestTimeout < 0 {
		o.RequestTimeout = 0
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DialContext = (&net.Dialer{Timeout: o.ConnectTimeout, KeepAlive: 30 * time.Second}).DialContext
	tr.TLSHandshakeTimeout = o.ConnectTimeout
	return &http.Client{Transport: tr, Timeout: o.RequestTimeout}
}

// StatusError is a non-success channel response.
type StatusError struct {
	Channel    Kind
	StatusCode int
	Body       string
	Reason     string
}

func (e *StatusError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: http %d", e.Channel, e.StatusCode)
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if body := strings.TrimSpace(e.Body); body != "" {
		b.WriteString(": ")
		b.WriteString(body)
	}
	return b.String()
}

// base carries what every notifier shares: the client, log sink and host identity.
type base struct {
	kind     Kind
	client   *http.Client
	log      logx.Logger
	platform string
	now      func() time.Time
}

func newBase(kind Kind, opts Options) base {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	platform := opts.Platform
	if platform == "" {
		platform = report.DefaultPlatform()
	}
	return base{
		kind:     kind,
		client:   NewHTTPClient(opts.Client),
		log:      log.With(logx.String("channel", string(kind))),
		platform: platform,
		now:      now,
	}
}

func (b *base) Kind() Kind { return b.kind }

func (b *base) Close() error {
	b.client.CloseIdleConnections()
	return nil
}

// send issues one JSON request and logs the outcome. accept decides which
// status codes count as success; reason maps the rest to a readable cause.
func (b *base) send(ctx context.Context, what report.Kind, method, url string, headers map[string]string, body any, accept func(int) bool, reason func(int) string) error {
	start := time.Now()
	err := b.do(ctx, method, url, headers, body, accept, reason)
	took := time.Since(start)
	if err != nil {
		b.log.Debug("notification failed", logx.String("kind", string(what)), logx.Duration("took", took), logx.Err(err))
		return err
	}
	b.log.Debug("notification sent", logx.String("kind", string(what)), logx.Duration("took", took))
	return nil
}

func (b *base) do(ctx context.Context, method, url string, headers map[string]string, body any, accept func(int) bool, reason func(int) string) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: encode body: %w", b.kind, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", b.kind, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", b.kind, err)
	}
	defer resp.Body.Close()

	if accept(resp.StatusCode) {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	se := &StatusError{Channel: b.kind, StatusCode: resp.StatusCode, Body: string(msg)}
	if reason != nil {
		se.Reason = reason(resp.StatusCode)
	}
	return se
}

func accept2xx(code int) bool { return code >= 200 && code < 300 }

func acceptOK(code int) bool { return code == http.StatusOK }

func genericReason(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "bad request"
	case http.StatusUnauthorized, http.StatusForbidden:
		return "unauthorized"
	case http.StatusNotFound:
		return "webhook not found"
	case http.StatusTooManyRequests:
		return "rate limited"
	default:
		return ""
	}
}
