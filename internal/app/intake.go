package app

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"crashrelay/internal/engine"
	"crashrelay/internal/report"
	logx "crashrelay/pkg/logx"
)

const maxLineBytes = 1 << 20

var ErrUnknownType = errors.New("unknown submission type")

// Submission is one line of the run command's stdin:
//
//	{"type":"crash_report","error":"boom","stack_trace":"...","extra":{"user":"42"}}
//	{"type":"event","message":"deploy finished","extra":[{"key":"rev","value":"abc"}]}
//	{"type":"app_startup"}
//
// Extra is either an object (key order kept) or a list of key/value pairs.
// Notifications, when present, overrides the toggles for this submission.
type Submission struct {
	Type          report.Kind
	Error         string
	Message       string
	StackTrace    string
	Context       string
	Fatal         bool
	Extra         report.Extra
	Notifications *engine.NotificationConfig
}

type wireSubmission struct {
	Type          report.Kind                `json:"type"`
	Error         string                     `json:"error"`
	Message       string                     `json:"message"`
	StackTrace    string                     `json:"stack_trace"`
	Context       string                     `json:"context"`
	Fatal         bool                       `json:"fatal"`
	Extra         json.RawMessage            `json:"extra"`
	Notifications *engine.NotificationConfig `json:"notifications"`
}

// ParseSubmission strictly decodes one JSON line.
func ParseSubmission(line []byte) (Submission, error) {
	var w wireSubmission
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return Submission{}, fmt.Errorf("decode submission: %w", err)
	}
	switch w.Type {
	case report.KindCrash, report.KindEvent, report.KindStartup:
	default:
		return Submission{}, fmt.Errorf("%w %q", ErrUnknownType, w.Type)
	}
	extra, err := parseExtra(w.Extra)
	if err != nil {
		return Submission{}, err
	}
	return Submission{
		Type:          w.Type,
		Error:         w.Error,
		Message:       w.Message,
		StackTrace:    w.StackTrace,
		Context:       w.Context,
		Fatal:         w.Fatal,
		Extra:         extra,
		Notifications: w.Notifications,
	}, nil
}

func parseExtra(raw json.RawMessage) (report.Extra, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '[' {
		var pairs report.Extra
		if err := json.Unmarshal(raw, &pairs); err != nil {
			return nil, fmt.Errorf("extra: %w", err)
		}
		return pairs, nil
	}

	// Walk the object by token; a map would lose the key order.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil, errors.New("extra: want an object or a list of key/value pairs")
	}
	var out report.Extra
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("extra: %w", err)
		}
		key, _ := tok.(string)
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("extra %q: %w", key, err)
		}
		out = out.Add(key, extraValue(v))
	}
	return out, nil
}

func extraValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	default:
		b, _ := json.Marshal(x)
		return string(b)
	}
}

// Submit hands s to the matching engine entry point.
func Submit(ctx context.Context, e *engine.Engine, s Submission) engine.Results {
	switch s.Type {
	case report.KindCrash:
		msg := s.Error
		if msg == "" {
			msg = s.Message
		}
		return e.ReportCrash(ctx, engine.CrashInput{
			Message:    msg,
			StackTrace: s.StackTrace,
			Context:    s.Context,
			Fatal:      s.Fatal,
			Extra:      s.Extra,
			Override:   s.Notifications,
		})
	case report.KindEvent:
		return e.SendEvent(ctx, engine.EventInput{
			Message:  s.Message,
			Context:  s.Context,
			Extra:    s.Extra,
			Override: s.Notifications,
		})
	case report.KindStartup:
		return e.SendAppStartup(ctx, s.Notifications)
	}
	return nil
}

// Intake reads submissions from r, one JSON object per line, until r is
// exhausted or ctx ends. Bad lines are logged and skipped.
func (a *App) Intake(ctx context.Context, r io.Reader) error {
	lines := make(chan []byte)
	errc := make(chan error, 1)
	go func() {
		var err error
		defer func() {
			errc <- err
			close(lines)
		}()
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 64*1024), maxLineBytes)
		for sc.Scan() {
			b := bytes.TrimSpace(sc.Bytes())
			if len(b) == 0 {
				continue
			}
			select {
			case lines <- append([]byte(nil), b...):
			case <-ctx.Done():
				return
			}
		}
		err = sc.Err()
	}()

	n := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				if err := <-errc; err != nil {
					return fmt.Errorf("read submissions: %w", err)
				}
				a.log.Info("submission input closed", logx.Int("lines", n))
				return nil
			}
			n++
			a.handleLine(ctx, n, line)
		}
	}
}

func (a *App) handleLine(ctx context.Context, n int, line []byte) {
	s, err := ParseSubmission(line)
	if err != nil {
		a.log.Warn("submission rejected", logx.Int("line", n), logx.Err(err))
		return
	}
	rs := Submit(ctx, a.engine, s)
	a.log.Debug("submission handled",
		logx.Int("line", n),
		logx.String("type", string(s.Type)),
		logx.Int("sent", len(rs.Succeeded())),
		logx.Int("failed", len(rs.Failed())),
	)
}
