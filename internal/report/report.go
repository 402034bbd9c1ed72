// Package report holds the submission data model shared by the dispatch
// engine, the crash store, the payload builders and the channel notifiers.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is written into every persisted crash record.
const SchemaVersion = 1

// Kind is a submission kind.
type Kind string

const (
	KindCrash   Kind = "crash_report"
	KindEvent   Kind = "event"
	KindStartup Kind = "app_startup"
	KindTest    Kind = "test"
)

// Pair is one extra-data entry.
type Pair struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Extra is caller supplied key/value data. Order is insertion order and is
// preserved through persistence and every payload. Payloads that render it
// as an object keep the last value of a repeated key.
type Extra []Pair

// Add returns a copy of x with k=v appended.
func (x Extra) Add(k string, v any) Extra {
	out := make(Extra, len(x), len(x)+1)
	copy(out, x)
	return append(out, Pair{Key: k, Value: fmt.Sprint(v)})
}

// Clone returns an independent copy (nil stays nil).
func (x Extra) Clone() Extra {
	if x == nil {
		return nil
	}
	out := make(Extra, len(x))
	copy(out, x)
	return out
}

// Crash is one crash record. It is immutable once created.
type Crash struct {
	Version    int       `json:"v"`
	ID         string    `json:"id"`
	Error      string    `json:"error"`
	StackTrace string    `json:"stack_trace"`
	Context    string    `json:"context,omitempty"`
	Fatal      bool      `json:"fatal,omitempty"`
	Extra      Extra     `json:"extra_data,omitempty"`
	Platform   string    `json:"platform"`
	DebugMode  bool      `json:"debug_mode"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewCrash stamps a fresh crash record.
func NewCrash(errText, stack, context string, fatal bool, extra Extra, platform string, debug bool, at time.Time) Crash {
	return Crash{
		Version:    SchemaVersion,
		ID:         uuid.NewString(),
		Error:      errText,
		StackTrace: stack,
		Context:    context,
		Fatal:      fatal,
		Extra:      extra.Clone(),
		Platform:   platform,
		DebugMode:  debug,
		CreatedAt:  at,
	}
}

// Clone returns a deep copy.
func (c Crash) Clone() Crash {
	c.Extra = c.Extra.Clone()
	return c
}

var ErrMalformedRecord = errors.New("report: malformed crash record")

// DecodeCrash parses one persisted record. Records written before the schema
// tag existed decode as version 0.
func DecodeCrash(b []byte) (Crash, error) {
	var c Crash
	if err := json.Unmarshal(b, &c); err != nil {
		return Crash{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if c.Version > SchemaVersion {
		return Crash{}, fmt.Errorf("%w: unsupported schema version %d", ErrMalformedRecord, c.Version)
	}
	return c, nil
}

// Event is an ad-hoc message from the host.
type Event struct {
	Message   string    `json:"message"`
	Context   string    `json:"context,omitempty"`
	Extra     Extra     `json:"extra_data,omitempty"`
	Platform  string    `json:"platform"`
	DebugMode bool      `json:"debug_mode"`
	CreatedAt time.Time `json:"created_at"`
}

// Startup announces that the host application started.
type Startup struct {
	Platform  string    `json:"platform"`
	DebugMode bool      `json:"debug_mode"`
	Hostname  string    `json:"hostname,omitempty"`
	PID       int       `json:"pid"`
	Version   string    `json:"version,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewStartup fills host identity from the running process.
func NewStartup(platform string, debug bool, version string, at time.Time) Startup {
	host, _ := os.Hostname()
	return Startup{
		Platform:  platform,
		DebugMode: debug,
		Hostname:  host,
		PID:       os.Getpid(),
		Version:   version,
		CreatedAt: at,
	}
}

// DefaultPlatform identifies the running binary.
func DefaultPlatform() string { return runtime.GOOS + "/" + runtime.GOARCH }
