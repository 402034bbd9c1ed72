package report

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestExtraAddDoesNotAlias(t *testing.T) {
	base := make(Extra, 0, 4).Add("a", 1)
	x := base.Add("b", true)
	y := base.Add("c", "z")

	if len(x) != 2 || x[1].Key != "b" || x[1].Value != "true" {
		t.Fatalf("unexpected x: %+v", x)
	}
	if len(y) != 2 || y[1].Key != "c" {
		t.Fatalf("unexpected y: %+v", y)
	}
}

func TestCrashRoundTripKeepsExtraOrder(t *testing.T) {
	extra := Extra{{Key: "zeta", Value: "1"}, {Key: "alpha", Value: "2"}, {Key: "mid", Value: "3"}}
	c := NewCrash("boom", "main.go:1", "startup", true, extra, "linux/amd64", false, time.Unix(100, 0).UTC())
	if c.ID == "" || c.Version != SchemaVersion {
		t.Fatalf("record not stamped: %+v", c)
	}

	extra[0].Value = "mutated"
	if c.Extra[0].Value != "1" {
		t.Fatalf("crash extra aliases caller slice")
	}

	b, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := DecodeCrash(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i, k := range []string{"zeta", "alpha", "mid"} {
		if got.Extra[i].Key != k {
			t.Fatalf("extra[%d] = %q, want %q", i, got.Extra[i].Key, k)
		}
	}
	if !got.Fatal || got.Context != "startup" || !got.CreatedAt.Equal(c.CreatedAt) {
		t.Fatalf("decoded record differs: %+v", got)
	}
}

func TestDecodeCrashRejectsFutureSchema(t *testing.T) {
	_, err := DecodeCrash([]byte(`{"v":99,"error":"x"}`))
	if !errors.Is(err, ErrMalformedRecord) {
		t.Fatalf("expected ErrMalformedRecord, got %v", err)
	}
	c, err := DecodeCrash([]byte(`{"error":"legacy"}`))
	if err != nil {
		t.Fatalf("legacy record should decode: %v", err)
	}
	if c.Version != 0 || c.Error != "legacy" {
		t.Fatalf("unexpected legacy decode: %+v", c)
	}
}
