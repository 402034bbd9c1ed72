package eventbus

import (
	"testing"
	"time"
)

func TestPublishFansOut(t *testing.T) {
	b := New()
	a, unA := b.Subscribe(4)
	c, unC := b.Subscribe(4)
	defer unA()
	defer unC()

	b.Publish(Event{Type: TypeDispatchSent, Data: Delivery{Channel: "slack"}})

	for i, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			if e.Type != TypeDispatchSent || e.Time.IsZero() {
				t.Fatalf("sub %d: got %+v", i, e)
			}
			if d, ok := e.Data.(Delivery); !ok || d.Channel != "slack" {
				t.Fatalf("sub %d: data = %#v", i, e.Data)
			}
		case <-time.After(time.Second):
			t.Fatalf("sub %d: no event", i)
		}
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})
	b.Publish(Event{Type: "c"})

	if got := b.(Counter).Dropped(); got != 2 {
		t.Fatalf("Dropped = %d, want 2", got)
	}
}

func TestUnsubscribeClosesAndIsIdempotent(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatalf("channel still open")
	}
	// No panic after the subscriber is gone.
	b.Publish(Event{Type: "x"})
}
