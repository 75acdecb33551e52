package eventbus

import "testing"

func drain(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestPrefixFiltering(t *testing.T) {
	t.Parallel()
	bus := New()

	all, unsubAll := bus.Subscribe(8)
	defer unsubAll()
	wsOnly, unsubWS := bus.SubscribeTypes(8, "ws.")
	defer unsubWS()

	bus.Publish(Event{Type: "ws.connected"})
	bus.Publish(Event{Type: "push.message"})

	if got := drain(all); len(got) != 2 {
		t.Fatalf("unfiltered subscriber got %d events, want 2", len(got))
	}
	got := drain(wsOnly)
	if len(got) != 1 || got[0].Type != "ws.connected" {
		t.Fatalf("filtered subscriber got %v", got)
	}
}

func TestExactTypeAlsoMatches(t *testing.T) {
	t.Parallel()
	bus := New()
	ch, unsub := bus.SubscribeTypes(8, "notify.updated")
	defer unsub()

	bus.Publish(Event{Type: "notify.updated"})
	bus.Publish(Event{Type: "notify.toast"})

	got := drain(ch)
	if len(got) != 1 || got[0].Type != "notify.updated" {
		t.Fatalf("got %v", got)
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	t.Parallel()
	bus := New()
	ch, unsub := bus.Subscribe(1)
	defer unsub()

	// Fill the buffer and keep publishing; overflow must drop, not block.
	for i := 0; i < 10; i++ {
		bus.Publish(Event{Type: "x"})
	}
	if got := drain(ch); len(got) != 1 {
		t.Fatalf("buffered %d events, want 1", len(got))
	}
}

func TestPublishAfterUnsubscribe(t *testing.T) {
	t.Parallel()
	bus := New()
	_, unsub := bus.Subscribe(1)
	unsub()
	unsub() // idempotent

	// Must not panic on the closed channel.
	bus.Publish(Event{Type: "x"})
}

func TestPublishStampsTime(t *testing.T) {
	t.Parallel()
	bus := New()
	ch, unsub := bus.Subscribe(1)
	defer unsub()

	bus.Publish(Event{Type: "x"})
	e := <-ch
	if e.Time.IsZero() {
		t.Fatal("expected publish to stamp Time")
	}
}
