package digest

import (
	"context"
	"strings"
	"sync"
	"testing"

	"tipfeed/internal/eventbus"
	"tipfeed/internal/notification"
	"tipfeed/pkg/logx"
)

type fakeFeed struct {
	recs []notification.Record
	freq notification.Frequency
}

func (f *fakeFeed) Snapshot() ([]notification.Record, int) {
	unread := 0
	for _, r := range f.recs {
		if !r.Read {
			unread++
		}
	}
	return append([]notification.Record(nil), f.recs...), unread
}

func (f *fakeFeed) Preferences() notification.Preferences {
	p := notification.DefaultPreferences()
	p.Frequency = f.freq
	return p
}

type captureSink struct {
	mu     sync.Mutex
	toasts []notification.Toast
}

func (s *captureSink) Toast(_ context.Context, t notification.Toast) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toasts = append(s.toasts, t)
}

func unreadTips(n int) []notification.Record {
	recs := make([]notification.Record, n)
	for i := range recs {
		recs[i] = notification.Record{ID: "t", Type: notification.TypeTip}
	}
	return recs
}

func TestApplySchedulesByFrequency(t *testing.T) {
	s := New(&fakeFeed{freq: notification.FrequencyRealtime}, &captureSink{}, logx.Nop(), nil)

	s.Apply(notification.FrequencyRealtime)
	if s.entry != 0 {
		t.Fatal("realtime must not schedule a digest")
	}

	s.Apply(notification.FrequencyDaily)
	if s.entry == 0 {
		t.Fatal("daily should schedule")
	}
	daily := s.entry

	s.Apply(notification.FrequencyWeekly)
	if s.entry == 0 || s.entry == daily {
		t.Fatal("weekly should replace the daily entry")
	}

	s.Apply("")
	if s.entry != 0 {
		t.Fatal("empty frequency defaults to realtime and unschedules")
	}
}

func TestRunSummarizesUnreadByType(t *testing.T) {
	feed := &fakeFeed{
		recs: []notification.Record{
			{ID: "a", Type: notification.TypeTip},
			{ID: "b", Type: notification.TypeTip},
			{ID: "c", Type: notification.TypePriceAlert},
			{ID: "d", Type: notification.TypeTip, Read: true},
		},
		freq: notification.FrequencyDaily,
	}
	sink := &captureSink{}
	bus := eventbus.New()
	events, unsub := bus.SubscribeTypes(4, EventEmitted)
	defer unsub()

	s := New(feed, sink, logx.Nop(), bus)
	s.run()

	if len(sink.toasts) != 1 {
		t.Fatalf("toasts = %d, want 1", len(sink.toasts))
	}
	msg := sink.toasts[0].Message
	if !strings.Contains(msg, "3 unread notifications") {
		t.Fatalf("message = %q", msg)
	}
	if !strings.Contains(msg, "1 price_alert") || !strings.Contains(msg, "2 tip") {
		t.Fatalf("message lacks per-type breakdown: %q", msg)
	}
	if sink.toasts[0].Priority != notification.PriorityLow {
		t.Fatalf("priority = %s", sink.toasts[0].Priority)
	}

	select {
	case e := <-events:
		sum, ok := e.Data.(Summary)
		if !ok || sum.Unread != 3 || sum.ByType[notification.TypeTip] != 2 {
			t.Fatalf("unexpected summary event: %+v", e.Data)
		}
	default:
		t.Fatal("digest event not published")
	}
}

func TestRunSkipsWhenNothingUnread(t *testing.T) {
	sink := &captureSink{}
	s := New(&fakeFeed{}, sink, logx.Nop(), nil)

	s.run()
	if len(sink.toasts) != 0 {
		t.Fatalf("toasts = %d, want 0", len(sink.toasts))
	}
}

func TestSingularMessage(t *testing.T) {
	sink := &captureSink{}
	s := New(&fakeFeed{recs: unreadTips(1)}, sink, logx.Nop(), nil)

	s.run()
	if len(sink.toasts) != 1 || !strings.Contains(sink.toasts[0].Message, "1 unread notification") {
		t.Fatalf("toasts = %+v", sink.toasts)
	}
}
