// Package digest produces scheduled unread summaries for users who opted out
// of realtime delivery. Realtime toasts are suppressed for them by the domain
// service; this is the batched replacement.
package digest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"

	"tipfeed/internal/eventbus"
	"tipfeed/internal/notification"
	"tipfeed/pkg/logx"
)

// EventEmitted is published on the bus after each delivered digest.
const EventEmitted = "digest.emitted"

const (
	dailySpec  = "0 9 * * *" // every day 09:00
	weeklySpec = "0 9 * * 1" // Monday 09:00
)

// Feed is the read-only slice of the domain service the scheduler needs.
type Feed interface {
	Snapshot() ([]notification.Record, int)
	Preferences() notification.Preferences
}

// Summary is the bus payload for EventEmitted.
type Summary struct {
	Unread int                       `json:"unread"`
	ByType map[notification.Type]int `json:"byType"`
}

// Scheduler fires an unread-summary toast on the cadence selected by the
// preference document. Realtime frequency disables it entirely.
type Scheduler struct {
	mu sync.Mutex

	log   logx.Logger
	feed  Feed
	sink  notification.ToastSink
	bus   eventbus.Bus
	cron  *cron.Cron
	entry cron.EntryID
	freq  notification.Frequency
}

func New(feed Feed, sink notification.ToastSink, log logx.Logger, bus eventbus.Bus) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{
		log:  log,
		feed: feed,
		sink: sink,
		bus:  bus,
		cron: cron.New(),
	}
}

// Start applies the current preference frequency and begins the schedule.
func (s *Scheduler) Start() {
	s.Apply(s.feed.Preferences().Frequency)
	s.cron.Start()
}

// Stop halts the schedule and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Apply reconfigures the schedule for the given frequency. Idempotent; called
// again on every preference change.
func (s *Scheduler) Apply(freq notification.Frequency) {
	if freq == "" {
		freq = notification.FrequencyRealtime
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if freq == s.freq && s.entry != 0 {
		return
	}
	if s.entry != 0 {
		s.cron.Remove(s.entry)
		s.entry = 0
	}
	s.freq = freq

	var spec string
	switch freq {
	case notification.FrequencyDaily:
		spec = dailySpec
	case notification.FrequencyWeekly:
		spec = weeklySpec
	default:
		s.log.Debug("digest disabled", logx.String("frequency", string(freq)))
		return
	}

	id, err := s.cron.AddFunc(spec, s.run)
	if err != nil {
		s.log.Error("digest schedule failed", logx.String("spec", spec), logx.Err(err))
		return
	}
	s.entry = id
	s.log.Info("digest scheduled", logx.String("frequency", string(freq)), logx.String("spec", spec))
}

func (s *Scheduler) run() {
	recs, unread := s.feed.Snapshot()
	if unread == 0 {
		s.log.Debug("digest skipped; nothing unread")
		return
	}

	byType := map[notification.Type]int{}
	for _, r := range recs {
		if !r.Read {
			byType[r.Type]++
		}
	}

	t := notification.Toast{
		ID:       "digest",
		Title:    "Notification Digest",
		Message:  summaryMessage(unread, byType),
		Priority: notification.PriorityLow,
	}
	if s.sink != nil {
		s.sink.Toast(context.Background(), t)
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: EventEmitted, Data: Summary{Unread: unread, ByType: byType}})
	}
	s.log.Info("digest delivered", logx.Int("unread", unread))
}

func summaryMessage(unread int, byType map[notification.Type]int) string {
	word := "notifications"
	if unread == 1 {
		word = "notification"
	}
	msg := fmt.Sprintf("You have %d unread %s", unread, word)

	if len(byType) == 0 {
		return msg
	}
	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, string(t))
	}
	sort.Strings(types)
	parts := make([]string, 0, len(types))
	for _, t := range types {
		parts = append(parts, fmt.Sprintf("%d %s", byType[notification.Type(t)], t))
	}
	return msg + " (" + strings.Join(parts, ", ") + ")"
}
