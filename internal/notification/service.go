// Package notification owns the canonical notification feed: classification
// of raw transport/push events into typed records, the capped newest-first
// list, the unread counter, read-state mutations, persistence and listener
// fan-out.
//
// The same logical event arriving on both the socket and the push channel is
// NOT deduplicated across channels; the two deliveries yield two records with
// distinct ids. This matches the upstream system and is a known limitation,
// not an accident.
package notification

import (
	"context"
	"strconv"
	"sync"
	"time"

	"tipfeed/internal/eventbus"
	"tipfeed/pkg/logx"
)

// Bus event types published by the service.
const (
	EventUpdated = "notify.updated"
	EventToast   = "notify.toast"
	EventPrefs   = "notify.prefs"
)

// Persister is the slice of storage the service needs. Implementations must
// tolerate concurrent calls; all errors are absorbed by the service.
type Persister interface {
	SaveFeed(ctx context.Context, recs []Record, unread int) error
	LoadFeed(ctx context.Context) (recs []Record, unread int, err error)
	SavePreferences(ctx context.Context, p Preferences) error
	LoadPreferences(ctx context.Context) (p Preferences, ok bool, err error)
}

// Backend mirrors read-state mutations to the remote collaborator.
// Mirroring is best-effort: local state is authoritative.
type Backend interface {
	GetPreferences(ctx context.Context) (Preferences, error)
	UpdatePreferences(ctx context.Context, p Preferences) error
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
	ClearAll(ctx context.Context) error
}

// Listener receives the full current list and unread count after every
// mutation. Listeners get the whole list, not a diff; simplicity over
// efficiency is intentional.
type Listener func(recs []Record, unread int)

type Config struct {
	MaxInMemory  int // retained records in memory (default 100)
	MaxPersisted int // records written to storage (default 50)
}

// FeedEvent is the bus payload for EventUpdated.
type FeedEvent struct {
	Count  int `json:"count"`
	Unread int `json:"unread"`
}

// Service is the single source of truth for the notification list.
// All mutation goes through its public operations.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	bus     eventbus.Bus
	store   Persister // may be nil
	backend Backend   // may be nil
	toasts  ToastSink // may be nil

	cfg     Config
	prefs   Preferences
	records []Record
	unread  int

	listeners map[uint64]Listener
	lseq      uint64

	// emitMu serializes listener fan-out so subscribers observe snapshots in
	// mutation order.
	emitMu sync.Mutex
}

func New(cfg Config, store Persister, backend Backend, toasts ToastSink, log logx.Logger, bus eventbus.Bus) *Service {
	if cfg.MaxInMemory <= 0 {
		cfg.MaxInMemory = 100
	}
	if cfg.MaxPersisted <= 0 || cfg.MaxPersisted > cfg.MaxInMemory {
		cfg.MaxPersisted = 50
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:       log,
		bus:       bus,
		store:     store,
		backend:   backend,
		toasts:    toasts,
		cfg:       cfg,
		prefs:     DefaultPreferences(),
		listeners: map[uint64]Listener{},
	}
}

// Init loads preferences (backend, then local storage, then hardcoded
// defaults) and the persisted feed. It never fails: missing or corrupt state
// starts empty.
func (s *Service) Init(ctx context.Context) {
	prefs := DefaultPreferences()
	loaded := false
	if s.backend != nil {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		p, err := s.backend.GetPreferences(pctx)
		cancel()
		if err != nil {
			s.log.Warn("preference fetch failed; trying local copy", logx.Err(err))
		} else {
			prefs = p
			loaded = true
		}
	}
	if !loaded && s.store != nil {
		p, ok, err := s.store.LoadPreferences(ctx)
		if err != nil {
			s.log.Warn("preference load failed; using defaults", logx.Err(err))
		} else if ok {
			prefs = p
		}
	}

	var (
		recs   []Record
		unread int
	)
	if s.store != nil {
		r, _, err := s.store.LoadFeed(ctx)
		if err != nil {
			s.log.Warn("feed load failed; starting empty", logx.Err(err))
		} else {
			recs = r
		}
	}
	if len(recs) > s.cfg.MaxInMemory {
		recs = recs[:s.cfg.MaxInMemory]
	}
	// The counter is recomputed from the loaded list so the unread invariant
	// holds even if the persisted counter went stale.
	for _, r := range recs {
		if !r.Read {
			unread++
		}
	}

	s.mu.Lock()
	s.prefs = prefs
	s.records = recs
	s.unread = unread
	s.mu.Unlock()

	s.log.Info("notification service ready",
		logx.Int("records", len(recs)),
		logx.Int("unread", unread),
		logx.String("frequency", string(prefs.Frequency)))
}

// Dispose persists the current state and drops all listeners.
func (s *Service) Dispose(ctx context.Context) {
	s.mu.Lock()
	recs := append([]Record(nil), s.records...)
	unread := s.unread
	s.listeners = map[uint64]Listener{}
	s.mu.Unlock()
	s.persist(ctx, recs, unread)
}

// Subscribe registers a listener; the returned function removes it.
// Attach/detach of independent listeners never interfere.
func (s *Service) Subscribe(fn Listener) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	s.lseq++
	id := s.lseq
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// Snapshot returns a copy of the current list and the unread count.
func (s *Service) Snapshot() ([]Record, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...), s.unread
}

func (s *Service) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

func (s *Service) Preferences() Preferences {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs
}

// Ingest classifies a raw event and runs the common ingestion routine:
// prepend, count, evict, persist, notify, and (preference-gated) toast.
// It returns the stored record.
func (s *Service) Ingest(ctx context.Context, in Inbound) Record {
	rec := classify(in, time.Now())

	s.mu.Lock()
	// Record ids must stay unique within the retained window. Push message
	// ids are server-assigned; minted ids collide only on same-nanosecond
	// classification, which we still guard against.
	for base, i := rec.ID, 1; s.containsLocked(rec.ID); i++ {
		rec.ID = base + "_" + strconv.Itoa(i)
	}
	s.records = append([]Record{rec}, s.records...)
	s.unread++
	// Evict beyond the cap; evicted unread records leave the counter too so
	// the unread invariant stays exact.
	if len(s.records) > s.cfg.MaxInMemory {
		for _, old := range s.records[s.cfg.MaxInMemory:] {
			if !old.Read {
				s.unread--
			}
		}
		s.records = s.records[:s.cfg.MaxInMemory]
	}
	recs := append([]Record(nil), s.records...)
	unread := s.unread
	toastable := s.prefs.toastEligible(rec.Type)
	s.mu.Unlock()

	s.log.Debug("notification ingested",
		logx.String("id", rec.ID),
		logx.String("type", string(rec.Type)),
		logx.String("source", string(in.Source)),
		logx.String("priority", string(rec.Priority)))

	s.persist(ctx, recs, unread)
	s.emit(recs, unread)

	if toastable {
		t := Toast{
			ID:        rec.ID,
			Title:     rec.Title,
			Message:   rec.Description,
			Priority:  rec.Priority,
			ActionURL: rec.ActionURL,
			At:        time.Now(),
		}
		if s.toasts != nil {
			s.toasts.Toast(ctx, t)
		}
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: EventToast, Data: t})
		}
	}
	return rec
}

// MarkAsRead flips one record's read flag. It reports whether anything
// changed; marking an unknown or already-read id is a no-op.
func (s *Service) MarkAsRead(ctx context.Context, id string) bool {
	s.mu.Lock()
	changed := false
	for i := range s.records {
		if s.records[i].ID == id {
			if !s.records[i].Read {
				s.records[i].Read = true
				if s.unread > 0 {
					s.unread--
				}
				changed = true
			}
			break
		}
	}
	if !changed {
		s.mu.Unlock()
		return false
	}
	recs := append([]Record(nil), s.records...)
	unread := s.unread
	s.mu.Unlock()

	s.persist(ctx, recs, unread)
	s.emit(recs, unread)
	s.mirror(func(c context.Context, b Backend) error { return b.MarkRead(c, id) }, "mark read")
	return true
}

// MarkAllAsRead flips every record and zeroes the counter.
func (s *Service) MarkAllAsRead(ctx context.Context) {
	s.mu.Lock()
	for i := range s.records {
		s.records[i].Read = true
	}
	s.unread = 0
	recs := append([]Record(nil), s.records...)
	s.mu.Unlock()

	s.persist(ctx, recs, 0)
	s.emit(recs, 0)
	s.mirror(func(c context.Context, b Backend) error { return b.MarkAllRead(c) }, "mark all read")
}

// ClearNotifications wipes the list. The empty state is persisted immediately
// so cleared records cannot resurface after a restart.
func (s *Service) ClearNotifications(ctx context.Context) {
	s.mu.Lock()
	s.records = nil
	s.unread = 0
	s.mu.Unlock()

	s.persist(ctx, nil, 0)
	s.emit(nil, 0)
	s.mirror(func(c context.Context, b Backend) error { return b.ClearAll(c) }, "clear")
}

// UpdatePreferences replaces the preference document wholesale.
func (s *Service) UpdatePreferences(ctx context.Context, p Preferences) {
	if p.Frequency == "" {
		p.Frequency = FrequencyRealtime
	}
	s.mu.Lock()
	s.prefs = p
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.SavePreferences(ctx, p); err != nil {
			s.log.Warn("preference save failed", logx.Err(err))
		}
	}
	s.mirror(func(c context.Context, b Backend) error { return b.UpdatePreferences(c, p) }, "preference update")
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: EventPrefs, Data: p})
	}
}

func (s *Service) containsLocked(id string) bool {
	for i := range s.records {
		if s.records[i].ID == id {
			return true
		}
	}
	return false
}

// persist writes the capped slice and counter. Storage failure is logged and
// absorbed; the in-memory state stays authoritative.
func (s *Service) persist(ctx context.Context, recs []Record, unread int) {
	if s.store == nil {
		return
	}
	if len(recs) > s.cfg.MaxPersisted {
		recs = recs[:s.cfg.MaxPersisted]
	}
	if err := s.store.SaveFeed(ctx, recs, unread); err != nil {
		s.log.Warn("feed persist failed", logx.Err(err))
	}
}

// emit hands every listener the same consistent snapshot, in mutation order.
func (s *Service) emit(recs []Record, unread int) {
	s.mu.Lock()
	fns := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	for _, fn := range fns {
		fn(recs, unread)
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: EventUpdated, Data: FeedEvent{Count: len(recs), Unread: unread}})
	}
}

// mirror runs a best-effort backend call off the mutation path.
func (s *Service) mirror(fn func(ctx context.Context, b Backend) error, what string) {
	if s.backend == nil {
		return
	}
	b := s.backend
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := fn(ctx, b); err != nil {
			s.log.Debug("backend mirror failed", logx.String("op", what), logx.Err(err))
		}
	}()
}
