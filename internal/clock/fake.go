package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a deterministic Clock for tests. Time only moves when Advance is
// called; due callbacks run synchronously on the advancing goroutine, in
// schedule order.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	seq     uint64
	pending []*fakeTimer
}

// NewFake returns a Fake positioned at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	t := &fakeTimer{
		clock: f,
		id:    f.seq,
		at:    f.now.Add(d),
		delay: d,
		fn:    fn,
	}
	f.pending = append(f.pending, t)
	return t
}

// Advance moves the clock forward by d, firing due timers in order.
// Callbacks may schedule further timers; those fire too if they fall within
// the window.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	deadline := f.now.Add(d)
	f.mu.Unlock()

	for {
		t := f.popDue(deadline)
		if t == nil {
			break
		}
		t.fn()
	}

	f.mu.Lock()
	if deadline.After(f.now) {
		f.now = deadline
	}
	f.mu.Unlock()
}

// PendingDelays returns the original delays of timers that have not fired or
// been stopped, in schedule order. Tests use this to assert backoff schedules.
func (f *Fake) PendingDelays() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	sorted := append([]*fakeTimer(nil), f.pending...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].id < sorted[j].id })
	out := make([]time.Duration, 0, len(sorted))
	for _, t := range sorted {
		out = append(out, t.delay)
	}
	return out
}

// popDue removes and returns the earliest timer due at or before deadline,
// moving now to its fire time. Returns nil when nothing is due.
func (f *Fake) popDue(deadline time.Time) *fakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()

	var (
		best    *fakeTimer
		bestIdx = -1
	)
	for i, t := range f.pending {
		if t.at.After(deadline) {
			continue
		}
		if best == nil || t.at.Before(best.at) || (t.at.Equal(best.at) && t.id < best.id) {
			best = t
			bestIdx = i
		}
	}
	if best == nil {
		return nil
	}
	f.pending = append(f.pending[:bestIdx], f.pending[bestIdx+1:]...)
	if best.at.After(f.now) {
		f.now = best.at
	}
	return best
}

func (f *Fake) remove(id uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, t := range f.pending {
		if t.id == id {
			f.pending = append(f.pending[:i], f.pending[i+1:]...)
			return true
		}
	}
	return false
}

type fakeTimer struct {
	clock *Fake
	id    uint64
	at    time.Time
	delay time.Duration
	fn    func()
}

func (t *fakeTimer) Stop() bool { return t.clock.remove(t.id) }
