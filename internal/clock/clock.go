// Package clock abstracts timer scheduling behind cancellable handles so the
// transport heartbeat and reconnect backoff can be driven by virtual time in
// tests.
package clock

import "time"

// Timer is a cancellable scheduled callback.
type Timer interface {
	// Stop cancels the timer. It reports whether the call prevented the
	// callback from firing. Stop is safe to call multiple times.
	Stop() bool
}

// Clock schedules work. Implementations must be safe for concurrent use.
type Clock interface {
	Now() time.Time
	// AfterFunc runs fn in its own goroutine after d has elapsed.
	AfterFunc(d time.Duration, fn func()) Timer
}

// System returns a Clock backed by the runtime timers.
func System() Clock { return systemClock{} }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, fn func()) Timer {
	return sysTimer{t: time.AfterFunc(d, fn)}
}

type sysTimer struct{ t *time.Timer }

func (s sysTimer) Stop() bool { return s.t.Stop() }
