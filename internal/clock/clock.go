// Package clock abstracts the time operations the viewing engine depends on.
// Production code uses Real(); tests and journal replay use Fake() so that
// ticks, flushes and settle delays fire deterministically.
package clock

import (
	"sync"
	"time"
)

// Clock is the subset of the time package used by sessions.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc calls f once after d elapses. The returned Timer can
	// cancel the pending call.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a pending AfterFunc call.
type Timer struct {
	stopFunc func() bool
}

// Stop cancels the call. It reports whether the call was still pending.
func (t *Timer) Stop() bool { return t.stopFunc() }

// Every calls f every d until the returned stop function is called.
// The next call is scheduled after f returns, so calls never overlap.
// Panics if d <= 0.
func Every(c Clock, d time.Duration, f func()) (stop func()) {
	if d <= 0 {
		panic("clock: non-positive interval for Every")
	}

	var (
		mu      sync.Mutex
		timer   *Timer
		stopped bool
	)

	var fire func()
	fire = func() {
		mu.Lock()
		if stopped {
			mu.Unlock()
			return
		}
		mu.Unlock()

		f()

		mu.Lock()
		defer mu.Unlock()
		if !stopped {
			timer = c.AfterFunc(d, fire)
		}
	}

	mu.Lock()
	timer = c.AfterFunc(d, fire)
	mu.Unlock()

	return func() {
		mu.Lock()
		defer mu.Unlock()
		stopped = true
		if timer != nil {
			timer.Stop()
		}
	}
}
