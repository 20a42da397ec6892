// Package debounce decides whether a change event should trigger a restart
// now or be suppressed as part of a burst.
package debounce

import (
	"sync"
	"time"
)

// DefaultInterval is the window used when none is configured.
const DefaultInterval = time.Second

// Debouncer accepts the first event of a burst and suppresses every event
// that arrives less than interval after the last accepted one.
type Debouncer struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	accepted bool // false until the first event is accepted
}

// New returns a Debouncer with the given window. A zero or negative window
// suppresses nothing.
func New(interval time.Duration) *Debouncer {
	if interval < 0 {
		interval = 0
	}
	return &Debouncer{interval: interval}
}

// Interval returns the configured debounce window.
func (d *Debouncer) Interval() time.Duration { return d.interval }

// ShouldTrigger reports whether an event observed at now should trigger.
// When it returns true, now becomes the last accepted time in the same
// critical section as the comparison.
func (d *Debouncer) ShouldTrigger(now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.accepted && now.Sub(d.last) < d.interval {
		return false
	}
	d.last = now
	d.accepted = true
	return true
}

// LastAccepted returns the time of the last accepted event and whether any
// event has been accepted yet.
func (d *Debouncer) LastAccepted() (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last, d.accepted
}
