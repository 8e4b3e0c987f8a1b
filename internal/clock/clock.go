// Package clock provides the time source used for heartbeats and log stamps.
package clock

import (
	"sync"
	"time"
)

// StampLayout is the wall-clock format used in agent log entries.
const StampLayout = "15:04:05"

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// System is the real wall clock.
type System struct{}

// Now implements Clock.
func (System) Now() time.Time { return time.Now() }

// Manual is a Clock that only moves when told to.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual creates a manual clock set to start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now implements Clock.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set moves the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// Stamp formats t for a log line.
func Stamp(t time.Time) string {
	return t.Format(StampLayout)
}

// Age returns how long ago last happened relative to now. A timestamp in the
// future has age zero.
func Age(last, now time.Time) time.Duration {
	if d := now.Sub(last); d > 0 {
		return d
	}
	return 0
}

// Later returns the later of a and b.
func Later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
