// Package clock provides time sources for storages and tests.
package clock

import (
	"sync"
	"time"
)

// Millis wraps nowFunc so that every reading is truncated to whole
// milliseconds. Storages that persist times as epoch milliseconds use it, so a
// value read back equals the value written.
func Millis(nowFunc func() time.Time) func() time.Time {
	return func() time.Time {
		return time.UnixMilli(nowFunc().UnixMilli())
	}
}

// Manual is a clock that only moves when told to.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual returns a Manual clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the current time of the clock.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// Set moves the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}
