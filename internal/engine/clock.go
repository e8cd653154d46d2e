package engine

import (
	"sync"
	"time"
)

// Clock stamps transfer records.
type Clock interface {
	Now() time.Time
}

// MonotonicClock reads wall time at second resolution in UTC and never
// returns a value earlier than one it already returned or observed.
//
// Thread-safety: MonotonicClock is safe for concurrent use.
type MonotonicClock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

// NewMonotonicClock returns a clock backed by time.Now.
func NewMonotonicClock() *MonotonicClock {
	return newMonotonicClock(time.Now)
}

func newMonotonicClock(now func() time.Time) *MonotonicClock {
	return &MonotonicClock{now: now}
}

// Now returns the current time truncated to the second, clamped so it is not
// before the previous result.
func (c *MonotonicClock) Now() time.Time {
	t := c.now().UTC().Truncate(time.Second)

	c.mu.Lock()
	defer c.mu.Unlock()

	if t.Before(c.last) {
		t = c.last
	}
	c.last = t
	return t
}

// Observe raises the floor to t. Used to resume after the last stored record.
func (c *MonotonicClock) Observe(t time.Time) {
	t = t.UTC().Truncate(time.Second)

	c.mu.Lock()
	defer c.mu.Unlock()

	if t.After(c.last) {
		c.last = t
	}
}
