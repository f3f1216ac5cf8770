package testutil

import (
	"sync"
	"time"
)

// Epoch is the default start time of a Clock: 2024-01-02 03:04:05 UTC.
var Epoch = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

// Clock is a controllable wall clock for tests.
//
// Unlike time.Now, Clock only moves when told to, so expiry, timestamps
// and change watermarks are reproducible.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Clock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewClock creates a clock frozen at start. A zero start uses Epoch.
func NewClock(start time.Time) *Clock {
	if start.IsZero() {
		start = Epoch
	}
	return &Clock{now: start}
}

// NewTickingClock creates a clock that advances by step after every Now
// call, so consecutive reads are strictly increasing.
func NewTickingClock(start time.Time, step time.Duration) *Clock {
	c := NewClock(start)
	c.step = step
	return c
}

// Now returns the current time. Suitable as a func() time.Time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
