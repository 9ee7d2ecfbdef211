package testfixtures

import (
	"sync"
	"time"
)

// Clock is a manually advanced time source. Lobby leases and session
// timestamps read it through NowFunc.
type Clock struct {
	mu      sync.Mutex
	current time.Time
}

// NewClock returns a clock at start, or at ReferenceTime when start is zero.
func NewClock(start time.Time) *Clock {
	if start.IsZero() {
		start = ReferenceTime()
	}
	return &Clock{current: start}
}

// Now returns the current instant tracked by the clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// NowFunc exposes Now for dependency injection.
func (c *Clock) NowFunc() func() time.Time {
	if c == nil {
		return time.Now
	}
	return c.Now
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d and returns the new time.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
	return c.current
}

// Tick returns a function that advances the clock by step on every call, so
// consecutive writes receive strictly increasing timestamps.
func (c *Clock) Tick(step time.Duration) func() time.Time {
	return func() time.Time {
		return c.Advance(step)
	}
}
