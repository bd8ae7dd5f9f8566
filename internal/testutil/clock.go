package testutil

import (
	"sync"
	"time"
)

// DefaultEpoch is the starting instant of a DeterministicClock.
var DefaultEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// DeterministicClock is a thread-safe fake wall clock for tests.
//
// Every call to Now advances the clock by a fixed step, so identifiers and
// timestamps derived from it are reproducible across runs.
type DeterministicClock struct {
	mu    sync.Mutex
	start time.Time
	step  time.Duration
	calls int64
}

// NewDeterministicClock creates a clock starting at DefaultEpoch that advances
// by step on each Now call. A zero step freezes the clock.
func NewDeterministicClock(step time.Duration) *DeterministicClock {
	return &DeterministicClock{start: DefaultEpoch, step: step}
}

// Now returns the current instant and advances the clock.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.start.Add(time.Duration(c.calls) * c.step)
	c.calls++
	return t
}

// Calls returns how many times Now has been called.
func (c *DeterministicClock) Calls() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Reset rewinds the clock to its starting instant.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = 0
}
