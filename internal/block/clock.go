package block

import (
	"sync"
	"time"
)

// Clock stamps local writes with versions in epoch milliseconds.
//
// Next never returns a value lower than or equal to a value it has already
// returned or observed. Observing every remote version keeps local edits
// ahead of whatever they were derived from, even when the local wall clock
// lags the server's.
//
// Thread-safety: Clock is safe for concurrent use.
type Clock struct {
	mu   sync.Mutex
	last int64
	now  func() int64
}

// NewClock returns a clock backed by wall time.
func NewClock() *Clock {
	return &Clock{now: func() int64 { return time.Now().UnixMilli() }}
}

// NewClockWith returns a clock backed by now. Used for deterministic tests.
func NewClockWith(now func() int64) *Clock {
	return &Clock{now: now}
}

// Next returns a fresh version, strictly greater than every version seen.
func (c *Clock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.now()
	if n <= c.last {
		n = c.last + 1
	}
	c.last = n
	return n
}

// Observe records a version produced elsewhere.
func (c *Clock) Observe(v int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v > c.last {
		c.last = v
	}
}

// Current returns the highest version handed out or observed.
func (c *Clock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
