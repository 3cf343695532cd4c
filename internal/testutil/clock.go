package testutil

import (
	"sync"

	"github.com/roach88/boardreplica/internal/block"
)

// ManualTime is a wall clock that only moves when a test moves it.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ManualTime struct {
	mu  sync.Mutex
	now int64
}

// NewManualTime creates a manual wall clock reading start milliseconds.
func NewManualTime(start int64) *ManualTime {
	return &ManualTime{now: start}
}

// Now returns the current reading in epoch milliseconds.
func (m *ManualTime) Now() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by ms milliseconds.
func (m *ManualTime) Advance(ms int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now += ms
}

// Set moves the clock to ms. Moving backwards is allowed; block.Clock still
// never reissues a version.
func (m *ManualTime) Set(ms int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = ms
}

// NewClock returns a version clock driven by a manual wall clock starting at
// start. Same scenario, same clock, same versions.
func NewClock(start int64) (*block.Clock, *ManualTime) {
	m := NewManualTime(start)
	return block.NewClockWith(m.Now), m
}
