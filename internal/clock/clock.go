package clock

import (
	"sync"
	"time"
)

// Clock provides current time abstraction for deterministic tests.
// Params: none.
// Returns: current wall-clock time.
type Clock interface {
	Now() time.Time
}

// RealClock reads current UTC time from system clock.
// Params: none.
// Returns: current UTC timestamp.
type RealClock struct{}

// Now returns current UTC time.
// Params: none.
// Returns: current UTC timestamp.
func (RealClock) Now() time.Time {
	return time.Now().UTC()
}

// Manual is a settable clock for tests.
// Params: current instant guarded by mutex.
// Returns: deterministic time source.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual creates manual clock at given instant.
// Params: initial time.
// Returns: manual clock.
func NewManual(at time.Time) *Manual {
	return &Manual{now: at}
}

// Now returns the stored instant.
// Params: none.
// Returns: current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward.
// Params: duration to add.
// Returns: new current time.
func (m *Manual) Advance(delta time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(delta)
	return m.now
}
