// Package clock abstracts the time source so bus scheduling can be tested
// deterministically.
//
// The protocol leans on wall time in three places: descriptor freshness
// windows, message expiration and message ids. All three go through a
// Clock so tests drive them with a Manual clock instead of sleeping.
package clock

import (
	"sync"
	"time"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// System reads the wall clock.
type System struct{}

// Now returns time.Now.
func (System) Now() time.Time { return time.Now() }

// Manual is a hand-driven clock for tests. Safe for concurrent use.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual returns a Manual clock pinned to start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the pinned time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d and returns the new time.
func (m *Manual) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	return m.now
}

// Set pins the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// Stamper hands out message timestamps paired with a strictly increasing
// sequence number. Two sends inside the same nanosecond still get distinct
// ids because the sequence always moves.
type Stamper struct {
	mu    sync.Mutex
	clock Clock
	seq   uint64
}

// NewStamper returns a Stamper drawing time from c.
func NewStamper(c Clock) *Stamper {
	return &Stamper{clock: c}
}

// Next returns the current time and the next sequence number.
func (s *Stamper) Next() (time.Time, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.clock.Now(), s.seq
}
