package sim

import "sync/atomic"

// SeqSource hands out strictly increasing sequence numbers.
// Implemented by Clock and testutil.DeterministicClock.
type SeqSource interface {
	Next() int64
	Current() int64
}

// Clock is a monotonic logical clock for event ordering.
//
// All events are stamped with a strictly increasing seq from this clock,
// so replay produces identical order regardless of wall time.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock starting at a specific sequence number.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
