package engine

import "sync/atomic"

// Clock is a monotonic logical clock for trace ordering.
//
// Every commit and delivery row is stamped with a strictly increasing seq
// from this clock, so the trace orders the same way on every replay without
// consulting wall time.
//
// Clock is safe for concurrent use. It satisfies store.Sequencer.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a new clock starting at a specific sequence number.
// Used to resume tracing into a store that already holds rows.
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
