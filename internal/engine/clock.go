package engine

import "sync/atomic"

// Clock is a monotonic logical clock. The engine stamps every refresh
// request and every optimistic mutation with a value from it; a response
// carrying a stamp older than the one currently recorded for its view or
// field group is superseded.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Uint64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next stamp. Each call returns a unique, increasing value.
func (c *Clock) Next() uint64 {
	return c.seq.Add(1)
}

// Current returns the last stamp handed out.
func (c *Clock) Current() uint64 {
	return c.seq.Load()
}
