package scene

import "sync/atomic"

// RevisionClock is a monotonic logical clock for item versioning.
//
// Every geometric change to an item stamps it with the next revision.
// Stale references are detected by comparing a remembered revision against
// the item's current one - no wall-clock time is involved, so comparisons
// are exact and replay-stable.
//
// Thread-safety: safe for concurrent use (atomic operations).
type RevisionClock struct {
	rev atomic.Int64
}

// NewRevisionClock creates a clock starting at 0.
func NewRevisionClock() *RevisionClock {
	return &RevisionClock{}
}

// NewRevisionClockAt creates a clock starting at a specific revision.
// Used when reloading a session from a persisted snapshot log.
func NewRevisionClockAt(start int64) *RevisionClock {
	c := &RevisionClock{}
	c.rev.Store(start)
	return c
}

// Next returns the next revision and increments the clock.
// Each call returns a unique, strictly increasing value.
func (c *RevisionClock) Next() int64 {
	return c.rev.Add(1)
}

// Current returns the current revision without incrementing.
func (c *RevisionClock) Current() int64 {
	return c.rev.Load()
}
