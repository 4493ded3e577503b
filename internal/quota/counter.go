// Package quota tracks the global product target for a crawl run.
package quota

import "sync"

// Snapshot is a read-only view of the counter.
type Snapshot struct {
	Total      int  `json:"total"`
	Target     int  `json:"target"`
	ShouldStop bool `json:"shouldStop"`
}

// Counter grants product budget against a fixed target. Reservations are
// atomic with respect to each other, so concurrent workers can never push the
// total past the target. ShouldStop latches once the target is reached and
// stays set until the next Reset.
type Counter struct {
	mu         sync.Mutex
	total      int
	target     int
	shouldStop bool
}

// NewCounter creates a Counter with the given target.
func NewCounter(target int) *Counter {
	return &Counter{target: target}
}

// TryReserve grants min(requested, target-total) and adds it to the total.
// A zero grant means the quota is exhausted; callers report stop to workers.
func (c *Counter) TryReserve(requested int) int {
	if requested < 0 {
		requested = 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	remaining := c.target - c.total
	if remaining < 0 {
		remaining = 0
	}
	granted := requested
	if granted > remaining {
		granted = remaining
	}
	c.total += granted
	if c.total >= c.target {
		c.shouldStop = true
	}
	return granted
}

// Status returns a snapshot of the counter.
func (c *Counter) Status() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{Total: c.total, Target: c.target, ShouldStop: c.shouldStop}
}

// Reset zeroes the total and clears the stop flag. Called when a new store
// batch is selected.
func (c *Counter) Reset(newTarget int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total = 0
	c.target = newTarget
	c.shouldStop = newTarget <= 0
}
