// Package testutil provides deterministic substitutes for the
// nondeterministic inputs of the services: wall-clock time and
// generated identifiers.
package testutil

import (
	"fmt"
	"sync"
	"time"
)

// Clock is a thread-safe deterministic time source. Each call to Now
// returns the next instant, advancing by a fixed step, so tests get
// distinct but reproducible timestamps.
type Clock struct {
	mu   sync.Mutex
	next time.Time
	step time.Duration
}

// NewClock creates a clock starting at the given instant, advancing by
// step on every Now call.
func NewClock(start time.Time, step time.Duration) *Clock {
	return &Clock{next: start, step: step}
}

// Now returns the current instant and advances the clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.next
	c.next = c.next.Add(c.step)
	return t
}

// Peek returns the instant the next Now call will produce.
func (c *Clock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}

// Reset rewinds the clock to a new start instant.
func (c *Clock) Reset(start time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next = start
}

// IDGenerator hands out sequential identifiers with a fixed prefix
// ("c-1", "c-2", ...), replacing UUID generation where tests need
// stable IDs.
type IDGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewIDGenerator creates a generator with the given prefix.
func NewIDGenerator(prefix string) *IDGenerator {
	return &IDGenerator{prefix: prefix}
}

// Next returns the next identifier.
func (g *IDGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
