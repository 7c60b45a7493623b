// Package domaintest provides test doubles for the domain package.
package domaintest

import (
	"sync"
	"time"

	"github.com/aelexs/connection-gateway/internal/domain"
)

// FakeClock is a deterministic, advanceable clock for tests.
// Use Advance/Set to move time instead of creating new clocks, so every
// component holding the clock observes the same instant.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
}

// NewFakeClock creates a FakeClock set to the given time.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{current: t}
}

// Now returns the fake clock's current time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the fake clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// Set changes the fake clock to a specific time.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
}

var _ domain.Clock = (*FakeClock)(nil)
