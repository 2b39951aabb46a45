package testutil

import (
	"strconv"
	"sync"
	"time"
)

// StubClock is an fg.Clock that stands still unless advanced. With a step
// set, every reading moves it forward so consecutive timestamps differ.
type StubClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t}
}

// FixedClock is the 2024-01-15 10:30:00 UTC instant most tests start from.
func FixedClock() *StubClock {
	return NewStubClock(time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC))
}

// Ticking makes every Now call advance the clock by step afterwards.
func (c *StubClock) Ticking(step time.Duration) *StubClock {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.step = step
	return c
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// StubIDGenerator hands out target ids "id-1", "id-2", ...
type StubIDGenerator struct {
	mu     sync.Mutex
	issued int
}

func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{}
}

func (g *StubIDGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.issued++
	return "id-" + strconv.Itoa(g.issued)
}
