package clock

import (
	"sync"
	"time"
)

// Clock abstracts time.Now so time-dependent code can be tested deterministically
type Clock interface {
	Now() time.Time
}

type realClock struct{}

// New returns a Clock backed by the system time
func New() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

// FakeClock is a manually advanced Clock, safe for concurrent use
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{now: t.UTC()}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
