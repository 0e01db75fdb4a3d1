package services

import (
	"sync"
	"time"
)

// Clock supplies order and message timestamps.
type Clock interface {
	Now() time.Time
}

// monotonicClock never returns the same instant twice, so orders created in
// the same nanosecond still sort deterministically.
type monotonicClock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func NewClock() Clock {
	return &monotonicClock{now: time.Now}
}

func (c *monotonicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now().UTC()
	if !t.After(c.last) {
		t = c.last.Add(time.Nanosecond)
	}
	c.last = t
	return t
}
