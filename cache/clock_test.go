package cache

import (
	"sync"
	"time"
)

// manualClock must be advanced by hand.
type manualClock struct {
	mutex sync.Mutex
	now   time.Time
}

var _ clock = (*manualClock)(nil)

func newManualClock() *manualClock {
	return &manualClock{
		now: time.Date(2021, 1, 9, 14, 3, 0, 0, time.UTC),
	}
}

func (c *manualClock) Now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.now = c.now.Add(d)
}
