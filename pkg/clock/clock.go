package clock

import "time"

// Clock abstracts the current time so expiry windows and grace
// thresholds can be tested deterministically.
type Clock interface {
	Now() time.Time
}

type clock struct{}

// New returns a Clock backed by time.Now.
func New() Clock {
	return &clock{}
}

func (c *clock) Now() time.Time {
	return time.Now()
}

// ManagedClock is a hand-advanced clock for tests.
type ManagedClock struct {
	startTime time.Time
	offset    time.Duration
}

// NewManaged returns a ManagedClock frozen at startTime.
func NewManaged(startTime time.Time) *ManagedClock {
	return &ManagedClock{startTime: startTime}
}

func (c *ManagedClock) Now() time.Time {
	return c.startTime.Add(c.offset)
}

// WarpForward advances the clock by offset and returns the new time.
func (c *ManagedClock) WarpForward(offset time.Duration) time.Time {
	c.offset += offset
	return c.startTime.Add(c.offset)
}
