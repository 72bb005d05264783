package renderer

import (
	"time"

	"github.com/loov/hrtime"
)

// FrameClock measures the time between frames with the high-resolution
// timer. Deltas are clamped to a maximum so that a long stall (a window
// drag, a minimized window, a debugger break) does not feed a huge step
// into the systems.
type FrameClock struct {
	max   time.Duration
	last  time.Duration
	now   func() time.Duration
	total time.Duration
	count uint64
}

func NewFrameClock(maxFrameTime time.Duration) *FrameClock {
	return newFrameClock(maxFrameTime, hrtime.Now)
}

func newFrameClock(maxFrameTime time.Duration, now func() time.Duration) *FrameClock {
	return &FrameClock{max: maxFrameTime, now: now, last: now()}
}

// Tick returns the clamped time since the previous Tick, in seconds.
func (c *FrameClock) Tick() float32 {
	now := c.now()
	dt := now - c.last
	c.last = now
	if c.max > 0 && dt > c.max {
		dt = c.max
	}
	c.total += dt
	c.count++
	return float32(dt.Seconds())
}

// Frames returns the number of ticks so far.
func (c *FrameClock) Frames() uint64 { return c.count }

// Average returns the mean clamped frame time.
func (c *FrameClock) Average() time.Duration {
	if c.count == 0 {
		return 0
	}
	return c.total / time.Duration(c.count)
}
