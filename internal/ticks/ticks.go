// Package ticks implements a free-running 32-bit millisecond counter, the timebase of the
// run loop. The counter wraps after about 49.7 days; all interval arithmetic goes through
// Elapsed so that a wrap between two readings is harmless.
package ticks

import (
	"sync"
	"time"
)

// Ticks is a millisecond reading of a wrapping counter.
type Ticks uint32

// Elapsed returns the time from since to now. Unsigned subtraction yields the right
// non-negative result across one counter wrap.
func Elapsed(now, since Ticks) time.Duration {
	return time.Duration(uint32(now-since)) * time.Millisecond
}

// Due reports whether at least interval has passed since last.
func Due(now, last Ticks, interval time.Duration) bool {
	return Elapsed(now, last) >= interval
}

// Clock is the loop's source of time and its only way to pause.
type Clock interface {
	Now() Ticks
	Sleep(d time.Duration)
}

// SystemClock counts milliseconds since it was created.
type SystemClock struct {
	start time.Time
}

func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

func (c *SystemClock) Now() Ticks {
	return Ticks(uint32(time.Since(c.start).Milliseconds()))
}

func (c *SystemClock) Sleep(d time.Duration) {
	time.Sleep(d)
}

// ManualClock is a Clock driven by hand. Sleep advances it instead of blocking.
type ManualClock struct {
	mu     sync.Mutex
	now    Ticks
	slept  []time.Duration
	onTick func(Ticks)
}

func NewManualClock(start Ticks) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() Ticks {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.slept = append(c.slept, d)
	c.mu.Unlock()
	c.Advance(d)
}

// Advance moves the counter forward, wrapping like the hardware counter would.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += Ticks(uint32(d / time.Millisecond))
	now, hook := c.now, c.onTick
	c.mu.Unlock()
	if hook != nil {
		hook(now)
	}
}

// OnAdvance registers a hook called after every Advance.
func (c *ManualClock) OnAdvance(fn func(Ticks)) {
	c.mu.Lock()
	c.onTick = fn
	c.mu.Unlock()
}

// Slept returns every duration passed to Sleep so far.
func (c *ManualClock) Slept() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.slept))
	copy(out, c.slept)
	return out
}
