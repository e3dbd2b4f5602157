package timer

import (
	"context"
	"sync/atomic"
	"time"
)

// fakeClock advances only when slept on. Every sleep overshoots by a fixed
// amount, which makes calibration deterministic.
type fakeClock struct {
	wallBase   int64 // wall millis at true time zero
	nanoOffset int64 // monotonic reading at true time zero
	now        atomic.Int64
	overshoot  time.Duration
	lastSleep  atomic.Int64
	sleeps     atomic.Int64
}

func newFakeClock(wallBase int64, trueNanos int64) *fakeClock {
	c := &fakeClock{wallBase: wallBase}
	c.now.Store(trueNanos)
	return c
}

func (c *fakeClock) WallMillis() int64 {
	return c.wallBase + c.now.Load()/nanosPerMilli
}

func (c *fakeClock) Nanotime() int64 {
	return c.nanoOffset + c.now.Load()
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.lastSleep.Store(int64(d))
	c.sleeps.Add(1)
	c.now.Add(int64(d + c.overshoot))
	return nil
}

func (c *fakeClock) advance(d time.Duration) {
	c.now.Add(int64(d))
}

// tickingClock moves its wall clock forward on every read so no two wall
// reads ever agree.
type tickingClock struct {
	wall atomic.Int64
}

func (c *tickingClock) WallMillis() int64 {
	return c.wall.Add(1)
}

func (c *tickingClock) Nanotime() int64 {
	return c.wall.Load() * nanosPerMilli
}

func (c *tickingClock) Sleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}
