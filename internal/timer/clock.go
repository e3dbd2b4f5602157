// Package timer keeps a run-wide epoch shared by a coordinator and its
// workers and provides a calibrated "sleep until" primitive on top of it.
//
// Two clocks are involved. The wall clock (milliseconds since the Unix
// epoch) is comparable across hosts once offsets are applied. The monotonic
// clock (nanoseconds from an arbitrary per-process origin) is precise but only
// meaningful inside one process. An EpochTimer correlates the two.
package timer

import (
	"context"
	"time"
)

// Clock is the pair of time sources an EpochTimer correlates, plus the raw
// sleep call whose overshoot calibration measures.
type Clock interface {
	// WallMillis returns wall-clock milliseconds since the Unix epoch.
	WallMillis() int64

	// Nanotime returns monotonic nanoseconds from an arbitrary origin.
	Nanotime() int64

	// Sleep blocks for at least d or until ctx is done, whichever is
	// first. It returns ctx.Err() when interrupted.
	Sleep(ctx context.Context, d time.Duration) error
}

// processOrigin anchors the monotonic reading of the system clock.
var processOrigin = time.Now()

type systemClock struct{}

// SystemClock returns the host clock.
func SystemClock() Clock {
	return systemClock{}
}

func (systemClock) WallMillis() int64 {
	return time.Now().UnixMilli()
}

func (systemClock) Nanotime() int64 {
	return int64(time.Since(processOrigin))
}

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
