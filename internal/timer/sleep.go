package timer

import (
	"context"
	"fmt"
	"time"
)

// WakeupAt blocks until the monotonic reading deadline, less the calibrated
// compensation.
//
// When the current time is already at or past deadline-compensation it
// returns immediately. Otherwise it sleeps for deadline-now-compensation.
// Sleep calls overshoot what they are asked for, so subtracting the mean
// overshoot centres the actual wakeup on the deadline.
//
// A cancelled ctx during the sleep yields an error wrapping ErrInterrupted;
// the caller must abort its run rather than retry.
func (t *EpochTimer) WakeupAt(ctx context.Context, deadline int64) error {
	comp := t.compensation.Load()
	now := t.clock.Nanotime()
	if now >= deadline-comp {
		return nil
	}

	if err := t.clock.Sleep(ctx, time.Duration(deadline-now-comp)); err != nil {
		return fmt.Errorf("%w: %w", ErrInterrupted, err)
	}
	return nil
}

// WakeupAtRel is WakeupAt with the deadline given relative to the epoch.
func (t *EpochTimer) WakeupAtRel(ctx context.Context, relNanos int64) error {
	return t.WakeupAt(ctx, t.ToAbsNanos(relNanos))
}
