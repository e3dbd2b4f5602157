package timer

import (
	"errors"
	"fmt"
)

var (
	// ErrEpochUnstable means the wall clock ticked between every pair of
	// reads around a monotonic sample, so no same-millisecond pair exists.
	ErrEpochUnstable = errors.New("could not read wall and monotonic clocks within one millisecond")

	// ErrInterrupted is returned by WakeupAt when the wait is cancelled.
	// The caller must abandon the run; a missed wakeup is never retried.
	ErrInterrupted = errors.New("compensated sleep interrupted")

	// ErrCompensationTooLarge means calibrated sleep overshoot is beyond
	// what paced request issuance can tolerate.
	ErrCompensationTooLarge = errors.New("sleep compensation exceeds limit")

	// ErrAlreadyAdjusted is returned by a second AdjustBaseTime call.
	ErrAlreadyAdjusted = errors.New("base time already adjusted")
)

// FatalError reports an environment failure that makes precise timing
// impossible on this host. It names the worker and the failed measurement.
type FatalError struct {
	Worker      string
	Measurement string
	Err         error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("timer: worker %s: %s: %v", e.Worker, e.Measurement, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}
