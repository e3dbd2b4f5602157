// Package operation provides the work a driver performs each cycle.
package operation

import (
	"context"
	"time"
)

// Sleep is a synthetic operation with a fixed service time.
type Sleep struct {
	Duration time.Duration
}

// Name returns the operation name.
func (s *Sleep) Name() string {
	return "sleep"
}

// Do waits for Duration or until ctx is done.
func (s *Sleep) Do(ctx context.Context) error {
	if s.Duration <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.Duration)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
