package timer

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

const (
	// MinCalibrationWindow is the shortest ramp-up worth calibrating on.
	MinCalibrationWindow = 5 * time.Second

	minCalibrationSleep = int64(10 * time.Millisecond)
	maxCalibrationSleep = int64(30 * time.Millisecond)

	// publishEvery is how many samples pass between interim publications
	// of deviation and compensation.
	publishEvery = 50
)

// Calibration tracks one background calibration pass.
type Calibration struct {
	done      chan struct{}
	skipped   bool
	cancelled bool
	samples   int
	err       error
}

// Done is closed when calibration has finished or was skipped.
func (c *Calibration) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until calibration finishes and returns its error.
func (c *Calibration) Wait() error {
	<-c.done
	return c.err
}

// Skipped reports whether calibration never ran.
func (c *Calibration) Skipped() bool {
	<-c.done
	return c.skipped
}

// Cancelled reports whether calibration stopped early on ctx.
func (c *Calibration) Cancelled() bool {
	<-c.done
	return c.cancelled
}

// Samples returns the number of sleeps measured.
func (c *Calibration) Samples() int {
	<-c.done
	return c.samples
}

// Err returns the fatal error raised by calibration, if any.
func (c *Calibration) Err() error {
	<-c.done
	return c.err
}

func skippedCalibration() *Calibration {
	c := &Calibration{done: make(chan struct{}), skipped: true}
	close(c.done)
	return c
}

// Calibrate measures sleep overshoot in the background until endRelMillis
// (relative to the epoch) and publishes the resulting compensation.
//
// It runs at most once per timer. When less than MinCalibrationWindow
// remains it is skipped without error. If the final compensation exceeds the
// configured maximum outside debug mode, the fatal handler is invoked with a
// *FatalError naming workerID.
func (t *EpochTimer) Calibrate(ctx context.Context, workerID string, endRelMillis int64) *Calibration {
	log := t.log.With().Str("calibrator", workerID).Logger()

	if !t.calibrated.CompareAndSwap(false, true) {
		log.Warn().Msg("calibration already ran, ignoring request")
		return skippedCalibration()
	}

	end := t.ToAbsNanos(endRelMillis * nanosPerMilli)
	remaining := time.Duration(end - t.clock.Nanotime())
	if remaining < MinCalibrationWindow {
		log.Info().
			Dur("remaining", remaining).
			Dur("minimum", MinCalibrationWindow).
			Msg("ramp-up too short, skipping calibration")
		return skippedCalibration()
	}

	c := &Calibration{done: make(chan struct{})}
	go t.calibrate(ctx, workerID, end, c)
	return c
}

func (t *EpochTimer) calibrate(ctx context.Context, workerID string, end int64, c *Calibration) {
	defer close(c.done)

	log := t.log.With().Str("calibrator", workerID).Logger()
	seed := uint64(t.clock.Nanotime())
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	var sum, count, maxOvershoot int64
	for ctx.Err() == nil {
		intended := minCalibrationSleep + rng.Int64N(maxCalibrationSleep-minCalibrationSleep+1)
		start := t.clock.Nanotime()
		if end-start < intended+maxOvershoot {
			break
		}

		if err := t.clock.Sleep(ctx, time.Duration(intended)); err != nil {
			break
		}

		overshoot := t.clock.Nanotime() - start - intended
		sum += overshoot
		count++
		if overshoot > maxOvershoot {
			maxOvershoot = overshoot
		}
		if count%publishEvery == 0 {
			t.publish(sum, count)
		}
	}

	c.cancelled = ctx.Err() != nil
	c.samples = int(count)
	if count > 0 {
		t.publish(sum, count)
	}

	comp := t.compensation.Load()
	log.Info().
		Int64("samples", count).
		Float64("deviationNanos", t.Deviation()).
		Dur("compensation", time.Duration(comp)).
		Dur("maxOvershoot", time.Duration(maxOvershoot)).
		Bool("cancelled", c.cancelled).
		Msg("calibration finished")

	if comp > t.maxCompensation {
		if t.debug {
			log.Warn().
				Dur("compensation", time.Duration(comp)).
				Msg("compensation over limit accepted in debug mode")
			return
		}
		c.err = &FatalError{
			Worker:      workerID,
			Measurement: "sleep compensation",
			Err: fmt.Errorf("%w: %v > %v", ErrCompensationTooLarge,
				time.Duration(comp), time.Duration(t.maxCompensation)),
		}
		t.fatal(c.err)
	}
}

// publish stores the running mean overshoot and its ceiling.
func (t *EpochTimer) publish(sum, count int64) {
	dev := float64(sum) / float64(count)
	comp := int64(math.Ceil(dev))
	if comp < 0 {
		comp = 0
	}
	t.deviation.Store(math.Float64bits(dev))
	t.compensation.Store(comp)
}
