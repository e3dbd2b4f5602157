package timer

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	// epochAttempts bounds the busy-poll that pairs a wall and a monotonic
	// reading inside one millisecond.
	epochAttempts = 100

	nanosPerMilli = int64(time.Millisecond)

	// DefaultMaxCompensation is the largest calibrated compensation accepted
	// outside debug mode.
	DefaultMaxCompensation = 100 * time.Millisecond
)

// Options configures an EpochTimer.
type Options struct {
	// Clock supplies time readings (default: SystemClock()).
	Clock Clock

	// Worker names the owning worker in diagnostics.
	Worker string

	// Logger receives calibration and fatal diagnostics.
	Logger zerolog.Logger

	// Debug lifts the compensation limit.
	Debug bool

	// MaxCompensation overrides DefaultMaxCompensation when > 0.
	MaxCompensation time.Duration

	// Fatal is invoked with environment-fatal errors raised off the
	// caller's goroutine. The default logs the error and exits the process.
	Fatal func(error)
}

// EpochTimer relates the local monotonic clock to the run epoch.
//
// The epoch fields are written by New and AdjustBaseTime before the run
// starts and are read-only afterwards. Compensation and deviation are
// updated by calibration concurrently with readers, so they are single-word
// atomics.
type EpochTimer struct {
	clock           Clock
	worker          string
	log             zerolog.Logger
	debug           bool
	maxCompensation int64
	fatal           func(error)

	epochMillis        int64
	epochNanos         int64
	diffMillis         int64
	diffNanosRemainder int64

	compensation atomic.Int64
	deviation    atomic.Uint64

	adjusted   atomic.Bool
	calibrated atomic.Bool
}

// New establishes a local epoch at the current instant.
//
// It returns a *FatalError wrapping ErrEpochUnstable when the host is too
// busy to read both clocks within one millisecond.
func New(opts Options) (*EpochTimer, error) {
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.MaxCompensation <= 0 {
		opts.MaxCompensation = DefaultMaxCompensation
	}

	t := &EpochTimer{
		clock:           opts.Clock,
		worker:          opts.Worker,
		log:             opts.Logger.With().Str("component", "timer").Str("worker", opts.Worker).Logger(),
		debug:           opts.Debug,
		maxCompensation: int64(opts.MaxCompensation),
		fatal:           opts.Fatal,
	}
	if t.fatal == nil {
		t.fatal = func(err error) {
			t.log.Fatal().Err(err).Msg("timing environment unusable")
		}
	}

	millis, nanos, err := t.correlate()
	if err != nil {
		return nil, err
	}
	t.epochMillis = millis
	t.epochNanos = nanos

	return t, nil
}

// correlate captures a same-millisecond wall/monotonic pair and stores the
// offset between the two clocks.
func (t *EpochTimer) correlate() (millis, nanos int64, err error) {
	for i := 0; i < epochAttempts; i++ {
		before := t.clock.WallMillis()
		ns := t.clock.Nanotime()
		after := t.clock.WallMillis()
		if before == after {
			t.diffMillis = before - ns/nanosPerMilli
			t.diffNanosRemainder = ns % nanosPerMilli
			return before, ns, nil
		}
	}
	return 0, 0, &FatalError{
		Worker:      t.worker,
		Measurement: "epoch establishment",
		Err:         ErrEpochUnstable,
	}
}

// AdjustBaseTime shifts the epoch by offsetMillis after re-reading the
// wall/monotonic relationship, so this timer's epoch denotes the same
// instant as the coordinator's. It may be applied once.
func (t *EpochTimer) AdjustBaseTime(offsetMillis int64) error {
	if !t.adjusted.CompareAndSwap(false, true) {
		return ErrAlreadyAdjusted
	}
	if _, _, err := t.correlate(); err != nil {
		return err
	}

	t.epochMillis += offsetMillis
	t.epochNanos = t.WallToNanos(t.epochMillis)

	t.log.Debug().
		Int64("offsetMillis", offsetMillis).
		Int64("epochMillis", t.epochMillis).
		Msg("base time adjusted")
	return nil
}

// AlignTo moves this timer's epoch onto a coordinator's epoch.
//
// clockOffsetMillis is the coordinator's wall clock minus this host's wall
// clock, as measured over RPC. The coordinator epoch expressed on the local
// wall clock is coordinatorEpochMillis - clockOffsetMillis.
func (t *EpochTimer) AlignTo(coordinatorEpochMillis, clockOffsetMillis int64) error {
	return t.AdjustBaseTime(coordinatorEpochMillis - clockOffsetMillis - t.epochMillis)
}

// EpochMillis returns the epoch on the wall clock.
func (t *EpochTimer) EpochMillis() int64 {
	return t.epochMillis
}

// EpochNanos returns the epoch on the local monotonic clock.
func (t *EpochTimer) EpochNanos() int64 {
	return t.epochNanos
}

// ToAbsMillis converts milliseconds relative to the epoch to wall millis.
func (t *EpochTimer) ToAbsMillis(relMillis int64) int64 {
	return t.epochMillis + relMillis
}

// ToRelMillis converts wall millis to milliseconds relative to the epoch.
func (t *EpochTimer) ToRelMillis(absMillis int64) int64 {
	return absMillis - t.epochMillis
}

// ToAbsNanos converts nanoseconds relative to the epoch to a monotonic
// reading.
func (t *EpochTimer) ToAbsNanos(relNanos int64) int64 {
	return t.epochNanos + relNanos
}

// ToRelNanos converts a monotonic reading to nanoseconds relative to the
// epoch.
func (t *EpochTimer) ToRelNanos(absNanos int64) int64 {
	return absNanos - t.epochNanos
}

// WallToNanos converts a wall-clock millisecond to the monotonic reading
// taken at the start of that millisecond.
func (t *EpochTimer) WallToNanos(wallMillis int64) int64 {
	return (wallMillis-t.diffMillis)*nanosPerMilli + t.diffNanosRemainder
}

// NanosToWall converts a monotonic reading to the wall-clock millisecond
// containing it.
func (t *EpochTimer) NanosToWall(nanos int64) int64 {
	return floorDiv(nanos-t.diffNanosRemainder, nanosPerMilli) + t.diffMillis
}

// Now returns the current monotonic reading.
func (t *EpochTimer) Now() int64 {
	return t.clock.Nanotime()
}

// RelNanos returns nanoseconds elapsed since the epoch.
func (t *EpochTimer) RelNanos() int64 {
	return t.ToRelNanos(t.clock.Nanotime())
}

// RelMillis returns milliseconds elapsed since the epoch.
func (t *EpochTimer) RelMillis() int64 {
	return floorDiv(t.RelNanos(), nanosPerMilli)
}

// Compensation returns the margin subtracted from every sleep.
func (t *EpochTimer) Compensation() time.Duration {
	return time.Duration(t.compensation.Load())
}

// Deviation returns the raw mean sleep overshoot in nanoseconds.
func (t *EpochTimer) Deviation() float64 {
	return math.Float64frombits(t.deviation.Load())
}

// Worker returns the worker name the timer reports under.
func (t *EpochTimer) Worker() string {
	return t.worker
}

// floorDiv rounds toward negative infinity; the monotonic origin is
// arbitrary so readings before it are negative.
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
