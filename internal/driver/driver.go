// Package driver runs paced request cycles on one worker.
//
// Each agent wakes on absolute deadlines derived from the shared epoch
// (start + stagger + k*cycle) instead of sleeping a fixed interval after
// the previous cycle, so a slow response never shifts later cycles and
// agents on different workers stay in phase.
package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/cadence/internal/aggregate"
	"github.com/wesleyorama2/cadence/internal/metrics"
	"github.com/wesleyorama2/cadence/internal/telemetry"
	"github.com/wesleyorama2/cadence/internal/timer"
)

// Operation is the work done once per cycle.
type Operation interface {
	Name() string
	Do(ctx context.Context) error
}

// Driver runs one configured load against one operation.
type Driver struct {
	config    Config
	op        Operation
	log       zerolog.Logger
	telemetry *telemetry.Metrics
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the driver logger.
func WithLogger(log zerolog.Logger) Option {
	return func(d *Driver) {
		d.log = log
	}
}

// WithTelemetry reports cycles and timer state to m.
func WithTelemetry(m *telemetry.Metrics) Option {
	return func(d *Driver) {
		d.telemetry = m
	}
}

// New validates config and returns a driver for op.
func New(config Config, op Operation, opts ...Option) (*Driver, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if op == nil {
		return nil, errors.New("driver: operation is required")
	}

	d := &Driver{config: config, op: op, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.With().Str("component", "driver").Str("run", config.Name).Logger()
	return d, nil
}

// Config returns the driver configuration.
func (d *Driver) Config() Config {
	return d.config
}

// RunNow starts the run StartDelay from now.
func (d *Driver) RunNow(ctx context.Context, t *timer.EpochTimer) (*Result, error) {
	return d.Run(ctx, t, t.RelNanos()+int64(d.config.StartDelay))
}

// Run drives every agent from startRel (nanoseconds relative to the epoch of
// t) until the end of ramp-down and returns the merged steady-state
// statistics.
//
// An interrupted wakeup aborts the agent that saw it; its cycles so far are
// kept and the error is returned joined with those of other agents.
func (d *Driver) Run(ctx context.Context, t *timer.EpochTimer, startRel int64) (*Result, error) {
	sched := d.config.Schedule(startRel)
	d.telemetry.ObserveTimer(t)

	d.log.Info().
		Str("worker", t.Worker()).
		Int("agents", d.config.Agents).
		Dur("cycle", d.config.CycleTime).
		Dur("rampUp", d.config.RampUp).
		Dur("steady", d.config.Steady).
		Dur("rampDown", d.config.RampDown).
		Msg("run scheduled")

	var cal *timer.Calibration
	if d.config.Calibrate {
		cal = t.Calibrate(ctx, t.Worker(), sched.SteadyStart/int64(time.Millisecond))
	}

	stats := make([]*metrics.Stats, d.config.Agents)
	errs := make([]error, d.config.Agents)

	var g errgroup.Group
	for id := 0; id < d.config.Agents; id++ {
		stats[id] = metrics.NewStats()
		stats[id].SetWindow(d.config.Steady)

		g.Go(func() error {
			errs[id] = d.agent(ctx, t, sched, id, stats[id])
			return errs[id]
		})
	}
	if err := g.Wait(); err != nil {
		d.log.Warn().Err(err).Msg("first agent abort")
	}

	res := &Result{Name: d.config.Name}
	summary := WorkerSummary{
		Worker: t.Worker(),
		Agents: d.config.Agents,
	}
	failures := nonNil(errs)
	for _, err := range failures {
		summary.Aborted++
		summary.Errors = append(summary.Errors, err.Error())
		d.telemetry.AgentAborted()
	}

	if cal != nil {
		// Calibration ends before steady state, so by now it has finished
		// or seen ctx cancelled.
		if err := cal.Wait(); err != nil {
			failures = append(failures, err)
			summary.Errors = append(summary.Errors, err.Error())
		}
		summary.CalibrationSkipped = cal.Skipped()
		summary.CalibrationSamples = cal.Samples()
	}
	summary.Compensation = t.Compensation()
	summary.Deviation = t.Deviation()
	res.Workers = []WorkerSummary{summary}

	merged, err := metrics.Aggregate(stats,
		aggregate.WithLogger(d.log),
		aggregate.WithObserver(d.telemetry.Aggregated),
	)
	if err != nil {
		return nil, fmt.Errorf("merging agent statistics: %w", err)
	}
	res.Stats = merged

	if len(failures) > 0 {
		d.log.Error().
			Int("aborted", summary.Aborted).
			Int("agents", summary.Agents).
			Msg("run finished with errors")
		return res, errors.Join(failures...)
	}

	d.log.Info().
		Int64("operations", merged.Operations()).
		Dur("compensation", summary.Compensation).
		Msg("run finished")
	return res, nil
}

func nonNil(errs []error) []error {
	var out []error
	for _, err := range errs {
		if err != nil {
			out = append(out, err)
		}
	}
	return out
}

// agent runs the paced loop of one agent.
func (d *Driver) agent(ctx context.Context, t *timer.EpochTimer, sched Schedule, id int, stats *metrics.Stats) error {
	cycle := int64(d.config.CycleTime)
	stagger := cycle * int64(id) / int64(d.config.Agents)
	late := d.config.lateThreshold()
	log := d.log.With().Int("agent", id).Logger()

	for k := int64(0); ; k++ {
		deadline := sched.Start + stagger + k*cycle
		if deadline >= sched.End {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("agent %d: %w: %w", id, timer.ErrInterrupted, err)
		}
		if err := t.WakeupAtRel(ctx, deadline); err != nil {
			log.Error().Err(err).Int64("cycle", k).Msg("wakeup interrupted, aborting agent")
			return fmt.Errorf("agent %d: %w", id, err)
		}

		begin := t.RelNanos()
		opErr := d.op.Do(ctx)
		elapsed := time.Duration(t.RelNanos() - begin)

		phase := sched.PhaseAt(deadline)
		d.telemetry.CycleCompleted(phase)
		if phase != metrics.PhaseSteady {
			continue
		}

		delay := time.Duration(begin - deadline)
		isLate := delay > late
		if isLate {
			d.telemetry.LateWakeup()
		}
		if opErr != nil {
			log.Debug().Err(opErr).Str("operation", d.op.Name()).Msg("operation failed")
		}
		stats.Record(metrics.Sample{
			Response: elapsed,
			Delay:    delay,
			OK:       opErr == nil,
			Late:     isLate,
		})
	}
}
