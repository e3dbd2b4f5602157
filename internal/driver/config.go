package driver

import (
	"fmt"
	"time"

	"github.com/wesleyorama2/cadence/internal/metrics"
)

// DefaultLateThreshold is how far past its deadline a cycle may start
// before it counts as late.
const DefaultLateThreshold = 10 * time.Millisecond

// Config describes one paced run.
type Config struct {
	// Name labels the run in reports.
	Name string `json:"name" yaml:"name"`

	// Agents is the number of concurrent paced loops on this worker.
	Agents int `json:"agents" yaml:"agents"`

	// CycleTime is the interval between cycle starts of one agent.
	CycleTime time.Duration `json:"cycleTime" yaml:"cycleTime"`

	// Phase lengths
	RampUp   time.Duration `json:"rampUp" yaml:"rampUp"`
	Steady   time.Duration `json:"steady" yaml:"steady"`
	RampDown time.Duration `json:"rampDown" yaml:"rampDown"`

	// StartDelay is added to the current time for locally started runs.
	// Distributed runs get an explicit start from the coordinator.
	StartDelay time.Duration `json:"startDelay,omitempty" yaml:"startDelay,omitempty"`

	// LateThreshold defaults to DefaultLateThreshold.
	LateThreshold time.Duration `json:"lateThreshold,omitempty" yaml:"lateThreshold,omitempty"`

	// Calibrate measures sleep overshoot during ramp-up.
	Calibrate bool `json:"calibrate" yaml:"calibrate"`
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate validates the driver configuration.
func (c *Config) Validate() error {
	if c.Agents <= 0 {
		return &ValidationError{Field: "agents", Message: "agents must be > 0"}
	}
	if c.CycleTime <= 0 {
		return &ValidationError{Field: "cycleTime", Message: "cycleTime must be > 0"}
	}
	if c.Steady <= 0 {
		return &ValidationError{Field: "steady", Message: "steady must be > 0"}
	}
	if c.RampUp < 0 {
		return &ValidationError{Field: "rampUp", Message: "rampUp must be >= 0"}
	}
	if c.RampDown < 0 {
		return &ValidationError{Field: "rampDown", Message: "rampDown must be >= 0"}
	}
	if c.StartDelay < 0 {
		return &ValidationError{Field: "startDelay", Message: "startDelay must be >= 0"}
	}
	if c.LateThreshold < 0 {
		return &ValidationError{Field: "lateThreshold", Message: "lateThreshold must be >= 0"}
	}
	return nil
}

func (c *Config) lateThreshold() time.Duration {
	if c.LateThreshold == 0 {
		return DefaultLateThreshold
	}
	return c.LateThreshold
}

// Duration returns the length of all three phases.
func (c *Config) Duration() time.Duration {
	return c.RampUp + c.Steady + c.RampDown
}

// Schedule holds phase boundaries in nanoseconds relative to the epoch.
type Schedule struct {
	Start       int64
	SteadyStart int64
	SteadyEnd   int64
	End         int64
}

// Schedule places the phases of c starting at startRel.
func (c *Config) Schedule(startRel int64) Schedule {
	s := Schedule{Start: startRel}
	s.SteadyStart = s.Start + int64(c.RampUp)
	s.SteadyEnd = s.SteadyStart + int64(c.Steady)
	s.End = s.SteadyEnd + int64(c.RampDown)
	return s
}

// PhaseAt returns the phase a cycle scheduled at rel belongs to.
func (s Schedule) PhaseAt(rel int64) metrics.Phase {
	switch {
	case rel < s.Start:
		return metrics.PhaseInit
	case rel < s.SteadyStart:
		return metrics.PhaseRampUp
	case rel < s.SteadyEnd:
		return metrics.PhaseSteady
	case rel < s.End:
		return metrics.PhaseRampDown
	default:
		return metrics.PhaseDone
	}
}
