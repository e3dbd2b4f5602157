// Package metrics holds the per-worker statistics a driver accumulates and
// the provider that feeds them to the pairwise aggregator.
package metrics

// Phase is a stage of a benchmark run.
type Phase string

const (
	// PhaseInit is before the first cycle is scheduled.
	PhaseInit Phase = "init"

	// PhaseRampUp warms the system under test; cycles are not measured.
	PhaseRampUp Phase = "ramp-up"

	// PhaseSteady is the measurement window.
	PhaseSteady Phase = "steady"

	// PhaseRampDown keeps load on while other agents finish steady state.
	PhaseRampDown Phase = "ramp-down"

	// PhaseDone indicates the run has completed.
	PhaseDone Phase = "done"
)

// Phases lists the phases in run order.
var Phases = []Phase{PhaseInit, PhaseRampUp, PhaseSteady, PhaseRampDown, PhaseDone}

func (p Phase) String() string {
	return string(p)
}
