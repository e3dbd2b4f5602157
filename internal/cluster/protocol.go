// Package cluster runs a load across remote worker processes.
//
// A coordinator probes each worker's wall clock, sends it the run together
// with the coordinator's epoch and the measured clock offset, and collects
// the per-worker statistics when the run is over. Workers align their own
// epoch timer to the coordinator's, so every worker schedules its cycles
// against the same instants.
package cluster

import (
	"github.com/wesleyorama2/cadence/internal/config"
	"github.com/wesleyorama2/cadence/internal/driver"
	"github.com/wesleyorama2/cadence/internal/metrics"
)

// Run states.
const (
	StateRunning = "running"
	StateDone    = "done"
	StateFailed  = "failed"
)

// ClockReply is the body of GET /clock.
type ClockReply struct {
	Worker     string `json:"worker"`
	WallMillis int64  `json:"wallMillis"`
}

// RunRequest is the body of POST /runs.
type RunRequest struct {
	RunID     string                 `json:"runId"`
	Driver    driver.Config          `json:"driver"`
	Operation config.OperationConfig `json:"operation"`

	// EpochMillis is the coordinator's epoch in coordinator wall time.
	EpochMillis int64 `json:"epochMillis"`

	// ClockOffsetMillis is coordinator wall time minus worker wall time.
	ClockOffsetMillis int64 `json:"clockOffsetMillis"`

	// StartRelNanos is the run start relative to the shared epoch.
	StartRelNanos int64 `json:"startRelNanos"`
}

// RunStatus is the body of GET /runs/{id}.
type RunStatus struct {
	RunID   string                `json:"runId"`
	State   string                `json:"state"`
	Summary *driver.WorkerSummary `json:"summary,omitempty"`
	Stats   *metrics.Exported     `json:"stats,omitempty"`
	Error   string                `json:"error,omitempty"`
}

// Finished reports whether the run has stopped.
func (s *RunStatus) Finished() bool {
	return s.State == StateDone || s.State == StateFailed
}
