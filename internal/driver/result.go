package driver

import (
	"time"

	"github.com/wesleyorama2/cadence/internal/metrics"
)

// WorkerSummary describes how one worker's run went.
type WorkerSummary struct {
	Worker             string        `json:"worker"`
	Agents             int           `json:"agents"`
	Aborted            int           `json:"aborted"`
	Compensation       time.Duration `json:"compensation"`
	Deviation          float64       `json:"deviation"`
	CalibrationSkipped bool          `json:"calibrationSkipped"`
	CalibrationSamples int           `json:"calibrationSamples"`
	Errors             []string      `json:"errors,omitempty"`
}

// Result is the outcome of a run on one or more workers.
type Result struct {
	Name    string          `json:"name"`
	Stats   *metrics.Stats  `json:"-"`
	Workers []WorkerSummary `json:"workers"`
}

// Agents returns the total number of agents across workers.
func (r *Result) Agents() int {
	n := 0
	for _, w := range r.Workers {
		n += w.Agents
	}
	return n
}

// Aborted returns the number of agents that stopped early.
func (r *Result) Aborted() int {
	n := 0
	for _, w := range r.Workers {
		n += w.Aborted
	}
	return n
}

// Summary digests the merged statistics.
func (r *Result) Summary() metrics.Summary {
	if r.Stats == nil {
		return metrics.Summary{}
	}
	return r.Stats.Summarize()
}
