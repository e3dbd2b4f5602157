package metrics

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Exported is the wire form of Stats, sent from agents to the coordinator.
type Exported struct {
	Response      *hdrhistogram.Snapshot `json:"response"`
	Delay         *hdrhistogram.Snapshot `json:"delay"`
	Successes     int64                  `json:"successes"`
	Failures      int64                  `json:"failures"`
	Late          int64                  `json:"late"`
	Early         int64                  `json:"early"`
	ResponseSum   float64                `json:"responseSum"`
	ResponseSumSq float64                `json:"responseSumSq"`
	DelaySum      float64                `json:"delaySum"`
	DelayAbsSum   float64                `json:"delayAbsSum"`
	Window        time.Duration          `json:"window"`
}

// Export returns a serialisable copy of s.
func (s *Stats) Export() *Exported {
	return &Exported{
		Response:      s.response.Export(),
		Delay:         s.delay.Export(),
		Successes:     s.successes,
		Failures:      s.failures,
		Late:          s.late,
		Early:         s.early,
		ResponseSum:   s.responseSum,
		ResponseSumSq: s.responseSumSq,
		DelaySum:      s.delaySum,
		DelayAbsSum:   s.delayAbsSum,
		Window:        s.window,
	}
}

// snapshotCounts is the counts length of a histogram with our layout.
var snapshotCounts = sync.OnceValue(func() int {
	return len(newHistogram().Export().Counts)
})

// checkSnapshot rejects snapshots that hdrhistogram.Import cannot rebuild
// into our layout. Import panics on short counts or bad precision, and the
// snapshots come from remote agents.
func checkSnapshot(name string, snap *hdrhistogram.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("metrics: exported stats missing %s histogram", name)
	}
	if snap.LowestTrackableValue != histogramMin ||
		snap.HighestTrackableValue != histogramMax ||
		snap.SignificantFigures != histogramSigFigs {
		return fmt.Errorf("metrics: %s histogram range [%d, %d] with %d significant figures, want [%d, %d] with %d",
			name, snap.LowestTrackableValue, snap.HighestTrackableValue, snap.SignificantFigures,
			histogramMin, histogramMax, histogramSigFigs)
	}
	if len(snap.Counts) != snapshotCounts() {
		return fmt.Errorf("metrics: %s histogram has %d counts, want %d", name, len(snap.Counts), snapshotCounts())
	}
	for _, c := range snap.Counts {
		if c < 0 {
			return fmt.Errorf("metrics: %s histogram has a negative count", name)
		}
	}
	return nil
}

// Import rebuilds Stats from its wire form.
func Import(e *Exported) (*Stats, error) {
	if e == nil {
		return nil, errors.New("metrics: exported stats missing")
	}
	if err := checkSnapshot("response", e.Response); err != nil {
		return nil, err
	}
	if err := checkSnapshot("delay", e.Delay); err != nil {
		return nil, err
	}
	return &Stats{
		response:      hdrhistogram.Import(e.Response),
		delay:         hdrhistogram.Import(e.Delay),
		successes:     e.Successes,
		failures:      e.Failures,
		late:          e.Late,
		early:         e.Early,
		responseSum:   e.ResponseSum,
		responseSumSq: e.ResponseSumSq,
		delaySum:      e.DelaySum,
		delayAbsSum:   e.DelayAbsSum,
		window:        e.Window,
	}, nil
}
