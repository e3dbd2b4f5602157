package metrics

import (
	"math"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const (
	// Histogram range: 1 microsecond to 1 hour, 3 significant figures.
	histogramMin     = 1
	histogramMax     = 3_600_000_000
	histogramSigFigs = 3
)

// Sample is the outcome of one paced cycle.
type Sample struct {
	// Response is how long the operation took.
	Response time.Duration

	// Delay is how far after its scheduled time the cycle started.
	// Negative when the wakeup came early.
	Delay time.Duration

	// OK reports whether the operation succeeded.
	OK bool

	// Late reports whether Delay exceeded the driver's late threshold.
	Late bool
}

// Stats accumulates the steady-state cycles of one agent, or the merged
// cycles of many.
//
// Percentiles come from HDR histograms; means and deviations come from
// float64 sums so that pairwise aggregation keeps their rounding error low.
// The delay histogram holds the distance from the deadline in either
// direction; early wakeups are counted separately and delaySum keeps the
// sign.
//
// Stats is not safe for concurrent use; each agent owns its own.
type Stats struct {
	response *hdrhistogram.Histogram
	delay    *hdrhistogram.Histogram

	successes int64
	failures  int64
	late      int64
	early     int64

	// Sums are in seconds.
	responseSum   float64
	responseSumSq float64
	delaySum      float64
	delayAbsSum   float64

	window time.Duration
}

// NewStats returns empty statistics.
func NewStats() *Stats {
	return &Stats{
		response: newHistogram(),
		delay:    newHistogram(),
	}
}

func newHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(histogramMin, histogramMax, histogramSigFigs)
}

// Record adds one cycle.
func (s *Stats) Record(sample Sample) {
	if sample.OK {
		s.successes++
		s.response.RecordValue(clampMicros(sample.Response))
		sec := sample.Response.Seconds()
		s.responseSum += sec
		s.responseSumSq += sec * sec
	} else {
		s.failures++
	}

	abs := sample.Delay
	if abs < 0 {
		abs = -abs
		s.early++
	}
	s.delay.RecordValue(clampMicros(abs))
	s.delaySum += sample.Delay.Seconds()
	s.delayAbsSum += abs.Seconds()

	if sample.Late {
		s.late++
	}
}

func clampMicros(d time.Duration) int64 {
	us := d.Microseconds()
	if us < histogramMin {
		return histogramMin
	}
	if us > histogramMax {
		return histogramMax
	}
	return us
}

// SetWindow sets the steady-state duration throughput is computed over.
func (s *Stats) SetWindow(d time.Duration) {
	s.window = d
}

// Add merges other into s. Agents measure the same window concurrently, so
// the merged window is the longer of the two rather than the sum.
func (s *Stats) Add(other *Stats) {
	s.response.Merge(other.response)
	s.delay.Merge(other.delay)

	s.successes += other.successes
	s.failures += other.failures
	s.late += other.late
	s.early += other.early

	s.responseSum += other.responseSum
	s.responseSumSq += other.responseSumSq
	s.delaySum += other.delaySum
	s.delayAbsSum += other.delayAbsSum

	if other.window > s.window {
		s.window = other.window
	}
}

// CopyFrom overwrites s with the contents of src.
func (s *Stats) CopyFrom(src *Stats) {
	s.Reset()
	s.Add(src)
}

// Clone returns an independent copy.
func (s *Stats) Clone() *Stats {
	c := NewStats()
	c.Add(s)
	return c
}

// Reset clears all recorded data.
func (s *Stats) Reset() {
	s.response.Reset()
	s.delay.Reset()
	s.successes = 0
	s.failures = 0
	s.late = 0
	s.early = 0
	s.responseSum = 0
	s.responseSumSq = 0
	s.delaySum = 0
	s.delayAbsSum = 0
	s.window = 0
}

// Operations returns the number of recorded cycles.
func (s *Stats) Operations() int64 {
	return s.successes + s.failures
}

// Summary is a read-only digest of Stats.
type Summary struct {
	Operations  int64         `json:"operations"`
	Successes   int64         `json:"successes"`
	Failures    int64         `json:"failures"`
	LateCycles  int64         `json:"lateCycles"`
	EarlyCycles int64         `json:"earlyCycles"`
	Window      time.Duration `json:"window"`
	Throughput  float64       `json:"throughput"`
	ErrorRate   float64       `json:"errorRate"`
	Response    LatencyStats  `json:"response"`

	// Delay is the distance of cycle starts from their deadlines,
	// early or late.
	Delay LatencyStats `json:"delay"`

	// DelayOffset is the signed mean of cycle start minus deadline.
	DelayOffset time.Duration `json:"delayOffset"`
}

// LatencyStats contains latency statistics.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}

// Summarize computes the digest.
func (s *Stats) Summarize() Summary {
	ops := s.Operations()
	sum := Summary{
		Operations:  ops,
		Successes:   s.successes,
		Failures:    s.failures,
		LateCycles:  s.late,
		EarlyCycles: s.early,
		Window:      s.window,
		Response:    histogramStats(s.response),
		Delay:       histogramStats(s.delay),
	}

	if s.window > 0 {
		sum.Throughput = float64(s.successes) / s.window.Seconds()
	}
	if ops > 0 {
		sum.ErrorRate = float64(s.failures) / float64(ops)
		sum.Delay.Mean = seconds(s.delayAbsSum / float64(ops))
		sum.DelayOffset = seconds(s.delaySum / float64(ops))
	}
	if s.successes > 0 {
		n := float64(s.successes)
		mean := s.responseSum / n
		sum.Response.Mean = seconds(mean)
		if variance := s.responseSumSq/n - mean*mean; variance > 0 {
			sum.Response.StdDev = seconds(math.Sqrt(variance))
		}
	}
	return sum
}

func histogramStats(h *hdrhistogram.Histogram) LatencyStats {
	if h.TotalCount() == 0 {
		return LatencyStats{}
	}
	return LatencyStats{
		Min:    time.Duration(h.Min()) * time.Microsecond,
		Max:    time.Duration(h.Max()) * time.Microsecond,
		Mean:   time.Duration(h.Mean() * float64(time.Microsecond)),
		StdDev: time.Duration(h.StdDev() * float64(time.Microsecond)),
		P50:    time.Duration(h.ValueAtQuantile(50)) * time.Microsecond,
		P90:    time.Duration(h.ValueAtQuantile(90)) * time.Microsecond,
		P95:    time.Duration(h.ValueAtQuantile(95)) * time.Microsecond,
		P99:    time.Duration(h.ValueAtQuantile(99)) * time.Microsecond,
		Count:  h.TotalCount(),
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
