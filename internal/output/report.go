// Package output renders run results for people and for machines.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/cadence/internal/driver"
	"github.com/wesleyorama2/cadence/internal/metrics"
)

// Format is a report format.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatHTML Format = "html"
)

// ParseFormat converts a flag value to a Format.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON, FormatYAML, FormatHTML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, json, yaml or html)", s)
	}
}

// Latency holds a latency distribution in milliseconds.
type Latency struct {
	Min    float64 `json:"min" yaml:"min"`
	Mean   float64 `json:"mean" yaml:"mean"`
	StdDev float64 `json:"stdDev" yaml:"stdDev"`
	P50    float64 `json:"p50" yaml:"p50"`
	P90    float64 `json:"p90" yaml:"p90"`
	P95    float64 `json:"p95" yaml:"p95"`
	P99    float64 `json:"p99" yaml:"p99"`
	Max    float64 `json:"max" yaml:"max"`
}

// WorkerReport is one worker's row in a Report.
type WorkerReport struct {
	Worker             string   `json:"worker" yaml:"worker"`
	Agents             int      `json:"agents" yaml:"agents"`
	Aborted            int      `json:"aborted" yaml:"aborted"`
	CompensationMs     float64  `json:"compensationMs" yaml:"compensationMs"`
	DeviationMs        float64  `json:"deviationMs" yaml:"deviationMs"`
	CalibrationSkipped bool     `json:"calibrationSkipped" yaml:"calibrationSkipped"`
	CalibrationSamples int      `json:"calibrationSamples" yaml:"calibrationSamples"`
	Errors             []string `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// Report is the serializable form of a run result.
type Report struct {
	Name          string         `json:"name" yaml:"name"`
	Agents        int            `json:"agents" yaml:"agents"`
	Aborted       int            `json:"aborted" yaml:"aborted"`
	Operations    int64          `json:"operations" yaml:"operations"`
	Successes     int64          `json:"successes" yaml:"successes"`
	Failures      int64          `json:"failures" yaml:"failures"`
	LateCycles    int64          `json:"lateCycles" yaml:"lateCycles"`
	EarlyCycles   int64          `json:"earlyCycles" yaml:"earlyCycles"`
	WindowSeconds float64        `json:"windowSeconds" yaml:"windowSeconds"`
	Throughput    float64        `json:"throughput" yaml:"throughput"`
	ErrorRate     float64        `json:"errorRate" yaml:"errorRate"`
	ResponseMs    Latency        `json:"responseMs" yaml:"responseMs"`
	DelayMs       Latency        `json:"delayMs" yaml:"delayMs"`
	DelayOffsetMs float64        `json:"delayOffsetMs" yaml:"delayOffsetMs"`
	Workers       []WorkerReport `json:"workers" yaml:"workers"`
}

// NewReport digests res.
func NewReport(res *driver.Result) Report {
	sum := res.Summary()
	r := Report{
		Name:          res.Name,
		Agents:        res.Agents(),
		Aborted:       res.Aborted(),
		Operations:    sum.Operations,
		Successes:     sum.Successes,
		Failures:      sum.Failures,
		LateCycles:    sum.LateCycles,
		EarlyCycles:   sum.EarlyCycles,
		WindowSeconds: sum.Window.Seconds(),
		Throughput:    sum.Throughput,
		ErrorRate:     sum.ErrorRate,
		ResponseMs:    latencyMillis(sum.Response),
		DelayMs:       latencyMillis(sum.Delay),
		DelayOffsetMs: millis(sum.DelayOffset),
	}
	for _, w := range res.Workers {
		r.Workers = append(r.Workers, WorkerReport{
			Worker:             w.Worker,
			Agents:             w.Agents,
			Aborted:            w.Aborted,
			CompensationMs:     millis(w.Compensation),
			DeviationMs:        w.Deviation / float64(time.Millisecond),
			CalibrationSkipped: w.CalibrationSkipped,
			CalibrationSamples: w.CalibrationSamples,
			Errors:             w.Errors,
		})
	}
	return r
}

func latencyMillis(l metrics.LatencyStats) Latency {
	return Latency{
		Min:    millis(l.Min),
		Mean:   millis(l.Mean),
		StdDev: millis(l.StdDev),
		P50:    millis(l.P50),
		P90:    millis(l.P90),
		P95:    millis(l.P95),
		P99:    millis(l.P99),
		Max:    millis(l.Max),
	}
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Write renders res to w in format. Colors apply to the text format only.
func Write(w io.Writer, res *driver.Result, format Format, scheme *ColorScheme) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(NewReport(res))
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(NewReport(res)); err != nil {
			return err
		}
		return enc.Close()
	case FormatHTML:
		return WriteHTML(w, res)
	case FormatText, "":
		if scheme == nil {
			scheme = NoColorScheme()
		}
		return PrintSummary(w, res, scheme)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
