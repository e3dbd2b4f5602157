// Package telemetry exposes driver and timer state as Prometheus metrics.
//
// All methods are safe on a nil *Metrics so callers that run without a
// metrics endpoint need no guards.
package telemetry

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wesleyorama2/cadence/internal/metrics"
)

// TimerSource is the part of an epoch timer the gauges read from.
type TimerSource interface {
	Compensation() time.Duration
	Deviation() float64
}

type timerRef struct {
	src TimerSource
}

// Metrics holds the collectors of one process.
type Metrics struct {
	registry *prometheus.Registry
	timer    atomic.Pointer[timerRef]

	compensation prometheus.GaugeFunc
	deviation    prometheus.GaugeFunc
	cycles       *prometheus.CounterVec
	lateWakeups  prometheus.Counter
	aborted      prometheus.Counter
	combines     prometheus.Counter
	mismatches   prometheus.Counter
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.compensation = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "cadence_timer_compensation_nanoseconds",
		Help: "Sleep overshoot compensation applied by the epoch timer",
	}, func() float64 {
		if ref := m.timer.Load(); ref != nil {
			return float64(ref.src.Compensation())
		}
		return 0
	})

	m.deviation = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "cadence_timer_deviation_nanoseconds",
		Help: "Mean sleep overshoot measured during calibration",
	}, func() float64 {
		if ref := m.timer.Load(); ref != nil {
			return ref.src.Deviation()
		}
		return 0
	})

	m.cycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cadence_driver_cycles_total",
		Help: "Paced cycles completed, by run phase",
	}, []string{"phase"})

	m.lateWakeups = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cadence_driver_late_wakeups_total",
		Help: "Cycles that started later than the late threshold",
	})

	m.aborted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cadence_driver_aborted_agents_total",
		Help: "Agents stopped early by an interrupted wakeup",
	})

	m.combines = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cadence_aggregate_combines_total",
		Help: "Accumulator combines performed by pairwise aggregation",
	})

	m.mismatches = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cadence_aggregate_count_mismatch_total",
		Help: "Aggregations whose combine count differed from n-1",
	})

	m.registry.MustRegister(
		m.compensation,
		m.deviation,
		m.cycles,
		m.lateWakeups,
		m.aborted,
		m.combines,
		m.mismatches,
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveTimer points the timer gauges at src. The latest call wins.
func (m *Metrics) ObserveTimer(src TimerSource) {
	if m == nil || src == nil {
		return
	}
	m.timer.Store(&timerRef{src: src})
}

// CycleCompleted counts one cycle in phase.
func (m *Metrics) CycleCompleted(phase metrics.Phase) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(phase.String()).Inc()
}

// LateWakeup counts one late cycle.
func (m *Metrics) LateWakeup() {
	if m == nil {
		return
	}
	m.lateWakeups.Inc()
}

// AgentAborted counts one aborted agent.
func (m *Metrics) AgentAborted() {
	if m == nil {
		return
	}
	m.aborted.Inc()
}

// Aggregated records one pairwise aggregation. Its signature matches
// aggregate.Observer.
func (m *Metrics) Aggregated(combines, expected int) {
	if m == nil {
		return
	}
	m.combines.Add(float64(combines))
	if combines != expected {
		m.mismatches.Inc()
	}
}
