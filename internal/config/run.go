// Package config loads and validates run files.
package config

import (
	"fmt"

	"github.com/wesleyorama2/cadence/internal/driver"
	"github.com/wesleyorama2/cadence/internal/operation"
)

// Operation types.
const (
	OperationHTTP  = "http"
	OperationSleep = "sleep"
)

// RunConfig is the root of a run file.
//
// Example YAML:
//
//	name: checkout
//	agents: 8
//	cycleTime: 100ms
//	rampUp: 30s
//	steady: 5m
//	rampDown: 10s
//	calibrate: true
//	operation:
//	  type: http
//	  http:
//	    method: GET
//	    url: http://shop.internal/api/cart
//	    expect:
//	      - path: $.status
//	        value: ok
//	workers:
//	  - name: load-1
//	    url: http://load-1:7070
type RunConfig struct {
	// Name of the run (for reporting)
	Name string `json:"name" yaml:"name"`

	// Description of the run (optional)
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Agents is the number of paced loops per worker
	Agents int `json:"agents" yaml:"agents"`

	CycleTime     Duration `json:"cycleTime" yaml:"cycleTime"`
	RampUp        Duration `json:"rampUp,omitempty" yaml:"rampUp,omitempty"`
	Steady        Duration `json:"steady" yaml:"steady"`
	RampDown      Duration `json:"rampDown,omitempty" yaml:"rampDown,omitempty"`
	StartDelay    Duration `json:"startDelay,omitempty" yaml:"startDelay,omitempty"`
	LateThreshold Duration `json:"lateThreshold,omitempty" yaml:"lateThreshold,omitempty"`

	// Calibrate measures sleep overshoot during ramp-up
	Calibrate bool `json:"calibrate,omitempty" yaml:"calibrate,omitempty"`

	Operation OperationConfig `json:"operation" yaml:"operation"`

	// Workers lists remote agent servers. Empty runs locally.
	Workers []WorkerConfig `json:"workers,omitempty" yaml:"workers,omitempty"`
}

// OperationConfig selects and configures the per-cycle operation.
type OperationConfig struct {
	// Type is "http" or "sleep"
	Type string `json:"type" yaml:"type"`

	HTTP  *HTTPConfig  `json:"http,omitempty" yaml:"http,omitempty"`
	Sleep *SleepConfig `json:"sleep,omitempty" yaml:"sleep,omitempty"`
}

// HTTPConfig defines the request sent every cycle.
type HTTPConfig struct {
	Method       string                  `json:"method,omitempty" yaml:"method,omitempty"`
	URL          string                  `json:"url" yaml:"url"`
	Headers      map[string]string       `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body         string                  `json:"body,omitempty" yaml:"body,omitempty"`
	Timeout      Duration                `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	ExpectStatus int                     `json:"expectStatus,omitempty" yaml:"expectStatus,omitempty"`
	Expect       []operation.Expectation `json:"expect,omitempty" yaml:"expect,omitempty"`
	MaxConns     int                     `json:"maxConns,omitempty" yaml:"maxConns,omitempty"`
}

// SleepConfig defines the synthetic operation.
type SleepConfig struct {
	Duration Duration `json:"duration" yaml:"duration"`
}

// WorkerConfig names one remote agent server.
type WorkerConfig struct {
	Name string `json:"name" yaml:"name"`
	URL  string `json:"url" yaml:"url"`
}

// Distributed reports whether the run uses remote workers.
func (c *RunConfig) Distributed() bool {
	return len(c.Workers) > 0
}

// DriverConfig converts the run file to the driver's configuration.
func (c *RunConfig) DriverConfig() driver.Config {
	name := c.Name
	if name == "" {
		name = "run"
	}
	return driver.Config{
		Name:          name,
		Agents:        c.Agents,
		CycleTime:     c.CycleTime.Std(),
		RampUp:        c.RampUp.Std(),
		Steady:        c.Steady.Std(),
		RampDown:      c.RampDown.Std(),
		StartDelay:    c.StartDelay.Std(),
		LateThreshold: c.LateThreshold.Std(),
		Calibrate:     c.Calibrate,
	}
}

// BuildOperation constructs the configured operation. bufferSize, when
// positive, sets the HTTP transport buffer sizes.
func (o *OperationConfig) BuildOperation(bufferSize int) (driver.Operation, error) {
	switch o.Type {
	case OperationHTTP:
		if o.HTTP == nil {
			return nil, fmt.Errorf("operation.http is required for type %s", o.Type)
		}
		op, err := operation.NewHTTP(operation.HTTPConfig{
			Method:       o.HTTP.Method,
			URL:          o.HTTP.URL,
			Headers:      o.HTTP.Headers,
			Body:         o.HTTP.Body,
			Timeout:      o.HTTP.Timeout.Std(),
			ExpectStatus: o.HTTP.ExpectStatus,
			Expect:       o.HTTP.Expect,
			BufferSize:   bufferSize,
			MaxConns:     o.HTTP.MaxConns,
		})
		if err != nil {
			return nil, err
		}
		return op, nil
	case OperationSleep:
		var d Duration
		if o.Sleep != nil {
			d = o.Sleep.Duration
		}
		return &operation.Sleep{Duration: d.Std()}, nil
	default:
		return nil, fmt.Errorf("unknown operation type: %q", o.Type)
	}
}
