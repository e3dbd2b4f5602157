package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/cadence/internal/aggregate"
	"github.com/wesleyorama2/cadence/internal/config"
	"github.com/wesleyorama2/cadence/internal/driver"
	"github.com/wesleyorama2/cadence/internal/metrics"
	"github.com/wesleyorama2/cadence/internal/telemetry"
	"github.com/wesleyorama2/cadence/internal/timer"
)

const (
	defaultProbeSamples = 5
	defaultPollInterval = 250 * time.Millisecond
	defaultStartLead    = 2 * time.Second
)

// Worker is a remote agent server.
type Worker struct {
	Name string
	URL  string
}

// CoordinatorOptions configures a Coordinator.
type CoordinatorOptions struct {
	Logger    zerolog.Logger
	Telemetry *telemetry.Metrics

	// Client defaults to a client with a 10s timeout.
	Client *http.Client

	// ProbeSamples is how many clock round trips are measured per worker;
	// the one with the smallest round trip wins.
	ProbeSamples int

	// PollInterval is the delay between result polls once the run should
	// have ended.
	PollInterval time.Duration

	// StartLead is the time between sending the run and its start, which
	// must cover delivery to every worker.
	StartLead time.Duration
}

// Offset is the result of probing one worker's clock.
type Offset struct {
	// Millis is coordinator wall time minus worker wall time.
	Millis int64

	// RTT is the round trip of the sample the offset came from.
	RTT time.Duration
}

// Coordinator starts a run on every worker and merges their statistics.
type Coordinator struct {
	workers []Worker
	opts    CoordinatorOptions
	log     zerolog.Logger
	client  *http.Client
}

// NewCoordinator returns a coordinator for workers.
func NewCoordinator(workers []Worker, opts CoordinatorOptions) (*Coordinator, error) {
	if len(workers) == 0 {
		return nil, errors.New("cluster: at least one worker is required")
	}
	if opts.ProbeSamples <= 0 {
		opts.ProbeSamples = defaultProbeSamples
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.StartLead <= 0 {
		opts.StartLead = defaultStartLead
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	return &Coordinator{
		workers: workers,
		opts:    opts,
		log:     opts.Logger.With().Str("component", "coordinator").Logger(),
		client:  client,
	}, nil
}

// Run drives cfg with op on every worker, sharing the epoch of t, and
// returns the pairwise-merged statistics.
//
// Workers that fail still contribute whatever they measured; their errors
// are joined into the returned error next to a partial result.
func (c *Coordinator) Run(ctx context.Context, t *timer.EpochTimer, runID string, cfg driver.Config, op config.OperationConfig) (*driver.Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	offsets := make([]Offset, len(c.workers))
	g, gctx := errgroup.WithContext(ctx)
	for i, w := range c.workers {
		g.Go(func() error {
			off, err := c.ProbeClock(gctx, t, w)
			if err != nil {
				return fmt.Errorf("probing %s: %w", w.Name, err)
			}
			offsets[i] = off
			c.log.Info().
				Str("worker", w.Name).
				Int64("offsetMillis", off.Millis).
				Dur("rtt", off.RTT).
				Msg("clock offset measured")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	startRel := t.RelNanos() + int64(c.opts.StartLead) + int64(cfg.StartDelay)

	g, gctx = errgroup.WithContext(ctx)
	for i, w := range c.workers {
		req := RunRequest{
			RunID:             runID,
			Driver:            cfg,
			Operation:         op,
			EpochMillis:       t.EpochMillis(),
			ClockOffsetMillis: offsets[i].Millis,
			StartRelNanos:     startRel,
		}
		g.Go(func() error {
			if err := c.send(gctx, w, req); err != nil {
				return fmt.Errorf("starting run on %s: %w", w.Name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.release(runID)
		return nil, err
	}

	c.log.Info().
		Str("run", runID).
		Int("workers", len(c.workers)).
		Dur("duration", cfg.Duration()).
		Msg("run started on all workers")

	// Nothing to collect before the run is scheduled to end.
	end := startRel + int64(cfg.Duration())
	if err := t.WakeupAtRel(ctx, end); err != nil {
		c.release(runID)
		return nil, err
	}

	statuses := make([]RunStatus, len(c.workers))
	g, gctx = errgroup.WithContext(ctx)
	for i, w := range c.workers {
		g.Go(func() error {
			st, err := c.await(gctx, w, runID)
			if err != nil {
				return fmt.Errorf("collecting %s: %w", w.Name, err)
			}
			statuses[i] = st
			return nil
		})
	}
	// Finished runs are released too, so agents drop their statistics.
	defer c.release(runID)
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return c.merge(cfg.Name, statuses)
}

// merge imports every worker's statistics and aggregates them pairwise.
func (c *Coordinator) merge(name string, statuses []RunStatus) (*driver.Result, error) {
	res := &driver.Result{Name: name}
	var (
		sources []*metrics.Stats
		errs    []error
	)
	for i, st := range statuses {
		w := c.workers[i]
		if st.Summary != nil {
			res.Workers = append(res.Workers, *st.Summary)
		} else {
			res.Workers = append(res.Workers, driver.WorkerSummary{Worker: w.Name})
		}
		if st.State == StateFailed {
			errs = append(errs, fmt.Errorf("worker %s: %s", w.Name, st.Error))
		}
		if st.Stats == nil {
			continue
		}
		s, err := metrics.Import(st.Stats)
		if err != nil {
			errs = append(errs, fmt.Errorf("worker %s: %w", w.Name, err))
			continue
		}
		sources = append(sources, s)
	}

	merged, err := metrics.Aggregate(sources,
		aggregate.WithLogger(c.log),
		aggregate.WithObserver(c.opts.Telemetry.Aggregated),
	)
	if err != nil {
		return nil, err
	}
	res.Stats = merged

	return res, errors.Join(errs...)
}

// ProbeClock measures the wall clock offset of w from the coordinator.
//
// Each sample brackets the worker's reading between two local monotonic
// readings and assumes it was taken at their midpoint.
func (c *Coordinator) ProbeClock(ctx context.Context, t *timer.EpochTimer, w Worker) (Offset, error) {
	best := Offset{RTT: -1}
	for i := 0; i < c.opts.ProbeSamples; i++ {
		sent := t.Now()
		body, err := c.get(ctx, w.URL+"/clock")
		received := t.Now()
		if err != nil {
			return Offset{}, err
		}

		wall := gjson.GetBytes(body, "wallMillis")
		if !wall.Exists() {
			return Offset{}, fmt.Errorf("clock reply has no wallMillis: %s", bytes.TrimSpace(body))
		}

		rtt := time.Duration(received - sent)
		if best.RTT >= 0 && rtt >= best.RTT {
			continue
		}
		local := t.NanosToWall(sent + (received-sent)/2)
		best = Offset{Millis: local - wall.Int(), RTT: rtt}
	}
	return best, nil
}

func (c *Coordinator) send(ctx context.Context, w Worker, req RunRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL+"/runs", bytes.NewReader(data))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("agent error (%s): %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}

// await polls the run status until the worker reports it finished.
func (c *Coordinator) await(ctx context.Context, w Worker, runID string) (RunStatus, error) {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		body, err := c.get(ctx, w.URL+"/runs/"+runID)
		if err != nil {
			return RunStatus{}, err
		}
		var st RunStatus
		if err := json.Unmarshal(body, &st); err != nil {
			return RunStatus{}, fmt.Errorf("decoding run status: %w", err)
		}
		if st.Finished() {
			return st, nil
		}

		select {
		case <-ctx.Done():
			return RunStatus{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// release deletes runID on every worker, which stops it if still running
// and forgets it once finished. Errors are logged only.
func (c *Coordinator) release(runID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, w := range c.workers {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, w.URL+"/runs/"+runID, nil)
		if err != nil {
			continue
		}
		resp, err := c.client.Do(req)
		if err != nil {
			c.log.Warn().Err(err).Str("worker", w.Name).Msg("could not release run")
			continue
		}
		resp.Body.Close()
	}
}

func (c *Coordinator) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(body))
	}
	return body, nil
}
