package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/wesleyorama2/cadence/internal/driver"
	"github.com/wesleyorama2/cadence/internal/telemetry"
	"github.com/wesleyorama2/cadence/internal/timer"
)

// AgentOptions configures an agent server.
type AgentOptions struct {
	// Name identifies the worker in results and logs.
	Name string

	Logger    zerolog.Logger
	Telemetry *telemetry.Metrics

	// Clock defaults to the system clock.
	Clock timer.Clock

	// Debug lifts the compensation limit.
	Debug           bool
	MaxCompensation time.Duration

	// BufferSize overrides HTTP operation transport buffers.
	BufferSize int

	// Fatal receives calibration failures; nil logs and exits.
	Fatal func(error)

	// RetainFinished is how long a finished run stays queryable when the
	// coordinator never releases it. Defaults to 10 minutes.
	RetainFinished time.Duration
}

const defaultRetainFinished = 10 * time.Minute

type agentRun struct {
	cancel context.CancelFunc

	mu         sync.Mutex
	status     RunStatus
	finishedAt int64
}

func (r *agentRun) snapshot() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// finished reports whether the run ended and its monotonic end time.
func (r *agentRun) finished() (bool, int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status.Finished(), r.finishedAt
}

// Agent serves the worker side of the cluster protocol.
type Agent struct {
	opts   AgentOptions
	log    zerolog.Logger
	clock  timer.Clock
	router *mux.Router

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	runs map[string]*agentRun
}

// NewAgent creates an agent and its routes.
func NewAgent(opts AgentOptions) *Agent {
	if opts.Name == "" {
		opts.Name = "worker"
	}
	if opts.Clock == nil {
		opts.Clock = timer.SystemClock()
	}
	if opts.RetainFinished <= 0 {
		opts.RetainFinished = defaultRetainFinished
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Agent{
		opts:   opts,
		log:    opts.Logger.With().Str("component", "agent").Str("worker", opts.Name).Logger(),
		clock:  opts.Clock,
		ctx:    ctx,
		cancel: cancel,
		runs:   make(map[string]*agentRun),
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/clock", a.handleClock).Methods(http.MethodGet)
	r.HandleFunc("/runs", a.handleStart).Methods(http.MethodPost)
	r.HandleFunc("/runs/{id}", a.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/runs/{id}", a.handleCancel).Methods(http.MethodDelete)
	r.Handle("/metrics", opts.Telemetry.Handler()).Methods(http.MethodGet)
	a.router = r

	return a
}

// Handler returns the HTTP handler of the agent.
func (a *Agent) Handler() http.Handler {
	return a.router
}

// ListenAndServe serves on addr until ctx is done, then cancels running
// runs and shuts the server down.
func (a *Agent) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", addr).Msg("agent listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		a.Close()
		return err
	case <-ctx.Done():
	}

	a.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down agent: %w", err)
	}
	return nil
}

// Close cancels every run and waits for them to stop. Runs submitted
// afterwards are rejected.
func (a *Agent) Close() {
	// Under mu so no start can pass its ctx check and reach wg.Add once
	// Wait has begun.
	a.mu.Lock()
	a.cancel()
	a.mu.Unlock()
	a.wg.Wait()
}

func (a *Agent) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "worker": a.opts.Name})
}

func (a *Agent) handleClock(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ClockReply{Worker: a.opts.Name, WallMillis: a.clock.WallMillis()})
}

func (a *Agent) handleStart(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid body: %v", err), http.StatusBadRequest)
		return
	}
	if req.RunID == "" {
		http.Error(w, "runId is required", http.StatusBadRequest)
		return
	}

	run, err := a.start(req)
	switch {
	case errors.Is(err, errDuplicateRun):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, errAgentClosed):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusAccepted, run.snapshot())
}

func (a *Agent) handleStatus(w http.ResponseWriter, r *http.Request) {
	run := a.lookup(mux.Vars(r)["id"])
	if run == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, run.snapshot())
}

// handleCancel stops a running run, or releases a finished one.
func (a *Agent) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	run := a.lookup(id)
	if run == nil {
		http.NotFound(w, r)
		return
	}
	if done, _ := run.finished(); done {
		a.mu.Lock()
		delete(a.runs, id)
		a.mu.Unlock()
		writeJSON(w, http.StatusOK, run.snapshot())
		return
	}
	run.cancel()
	writeJSON(w, http.StatusAccepted, run.snapshot())
}

var (
	errDuplicateRun = errors.New("run already exists")
	errAgentClosed  = errors.New("agent is shutting down")
)

func (a *Agent) lookup(id string) *agentRun {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pruneLocked()
	return a.runs[id]
}

// pruneLocked drops runs that finished more than RetainFinished ago.
func (a *Agent) pruneLocked() {
	now := a.clock.Nanotime()
	for id, run := range a.runs {
		done, at := run.finished()
		if done && now-at > int64(a.opts.RetainFinished) {
			delete(a.runs, id)
			a.log.Debug().Str("run", id).Msg("finished run expired")
		}
	}
}

// start aligns a fresh timer to the coordinator and launches the driver.
func (a *Agent) start(req RunRequest) (*agentRun, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ctx.Err() != nil {
		return nil, errAgentClosed
	}
	a.pruneLocked()
	if _, ok := a.runs[req.RunID]; ok {
		return nil, fmt.Errorf("%w: %s", errDuplicateRun, req.RunID)
	}

	op, err := req.Operation.BuildOperation(a.opts.BufferSize)
	if err != nil {
		return nil, err
	}
	d, err := driver.New(req.Driver, op,
		driver.WithLogger(a.opts.Logger),
		driver.WithTelemetry(a.opts.Telemetry),
	)
	if err != nil {
		return nil, err
	}

	t, err := timer.New(timer.Options{
		Clock:           a.clock,
		Worker:          a.opts.Name,
		Logger:          a.opts.Logger,
		Debug:           a.opts.Debug,
		MaxCompensation: a.opts.MaxCompensation,
		Fatal:           a.opts.Fatal,
	})
	if err != nil {
		return nil, err
	}
	if err := t.AlignTo(req.EpochMillis, req.ClockOffsetMillis); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(a.ctx)
	run := &agentRun{
		cancel: cancel,
		status: RunStatus{RunID: req.RunID, State: StateRunning},
	}
	a.runs[req.RunID] = run

	a.log.Info().
		Str("run", req.RunID).
		Int64("offsetMillis", req.ClockOffsetMillis).
		Int64("startsInMillis", (req.StartRelNanos-t.RelNanos())/int64(time.Millisecond)).
		Msg("run accepted")

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer cancel()
		if c, ok := op.(interface{ Close() }); ok {
			defer c.Close()
		}

		res, err := d.Run(ctx, t, req.StartRelNanos)

		run.mu.Lock()
		defer run.mu.Unlock()
		run.finishedAt = a.clock.Nanotime()
		run.status.State = StateDone
		if err != nil {
			run.status.State = StateFailed
			run.status.Error = err.Error()
		}
		if res != nil {
			summary := res.Workers[0]
			run.status.Summary = &summary
			run.status.Stats = res.Stats.Export()
		}
	}()

	return run, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
