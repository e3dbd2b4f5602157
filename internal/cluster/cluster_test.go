package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/cadence/internal/config"
	"github.com/wesleyorama2/cadence/internal/driver"
	"github.com/wesleyorama2/cadence/internal/metrics"
	"github.com/wesleyorama2/cadence/internal/telemetry"
	"github.com/wesleyorama2/cadence/internal/timer"
)

// skewedClock reports a wall time ahead of the host by skew.
type skewedClock struct {
	timer.Clock
	skew int64
}

func (c skewedClock) WallMillis() int64 {
	return c.Clock.WallMillis() + c.skew
}

// shiftedClock runs its monotonic time ahead of the host by shift.
type shiftedClock struct {
	timer.Clock
	shift *atomic.Int64
}

func (c shiftedClock) Nanotime() int64 {
	return c.Clock.Nanotime() + c.shift.Load()
}

func startAgent(t *testing.T, opts AgentOptions) (*Agent, Worker) {
	t.Helper()
	a := NewAgent(opts)
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		a.Close()
		srv.Close()
	})
	return a, Worker{Name: opts.Name, URL: srv.URL}
}

func newTimer(t *testing.T) *timer.EpochTimer {
	t.Helper()
	tm, err := timer.New(timer.Options{Worker: "coordinator"})
	require.NoError(t, err)
	return tm
}

func sleepRun() (driver.Config, config.OperationConfig) {
	cfg := driver.Config{
		Name:      "cluster",
		Agents:    2,
		CycleTime: 10 * time.Millisecond,
		RampUp:    20 * time.Millisecond,
		Steady:    100 * time.Millisecond,
		RampDown:  20 * time.Millisecond,
	}
	op := config.OperationConfig{
		Type:  config.OperationSleep,
		Sleep: &config.SleepConfig{Duration: config.Duration(time.Millisecond)},
	}
	return cfg, op
}

func fastCoordinator(t *testing.T, workers []Worker, m *telemetry.Metrics) *Coordinator {
	t.Helper()
	c, err := NewCoordinator(workers, CoordinatorOptions{
		Telemetry:    m,
		PollInterval: 10 * time.Millisecond,
		StartLead:    100 * time.Millisecond,
	})
	require.NoError(t, err)
	return c
}

func TestCoordinator_Run(t *testing.T) {
	var workers []Worker
	for _, name := range []string{"w1", "w2", "w3"} {
		_, w := startAgent(t, AgentOptions{Name: name})
		workers = append(workers, w)
	}

	m := telemetry.New()
	c := fastCoordinator(t, workers, m)
	cfg, op := sleepRun()

	res, err := c.Run(context.Background(), newTimer(t), "run-1", cfg, op)
	require.NoError(t, err)

	// 3 workers x 2 agents x 10 steady cycles.
	sum := res.Summary()
	assert.Equal(t, int64(60), sum.Operations)
	assert.Equal(t, int64(0), sum.Failures)
	assert.Equal(t, 6, res.Agents())
	assert.Equal(t, 0, res.Aborted())
	require.Len(t, res.Workers, 3)
	assert.Equal(t, "w1", res.Workers[0].Worker)
	assert.Equal(t, "cluster", res.Name)

	// Collected runs are released on every worker.
	for _, w := range workers {
		assert.Equal(t, http.StatusNotFound, getStatus(t, w, "run-1"))
	}
}

func TestCoordinator_SkewedWorkerStartsOnTime(t *testing.T) {
	skew := int64(5000)
	_, w := startAgent(t, AgentOptions{
		Name:  "skewed",
		Clock: skewedClock{Clock: timer.SystemClock(), skew: skew},
	})

	tm := newTimer(t)
	c := fastCoordinator(t, []Worker{w}, nil)

	off, err := c.ProbeClock(context.Background(), tm, w)
	require.NoError(t, err)
	assert.InDelta(t, -skew, off.Millis, 50)
	assert.Greater(t, off.RTT, time.Duration(0))

	cfg, op := sleepRun()
	begin := time.Now()
	res, err := c.Run(context.Background(), tm, "skewed-run", cfg, op)
	require.NoError(t, err)

	// A misapplied offset would shift the start by the full skew.
	assert.Less(t, time.Since(begin), 3*time.Second)
	assert.Equal(t, int64(20), res.Summary().Operations)
}

func TestCoordinator_WorkerRejectsRun(t *testing.T) {
	_, good := startAgent(t, AgentOptions{Name: "good"})
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/clock":
			writeJSON(w, http.StatusOK, ClockReply{Worker: "bad", WallMillis: time.Now().UnixMilli()})
		case "/runs":
			http.Error(w, "busy", http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusAccepted)
		}
	}))
	defer bad.Close()

	c := fastCoordinator(t, []Worker{good, {Name: "bad", URL: bad.URL}}, nil)
	cfg, op := sleepRun()

	_, err := c.Run(context.Background(), newTimer(t), "rejected", cfg, op)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "starting run on bad")
}

func TestCoordinator_ProbeMalformedClock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"time":"now"}`))
	}))
	defer srv.Close()

	c := fastCoordinator(t, []Worker{{Name: "odd", URL: srv.URL}}, nil)
	_, err := c.ProbeClock(context.Background(), newTimer(t), Worker{Name: "odd", URL: srv.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallMillis")
}

func TestNewCoordinator_NoWorkers(t *testing.T) {
	_, err := NewCoordinator(nil, CoordinatorOptions{})
	assert.Error(t, err)
}

func TestAgent_Routes(t *testing.T) {
	m := telemetry.New()
	_, w := startAgent(t, AgentOptions{Name: "routes", Telemetry: m})

	resp, err := http.Get(w.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(w.URL + "/clock")
	require.NoError(t, err)
	var clock ClockReply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&clock))
	resp.Body.Close()
	assert.Equal(t, "routes", clock.Worker)
	assert.InDelta(t, time.Now().UnixMilli(), clock.WallMillis, 1000)

	resp, err = http.Get(w.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(w.URL + "/runs/unknown")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAgent_StartValidation(t *testing.T) {
	_, w := startAgent(t, AgentOptions{Name: "v"})
	cfg, op := sleepRun()
	tm := newTimer(t)

	post := func(req RunRequest) int {
		data, err := json.Marshal(req)
		require.NoError(t, err)
		resp, err := http.Post(w.URL+"/runs", "application/json", bytes.NewReader(data))
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	valid := RunRequest{
		RunID:         "dup",
		Driver:        cfg,
		Operation:     op,
		EpochMillis:   tm.EpochMillis(),
		StartRelNanos: tm.RelNanos(),
	}
	assert.Equal(t, http.StatusAccepted, post(valid))
	assert.Equal(t, http.StatusConflict, post(valid))

	noID := valid
	noID.RunID = ""
	assert.Equal(t, http.StatusBadRequest, post(noID))

	badDriver := valid
	badDriver.RunID = "bad-driver"
	badDriver.Driver.Agents = 0
	assert.Equal(t, http.StatusBadRequest, post(badDriver))

	badOp := valid
	badOp.RunID = "bad-op"
	badOp.Operation = config.OperationConfig{Type: "grpc"}
	assert.Equal(t, http.StatusBadRequest, post(badOp))
}

func TestAgent_CancelRun(t *testing.T) {
	_, w := startAgent(t, AgentOptions{Name: "c"})
	cfg, op := sleepRun()
	cfg.Steady = time.Minute
	tm := newTimer(t)

	data, err := json.Marshal(RunRequest{
		RunID:         "long",
		Driver:        cfg,
		Operation:     op,
		EpochMillis:   tm.EpochMillis(),
		StartRelNanos: tm.RelNanos(),
	})
	require.NoError(t, err)
	resp, err := http.Post(w.URL+"/runs", "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodDelete, w.URL+"/runs/long", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	c := fastCoordinator(t, []Worker{w}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := c.await(ctx, w, "long")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, st.State)
	assert.Contains(t, st.Error, "interrupted")
	require.NotNil(t, st.Summary)
	assert.Equal(t, cfg.Agents, st.Summary.Aborted)
}

func TestCoordinator_MergeRejectsMalformedStats(t *testing.T) {
	c := fastCoordinator(t, []Worker{{Name: "good"}, {Name: "bad"}}, nil)

	stats := metrics.NewStats()
	for i := 0; i < 3; i++ {
		stats.Record(metrics.Sample{Response: time.Millisecond, Delay: time.Millisecond, OK: true})
	}
	good := RunStatus{RunID: "r", State: StateDone, Stats: stats.Export()}

	// A worker reporting a histogram with no buckets.
	data, err := json.Marshal(good)
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	raw["stats"].(map[string]any)["response"].(map[string]any)["Counts"] = []any{}
	data, err = json.Marshal(raw)
	require.NoError(t, err)
	var bad RunStatus
	require.NoError(t, json.Unmarshal(data, &bad))

	var res *driver.Result
	require.NotPanics(t, func() {
		res, err = c.merge("merge", []RunStatus{good, bad})
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker bad")
	require.NotNil(t, res)
	assert.Equal(t, int64(3), res.Summary().Operations)
	assert.Len(t, res.Workers, 2)
}

func getStatus(t *testing.T, w Worker, runID string) int {
	t.Helper()
	resp, err := http.Get(w.URL + "/runs/" + runID)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func submitRun(t *testing.T, w Worker, runID string, cfg driver.Config, op config.OperationConfig) int {
	t.Helper()
	tm := newTimer(t)
	data, err := json.Marshal(RunRequest{
		RunID:         runID,
		Driver:        cfg,
		Operation:     op,
		EpochMillis:   tm.EpochMillis(),
		StartRelNanos: tm.RelNanos(),
	})
	require.NoError(t, err)
	resp, err := http.Post(w.URL+"/runs", "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func awaitRun(t *testing.T, w Worker, runID string) RunStatus {
	t.Helper()
	c := fastCoordinator(t, []Worker{w}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := c.await(ctx, w, runID)
	require.NoError(t, err)
	return st
}

func TestAgent_DeleteFinishedRun(t *testing.T) {
	_, w := startAgent(t, AgentOptions{Name: "d"})
	cfg, op := sleepRun()

	require.Equal(t, http.StatusAccepted, submitRun(t, w, "short", cfg, op))
	st := awaitRun(t, w, "short")
	assert.Equal(t, StateDone, st.State)

	req, err := http.NewRequest(http.MethodDelete, w.URL+"/runs/short", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	var released RunStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&released))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotNil(t, released.Stats)

	assert.Equal(t, http.StatusNotFound, getStatus(t, w, "short"))

	// The id is free again.
	assert.Equal(t, http.StatusAccepted, submitRun(t, w, "short", cfg, op))
}

func TestAgent_FinishedRunsExpire(t *testing.T) {
	shift := new(atomic.Int64)
	_, w := startAgent(t, AgentOptions{
		Name:           "ttl",
		Clock:          shiftedClock{Clock: timer.SystemClock(), shift: shift},
		RetainFinished: time.Minute,
	})
	cfg, op := sleepRun()

	require.Equal(t, http.StatusAccepted, submitRun(t, w, "old", cfg, op))
	awaitRun(t, w, "old")
	assert.Equal(t, http.StatusOK, getStatus(t, w, "old"))

	shift.Store(int64(2 * time.Minute))
	assert.Equal(t, http.StatusNotFound, getStatus(t, w, "old"))
}

func TestAgent_RejectsRunsAfterClose(t *testing.T) {
	a, w := startAgent(t, AgentOptions{Name: "closed"})
	a.Close()

	cfg, op := sleepRun()
	assert.Equal(t, http.StatusServiceUnavailable, submitRun(t, w, "late", cfg, op))
	assert.Equal(t, http.StatusNotFound, getStatus(t, w, "late"))
}
