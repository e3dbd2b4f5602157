package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/cadence/internal/cluster"
	"github.com/wesleyorama2/cadence/internal/output"
)

const sleepRun = `
name: smoke
agents: 2
cycleTime: 20ms
rampUp: 40ms
steady: 200ms
rampDown: 40ms
operation:
  type: sleep
  sleep:
    duration: 1ms
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(args ...string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	err := ExecuteArgs(append(args, "--log-format", "json"), &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func TestVersion(t *testing.T) {
	out, _, err := execute("version")
	require.NoError(t, err)
	assert.Equal(t, "cadence "+version+"\n", out)
}

func TestRootHelp(t *testing.T) {
	out, _, err := execute()
	require.NoError(t, err)
	for _, sub := range []string{"run", "agent", "calibrate", "version"} {
		assert.Contains(t, out, sub)
	}
}

func TestRun_Local(t *testing.T) {
	path := writeFile(t, "smoke.yaml", sleepRun)

	out, _, err := execute("run", path, "--output", "json")
	require.NoError(t, err)

	var report output.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "smoke", report.Name)
	assert.Equal(t, 2, report.Agents)
	// 2 agents x 10 steady cycles.
	assert.Equal(t, int64(20), report.Operations)
	assert.Equal(t, int64(0), report.Failures)
	require.Len(t, report.Workers, 1)
}

func TestRun_TextReport(t *testing.T) {
	path := writeFile(t, "smoke.yaml", sleepRun)

	out, _, err := execute("run", path, "--no-color")
	require.NoError(t, err)
	assert.Contains(t, out, "smoke - Completed")
	assert.Contains(t, out, "Operations: 20")
	assert.NotContains(t, out, "\x1b[")
}

func TestRun_Distributed(t *testing.T) {
	var workers string
	for _, name := range []string{"a", "b"} {
		agent := cluster.NewAgent(cluster.AgentOptions{Name: name})
		srv := httptest.NewServer(agent.Handler())
		t.Cleanup(func() {
			agent.Close()
			srv.Close()
		})
		workers += fmt.Sprintf("  - name: %s\n    url: %s\n", name, srv.URL)
	}
	path := writeFile(t, "cluster.yaml", sleepRun+"workers:\n"+workers)

	begin := time.Now()
	out, _, err := execute("run", path, "-o", "yaml", "--run-id", "cli-cluster")
	require.NoError(t, err)
	assert.Less(t, time.Since(begin), 10*time.Second)
	assert.Contains(t, out, "operations: 40")
	assert.Contains(t, out, "worker: a")
	assert.Contains(t, out, "worker: b")
}

func TestRun_Errors(t *testing.T) {
	valid := writeFile(t, "smoke.yaml", sleepRun)
	invalid := writeFile(t, "bad.yaml", "name: x\nagents: 0\n")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing file", []string{"run", filepath.Join(t.TempDir(), "none.yaml")}, "none.yaml"},
		{"invalid config", []string{"run", invalid}, "agents"},
		{"unknown format", []string{"run", valid, "-o", "junit"}, "unknown output format"},
		{"no argument", []string{"run"}, "accepts 1 arg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, stderr, err := execute(tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Contains(t, stderr, "Error:")
		})
	}
}

func TestSettings_Precedence(t *testing.T) {
	t.Setenv("CADENCE_LOG_LEVEL", "verbose")
	_, _, err := execute("version")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")

	// Flags win over the environment.
	_, _, err = execute("version", "--log-level", "warn")
	assert.NoError(t, err)
}

func TestSettings_File(t *testing.T) {
	path := writeFile(t, "settings.yaml", "buffer-size: -1\n")
	_, _, err := execute("version", "--settings", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "buffer-size")

	_, _, err = execute("version", "--settings", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading settings")
}

func TestSettings_Resolved(t *testing.T) {
	t.Setenv("CADENCE_DEBUG", "true")
	t.Setenv("CADENCE_MAX_COMPENSATION", "250ms")

	root, a := newRoot()
	root.SetArgs([]string{"version", "--buffer-size", "8192", "--log-format", "json"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	require.NoError(t, root.Execute())

	assert.True(t, a.settings.Debug)
	assert.Equal(t, 250*time.Millisecond, a.settings.MaxCompensation)
	assert.Equal(t, 8192, a.settings.BufferSize)
	assert.Equal(t, "json", a.settings.LogFormat)
	assert.NotNil(t, a.telemetry)
}

func TestCalibrate_TooShort(t *testing.T) {
	_, _, err := execute("calibrate", "--duration", "1s")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least")
}
