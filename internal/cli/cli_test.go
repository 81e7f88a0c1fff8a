package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/doktolib/loadgen/internal/config"
	"github.com/doktolib/loadgen/internal/loadgen/driver"
	"github.com/doktolib/loadgen/internal/loadgen/metrics"
	"github.com/doktolib/loadgen/internal/loadgen/session"
	"github.com/doktolib/loadgen/internal/stubapi"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

// clearEnv keeps the host environment out of the tests.
func clearEnv(t *testing.T) {
	for _, key := range []string{config.EnvBackendURL, config.EnvScenario, config.EnvDurationMinutes, config.EnvLogLevel, config.EnvSeed} {
		t.Setenv(key, "")
	}
}

func writeScenarioFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenarios.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// tinyScenarios shrinks the default profile and the pauses so a run
// finishes in milliseconds.
const tinyScenarios = `
scenarios:
  - {name: normal, concurrency: 2, targetRequestsPerMinute: 600, bookingProbability: 0}
sessionDelay: {min: 1ms, max: 2ms}
actionDelay: {min: 1ms, max: 1ms}
`

func bookingServer(t *testing.T, healthStatus int) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc(session.HealthPath, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(healthStatus)
	})
	mux.HandleFunc(session.DoctorsPath, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"id": "9f1c2a44"}]`)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestScenariosCmd(t *testing.T) {
	clearEnv(t)
	out, err := execute(t, "scenarios")
	require.NoError(t, err)

	for _, name := range []string{"light", "normal", "heavy", "stress"} {
		assert.Contains(t, out, name)
	}
	assert.Contains(t, out, "CONCURRENCY")
	assert.NotContains(t, out, "\x1b[", "buffers get no escape codes")
}

func TestScenariosCmd_WithFile(t *testing.T) {
	clearEnv(t)
	path := writeScenarioFile(t, "scenarios:\n  - {name: spike, concurrency: 900, targetRequestsPerMinute: 1800, bookingProbability: 0.3, description: Sudden burst}\n")

	out, err := execute(t, "scenarios", "--scenarios-file", path)
	require.NoError(t, err)
	assert.Contains(t, out, "spike")
	assert.Contains(t, out, "Sudden burst")
	assert.Contains(t, out, "stress")
}

func TestScenariosCmd_BadFile(t *testing.T) {
	clearEnv(t)
	path := writeScenarioFile(t, "scenarios:\n  - {name: broken, concurrency: -1}\n")

	_, err := execute(t, "scenarios", "--scenarios-file", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "concurrency")
}

func stubServer(t *testing.T) (*stubapi.Server, *httptest.Server) {
	stub := stubapi.New(stubapi.Config{Doctors: 20, Seed: 5})
	server := httptest.NewServer(stub)
	t.Cleanup(server.Close)
	return stub, server
}

func TestRunCmd_JSONReport(t *testing.T) {
	clearEnv(t)
	stub, server := stubServer(t)
	path := writeScenarioFile(t, tinyScenarios)

	out, err := execute(t, "run",
		"--url", server.URL,
		"--duration", "0",
		"--seed", "7",
		"--scenarios-file", path,
		"--log-level", "error",
		"--json")
	require.NoError(t, err)

	var snap metrics.Snapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snap), "stdout holds only the JSON report: %s", out)
	assert.Equal(t, snap.SuccessCount+snap.FailureCount, snap.TotalRequests)
	assert.Zero(t, snap.FailureCount)
	assert.Equal(t, snap.TotalRequests+2, stub.Requests(), "health check and preload come on top of the load")
}

func TestRunCmd_FlagsOverrideEnv(t *testing.T) {
	clearEnv(t)
	_, server := stubServer(t)
	t.Setenv(config.EnvBackendURL, "http://127.0.0.1:1")
	t.Setenv(config.EnvDurationMinutes, "90")
	path := writeScenarioFile(t, tinyScenarios)

	done := make(chan error, 1)
	go func() {
		_, err := execute(t, "run", "--url", server.URL, "--duration", "0",
			"--scenarios-file", path, "--log-level", "error", "--quiet")
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run ignored --duration 0")
	}
}

func TestRunCmd_HealthFailure(t *testing.T) {
	clearEnv(t)
	server := bookingServer(t, http.StatusServiceUnavailable)

	_, err := execute(t, "run", "--url", server.URL, "--duration", "0", "--log-level", "error")
	require.Error(t, err)

	var startupErr *driver.StartupError
	require.True(t, errors.As(err, &startupErr))
	assert.Equal(t, driver.StageHealth, startupErr.Stage)
}

func TestRunCmd_InvalidConfig(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"bad url", []string{"--url", "not a url"}, "backend URL"},
		{"negative duration", []string{"--duration", "-1"}, "duration"},
		{"bad log level", []string{"--log-level", "verbose"}, "log level"},
		{"extra argument", []string{"now"}, "unknown command"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, append([]string{"run"}, tt.args...)...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestApplyRunFlags(t *testing.T) {
	cmd := newRunCmd()
	cmd.Flags().String("scenarios-file", "", "")
	cmd.Flags().Bool("no-color", false, "")
	require.NoError(t, cmd.ParseFlags([]string{
		"--scenario", "heavy", "--duration", "1.5", "--seed", "42",
		"--strict-rate", "--report-interval", "5s", "--metrics-addr", ":9090",
	}))

	cfg := config.Default()
	cfg.BackendURL = "http://from-env:8080"
	applyRunFlags(cmd, &cfg)

	assert.Equal(t, "http://from-env:8080", cfg.BackendURL, "unset flags keep the env value")
	assert.Equal(t, "heavy", cfg.Scenario)
	assert.Equal(t, 90*time.Second, cfg.Duration)
	assert.Equal(t, int64(42), cfg.Seed)
	assert.True(t, cfg.HasSeed)
	assert.True(t, cfg.StrictRate)
	assert.Equal(t, 5*time.Second, cfg.ReportInterval)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
}

func TestRootCmd_Help(t *testing.T) {
	out, err := execute(t)
	require.NoError(t, err)
	assert.Contains(t, out, "run")
	assert.Contains(t, out, "scenarios")

	var names []string
	for _, c := range NewRootCmd().Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"run", "scenarios"})
}

func TestServeStub(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serveStub(ctx, ln, stubapi.Config{Doctors: 3}, zaptest.NewLogger(t))
	}()

	var doctors []stubapi.Doctor
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + session.DoctorsPath)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return json.NewDecoder(resp.Body).Decode(&doctors) == nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, doctors, 3)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("stub did not shut down")
	}
}

func TestServeStubCmd_Flags(t *testing.T) {
	cmd := newServeStubCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--doctors", "7", "--latency", "15ms", "--failure-rate", "0.2", "--seed", "9"}))

	cfg := stubConfig(cmd, zaptest.NewLogger(t))
	assert.Equal(t, 7, cfg.Doctors)
	assert.Equal(t, int64(9), cfg.Seed)
	assert.Equal(t, 15*time.Millisecond, cfg.Latency)
	assert.Equal(t, 0.2, cfg.FailureRate)
}
