package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doktolib/loadgen/internal/loadgen/metrics"
	"github.com/doktolib/loadgen/internal/loadgen/scenario"
)

func sampleSnapshot() *metrics.Snapshot {
	return &metrics.Snapshot{
		TotalRequests: 1234,
		SuccessCount:  1200,
		FailureCount:  34,
		Errors:        map[string]int64{"500": 20, "ETIMEDOUT": 10, "404": 4},
		Endpoints: map[string]metrics.EndpointStats{
			"/api/v1/doctors":      {Requests: 900, Successes: 890, AvgLatencyMillis: 120.5, P95Millis: 240},
			"/api/v1/doctors/{id}": {Requests: 334, Successes: 310, AvgLatencyMillis: 80.25, P95Millis: 1500},
		},
		EndpointOrder:     []string{"/api/v1/doctors", "/api/v1/doctors/{id}"},
		Latency:           metrics.LatencyStats{Avg: 110.4, P50: 100, P95: 230, P99: 1200},
		SuccessRate:       1200.0 / 1234.0,
		ErrorRate:         34.0 / 1234.0,
		RequestsPerMinute: 246.8,
		Elapsed:           5*time.Minute + 2*time.Second,
	}
}

func newTestConsole(buf *bytes.Buffer, quiet bool) *Console {
	return NewConsole(ConsoleConfig{Writer: buf, Quiet: quiet})
}

func TestNewConsole_NoColorsForBuffers(t *testing.T) {
	c := NewConsole(ConsoleConfig{Writer: &bytes.Buffer{}})
	assert.False(t, c.UseColors())

	forced := NewConsole(ConsoleConfig{Writer: &bytes.Buffer{}, ForceColors: true})
	assert.True(t, forced.UseColors())
}

func TestConsole_Report(t *testing.T) {
	var buf bytes.Buffer
	newTestConsole(&buf, false).Report(sampleSnapshot(), false)
	out := buf.String()

	assert.Contains(t, out, "Progress report")
	assert.Contains(t, out, "5m 02s")
	assert.Contains(t, out, "1,234 (246.8 req/min)")
	assert.Contains(t, out, "97.2%")
	assert.Contains(t, out, "failed: 34")
	assert.Contains(t, out, "avg 110.4ms | p50 100.0ms | p95 230.0ms | p99 1.20s")
	assert.Contains(t, out, "/api/v1/doctors/{id}")
	assert.Contains(t, out, "p95 1.50s")
	assert.NotContains(t, out, "\x1b[")

	// endpoints in first-seen order, errors by count
	assert.Less(t, strings.Index(out, "/api/v1/doctors "), strings.Index(out, "/api/v1/doctors/{id}"))
	errs := out[strings.Index(out, "Errors:"):]
	assert.Less(t, strings.Index(errs, "500"), strings.Index(errs, "ETIMEDOUT"))
	assert.Less(t, strings.Index(errs, "ETIMEDOUT"), strings.Index(errs, "404"))
}

func TestConsole_ReportEmptySnapshot(t *testing.T) {
	var buf bytes.Buffer
	newTestConsole(&buf, false).Report(metrics.NewAggregator().Snapshot(), true)
	out := buf.String()

	assert.Contains(t, out, "Final report")
	assert.Contains(t, out, "0 (0.0 req/min)")
	assert.Contains(t, out, "0.0%")
	assert.NotContains(t, out, "Endpoints:")
	assert.NotContains(t, out, "Errors:")
	assert.NotContains(t, out, "NaN")
}

func TestConsole_QuietPrintsFinalOnly(t *testing.T) {
	var buf bytes.Buffer
	c := newTestConsole(&buf, true)

	c.PrintHeader(RunInfo{Profile: scenario.Profile{Name: "light"}})
	c.Report(sampleSnapshot(), false)
	assert.Empty(t, buf.String())

	c.Report(sampleSnapshot(), true)
	assert.Contains(t, buf.String(), "Final report")
}

func TestConsole_PrintHeader(t *testing.T) {
	var buf bytes.Buffer
	profile, _ := scenario.Builtin().Resolve("heavy")

	newTestConsole(&buf, false).PrintHeader(RunInfo{
		Profile:    profile,
		BackendURL: "http://api.local",
		Duration:   0,
		Doctors:    3,
		StrictRate: true,
		Seed:       7,
	})
	out := buf.String()

	assert.Contains(t, out, "http://api.local")
	assert.Contains(t, out, "heavy (250 workers, ~500 req/min, 20% bookings)")
	assert.Contains(t, out, "immediate stop")
	assert.Contains(t, out, "strict token bucket")
	assert.Contains(t, out, "3 preloaded")
}

func TestConsole_PrintJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, newTestConsole(&buf, true).PrintJSON(sampleSnapshot()))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, float64(1234), decoded["totalRequests"])
	assert.Contains(t, decoded, "endpoints")
	assert.NotContains(t, decoded, "LatencySamples")
}

func TestConsole_PrintScenarios(t *testing.T) {
	var buf bytes.Buffer
	newTestConsole(&buf, false).PrintScenarios(scenario.Builtin().Profiles(), "normal")
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")

	require.Len(t, lines, 5)
	assert.Contains(t, lines[0], "CONCURRENCY")
	assert.True(t, strings.HasPrefix(lines[1], "light"))
	assert.True(t, strings.HasPrefix(lines[4], "stress"))
	assert.Contains(t, lines[4], "1000")
}

func TestSortedErrors(t *testing.T) {
	got := SortedErrors(map[string]int64{"b": 2, "a": 2, "c": 5})
	assert.Equal(t, []ErrorCount{{"c", 5}, {"a", 2}, {"b", 2}}, got)
	assert.Empty(t, SortedErrors(nil))
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "500ms", formatDuration(500*time.Millisecond))
	assert.Equal(t, "1.5s", formatDuration(1500*time.Millisecond))
	assert.Equal(t, "2m 05s", formatDuration(125*time.Second))
	assert.Equal(t, "1h 01m 01s", formatDuration(time.Hour+61*time.Second))

	assert.Equal(t, "999", formatNumber(999))
	assert.Equal(t, "1,000", formatNumber(1000))
	assert.Equal(t, "1,234,567", formatNumber(1234567))
	assert.Equal(t, "-1,000", formatNumber(-1000))

	assert.Equal(t, "12.3ms", formatMillis(12.34))
	assert.Equal(t, "2.50s", formatMillis(2500))
}
