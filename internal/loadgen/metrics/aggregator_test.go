package metrics

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

func TestNewAggregator_EmptySnapshot(t *testing.T) {
	agg := NewAggregator()
	snap := agg.Snapshot()

	assert.Equal(t, int64(0), snap.TotalRequests)
	assert.Equal(t, 0.0, snap.SuccessRate)
	assert.Equal(t, 0.0, snap.ErrorRate)
	assert.Equal(t, 0.0, snap.Latency.Avg)
	assert.Equal(t, 0.0, snap.Latency.P50)
	assert.Equal(t, 0.0, snap.Latency.P95)
	assert.Equal(t, 0.0, snap.Latency.P99)
	assert.Empty(t, snap.Errors)
	assert.Empty(t, snap.Endpoints)
}

func TestPercentile(t *testing.T) {
	tests := []struct {
		name    string
		samples []float64
		p       float64
		want    float64
	}{
		{"empty p50", nil, 0.50, 0},
		{"empty p99", []float64{}, 0.99, 0},
		{"p50 of five", []float64{10, 20, 30, 40, 100}, 0.50, 30},
		{"p95 of five", []float64{10, 20, 30, 40, 100}, 0.95, 100},
		{"p99 of five", []float64{10, 20, 30, 40, 100}, 0.99, 100},
		{"single", []float64{7}, 0.99, 7},
		{"p100 clamps", []float64{1, 2, 3}, 1.0, 3},
		{"negative clamps", []float64{1, 2, 3}, -0.5, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Percentile(tt.samples, tt.p))
		})
	}
}

func TestAggregator_Percentiles(t *testing.T) {
	agg := NewAggregator()
	for _, l := range []int{100, 30, 10, 40, 20} {
		agg.Record(Outcome{Endpoint: "/api/v1/doctors", Method: "GET", Success: true, Code: "200", Latency: ms(l)})
	}

	snap := agg.Snapshot()
	assert.Equal(t, []float64{10, 20, 30, 40, 100}, snap.LatencySamples)
	assert.Equal(t, 30.0, snap.Latency.P50)
	assert.Equal(t, 100.0, snap.Latency.P95)
	assert.Equal(t, 100.0, snap.Latency.P99)
	assert.Equal(t, 40.0, snap.Latency.Avg)
	assert.Equal(t, 10.0, snap.Latency.Min)
	assert.Equal(t, 100.0, snap.Latency.Max)
}

func TestAggregator_CountsAndErrors(t *testing.T) {
	agg := NewAggregator()

	agg.Record(Outcome{Endpoint: "/api/v1/doctors", Success: true, Code: "200", Latency: ms(10)})
	agg.Record(Outcome{Endpoint: "/api/v1/doctors", Success: false, Code: "500", Latency: ms(20)})
	agg.Record(Outcome{Endpoint: "/api/v1/appointments", Success: false, Code: CodeTimeout, Latency: 10 * time.Second})
	agg.Record(Outcome{Endpoint: "/api/v1/appointments", Success: false, Latency: ms(1)})

	snap := agg.Snapshot()
	assert.Equal(t, int64(4), snap.TotalRequests)
	assert.Equal(t, int64(1), snap.SuccessCount)
	assert.Equal(t, int64(3), snap.FailureCount)
	assert.Equal(t, snap.TotalRequests, snap.SuccessCount+snap.FailureCount)
	assert.Equal(t, map[string]int64{"500": 1, CodeTimeout: 1, CodeUnknown: 1}, snap.Errors)
	assert.InDelta(t, 0.25, snap.SuccessRate, 1e-9)

	doctors := snap.Endpoints["/api/v1/doctors"]
	assert.Equal(t, int64(2), doctors.Requests)
	assert.Equal(t, int64(1), doctors.Successes)
	assert.Equal(t, 10.0, doctors.AvgLatencyMillis)
	assert.InDelta(t, 0.5, doctors.SuccessRate(), 1e-9)

	appts := snap.Endpoints["/api/v1/appointments"]
	assert.Equal(t, int64(2), appts.Requests)
	assert.Equal(t, int64(0), appts.Successes)
	assert.Equal(t, 0.0, appts.SuccessRate())
	assert.Equal(t, 0.0, appts.AvgLatencyMillis)

	// Failed latencies are not part of the percentile samples.
	assert.Equal(t, []float64{10}, snap.LatencySamples)
	assert.Equal(t, []string{"/api/v1/doctors", "/api/v1/appointments"}, snap.EndpointOrder)
}

func TestAggregator_ConcurrentAverageMatchesMean(t *testing.T) {
	agg := NewAggregator()

	const writers = 16
	const perWriter = 250

	var wg sync.WaitGroup
	var mu sync.Mutex
	var sum float64
	var count int

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				lat := ms((w*perWriter+i)%997 + 1)
				success := i%5 != 0
				agg.Record(Outcome{Endpoint: "/api/v1/doctors/{id}", Success: success, Code: "200", Latency: lat})
				if success {
					mu.Lock()
					sum += float64(lat) / float64(time.Millisecond)
					count++
					mu.Unlock()
				}
			}
		}(w)
	}
	wg.Wait()

	snap := agg.Snapshot()
	require.Equal(t, int64(writers*perWriter), snap.TotalRequests)
	assert.Equal(t, snap.TotalRequests, snap.SuccessCount+snap.FailureCount)
	assert.Equal(t, int64(count), snap.SuccessCount)

	mean := sum / float64(count)
	assert.InDelta(t, mean, snap.Endpoints["/api/v1/doctors/{id}"].AvgLatencyMillis, 1e-6)
	assert.InDelta(t, mean, snap.Latency.Avg, 1e-6)
}

func TestAggregator_SnapshotMonotonic(t *testing.T) {
	agg := NewAggregator()

	var last int64
	for i := 0; i < 20; i++ {
		agg.Record(Outcome{Endpoint: "/api/v1/health", Success: i%3 != 0, Code: fmt.Sprint(200), Latency: ms(i)})
		snap := agg.Snapshot()
		assert.GreaterOrEqual(t, snap.TotalRequests, last)
		assert.Equal(t, snap.TotalRequests, snap.SuccessCount+snap.FailureCount)
		last = snap.TotalRequests
	}
}

func TestAggregator_RequestsPerMinute(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := start
	agg := NewAggregatorWithConfig(AggregatorConfig{Clock: func() time.Time { return now }})

	// No elapsed time: the rate must be guarded, not NaN or Inf.
	agg.Record(Outcome{Endpoint: "/api/v1/health", Success: true, Code: "200", Latency: ms(1)})
	assert.Equal(t, 0.0, agg.Snapshot().RequestsPerMinute)

	for i := 0; i < 59; i++ {
		agg.Record(Outcome{Endpoint: "/api/v1/health", Success: true, Code: "200", Latency: ms(1)})
	}
	now = start.Add(30 * time.Second)
	snap := agg.Snapshot()
	assert.InDelta(t, 120.0, snap.RequestsPerMinute, 1e-9)
	assert.Equal(t, 30*time.Second, snap.Elapsed)
}

func TestAggregator_EndpointP95(t *testing.T) {
	agg := NewAggregator()
	for i := 1; i <= 100; i++ {
		agg.Record(Outcome{Endpoint: "/api/v1/doctors", Success: true, Code: "200", Latency: ms(i)})
	}

	p95 := agg.Snapshot().Endpoints["/api/v1/doctors"].P95Millis
	// hdr histogram binning: allow a small tolerance
	assert.InDelta(t, 95.0, p95, 1.0)
}

func TestAggregator_Reset(t *testing.T) {
	agg := NewAggregator()
	agg.Record(Outcome{Endpoint: "/api/v1/doctors", Success: false, Code: "503", Latency: ms(5)})
	agg.Reset()

	snap := agg.Snapshot()
	assert.Equal(t, int64(0), snap.TotalRequests)
	assert.Empty(t, snap.Errors)
	assert.Empty(t, snap.Endpoints)
}

func TestCollector(t *testing.T) {
	agg := NewAggregator()
	agg.Record(Outcome{Endpoint: "/api/v1/doctors", Success: true, Code: "200", Latency: ms(12)})
	agg.Record(Outcome{Endpoint: "/api/v1/appointments", Success: false, Code: "422", Latency: ms(8)})

	c := NewCollector(agg)
	assert.Equal(t, 2, testutil.CollectAndCount(c, "loadgen_requests_total"))
	assert.Equal(t, 1, testutil.CollectAndCount(c, "loadgen_errors_total"))
	assert.Equal(t, 2, testutil.CollectAndCount(c, "loadgen_endpoint_requests_total"))
	assert.Equal(t, 3, testutil.CollectAndCount(c, "loadgen_latency_milliseconds"))
}
