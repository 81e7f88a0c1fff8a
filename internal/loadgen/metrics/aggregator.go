package metrics

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Aggregator accumulates request outcomes and computes summary statistics.
//
// Every write goes through a single mutex, so concurrent workers never lose
// updates. Latency samples of successful requests are retained in full so
// that percentiles are exact rather than histogram approximations; the
// per-endpoint hdr histograms only back the endpoint breakdown.
//
// # Thread Safety
//
// Aggregator is safe for concurrent use.
type Aggregator struct {
	mu sync.Mutex

	total    int64
	success  int64
	failure  int64
	errors   map[string]int64
	samples  []float64
	sumMs    float64
	order    []string
	perEndpt map[string]*endpointAccumulator

	startTime time.Time
	now       func() time.Time
	config    AggregatorConfig
}

// AggregatorConfig contains configuration for the aggregator.
type AggregatorConfig struct {
	// HistogramMin is the minimum recordable value in microseconds (default: 1)
	HistogramMin int64

	// HistogramMax is the maximum recordable value in microseconds (default: 1 hour)
	HistogramMax int64

	// HistogramSigFigs is the number of significant figures (default: 3)
	HistogramSigFigs int

	// Clock overrides time.Now, mostly for tests.
	Clock func() time.Time
}

// DefaultAggregatorConfig returns the default configuration.
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		HistogramMin:     1,
		HistogramMax:     3600000000, // 1 hour in microseconds
		HistogramSigFigs: 3,
	}
}

type endpointAccumulator struct {
	requests  int64
	successes int64
	avgMs     float64
	hist      *hdrhistogram.Histogram
}

// NewAggregator creates an aggregator with the default configuration.
func NewAggregator() *Aggregator {
	return NewAggregatorWithConfig(DefaultAggregatorConfig())
}

// NewAggregatorWithConfig creates an aggregator with a custom configuration.
func NewAggregatorWithConfig(config AggregatorConfig) *Aggregator {
	defaults := DefaultAggregatorConfig()
	if config.HistogramMin <= 0 {
		config.HistogramMin = defaults.HistogramMin
	}
	if config.HistogramMax <= config.HistogramMin {
		config.HistogramMax = defaults.HistogramMax
	}
	if config.HistogramSigFigs <= 0 {
		config.HistogramSigFigs = defaults.HistogramSigFigs
	}

	now := config.Clock
	if now == nil {
		now = time.Now
	}

	return &Aggregator{
		errors:    make(map[string]int64),
		perEndpt:  make(map[string]*endpointAccumulator),
		startTime: now(),
		now:       now,
		config:    config,
	}
}

// Record adds one outcome to the running totals.
func (a *Aggregator) Record(o Outcome) {
	endpoint := o.Endpoint
	if endpoint == "" {
		endpoint = "/"
	}
	latencyMs := o.LatencyMillis()
	if latencyMs < 0 {
		latencyMs = 0
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.total++

	ep, ok := a.perEndpt[endpoint]
	if !ok {
		ep = &endpointAccumulator{
			hist: hdrhistogram.New(a.config.HistogramMin, a.config.HistogramMax, a.config.HistogramSigFigs),
		}
		a.perEndpt[endpoint] = ep
		a.order = append(a.order, endpoint)
	}
	ep.requests++

	if !o.Success {
		a.failure++
		code := o.Code
		if code == "" {
			code = CodeUnknown
		}
		a.errors[code]++
		return
	}

	a.success++
	a.samples = append(a.samples, latencyMs)
	a.sumMs += latencyMs

	ep.successes++
	ep.avgMs = (ep.avgMs*float64(ep.successes-1) + latencyMs) / float64(ep.successes)

	// RecordValue only fails for out-of-range values, which are clamped first.
	_ = ep.hist.RecordValue(a.clampMicros(o.Latency.Microseconds()))
}

func (a *Aggregator) clampMicros(v int64) int64 {
	if v < a.config.HistogramMin {
		return a.config.HistogramMin
	}
	if v > a.config.HistogramMax {
		return a.config.HistogramMax
	}
	return v
}

// Snapshot returns a point-in-time copy of the accumulated statistics.
func (a *Aggregator) Snapshot() *Snapshot {
	a.mu.Lock()
	samples := make([]float64, len(a.samples))
	copy(samples, a.samples)
	sumMs := a.sumMs

	errs := make(map[string]int64, len(a.errors))
	for code, n := range a.errors {
		errs[code] = n
	}

	endpoints := make(map[string]EndpointStats, len(a.perEndpt))
	for key, ep := range a.perEndpt {
		endpoints[key] = EndpointStats{
			Requests:         ep.requests,
			Successes:        ep.successes,
			AvgLatencyMillis: ep.avgMs,
			P95Millis:        float64(ep.hist.ValueAtQuantile(95)) / 1000.0,
		}
	}
	order := make([]string, len(a.order))
	copy(order, a.order)

	total, success, failure := a.total, a.success, a.failure
	start := a.startTime
	a.mu.Unlock()

	sort.Float64s(samples)

	now := a.now()
	elapsed := now.Sub(start)

	snap := &Snapshot{
		TotalRequests:  total,
		SuccessCount:   success,
		FailureCount:   failure,
		Errors:         errs,
		Endpoints:      endpoints,
		EndpointOrder:  order,
		LatencySamples: samples,
		Latency: LatencyStats{
			P50:   Percentile(samples, 0.50),
			P95:   Percentile(samples, 0.95),
			P99:   Percentile(samples, 0.99),
			Count: len(samples),
		},
		Elapsed:   elapsed,
		StartTime: start,
		Timestamp: now,
	}

	if len(samples) > 0 {
		snap.Latency.Avg = sumMs / float64(len(samples))
		snap.Latency.Min = samples[0]
		snap.Latency.Max = samples[len(samples)-1]
	}
	if total > 0 {
		snap.SuccessRate = float64(success) / float64(total)
		snap.ErrorRate = float64(failure) / float64(total)
	}
	if elapsed > 0 {
		snap.RequestsPerMinute = float64(total) / elapsed.Minutes()
	}

	return snap
}

// Reset clears all statistics and restarts the runtime clock.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.total, a.success, a.failure = 0, 0, 0
	a.errors = make(map[string]int64)
	a.samples = nil
	a.sumMs = 0
	a.order = nil
	a.perEndpt = make(map[string]*endpointAccumulator)
	a.startTime = a.now()
}

// Percentile returns the value at index floor(n*p) of an ascending slice,
// clamped to the slice bounds. An empty slice yields 0.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(math.Floor(float64(n) * p))
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return sorted[idx]
}

// Snapshot contains a point-in-time view of the aggregate statistics.
type Snapshot struct {
	TotalRequests int64                    `json:"totalRequests"`
	SuccessCount  int64                    `json:"successCount"`
	FailureCount  int64                    `json:"failureCount"`
	Errors        map[string]int64         `json:"errors"`
	Endpoints     map[string]EndpointStats `json:"endpoints"`

	// EndpointOrder lists endpoint keys in first-seen order.
	EndpointOrder []string `json:"-"`

	// LatencySamples holds successful latencies in ms, ascending.
	LatencySamples []float64 `json:"-"`

	Latency           LatencyStats  `json:"latency"`
	SuccessRate       float64       `json:"successRate"`
	ErrorRate         float64       `json:"errorRate"`
	RequestsPerMinute float64       `json:"requestsPerMinute"`
	Elapsed           time.Duration `json:"elapsed"`
	StartTime         time.Time     `json:"startTime"`
	Timestamp         time.Time     `json:"timestamp"`
}

// EndpointStats contains per-endpoint counters.
type EndpointStats struct {
	Requests         int64   `json:"requests"`
	Successes        int64   `json:"successes"`
	AvgLatencyMillis float64 `json:"avgLatencyMs"`
	P95Millis        float64 `json:"p95Ms"`
}

// SuccessRate returns the endpoint success ratio, 0 when it saw no requests.
func (s EndpointStats) SuccessRate() float64 {
	if s.Requests == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Requests)
}

// LatencyStats contains latency statistics in milliseconds.
type LatencyStats struct {
	Avg   float64 `json:"avgMs"`
	Min   float64 `json:"minMs"`
	Max   float64 `json:"maxMs"`
	P50   float64 `json:"p50Ms"`
	P95   float64 `json:"p95Ms"`
	P99   float64 `json:"p99Ms"`
	Count int     `json:"count"`
}
