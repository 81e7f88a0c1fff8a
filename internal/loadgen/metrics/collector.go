package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes an Aggregator to Prometheus. Values are read from a
// fresh snapshot on every scrape, so nothing is recorded twice.
type Collector struct {
	agg *Aggregator

	requests         *prometheus.Desc
	errors           *prometheus.Desc
	endpointRequests *prometheus.Desc
	endpointSuccess  *prometheus.Desc
	latency          *prometheus.Desc
	rate             *prometheus.Desc
}

// NewCollector creates a collector for the given aggregator.
func NewCollector(agg *Aggregator) *Collector {
	return &Collector{
		agg: agg,
		requests: prometheus.NewDesc(
			"loadgen_requests_total",
			"Requests issued against the target API by result.",
			[]string{"result"}, nil),
		errors: prometheus.NewDesc(
			"loadgen_errors_total",
			"Failed requests by error code.",
			[]string{"code"}, nil),
		endpointRequests: prometheus.NewDesc(
			"loadgen_endpoint_requests_total",
			"Requests per normalized endpoint.",
			[]string{"endpoint"}, nil),
		endpointSuccess: prometheus.NewDesc(
			"loadgen_endpoint_successes_total",
			"Successful requests per normalized endpoint.",
			[]string{"endpoint"}, nil),
		latency: prometheus.NewDesc(
			"loadgen_latency_milliseconds",
			"Latency of successful requests.",
			[]string{"quantile"}, nil),
		rate: prometheus.NewDesc(
			"loadgen_requests_per_minute",
			"Observed request rate since the run started.",
			nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requests
	ch <- c.errors
	ch <- c.endpointRequests
	ch <- c.endpointSuccess
	ch <- c.latency
	ch <- c.rate
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.agg.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(snap.SuccessCount), "success")
	ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(snap.FailureCount), "failure")

	for code, n := range snap.Errors {
		ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(n), code)
	}
	for endpoint, stats := range snap.Endpoints {
		ch <- prometheus.MustNewConstMetric(c.endpointRequests, prometheus.CounterValue, float64(stats.Requests), endpoint)
		ch <- prometheus.MustNewConstMetric(c.endpointSuccess, prometheus.CounterValue, float64(stats.Successes), endpoint)
	}

	ch <- prometheus.MustNewConstMetric(c.latency, prometheus.GaugeValue, snap.Latency.P50, "0.5")
	ch <- prometheus.MustNewConstMetric(c.latency, prometheus.GaugeValue, snap.Latency.P95, "0.95")
	ch <- prometheus.MustNewConstMetric(c.latency, prometheus.GaugeValue, snap.Latency.P99, "0.99")
	ch <- prometheus.MustNewConstMetric(c.rate, prometheus.GaugeValue, snap.RequestsPerMinute)
}

var _ prometheus.Collector = (*Collector)(nil)
