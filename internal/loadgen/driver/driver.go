// Package driver wires a load-generation run together: it verifies the
// target API, preloads reference doctors, starts the worker pool and stops
// it on request or when the configured duration elapses.
package driver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/doktolib/loadgen/internal/config"
	lghttp "github.com/doktolib/loadgen/internal/http"
	"github.com/doktolib/loadgen/internal/loadgen/metrics"
	"github.com/doktolib/loadgen/internal/loadgen/pool"
	"github.com/doktolib/loadgen/internal/loadgen/scenario"
	"github.com/doktolib/loadgen/internal/loadgen/session"
	"github.com/doktolib/loadgen/internal/output"
)

// Options configures a Driver.
type Options struct {
	Config  config.Config
	Catalog *scenario.Catalog
	Logger  *zap.Logger

	// Console receives the header and the reports; nil prints nothing.
	Console *output.Console

	// Transport overrides the HTTP transport of every client.
	Transport http.RoundTripper

	// NewRand overrides the per-worker random sources.
	NewRand func(workerID int) session.Rand
}

// Driver owns one run. Stop may be called from any goroutine, any number
// of times, before or during Run.
type Driver struct {
	config  config.Config
	catalog *scenario.Catalog
	logger  *zap.Logger
	console *output.Console
	opts    Options

	agg *metrics.Aggregator

	stopOnce sync.Once
	stopCh   chan struct{}

	mu          sync.Mutex
	profile     scenario.Profile
	pool        *pool.Pool
	metricsAddr string
}

// New creates a driver.
func New(opts Options) *Driver {
	if opts.Catalog == nil {
		opts.Catalog = scenario.Builtin()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Driver{
		config:  opts.Config,
		catalog: opts.Catalog,
		logger:  opts.Logger,
		console: opts.Console,
		opts:    opts,
		agg:     metrics.NewAggregator(),
		stopCh:  make(chan struct{}),
	}
}

// Run executes the whole run and returns the final snapshot. It fails
// with a *StartupError when the target cannot be verified; in that case
// no request beyond the checks is sent.
func (d *Driver) Run(ctx context.Context) (*metrics.Snapshot, error) {
	if err := d.config.Validate(); err != nil {
		return nil, &StartupError{Stage: StageConfig, Err: err}
	}

	profile, err := d.catalog.Resolve(d.config.Scenario)
	var cfgErr *scenario.ConfigError
	if errors.As(err, &cfgErr) {
		d.logger.Warn("unknown scenario, using fallback",
			zap.String("requested", cfgErr.Name), zap.String("fallback", profile.Name))
		if d.console != nil {
			d.console.Warn(cfgErr.Error())
		}
	}
	d.mu.Lock()
	d.profile = profile
	d.mu.Unlock()

	healthClient := d.newClient(d.config.HealthTimeout)
	if err := d.checkHealth(ctx, healthClient); err != nil {
		return nil, err
	}
	client := d.newClient(d.config.RequestTimeout)
	doctors, err := d.preloadDoctors(ctx, client)
	if err != nil {
		return nil, err
	}
	if len(doctors) == 0 {
		d.logger.Warn("no doctors preloaded; detail and booking actions are disabled")
	} else {
		d.logger.Info("doctors preloaded", zap.Int("count", len(doctors)))
	}
	if d.console != nil {
		d.console.Success(fmt.Sprintf("%s is healthy, %d doctors preloaded", d.config.BackendURL, len(doctors)))
	}

	if d.config.MetricsAddr != "" {
		srv, err := startMetricsServer(d.config.MetricsAddr, d.agg, d.logger.Named("metrics"))
		if err != nil {
			return nil, &StartupError{Stage: StageMetrics, URL: d.config.MetricsAddr, Err: err}
		}
		defer srv.shutdown()
		d.mu.Lock()
		d.metricsAddr = srv.Addr()
		d.mu.Unlock()
	}

	p, err := pool.New(d.poolConfig(profile, doctors, client))
	if err != nil {
		return nil, &StartupError{Stage: StageConfig, Err: err}
	}

	select {
	case <-d.stopCh:
		d.logger.Info("stop requested before start")
		return p.Stop(), nil
	default:
	}

	if d.console != nil {
		d.console.PrintHeader(output.RunInfo{
			Profile:    profile,
			BackendURL: d.config.BackendURL,
			Duration:   d.config.Duration,
			Doctors:    len(doctors),
			StrictRate: d.config.StrictRate,
			Seed:       d.config.Seed,
		})
	}

	// In-flight requests are bounded by their own timeout, not by ctx.
	if err := p.Start(context.WithoutCancel(ctx)); err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.pool = p
	d.mu.Unlock()

	timer := time.NewTimer(d.config.Duration)
	defer timer.Stop()

	select {
	case <-timer.C:
		d.logger.Info("duration elapsed", zap.Duration("duration", d.config.Duration))
	case <-ctx.Done():
		d.logger.Info("context canceled", zap.Error(ctx.Err()))
	case <-d.stopCh:
		d.logger.Info("stop requested")
	}

	return p.Stop(), nil
}

// Stop requests a graceful stop. It does not wait for the final report;
// Run returns once the pool has stopped.
func (d *Driver) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
}

// Stopping reports whether Stop has been called.
func (d *Driver) Stopping() bool {
	select {
	case <-d.stopCh:
		return true
	default:
		return false
	}
}

// Aggregator returns the run's aggregator.
func (d *Driver) Aggregator() *metrics.Aggregator {
	return d.agg
}

// Profile returns the resolved scenario; it is set once Run has started.
func (d *Driver) Profile() scenario.Profile {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.profile
}

// Pool returns the running pool, or nil before it starts.
func (d *Driver) Pool() *pool.Pool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pool
}

// MetricsAddr returns the metrics listener address, or "".
func (d *Driver) MetricsAddr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.metricsAddr
}

func (d *Driver) newClient(timeout time.Duration) *lghttp.Client {
	opts := []lghttp.ClientOption{
		lghttp.WithBaseURL(d.config.BackendURL),
		lghttp.WithTimeout(timeout),
	}
	if d.opts.Transport != nil {
		opts = append(opts, lghttp.WithTransport(d.opts.Transport))
	}
	return lghttp.NewClient(opts...)
}

func (d *Driver) poolConfig(profile scenario.Profile, doctors []session.Doctor, client *lghttp.Client) pool.Config {
	var reporter pool.Reporter
	if d.console != nil && !d.config.JSON {
		reporter = d.console
	}
	return pool.Config{
		Profile:         profile,
		Doctors:         doctors,
		Executor:        lghttp.NewExecutor(client, d.agg, d.logger),
		Aggregator:      d.agg,
		Reporter:        reporter,
		Logger:          d.logger,
		Seed:            d.config.Seed,
		NewRand:         d.opts.NewRand,
		MinSessionDelay: d.config.SessionDelay.Min.Std(),
		MaxSessionDelay: d.config.SessionDelay.Max.Std(),
		MinActionDelay:  d.config.ActionDelay.Min.Std(),
		MaxActionDelay:  d.config.ActionDelay.Max.Std(),
		ReportInterval:  d.config.ReportInterval,
		StrictRate:      d.config.StrictRate,
	}
}
