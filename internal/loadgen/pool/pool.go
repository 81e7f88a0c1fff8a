// Package pool runs a fixed set of simulated users against the booking API
// and owns the run lifecycle: start, periodic reporting and graceful stop.
package pool

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/doktolib/loadgen/internal/loadgen/metrics"
	"github.com/doktolib/loadgen/internal/loadgen/scenario"
	"github.com/doktolib/loadgen/internal/loadgen/session"
)

// State is the pool lifecycle state.
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Defaults for Config fields left at zero.
const (
	DefaultMinSessionDelay = 1 * time.Second
	DefaultMaxSessionDelay = 10 * time.Second
	DefaultReportInterval  = 30 * time.Second
	DefaultGracePeriod     = 2 * time.Second
	DefaultFaultBackoff    = 5 * time.Second
)

// ErrAlreadyStarted is returned by Start on a pool that has left the
// created state.
var ErrAlreadyStarted = errors.New("pool already started")

// Reporter receives aggregate snapshots while the pool runs and once more
// when it stops.
type Reporter interface {
	Report(snap *metrics.Snapshot, final bool)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(snap *metrics.Snapshot, final bool)

// Report calls f.
func (f ReporterFunc) Report(snap *metrics.Snapshot, final bool) { f(snap, final) }

// SessionFactory builds the session runner of one worker. The rng is owned
// by that worker.
type SessionFactory func(workerID int, rng session.Rand, pacer session.Pacer) Runner

// Config configures a Pool.
type Config struct {
	Profile scenario.Profile
	Doctors []session.Doctor

	// Executor sends requests; required unless Sessions is set.
	Executor   session.Executor
	Aggregator *metrics.Aggregator
	Reporter   Reporter
	Logger     *zap.Logger

	// Seed feeds the per-worker random sources (seed + worker id).
	Seed int64
	// NewRand overrides the per-worker random source.
	NewRand func(workerID int) session.Rand
	// Sessions overrides how worker sessions are built.
	Sessions SessionFactory

	MinSessionDelay time.Duration
	MaxSessionDelay time.Duration
	MinActionDelay  time.Duration
	MaxActionDelay  time.Duration
	ReportInterval  time.Duration
	GracePeriod     time.Duration
	FaultBackoff    time.Duration

	// StrictRate shares one token bucket across all workers, refilled at
	// the profile's target rate. Off by default: the target rate is then
	// only approached statistically through concurrency and delays.
	StrictRate bool
}

func (c *Config) setDefaults() {
	if c.MinSessionDelay <= 0 && c.MaxSessionDelay <= 0 {
		c.MinSessionDelay = DefaultMinSessionDelay
		c.MaxSessionDelay = DefaultMaxSessionDelay
	}
	if c.ReportInterval <= 0 {
		c.ReportInterval = DefaultReportInterval
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	if c.FaultBackoff <= 0 {
		c.FaultBackoff = DefaultFaultBackoff
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Aggregator == nil {
		c.Aggregator = metrics.NewAggregator()
	}
	if c.NewRand == nil {
		seed := c.Seed
		c.NewRand = func(id int) session.Rand {
			return rand.New(rand.NewSource(seed + int64(id)))
		}
	}
}

// Pool runs Profile.Concurrency workers until stopped.
type Pool struct {
	config Config
	logger *zap.Logger

	state    atomic.Int32
	sessions atomic.Int64
	active   atomic.Int32

	workers []*Worker
	limiter *rate.Limiter

	ctx        context.Context
	stopCh     chan struct{}
	doneCh     chan struct{}
	reporterCh chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup

	mu         sync.Mutex
	lastReport *metrics.Snapshot
	final      *metrics.Snapshot
}

// New creates a pool in the created state.
func New(config Config) (*Pool, error) {
	if err := config.Profile.Validate(); err != nil {
		return nil, err
	}
	if config.Executor == nil && config.Sessions == nil {
		return nil, errors.New("pool: executor is required")
	}
	config.setDefaults()

	p := &Pool{
		config:     config,
		logger:     config.Logger.Named("pool"),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		reporterCh: make(chan struct{}),
	}
	if config.StrictRate {
		p.limiter = rate.NewLimiter(rate.Limit(config.Profile.RatePerSecond()), 1)
	}
	if p.config.Sessions == nil {
		p.config.Sessions = p.newSimulator
	}
	return p, nil
}

func (p *Pool) newSimulator(workerID int, rng session.Rand, pacer session.Pacer) Runner {
	sim := session.New(session.Config{
		BookingProbability: p.config.Profile.BookingProbability,
		MinActionDelay:     p.config.MinActionDelay,
		MaxActionDelay:     p.config.MaxActionDelay,
	}, p.config.Doctors, p.config.Executor, rng)
	if pacer != nil {
		sim.WithPacer(pacer)
	}
	return sim
}

// Start spawns the workers and the periodic reporter. It returns once
// every worker has entered its first session. Requests run under ctx;
// Stop does not cancel it, so calls in flight finish on their own timeout.
func (p *Pool) Start(ctx context.Context) error {
	if !p.state.CompareAndSwap(int32(StateCreated), int32(StateRunning)) {
		return ErrAlreadyStarted
	}
	p.ctx = ctx

	var pacer session.Pacer
	if p.limiter != nil {
		pacer = &limiterPacer{limiter: p.limiter, stop: p.stopCh}
	}

	n := p.config.Profile.Concurrency
	p.logger.Info("starting workers",
		zap.String("scenario", p.config.Profile.Name),
		zap.Int("workers", n),
		zap.Int("target_rpm", p.config.Profile.TargetRequestsPerMinute),
		zap.Bool("strict_rate", p.limiter != nil))

	var ready sync.WaitGroup
	p.workers = make([]*Worker, 0, n)
	for i := 1; i <= n; i++ {
		rng := p.config.NewRand(i)
		w := newWorker(i, rng, p.config.Sessions(i, rng, pacer))
		p.workers = append(p.workers, w)

		ready.Add(1)
		p.wg.Add(1)
		go p.runWorker(w, sync.OnceFunc(ready.Done))
	}
	ready.Wait()

	go p.runReporter()
	return nil
}

// runWorker loops sessions until the pool leaves the running state.
func (p *Pool) runWorker(w *Worker, ready func()) {
	defer p.wg.Done()
	defer w.markStopped()
	defer ready()

	p.active.Add(1)
	defer p.active.Add(-1)

	logger := p.logger.With(zap.Int("worker", w.ID))
	for {
		if p.stopping() {
			return
		}

		p.sessions.Add(1)
		w.sessions.Add(1)
		ready()

		err := w.runSession(p.ctx, p.stopCh)
		if err != nil && !p.stopping() {
			logger.Error("session failed", zap.Error(err), zap.Duration("backoff", p.config.FaultBackoff))
			w.state.Store(int32(WorkerBackoff))
			if !p.sleep(p.config.FaultBackoff) {
				return
			}
			continue
		}

		if !p.sleep(session.Uniform(w.rng, p.config.MinSessionDelay, p.config.MaxSessionDelay)) {
			return
		}
	}
}

func (p *Pool) runReporter() {
	defer close(p.reporterCh)

	ticker := time.NewTicker(p.config.ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			if p.State() != StateRunning {
				return
			}
			snap := p.config.Aggregator.Snapshot()
			p.mu.Lock()
			p.lastReport = snap
			p.mu.Unlock()
			if p.config.Reporter != nil {
				p.config.Reporter.Report(snap, false)
			}
		}
	}
}

// Stop stops the pool and blocks until it reaches the stopped state.
// Workers finish their current call and start no new session; after they
// exit, or after the grace period, the final snapshot is reported once.
// Stop is safe to call any number of times from any goroutine.
func (p *Pool) Stop() *metrics.Snapshot {
	p.stopOnce.Do(p.shutdown)
	<-p.doneCh
	return p.FinalSnapshot()
}

func (p *Pool) shutdown() {
	if p.state.CompareAndSwap(int32(StateCreated), int32(StateStopped)) {
		close(p.stopCh)
		close(p.reporterCh)
		p.finish()
		return
	}

	p.state.Store(int32(StateStopping))
	p.logger.Info("stopping workers", zap.Duration("grace", p.config.GracePeriod))
	close(p.stopCh)
	<-p.reporterCh

	workersDone := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(workersDone)
	}()

	select {
	case <-workersDone:
	case <-time.After(p.config.GracePeriod):
		p.logger.Warn("grace period elapsed with workers still busy",
			zap.Int32("active", p.active.Load()))
	}

	p.state.Store(int32(StateStopped))
	p.finish()
}

func (p *Pool) finish() {
	snap := p.config.Aggregator.Snapshot()
	p.mu.Lock()
	p.final = snap
	p.mu.Unlock()

	if p.config.Reporter != nil {
		p.config.Reporter.Report(snap, true)
	}
	p.logger.Info("pool stopped",
		zap.Int64("sessions", p.sessions.Load()),
		zap.Int64("requests", snap.TotalRequests))
	close(p.doneCh)
}

// Done is closed once the pool has stopped and the final report is out.
func (p *Pool) Done() <-chan struct{} {
	return p.doneCh
}

// State returns the current lifecycle state.
func (p *Pool) State() State {
	return State(p.state.Load())
}

// SessionsStarted returns how many sessions have been started so far.
func (p *Pool) SessionsStarted() int64 {
	return p.sessions.Load()
}

// ActiveWorkers returns how many worker loops are still running.
func (p *Pool) ActiveWorkers() int {
	return int(p.active.Load())
}

// Workers returns the pool's workers. The slice is fixed after Start.
func (p *Pool) Workers() []*Worker {
	return p.workers
}

// LastReport returns the most recent periodic snapshot, or nil.
func (p *Pool) LastReport() *metrics.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastReport
}

// FinalSnapshot returns the snapshot reported at stop, or nil while running.
func (p *Pool) FinalSnapshot() *metrics.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.final
}

func (p *Pool) stopping() bool {
	select {
	case <-p.stopCh:
		return true
	default:
		return false
	}
}

// sleep waits for d; it returns false when the pool is stopping.
func (p *Pool) sleep(d time.Duration) bool {
	if p.stopping() {
		return false
	}
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-p.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

// limiterPacer waits on a shared token bucket, giving up when the pool stops.
type limiterPacer struct {
	limiter *rate.Limiter
	stop    <-chan struct{}
}

func (l *limiterPacer) Wait(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-l.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	return nil
}
