package pool

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/doktolib/loadgen/internal/loadgen/session"
)

// WorkerState represents the lifecycle state of a worker.
type WorkerState int32

const (
	// WorkerIdle indicates the worker is between sessions.
	WorkerIdle WorkerState = iota
	// WorkerRunning indicates the worker is inside a session.
	WorkerRunning
	// WorkerBackoff indicates the worker is waiting after a fault.
	WorkerBackoff
	// WorkerStopped indicates the worker loop has exited.
	WorkerStopped
)

func (s WorkerState) String() string {
	switch s {
	case WorkerIdle:
		return "idle"
	case WorkerRunning:
		return "running"
	case WorkerBackoff:
		return "backoff"
	case WorkerStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Runner runs one user session and reports how many calls it issued.
type Runner interface {
	Run(ctx context.Context, stop <-chan struct{}) (int, error)
}

// Worker is one simulated user looping over sessions.
//
// Each worker owns its random source and its session runner; the only
// state it shares with other workers is the aggregator and the read-only
// reference doctors held by the runner.
type Worker struct {
	// ID is the 1-based worker number.
	ID int

	rng    session.Rand
	runner Runner

	state    atomic.Int32
	sessions atomic.Int64
	calls    atomic.Int64
	faults   atomic.Int64
	doneCh   chan struct{}
}

func newWorker(id int, rng session.Rand, runner Runner) *Worker {
	return &Worker{
		ID:     id,
		rng:    rng,
		runner: runner,
		doneCh: make(chan struct{}),
	}
}

// State returns the current worker state.
func (w *Worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

// Sessions returns how many sessions this worker has started.
func (w *Worker) Sessions() int64 {
	return w.sessions.Load()
}

// Calls returns how many requests this worker has issued.
func (w *Worker) Calls() int64 {
	return w.calls.Load()
}

// Faults returns how many sessions ended in an error or a panic.
func (w *Worker) Faults() int64 {
	return w.faults.Load()
}

// runSession runs one session, turning a panic into an error so that a
// single bad session never takes the pool down.
func (w *Worker) runSession(ctx context.Context, stop <-chan struct{}) (err error) {
	w.state.Store(int32(WorkerRunning))
	defer w.state.CompareAndSwap(int32(WorkerRunning), int32(WorkerIdle))

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("session panicked: %v", r)
		}
		if err != nil {
			w.faults.Add(1)
		}
	}()

	n, err := w.runner.Run(ctx, stop)
	w.calls.Add(int64(n))
	return err
}

func (w *Worker) markStopped() {
	w.state.Store(int32(WorkerStopped))
	select {
	case <-w.doneCh:
	default:
		close(w.doneCh)
	}
}
