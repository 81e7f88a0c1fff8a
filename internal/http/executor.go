package http

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/doktolib/loadgen/internal/loadgen/metrics"
)

// Recorder receives one outcome per executed request.
type Recorder interface {
	Record(metrics.Outcome)
}

// Executor issues single requests, times them, classifies the result and
// reports it. It never returns an error: transport faults, timeouts and
// non-2xx responses all become failed outcomes.
type Executor struct {
	client   *Client
	recorder Recorder
	logger   *zap.Logger
}

// NewExecutor creates an executor that reports to recorder.
func NewExecutor(client *Client, recorder Recorder, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		client:   client,
		recorder: recorder,
		logger:   logger.Named("executor"),
	}
}

// Execute performs req and records exactly one outcome for it.
func (e *Executor) Execute(ctx context.Context, req *Request) metrics.Outcome {
	if _, ok := req.Headers["X-Request-ID"]; !ok {
		req.WithHeader("X-Request-ID", uuid.NewString())
	}

	start := time.Now()
	resp, err := e.client.Do(ctx, req)
	latency := time.Since(start)

	outcome := metrics.Outcome{
		Endpoint:  req.Endpoint(),
		Method:    req.Method,
		Latency:   latency,
		Timestamp: start,
	}

	switch {
	case err != nil:
		outcome.Code = ClassifyError(err)
		if resp != nil {
			outcome.StatusCode = resp.StatusCode
		}
	case resp.IsSuccess():
		outcome.Success = true
		outcome.StatusCode = resp.StatusCode
		outcome.Code = strconv.Itoa(resp.StatusCode)
	default:
		outcome.StatusCode = resp.StatusCode
		outcome.Code = strconv.Itoa(resp.StatusCode)
	}

	e.recorder.Record(outcome)

	if outcome.Success {
		e.logger.Debug("request succeeded",
			zap.String("request", req.String()),
			zap.Int("status", outcome.StatusCode),
			zap.Duration("latency", latency))
	} else {
		e.logger.Info("request failed",
			zap.String("request", req.String()),
			zap.String("code", outcome.Code),
			zap.Duration("latency", latency),
			zap.Error(err))
	}

	return outcome
}

// ClassifyError maps a transport error to a stable error code.
func ClassifyError(err error) string {
	if err == nil {
		return metrics.CodeUnknown
	}

	var buildErr *BuildError
	if errors.As(err, &buildErr) {
		return metrics.CodeInvalidRequest
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return metrics.CodeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return metrics.CodeTimeout
	}

	if errors.Is(err, context.Canceled) {
		return metrics.CodeCanceled
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return metrics.CodeConnRefused
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return metrics.CodeConnReset
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return metrics.CodeUnexpectedEOF
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return metrics.CodeHostNotFound
	}

	return metrics.CodeUnknown
}
