package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/doktolib/loadgen/internal/logging"
	"github.com/doktolib/loadgen/internal/stubapi"
)

func newServeStubCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve-stub",
		Short: "Serve an in-memory booking API for dry runs",
		Long: `serve-stub answers the health, doctor listing, doctor detail and booking
routes from memory so that 'loadgen run' can be tried without the real
backend. Latency and failures can be injected.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			level, _ := cmd.Flags().GetString("log-level")

			logger, err := logging.New(level)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serveStub(ctx, ln, stubConfig(cmd, logger), logger)
		},
	}

	cmd.Flags().String("addr", "127.0.0.1:8080", "Listen address")
	cmd.Flags().Int("doctors", 200, "Number of generated doctors")
	cmd.Flags().Int64("seed", 1, "Seed for the generated directory")
	cmd.Flags().Duration("latency", 0, "Delay added to every response")
	cmd.Flags().Float64("failure-rate", 0, "Share of requests answered with a 500 (0-1)")
	cmd.Flags().String("log-level", "info", "Log level: debug, info, warn or error")
	return cmd
}

func stubConfig(cmd *cobra.Command, logger *zap.Logger) stubapi.Config {
	doctors, _ := cmd.Flags().GetInt("doctors")
	seed, _ := cmd.Flags().GetInt64("seed")
	latency, _ := cmd.Flags().GetDuration("latency")
	failureRate, _ := cmd.Flags().GetFloat64("failure-rate")
	return stubapi.Config{
		Doctors:     doctors,
		Seed:        seed,
		Latency:     latency,
		FailureRate: failureRate,
		Logger:      logger.Named("stub"),
	}
}

// serveStub runs the stub on ln until ctx is done.
func serveStub(ctx context.Context, ln net.Listener, config stubapi.Config, logger *zap.Logger) error {
	server := &http.Server{
		Handler:           stubapi.New(config),
		ReadHeaderTimeout: 2 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()
	logger.Info("stub booking API listening",
		zap.String("addr", ln.Addr().String()), zap.Int("doctors", config.Doctors))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("stub booking API stopped")
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
