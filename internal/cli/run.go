package cli

import (
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/doktolib/loadgen/internal/config"
	"github.com/doktolib/loadgen/internal/loadgen/driver"
	"github.com/doktolib/loadgen/internal/loadgen/scenario"
	"github.com/doktolib/loadgen/internal/logging"
	"github.com/doktolib/loadgen/internal/output"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Generate load against the booking API",
		Long: `Run checks the API health endpoint, preloads a page of doctors and then
starts one worker per simulated user. The run ends when the duration elapses
or on SIGINT/SIGTERM; the final report is printed either way.

Every flag defaults to its environment variable when the flag is not set:
BACKEND_URL, SCENARIO, DURATION_MINUTES, LOG_LEVEL and LOADGEN_SEED.`,
		Args: cobra.NoArgs,
		RunE: runLoad,
	}

	cmd.Flags().String("url", config.DefaultBackendURL, "Base URL of the booking API")
	cmd.Flags().StringP("scenario", "s", config.DefaultScenario, "Load scenario (see 'loadgen scenarios')")
	cmd.Flags().Float64P("duration", "d", config.DefaultDurationMinutes, "Run duration in minutes (0 stops right after start)")
	cmd.Flags().String("log-level", config.DefaultLogLevel, "Log level: debug, info, warn or error")
	cmd.Flags().Int64("seed", 0, "Seed for the simulated sessions (default time based)")
	cmd.Flags().Duration("report-interval", config.DefaultReportInterval, "Interval between progress reports")
	cmd.Flags().Duration("request-timeout", config.DefaultRequestTimeout, "Timeout of a single request")
	cmd.Flags().Bool("strict-rate", false, "Cap the request rate with a token bucket instead of soft pacing")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	cmd.Flags().Bool("json", false, "Print the final report as JSON")
	cmd.Flags().BoolP("quiet", "q", false, "Only print the final report")
	return cmd
}

func runLoad(cmd *cobra.Command, args []string) error {
	cfg, warnings := config.FromEnv(os.LookupEnv)
	applyRunFlags(cmd, &cfg)

	catalog, err := loadCatalog(cmd, &cfg)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	for _, w := range warnings {
		logger.Warn(w)
	}
	if !cfg.HasSeed {
		cfg.Seed = time.Now().UnixNano()
		cfg.HasSeed = true
	}

	noColor, _ := cmd.Flags().GetBool("no-color")
	console := output.NewConsole(output.ConsoleConfig{
		Writer:  cmd.OutOrStdout(),
		Quiet:   cfg.Quiet || cfg.JSON,
		NoColor: noColor,
	})

	d := driver.New(driver.Options{
		Config:  cfg,
		Catalog: catalog,
		Logger:  logger,
		Console: console,
	})

	release := stopOnSignal(d, logger)
	defer release()

	snap, err := d.Run(commandContext(cmd))
	if err != nil {
		var startupErr *driver.StartupError
		if errors.As(err, &startupErr) {
			logger.Error("startup failed", zap.String("stage", startupErr.Stage), zap.Error(startupErr.Err))
		}
		return err
	}

	if cfg.JSON {
		return console.PrintJSON(snap)
	}
	return nil
}

// applyRunFlags overrides cfg with the flags set on the command line.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()

	if flags.Changed("url") {
		cfg.BackendURL, _ = flags.GetString("url")
	}
	if flags.Changed("scenario") {
		cfg.Scenario, _ = flags.GetString("scenario")
	}
	if flags.Changed("duration") {
		minutes, _ := flags.GetFloat64("duration")
		cfg.Duration = time.Duration(minutes * float64(time.Minute))
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("seed") {
		cfg.Seed, _ = flags.GetInt64("seed")
		cfg.HasSeed = cfg.Seed != 0
	}

	cfg.ReportInterval, _ = flags.GetDuration("report-interval")
	cfg.RequestTimeout, _ = flags.GetDuration("request-timeout")
	cfg.StrictRate, _ = flags.GetBool("strict-rate")
	cfg.MetricsAddr, _ = flags.GetString("metrics-addr")
	cfg.JSON, _ = flags.GetBool("json")
	cfg.Quiet, _ = flags.GetBool("quiet")
	cfg.ScenariosFile, _ = flags.GetString("scenarios-file")
}

// loadCatalog returns the built-in catalog, extended by --scenarios-file
// when one is given. The file's pacing ranges are copied into cfg.
func loadCatalog(cmd *cobra.Command, cfg *config.Config) (*scenario.Catalog, error) {
	path, _ := cmd.Flags().GetString("scenarios-file")
	if path == "" {
		return scenario.Builtin(), nil
	}
	file, err := config.LoadScenarioFile(path)
	if err != nil {
		return nil, err
	}
	file.Apply(cfg)
	return file.Catalog(), nil
}

// stopOnSignal routes SIGINT and SIGTERM to d.Stop until release is called.
// Signals after the first only log; release returns once the handler has exited.
func stopOnSignal(d *driver.Driver, logger *zap.Logger) (release func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		for {
			select {
			case sig := <-sigCh:
				if d.Stopping() {
					logger.Debug("already stopping", zap.String("signal", sig.String()))
					continue
				}
				logger.Info("received signal, stopping", zap.String("signal", sig.String()))
				d.Stop()
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
		<-exited
	}
}
