// Package config assembles the run configuration of the load generator
// from environment variables, command-line flags and an optional scenario
// file.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Environment variable names.
const (
	EnvBackendURL      = "BACKEND_URL"
	EnvScenario        = "SCENARIO"
	EnvDurationMinutes = "DURATION_MINUTES"
	EnvLogLevel        = "LOG_LEVEL"
	EnvSeed            = "LOADGEN_SEED"
)

// Defaults applied when neither the environment nor a flag sets a value.
const (
	DefaultBackendURL      = "http://127.0.0.1:8080"
	DefaultScenario        = "normal"
	DefaultDurationMinutes = 60
	DefaultLogLevel        = "info"
	DefaultReportInterval  = 30 * time.Second
	DefaultRequestTimeout  = 10 * time.Second
	DefaultHealthTimeout   = 5 * time.Second
)

// Config is the complete run configuration.
type Config struct {
	BackendURL string `json:"backendUrl"`
	Scenario   string `json:"scenario"`

	// Duration bounds the run; zero stops the pool right after it starts.
	Duration time.Duration `json:"duration"`
	LogLevel string        `json:"logLevel"`

	// Seed feeds the per-worker random sources. HasSeed is false when the
	// caller should pick a time-based seed.
	Seed    int64 `json:"seed"`
	HasSeed bool  `json:"-"`

	ReportInterval time.Duration `json:"reportInterval"`
	RequestTimeout time.Duration `json:"requestTimeout"`
	HealthTimeout  time.Duration `json:"healthTimeout"`

	// SessionDelay and ActionDelay override the pacing ranges; zero ranges
	// keep the built-in defaults.
	SessionDelay DelayRange `json:"sessionDelay"`
	ActionDelay  DelayRange `json:"actionDelay"`

	StrictRate    bool   `json:"strictRate"`
	ScenariosFile string `json:"scenariosFile,omitempty"`
	MetricsAddr   string `json:"metricsAddr,omitempty"`
	JSON          bool   `json:"json"`
	Quiet         bool   `json:"quiet"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		BackendURL:     DefaultBackendURL,
		Scenario:       DefaultScenario,
		Duration:       DefaultDurationMinutes * time.Minute,
		LogLevel:       DefaultLogLevel,
		ReportInterval: DefaultReportInterval,
		RequestTimeout: DefaultRequestTimeout,
		HealthTimeout:  DefaultHealthTimeout,
	}
}

// LookupFunc reads one environment variable; os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// FromEnv builds a configuration from the environment on top of the
// defaults. Malformed numeric values fall back to their default and are
// reported as warnings rather than errors.
func FromEnv(lookup LookupFunc) (Config, []string) {
	cfg := Default()
	var warnings []string

	if v, ok := nonEmpty(lookup, EnvBackendURL); ok {
		cfg.BackendURL = v
	}
	if v, ok := nonEmpty(lookup, EnvScenario); ok {
		cfg.Scenario = v
	}
	if v, ok := nonEmpty(lookup, EnvLogLevel); ok {
		cfg.LogLevel = strings.ToLower(v)
	}

	if v, ok := nonEmpty(lookup, EnvDurationMinutes); ok {
		minutes, err := strconv.ParseFloat(v, 64)
		if err != nil || minutes < 0 {
			warnings = append(warnings, fmt.Sprintf("%s=%q is not a non-negative number, using %d", EnvDurationMinutes, v, DefaultDurationMinutes))
		} else {
			cfg.Duration = time.Duration(minutes * float64(time.Minute))
		}
	}

	if v, ok := nonEmpty(lookup, EnvSeed); ok {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s=%q is not an integer, using a time-based seed", EnvSeed, v))
		} else {
			cfg.Seed = seed
			cfg.HasSeed = true
		}
	}

	return cfg, warnings
}

func nonEmpty(lookup LookupFunc, key string) (string, bool) {
	if lookup == nil {
		return "", false
	}
	v, ok := lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

// DurationMinutes returns the run duration in minutes.
func (c Config) DurationMinutes() float64 {
	return c.Duration.Minutes()
}
