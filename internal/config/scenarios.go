package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/doktolib/loadgen/internal/loadgen/scenario"
)

// Duration is a time.Duration written as a string ("750ms", "2s") in YAML.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(dur)
	return nil
}

// DelayRange bounds a uniformly drawn pause.
type DelayRange struct {
	Min Duration `json:"min" yaml:"min"`
	Max Duration `json:"max" yaml:"max"`
}

// IsZero reports whether the range is unset.
func (r DelayRange) IsZero() bool { return r.Min == 0 && r.Max == 0 }

// ScenarioFile is the YAML document accepted by --scenarios-file.
//
//	scenarios:
//	  - name: spike
//	    concurrency: 1000
//	    targetRequestsPerMinute: 2000
//	    bookingProbability: 0.3
//	sessionDelay: {min: 1s, max: 10s}
//	actionDelay: {min: 500ms, max: 3s}
type ScenarioFile struct {
	Scenarios    []scenario.Profile `yaml:"scenarios"`
	SessionDelay DelayRange         `yaml:"sessionDelay"`
	ActionDelay  DelayRange         `yaml:"actionDelay"`
}

// LoadScenarioFile reads and validates a scenario file.
func LoadScenarioFile(path string) (*ScenarioFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error reading scenario file: %w", err)
	}
	defer f.Close()

	file, err := ParseScenarioFile(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return file, nil
}

// ParseScenarioFile decodes a scenario file. Unknown keys are rejected so
// that a typo does not silently fall back to a default.
func ParseScenarioFile(r io.Reader) (*ScenarioFile, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var file ScenarioFile
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("error parsing scenario file: %w", err)
		}
	}

	errs := &ValidationErrors{}
	seen := make(map[string]bool)
	for i, p := range file.Scenarios {
		if err := p.Validate(); err != nil {
			errs.Add(fmt.Sprintf("scenarios[%d]", i), err.Error())
			continue
		}
		name := strings.ToLower(strings.TrimSpace(p.Name))
		if seen[name] {
			errs.Add(fmt.Sprintf("scenarios[%d]", i), fmt.Sprintf("duplicate scenario %q", p.Name))
		}
		seen[name] = true
	}
	validateRange("sessionDelay", file.SessionDelay, errs)
	validateRange("actionDelay", file.ActionDelay, errs)

	if errs.HasErrors() {
		return nil, errs
	}
	return &file, nil
}

// Catalog returns the built-in catalog extended with the file's profiles.
func (f *ScenarioFile) Catalog() *scenario.Catalog {
	return scenario.Builtin().Merge(f.Scenarios...)
}

// Apply copies the file's pacing overrides into cfg.
func (f *ScenarioFile) Apply(cfg *Config) {
	if !f.SessionDelay.IsZero() {
		cfg.SessionDelay = f.SessionDelay
	}
	if !f.ActionDelay.IsZero() {
		cfg.ActionDelay = f.ActionDelay
	}
}
