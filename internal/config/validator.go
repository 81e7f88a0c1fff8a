package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
	}
	return e.Message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	switch len(e.Errors) {
	case 0:
		return "no validation errors"
	case 1:
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e.Errors))
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

var logLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate checks the configuration and returns a *ValidationErrors listing
// every problem, or nil. An unknown scenario name is not an error here; it
// falls back to the default profile when resolved.
func (c Config) Validate() error {
	errs := &ValidationErrors{}

	if strings.TrimSpace(c.BackendURL) == "" {
		errs.Add("backend URL", "must not be empty")
	} else if u, err := url.Parse(c.BackendURL); err != nil {
		errs.Add("backend URL", err.Error())
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errs.Add("backend URL", fmt.Sprintf("scheme must be http or https, got %q", u.Scheme))
	} else if u.Host == "" {
		errs.Add("backend URL", "host is required")
	}

	if c.Duration < 0 {
		errs.Add("duration", "must be >= 0")
	}
	if !logLevels[c.LogLevel] {
		errs.Add("log level", fmt.Sprintf("must be one of debug, info, warn, error; got %q", c.LogLevel))
	}
	if c.ReportInterval <= 0 {
		errs.Add("report interval", "must be > 0")
	}
	if c.RequestTimeout <= 0 {
		errs.Add("request timeout", "must be > 0")
	}
	if c.HealthTimeout <= 0 {
		errs.Add("health timeout", "must be > 0")
	}
	validateRange("session delay", c.SessionDelay, errs)
	validateRange("action delay", c.ActionDelay, errs)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateRange(field string, r DelayRange, errs *ValidationErrors) {
	if r.Min < 0 || r.Max < 0 {
		errs.Add(field, "bounds must be >= 0")
		return
	}
	if r.Max < r.Min {
		errs.Add(field, fmt.Sprintf("max %s is below min %s", r.Max, r.Min))
	}
}
