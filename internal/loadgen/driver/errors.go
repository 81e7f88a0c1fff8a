package driver

import "fmt"

// Startup stages reported by StartupError.
const (
	StageConfig  = "configuration"
	StageHealth  = "health check"
	StagePreload = "doctor preload"
	StageMetrics = "metrics listener"
)

// StartupError means the run was refused before any worker started.
type StartupError struct {
	Stage string
	URL   string
	Err   error
}

func (e *StartupError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s failed for %s: %v", e.Stage, e.URL, e.Err)
}

func (e *StartupError) Unwrap() error {
	return e.Err
}
