package output

import (
	"github.com/fatih/color"
)

// ColorScheme defines the colors used for the parts of a report.
type ColorScheme struct {
	Title    *color.Color
	Label    *color.Color
	Value    *color.Color
	Endpoint *color.Color
	Good     *color.Color
	Warn     *color.Color
	Bad      *color.Color
}

// DefaultColorScheme returns the default color scheme with colors forced
// on; callers decide whether to use it.
func DefaultColorScheme() *ColorScheme {
	s := &ColorScheme{
		Title:    color.New(color.FgCyan, color.Bold),
		Label:    color.New(color.Bold),
		Value:    color.New(color.FgCyan),
		Endpoint: color.New(color.FgBlue),
		Good:     color.New(color.FgGreen),
		Warn:     color.New(color.FgYellow),
		Bad:      color.New(color.FgRed, color.Bold),
	}
	for _, c := range s.all() {
		c.EnableColor()
	}
	return s
}

// NoColorScheme returns a color scheme with all colors disabled
func NoColorScheme() *ColorScheme {
	s := DefaultColorScheme()
	for _, c := range s.all() {
		c.DisableColor()
	}
	return s
}

func (s *ColorScheme) all() []*color.Color {
	return []*color.Color{s.Title, s.Label, s.Value, s.Endpoint, s.Good, s.Warn, s.Bad}
}

// Rate picks Good, Warn or Bad for a success ratio in [0, 1].
func (s *ColorScheme) Rate(successRate float64) *color.Color {
	switch {
	case successRate >= 0.99:
		return s.Good
	case successRate >= 0.95:
		return s.Warn
	default:
		return s.Bad
	}
}

// SuccessIcon returns a checkmark symbol with appropriate color
func SuccessIcon(noColor bool) string {
	if noColor {
		return "✓"
	}
	return color.New(color.FgGreen).Sprint("✓")
}

// WarningIcon returns a warning symbol with appropriate color
func WarningIcon(noColor bool) string {
	if noColor {
		return "⚠"
	}
	return color.New(color.FgYellow).Sprint("⚠")
}
