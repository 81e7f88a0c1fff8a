// Package output renders load-generator reports on the console.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/doktolib/loadgen/internal/loadgen/metrics"
	"github.com/doktolib/loadgen/internal/loadgen/scenario"
)

const ruleWidth = 60

// RunInfo describes a run for the header.
type RunInfo struct {
	Profile    scenario.Profile
	BackendURL string
	Duration   time.Duration
	Doctors    int
	StrictRate bool
	Seed       int64
}

// Console prints run headers and aggregate reports.
type Console struct {
	writer    io.Writer
	scheme    *ColorScheme
	useColors bool
	quiet     bool

	mu sync.Mutex
}

// ConsoleConfig contains configuration for Console.
type ConsoleConfig struct {
	Writer      io.Writer
	Quiet       bool
	NoColor     bool
	ForceColors bool
}

// NewConsole creates a console. Colors are used when forced, or when the
// writer is a terminal and neither NoColor nor NO_COLOR is set.
func NewConsole(config ConsoleConfig) *Console {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}

	useColors := config.ForceColors ||
		(!config.NoColor && os.Getenv("NO_COLOR") == "" && isTerminal(config.Writer))

	scheme := NoColorScheme()
	if useColors {
		scheme = DefaultColorScheme()
	}

	return &Console{
		writer:    config.Writer,
		scheme:    scheme,
		useColors: useColors,
		quiet:     config.Quiet,
	}
}

func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return checkIsTerminal(f)
	}
	return false
}

// UseColors reports whether escape codes are emitted.
func (c *Console) UseColors() bool {
	return c.useColors
}

// PrintHeader prints the run banner.
func (c *Console) PrintHeader(info RunInfo) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.scheme
	rule := strings.Repeat("━", ruleWidth)
	duration := formatDuration(info.Duration)
	if info.Duration == 0 {
		duration = "immediate stop"
	}
	pacing := "soft"
	if info.StrictRate {
		pacing = "strict token bucket"
	}

	c.writeln(s.Title.Sprint(rule))
	c.writeln(s.Title.Sprintf("Booking load generator - %s", info.Profile.Title()))
	c.writeln(s.Title.Sprint(rule))
	c.printField("Target", info.BackendURL)
	c.printField("Scenario", fmt.Sprintf("%s (%d workers, ~%d req/min, %.0f%% bookings)",
		info.Profile.Name, info.Profile.Concurrency, info.Profile.TargetRequestsPerMinute, info.Profile.BookingProbability*100))
	c.printField("Duration", duration)
	c.printField("Pacing", pacing)
	c.printField("Doctors", fmt.Sprintf("%d preloaded", info.Doctors))
	c.printField("Seed", fmt.Sprintf("%d", info.Seed))
	c.writeln("")
}

// Report prints a snapshot; it satisfies pool.Reporter.
func (c *Console) Report(snap *metrics.Snapshot, final bool) {
	if snap == nil {
		return
	}
	if c.quiet && !final {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.scheme
	title := "Progress report"
	if final {
		title = "Final report"
	}
	c.writeln(s.Title.Sprintf("━━ %s ━━", title))

	c.printField("Runtime", formatDuration(snap.Elapsed))
	c.printField("Requests", fmt.Sprintf("%s (%s req/min)",
		s.Value.Sprint(formatNumber(snap.TotalRequests)), formatFloat(snap.RequestsPerMinute)))
	c.printField("Success rate", fmt.Sprintf("%s  failed: %s",
		s.Rate(successOrFull(snap)).Sprintf("%.1f%%", snap.SuccessRate*100),
		formatNumber(snap.FailureCount)))
	c.printField("Latency", fmt.Sprintf("avg %s | p50 %s | p95 %s | p99 %s",
		formatMillis(snap.Latency.Avg), formatMillis(snap.Latency.P50),
		formatMillis(snap.Latency.P95), formatMillis(snap.Latency.P99)))

	if len(snap.Endpoints) > 0 {
		c.writeln(s.Label.Sprint("Endpoints:"))
		width := 0
		for _, key := range endpointKeys(snap) {
			if len(key) > width {
				width = len(key)
			}
		}
		for _, key := range endpointKeys(snap) {
			ep := snap.Endpoints[key]
			c.writeln(fmt.Sprintf("  %s  %8s req  %s  avg %s  p95 %s",
				s.Endpoint.Sprint(padRight(key, width)),
				formatNumber(ep.Requests),
				s.Rate(ep.SuccessRate()).Sprintf("%6.1f%%", ep.SuccessRate()*100),
				formatMillis(ep.AvgLatencyMillis),
				formatMillis(ep.P95Millis)))
		}
	}

	if len(snap.Errors) > 0 {
		c.writeln(s.Label.Sprint("Errors:"))
		for _, e := range SortedErrors(snap.Errors) {
			c.writeln(fmt.Sprintf("  %s %s", s.Bad.Sprint(padRight(e.Code, 14)), formatNumber(e.Count)))
		}
	}
	c.writeln("")
}

// PrintJSON writes the snapshot as indented JSON.
func (c *Console) PrintJSON(snap *metrics.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	enc := json.NewEncoder(c.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

// PrintScenarios prints the scenario catalog as a table.
func (c *Console) PrintScenarios(profiles []scenario.Profile, current string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.scheme
	c.writeln(s.Label.Sprintf("%-10s %12s %12s %9s  %s", "NAME", "CONCURRENCY", "TARGET RPM", "BOOKING", "DESCRIPTION"))
	for _, p := range profiles {
		name := fmt.Sprintf("%-10s", p.Name)
		if strings.EqualFold(p.Name, current) {
			name = s.Good.Sprint(name)
		}
		c.writeln(fmt.Sprintf("%s %12d %12d %8.0f%%  %s",
			name, p.Concurrency, p.TargetRequestsPerMinute, p.BookingProbability*100, p.Description))
	}
}

// Warn prints a warning line.
func (c *Console) Warn(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeln(fmt.Sprintf("%s %s", WarningIcon(!c.useColors), msg))
}

// Success prints a success line.
func (c *Console) Success(msg string) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeln(fmt.Sprintf("%s %s", SuccessIcon(!c.useColors), msg))
}

func (c *Console) printField(label, value string) {
	c.writeln(fmt.Sprintf("%s %s", c.scheme.Label.Sprint(padRight(label+":", 14)), value))
}

func (c *Console) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

// ErrorCount is one bucket of the error histogram.
type ErrorCount struct {
	Code  string
	Count int64
}

// SortedErrors orders the error histogram by count, then code.
func SortedErrors(errs map[string]int64) []ErrorCount {
	out := make([]ErrorCount, 0, len(errs))
	for code, n := range errs {
		out = append(out, ErrorCount{Code: code, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Code < out[j].Code
	})
	return out
}

// endpointKeys returns keys in first-seen order, falling back to sorted
// order for snapshots decoded from JSON.
func endpointKeys(snap *metrics.Snapshot) []string {
	if len(snap.EndpointOrder) == len(snap.Endpoints) {
		return snap.EndpointOrder
	}
	keys := make([]string, 0, len(snap.Endpoints))
	for k := range snap.Endpoints {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// successOrFull treats an empty run as fully successful for coloring.
func successOrFull(snap *metrics.Snapshot) float64 {
	if snap.TotalRequests == 0 {
		return 1
	}
	return snap.SuccessRate
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
}

// formatMillis formats a latency given in milliseconds.
func formatMillis(ms float64) string {
	if ms >= 1000 {
		return fmt.Sprintf("%.2fs", ms/1000)
	}
	return fmt.Sprintf("%.1fms", ms)
}

func formatFloat(v float64) string {
	return fmt.Sprintf("%.1f", v)
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		result.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if result.Len() > 0 {
			result.WriteString(",")
		}
		result.WriteString(str[i : i+3])
	}
	return result.String()
}
