// Package scenario defines the named load profiles the generator can run.
package scenario

import (
	"fmt"
	"sort"
	"strings"
)

// Built-in profile names, ordered by severity.
const (
	Light  = "light"
	Normal = "normal"
	Heavy  = "heavy"
	Stress = "stress"

	// Default is the profile used when a name cannot be resolved.
	Default = Normal
)

// Profile is a named bundle of concurrency, target rate and booking
// probability. Profiles are values and are never mutated after lookup.
type Profile struct {
	Name                    string  `json:"name" yaml:"name"`
	DisplayName             string  `json:"displayName,omitempty" yaml:"displayName,omitempty"`
	Description             string  `json:"description,omitempty" yaml:"description,omitempty"`
	Concurrency             int     `json:"concurrency" yaml:"concurrency"`
	TargetRequestsPerMinute int     `json:"targetRequestsPerMinute" yaml:"targetRequestsPerMinute"`
	BookingProbability      float64 `json:"bookingProbability" yaml:"bookingProbability"`
}

// Validate checks the profile invariants.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("scenario name is required")
	}
	if p.Concurrency <= 0 {
		return fmt.Errorf("scenario %q: concurrency must be > 0", p.Name)
	}
	if p.TargetRequestsPerMinute <= 0 {
		return fmt.Errorf("scenario %q: targetRequestsPerMinute must be > 0", p.Name)
	}
	if p.BookingProbability < 0 || p.BookingProbability > 1 {
		return fmt.Errorf("scenario %q: bookingProbability must be within [0, 1]", p.Name)
	}
	return nil
}

// RatePerSecond returns the target rate expressed per second.
func (p Profile) RatePerSecond() float64 {
	return float64(p.TargetRequestsPerMinute) / 60.0
}

// Title returns the display name, falling back to the profile name.
func (p Profile) Title() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Name
}

// ConfigError is returned when a scenario name is unknown. It is recoverable:
// Resolve still returns the default profile alongside it.
type ConfigError struct {
	Name     string
	Fallback string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("unknown scenario %q, falling back to %q", e.Name, e.Fallback)
}

// Catalog is a fixed table of profiles keyed by lower-case name.
type Catalog struct {
	profiles map[string]Profile
}

// Builtin returns the four standard profiles. Each step roughly doubles
// concurrency and target rate and nudges booking probability up.
func Builtin() *Catalog {
	return NewCatalog(
		Profile{
			Name:                    Light,
			DisplayName:             "Light Load",
			Description:             "Simulates 10-20 concurrent users",
			Concurrency:             15,
			TargetRequestsPerMinute: 30,
			BookingProbability:      0.10,
		},
		Profile{
			Name:                    Normal,
			DisplayName:             "Normal Load",
			Description:             "Simulates 50-100 concurrent users",
			Concurrency:             75,
			TargetRequestsPerMinute: 150,
			BookingProbability:      0.15,
		},
		Profile{
			Name:                    Heavy,
			DisplayName:             "Heavy Load",
			Description:             "Simulates 200-300 concurrent users",
			Concurrency:             250,
			TargetRequestsPerMinute: 500,
			BookingProbability:      0.20,
		},
		Profile{
			Name:                    Stress,
			DisplayName:             "Stress Test",
			Description:             "Maximum load test with 500+ concurrent users",
			Concurrency:             500,
			TargetRequestsPerMinute: 1000,
			BookingProbability:      0.25,
		},
	)
}

// NewCatalog builds a catalog from the given profiles. Later profiles with
// the same name replace earlier ones.
func NewCatalog(profiles ...Profile) *Catalog {
	c := &Catalog{profiles: make(map[string]Profile, len(profiles))}
	for _, p := range profiles {
		c.profiles[key(p.Name)] = p
	}
	return c
}

// Merge returns a new catalog with overrides layered on top of c.
func (c *Catalog) Merge(overrides ...Profile) *Catalog {
	merged := make([]Profile, 0, len(c.profiles)+len(overrides))
	for _, p := range c.profiles {
		merged = append(merged, p)
	}
	merged = append(merged, overrides...)
	return NewCatalog(merged...)
}

// Resolve looks up a profile by name (case-insensitive). An unknown name
// yields the default profile together with a *ConfigError.
func (c *Catalog) Resolve(name string) (Profile, error) {
	if p, ok := c.profiles[key(name)]; ok {
		return p, nil
	}
	return c.profiles[Default], &ConfigError{Name: name, Fallback: Default}
}

// Lookup returns the profile with the given name, if any.
func (c *Catalog) Lookup(name string) (Profile, bool) {
	p, ok := c.profiles[key(name)]
	return p, ok
}

// Profiles returns all profiles ordered by concurrency, then name.
func (c *Catalog) Profiles() []Profile {
	out := make([]Profile, 0, len(c.profiles))
	for _, p := range c.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Concurrency != out[j].Concurrency {
			return out[i].Concurrency < out[j].Concurrency
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Names returns profile names in Profiles order.
func (c *Catalog) Names() []string {
	profiles := c.Profiles()
	names := make([]string, len(profiles))
	for i, p := range profiles {
		names[i] = p.Name
	}
	return names
}

func key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
