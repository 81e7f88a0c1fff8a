package scenario

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltin_FourProfiles(t *testing.T) {
	c := Builtin()
	assert.Equal(t, []string{Light, Normal, Heavy, Stress}, c.Names())

	for _, p := range c.Profiles() {
		require.NoError(t, p.Validate(), p.Name)
	}
}

func TestBuiltin_SeverityIsMonotonic(t *testing.T) {
	profiles := Builtin().Profiles()
	for i := 1; i < len(profiles); i++ {
		prev, cur := profiles[i-1], profiles[i]
		assert.Greater(t, cur.Concurrency, prev.Concurrency, cur.Name)
		assert.Greater(t, cur.TargetRequestsPerMinute, prev.TargetRequestsPerMinute, cur.Name)
		assert.Greater(t, cur.BookingProbability, prev.BookingProbability, cur.Name)
	}
}

func TestResolve_Known(t *testing.T) {
	c := Builtin()

	p, err := c.Resolve("heavy")
	require.NoError(t, err)
	assert.Equal(t, 250, p.Concurrency)
	assert.Equal(t, 500, p.TargetRequestsPerMinute)
	assert.InDelta(t, 0.20, p.BookingProbability, 1e-9)

	p, err = c.Resolve("  Light ")
	require.NoError(t, err)
	assert.Equal(t, Light, p.Name)
}

func TestResolve_UnknownFallsBackToNormal(t *testing.T) {
	c := Builtin()
	normal, _ := c.Lookup(Normal)

	p, err := c.Resolve("extreme")
	require.Error(t, err)

	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "extreme", cfgErr.Name)
	assert.Equal(t, Normal, cfgErr.Fallback)
	assert.Contains(t, err.Error(), "extreme")

	assert.Equal(t, normal.Concurrency, p.Concurrency)
	assert.Equal(t, normal.TargetRequestsPerMinute, p.TargetRequestsPerMinute)
}

func TestMerge_OverridesAndExtends(t *testing.T) {
	base := Builtin()
	merged := base.Merge(
		Profile{Name: "light", Concurrency: 2, TargetRequestsPerMinute: 4, BookingProbability: 0.5},
		Profile{Name: "soak", Concurrency: 40, TargetRequestsPerMinute: 80, BookingProbability: 0.12},
	)

	light, ok := merged.Lookup(Light)
	require.True(t, ok)
	assert.Equal(t, 2, light.Concurrency)

	_, ok = merged.Lookup("soak")
	assert.True(t, ok)

	// The original catalog is untouched.
	orig, _ := base.Lookup(Light)
	assert.Equal(t, 15, orig.Concurrency)
	_, ok = base.Lookup("soak")
	assert.False(t, ok)
}

func TestProfile_Validate(t *testing.T) {
	tests := []struct {
		name    string
		profile Profile
		wantErr bool
	}{
		{"valid", Profile{Name: "x", Concurrency: 1, TargetRequestsPerMinute: 1, BookingProbability: 0}, false},
		{"missing name", Profile{Concurrency: 1, TargetRequestsPerMinute: 1}, true},
		{"zero concurrency", Profile{Name: "x", TargetRequestsPerMinute: 1}, true},
		{"zero rate", Profile{Name: "x", Concurrency: 1}, true},
		{"probability above one", Profile{Name: "x", Concurrency: 1, TargetRequestsPerMinute: 1, BookingProbability: 1.5}, true},
		{"negative probability", Profile{Name: "x", Concurrency: 1, TargetRequestsPerMinute: 1, BookingProbability: -0.1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.profile.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestProfile_RatePerSecond(t *testing.T) {
	p := Profile{TargetRequestsPerMinute: 150}
	assert.InDelta(t, 2.5, p.RatePerSecond(), 1e-9)
	assert.Equal(t, "Normal Load", Builtin().profiles[Normal].Title())
	assert.Equal(t, "x", Profile{Name: "x"}.Title())
}
