package output

import (
	"strings"
	"testing"
)

func TestColorSchemes(t *testing.T) {
	for name, scheme := range map[string]*ColorScheme{
		"default": DefaultColorScheme(),
		"none":    NoColorScheme(),
	} {
		for i, c := range scheme.all() {
			if c == nil {
				t.Errorf("%s scheme: color %d is nil", name, i)
			}
		}
	}

	plain := NoColorScheme().Good.Sprint("ok")
	if plain != "ok" {
		t.Errorf("NoColorScheme should not emit escape codes, got %q", plain)
	}

	colored := DefaultColorScheme().Good.Sprint("ok")
	if !strings.Contains(colored, "\x1b[") {
		t.Errorf("DefaultColorScheme should emit escape codes, got %q", colored)
	}
}

func TestColorScheme_Rate(t *testing.T) {
	s := NoColorScheme()
	if s.Rate(1.0) != s.Good {
		t.Error("100% should be Good")
	}
	if s.Rate(0.97) != s.Warn {
		t.Error("97% should be Warn")
	}
	if s.Rate(0.5) != s.Bad {
		t.Error("50% should be Bad")
	}
}

func TestIcons(t *testing.T) {
	if SuccessIcon(true) != "✓" {
		t.Errorf("unexpected success icon %q", SuccessIcon(true))
	}
	if WarningIcon(true) != "⚠" {
		t.Errorf("unexpected warning icon %q", WarningIcon(true))
	}
	if SuccessIcon(false) == "" || WarningIcon(false) == "" {
		t.Error("colored icons should not be empty")
	}
}
