package output

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestColorSchemes(t *testing.T) {
	for _, scheme := range []*ColorScheme{DefaultColorScheme(), NoColorScheme(), NewColorScheme(true)} {
		for i, c := range scheme.all() {
			if c == nil {
				t.Errorf("color %d is nil", i)
			}
		}
	}

	if got := NewColorScheme(false).Bad.Sprint("x"); got != "x" {
		t.Errorf("disabled scheme printed %q", got)
	}
	if got := NewColorScheme(true).Bad.Sprint("x"); !strings.Contains(got, "\x1b[") {
		t.Errorf("enabled scheme printed %q without escape codes", got)
	}
}

func TestColorScheme_Rate(t *testing.T) {
	s := DefaultColorScheme()
	if s.rate(0) != s.Good || s.rate(0.02) != s.Warn || s.rate(0.5) != s.Bad {
		t.Error("rate thresholds picked the wrong colors")
	}
}

func TestIcons(t *testing.T) {
	tests := []struct {
		name string
		icon func(bool) string
		want string
	}{
		{"success", SuccessIcon, "✓"},
		{"error", ErrorIcon, "✗"},
		{"warning", WarningIcon, "⚠"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.icon(true); got != tt.want {
				t.Errorf("icon(noColor) = %q, want %q", got, tt.want)
			}
			if got := tt.icon(false); !strings.Contains(got, tt.want) {
				t.Errorf("icon(color) = %q, want it to contain %q", got, tt.want)
			}
		})
	}
}

func TestUseColor(t *testing.T) {
	var buf bytes.Buffer

	t.Setenv("NO_COLOR", "")
	t.Setenv("FORCE_COLOR", "")
	if UseColor(&buf) {
		t.Error("UseColor(buffer) = true, want false")
	}

	t.Setenv("FORCE_COLOR", "1")
	if !UseColor(&buf) {
		t.Error("FORCE_COLOR did not enable color")
	}

	t.Setenv("NO_COLOR", "1")
	if UseColor(os.Stdout) {
		t.Error("NO_COLOR did not disable color")
	}
}

func TestIsTerminal(t *testing.T) {
	if IsTerminal(&bytes.Buffer{}) {
		t.Error("IsTerminal(buffer) = true")
	}
	f, err := os.CreateTemp(t.TempDir(), "out")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if IsTerminal(f) {
		t.Error("IsTerminal(regular file) = true")
	}
}
