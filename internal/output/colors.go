package output

import (
	"github.com/fatih/color"
)

// ColorScheme defines the colors used for the parts of a run report.
type ColorScheme struct {
	Title   *color.Color
	Rule    *color.Color
	Label   *color.Color
	Value   *color.Color
	Latency *color.Color
	Good    *color.Color
	Warn    *color.Color
	Bad     *color.Color
	Worker  *color.Color
	Dim     *color.Color
}

// DefaultColorScheme returns the default color scheme
func DefaultColorScheme() *ColorScheme {
	return &ColorScheme{
		Title:   color.New(color.Bold),
		Rule:    color.New(color.FgCyan),
		Label:   color.New(color.FgWhite),
		Value:   color.New(color.FgCyan),
		Latency: color.New(color.FgBlue),
		Good:    color.New(color.FgGreen),
		Warn:    color.New(color.FgYellow),
		Bad:     color.New(color.FgRed, color.Bold),
		Worker:  color.New(color.FgMagenta),
		Dim:     color.New(color.Faint),
	}
}

// NoColorScheme returns a color scheme with all colors disabled
func NoColorScheme() *ColorScheme {
	return NewColorScheme(false)
}

// NewColorScheme returns the default scheme with colors forced on or off,
// regardless of what fatih/color detected for stdout.
func NewColorScheme(enabled bool) *ColorScheme {
	scheme := DefaultColorScheme()
	for _, c := range scheme.all() {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return scheme
}

func (s *ColorScheme) all() []*color.Color {
	return []*color.Color{s.Title, s.Rule, s.Label, s.Value, s.Latency, s.Good, s.Warn, s.Bad, s.Worker, s.Dim}
}

// rate picks the color for an error or late rate.
func (s *ColorScheme) rate(r float64) *color.Color {
	switch {
	case r > 0.05:
		return s.Bad
	case r > 0.01:
		return s.Warn
	default:
		return s.Good
	}
}

// SuccessIcon returns a checkmark symbol with appropriate color
func SuccessIcon(noColor bool) string {
	if noColor {
		return "✓"
	}
	return color.New(color.FgGreen).Sprint("✓")
}

// ErrorIcon returns an X symbol with appropriate color
func ErrorIcon(noColor bool) string {
	if noColor {
		return "✗"
	}
	return color.New(color.FgRed).Sprint("✗")
}

// WarningIcon returns a warning symbol with appropriate color
func WarningIcon(noColor bool) string {
	if noColor {
		return "⚠"
	}
	return color.New(color.FgYellow).Sprint("⚠")
}
