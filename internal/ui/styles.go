package ui

import "fmt"

// ANSI256 color codes matching the Ayu palette.
const (
	colorOK     = 114 // green
	colorWarn   = 179 // amber
	colorFail   = 203 // red
	colorAccent = 74  // blue
	colorMuted  = 245 // medium gray
)

// Styler renders status text, optionally in color.
type Styler struct {
	Color bool
}

func (s Styler) paint(code int, text string) string {
	if !s.Color {
		return text
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, text)
}

// Accent returns text in the accent color.
func (s Styler) Accent(text string) string { return s.paint(colorAccent, text) }

// Muted returns text in the muted color.
func (s Styler) Muted(text string) string { return s.paint(colorMuted, text) }

// Status colors a run or source status: ok and done green, degraded and
// skipped amber, failed red.
func (s Styler) Status(status string) string {
	switch status {
	case "ok", "done":
		return s.paint(colorOK, status)
	case "degraded", "skipped":
		return s.paint(colorWarn, status)
	case "failed":
		return s.paint(colorFail, status)
	}
	return status
}
