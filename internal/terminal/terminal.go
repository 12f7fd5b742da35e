// Package terminal detects the capabilities of the controlling terminal:
// TTY presence, dimensions, and whether color or animation should be used
// when rendering agent transcripts.
package terminal

import (
	"os"

	"golang.org/x/term"
)

// Info holds terminal capability information.
type Info struct {
	IsTTY     bool
	NoColor   bool
	Width     int
	Height    int
	ForceFlag bool // Set when --no-color flag is used
}

// Detect returns terminal information for the current environment.
func Detect() *Info {
	stdoutFD := int(os.Stdout.Fd())
	isTTY := term.IsTerminal(stdoutFD)

	width, height := 80, 24 // sensible defaults

	if isTTY {
		if w, h, err := term.GetSize(stdoutFD); err == nil {
			width, height = w, h
		}
	}

	// Check NO_COLOR environment variable (https://no-color.org/)
	_, noColor := os.LookupEnv("NO_COLOR")

	// Treat TERM=dumb as no-color (terminals that don't support escape sequences)
	if os.Getenv("TERM") == "dumb" {
		noColor = true
	}

	return &Info{
		IsTTY:   isTTY,
		NoColor: noColor,
		Width:   width,
		Height:  height,
	}
}

// ColorEnabled returns true if colored output should be used.
func (t *Info) ColorEnabled() bool {
	if t.ForceFlag {
		return false
	}

	return t.IsTTY && !t.NoColor
}

// SpinnersEnabled returns true if spinners should be used.
func (t *Info) SpinnersEnabled() bool {
	return t.IsTTY && !t.NoColor
}

// PreviewWidth returns the cell budget for one-line transcript previews,
// leaving room for a label prefix. Piped output gets a fixed budget so
// logs stay readable regardless of the consumer.
func (t *Info) PreviewWidth() int {
	w := t.Width
	if !t.IsTTY || w <= 0 {
		w = 80
	}

	w -= 20
	if w < 40 {
		w = 40
	}

	return w
}
