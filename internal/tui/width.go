package tui

import (
	"strings"

	xansi "github.com/charmbracelet/x/ansi"
	"github.com/mattn/go-runewidth"
)

// VisibleWidth returns the terminal cell width of a string, excluding ANSI
// escape sequences and counting wide runes as two cells.
func VisibleWidth(value string) int {
	return runewidth.StringWidth(xansi.Strip(value))
}

// PadRightVisible appends spaces until the string reaches width visible cells.
func PadRightVisible(value string, width int) string {
	padding := width - VisibleWidth(value)
	if padding <= 0 {
		return value
	}

	return value + strings.Repeat(" ", padding)
}

// TruncateVisible shortens a plain string to at most width cells, appending
// tail when anything was cut. Wide runes are never split across the boundary.
func TruncateVisible(value string, width int, tail string) string {
	if runewidth.StringWidth(value) <= width {
		return value
	}

	return runewidth.Truncate(value, width, tail)
}
