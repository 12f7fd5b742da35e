package codexrpc

import (
	"strings"
	"unicode/utf8"
)

// DefaultCoalesceLimit is the normalized length at or below which a
// single-line reasoning fragment folds into the rolling per-panel entry.
const DefaultCoalesceLimit = 120

// NormalizeMarker strips leading markdown heading and emphasis clusters and
// trailing emphasis markers from a reasoning fragment, so that phase markers
// like "**Searching**" compare by their visible text. Genuine bullet lines
// ("- foo", "* foo") stay untouched.
func NormalizeMarker(text string) string {
	s := strings.TrimSpace(text)
	if s == "" {
		return ""
	}

	if strings.HasPrefix(s, "- ") || strings.HasPrefix(s, "* ") {
		return s
	}

	s = strings.TrimLeft(s, "#*_")
	s = strings.TrimRight(s, "#*_")

	return strings.TrimSpace(s)
}

// Coalescible reports whether raw reasoning text folds into the rolling
// entry: no newline and a normalized form no longer than limit runes.
// Multi-line or long reasoning keeps its own item-scoped entry instead.
func Coalescible(raw string, limit int) bool {
	if limit <= 0 {
		limit = DefaultCoalesceLimit
	}

	if strings.ContainsRune(raw, '\n') {
		return false
	}

	return utf8.RuneCountInString(NormalizeMarker(raw)) <= limit
}
