// Package ansi strips terminal control noise from raw agent output.
package ansi

import "strings"

// Strip removes NUL bytes and ANSI CSI escape sequences from s.
//
// A CSI sequence is ESC '[' followed by parameter/intermediate bytes
// (0x20-0x3f) and one final byte (0x40-0x7e). Other escapes are skipped
// through their single following byte. An unterminated sequence at the end
// of the input is retained verbatim so a chunk boundary inside a sequence
// does not silently eat bytes.
//
// Strip operates on raw terminal output before JSON parsing. That ordering
// is safe only because the wrapped CLIs never embed raw ESC or NUL bytes
// inside JSON payloads in practice; it is a known limitation, not a
// guarantee.
func Strip(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); i++ {
		c := s[i]

		if c == 0x00 {
			continue
		}

		if c != 0x1b {
			b.WriteByte(c)
			continue
		}

		if i+1 < len(s) && s[i+1] == '[' {
			j := i + 2
			for j < len(s) && s[j] >= 0x20 && s[j] <= 0x3f {
				j++
			}

			if j < len(s) && s[j] >= 0x40 && s[j] <= 0x7e {
				i = j // full CSI sequence consumed
				continue
			}

			// Unterminated at end of input: keep it.
			b.WriteString(s[i:])

			return b.String()
		}

		// ESC followed by a single-byte sequence (DECSC, charset selects).
		if i+1 < len(s) {
			i++
		}
	}

	return b.String()
}
