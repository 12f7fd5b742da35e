// Package jsonstream recovers complete JSON objects from mixed terminal
// output.
//
// A PTY-wrapped RPC channel is a terminal, not a framed byte stream: it can
// interleave styling noise, echo the client's own writes, and split JSON
// objects on arbitrary chunk boundaries. Extract tolerates all of that with
// a single left-to-right scan instead of a length-prefixed or
// newline-delimited reader.
package jsonstream

import "strings"

// Extraction is the result of one Extract pass.
type Extraction struct {
	// Objects holds every complete top-level {...} run, in order of
	// appearance. Contents are raw JSON text, not yet validated.
	Objects []string

	// Noise holds all bytes found outside any object, concatenated. Callers
	// surface it as plain output rather than discarding it.
	Noise string

	// Partial holds a trailing unterminated object, from its opening brace
	// to end of input. The caller prepends it to the next chunk.
	Partial string
}

// Extract scans input tracking brace depth and string/escape state so that
// braces inside string literals are not counted. It never fails: malformed
// nesting at worst accumulates into Partial until the caller's size ceiling
// forces a drop.
func Extract(input string) Extraction {
	var (
		ex       Extraction
		noise    strings.Builder
		depth    int
		inString bool
		escaped  bool
		start    = -1
	)

	for i := 0; i < len(input); i++ {
		c := input[i]

		if depth == 0 {
			if c == '{' {
				depth = 1
				start = i
				inString = false
				escaped = false

				continue
			}

			noise.WriteByte(c)

			continue
		}

		if escaped {
			escaped = false
			continue
		}

		switch {
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
			// String content, including braces, is inert.
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				ex.Objects = append(ex.Objects, input[start:i+1])
				start = -1
			}
		}
	}

	if depth > 0 && start >= 0 {
		ex.Partial = input[start:]
	}

	ex.Noise = noise.String()

	return ex
}
