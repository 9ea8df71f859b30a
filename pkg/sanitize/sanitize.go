// Package sanitize cleans user-supplied text that is shown to other users.
package sanitize

import (
	"strings"
	"unicode"
)

// Name strips control characters from a single-line label such as a room
// name and collapses runs of whitespace into one space
func Name(input string) string {
	return strings.Join(strings.FieldsFunc(input, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	}), " ")
}

// Text strips control characters from a chat message, keeping line breaks
// and tabs, and trims surrounding whitespace
func Text(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if r == '\n' || r == '\t' || !unicode.IsControl(r) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
