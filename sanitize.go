package mangarag

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Sanitize normalizes raw scraped text before chunking or embedding:
// NFKC normalization, byte-order marks and zero-width spaces removed,
// control characters mapped to a space, whitespace runs collapsed to a
// single space, and the result trimmed. It is total over all inputs;
// empty input yields the empty string.
func Sanitize(s string) string {
	if s == "" {
		return ""
	}
	s = norm.NFKC.String(s)
	s = strings.NewReplacer("\uFEFF", "", "\u200B", "").Replace(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
