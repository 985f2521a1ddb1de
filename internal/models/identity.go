package models

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeProjectID lowercases and keeps ASCII letters and digits only.
// Every stage derives project ids through this function.
func NormalizeProjectID(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ProjectNameFromID builds a display name when none is known.
func ProjectNameFromID(id string) string {
	if id == "" {
		return id
	}
	lower := strings.ToLower(id)
	return strings.ToUpper(lower[:1]) + lower[1:]
}

// NormalizeAuthorName strips diacritics and surrounding whitespace. It does
// not merge different spellings of the same person.
func NormalizeAuthorName(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(out)
}
