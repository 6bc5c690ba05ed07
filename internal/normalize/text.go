package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold case-folds s, strips diacritics, turns every non letter/digit rune
// into a separator and collapses whitespace. "Standup Night — Forum Mall"
// and "standup night, FORUM  mall" fold to the same string.
//
// Any change here changes derived natural keys; bump KeyVersion with it.
func Fold(s string) string {
	// Transformers and casers keep state, so they are built per call.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	folded := cases.Fold().String(stripped)

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Tokens returns the set of folded tokens in s.
func Tokens(s string) map[string]struct{} {
	fields := strings.Fields(Fold(s))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// CleanText trims s and collapses internal whitespace without changing case.
func CleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
