package index

import (
	"slices"
	"strings"
	"unicode"
)

// Tokenize lowercases text and returns its maximal runs of Unicode letters
// and digits. Everything else separates tokens.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// queryTerms returns the distinct tokens of a query in sorted order so the
// summation order of a score never depends on the query wording.
func queryTerms(text string) []string {
	terms := Tokenize(text)
	slices.Sort(terms)
	return slices.Compact(terms)
}
