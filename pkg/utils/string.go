package utils

import "unicode/utf8"

const ellipsis = "..."

// Snippet returns the first n runes of s followed by "..." when s is longer.
func Snippet(s string, n int) string {
	if n <= 0 {
		return s
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos] + ellipsis
		}
		i++
	}
	return s
}
