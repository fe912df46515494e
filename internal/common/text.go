package common

import "unicode/utf8"

// CutAtRuneBoundary returns the longest prefix of s that is at most n bytes
// and does not split a UTF-8 sequence
func CutAtRuneBoundary(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
