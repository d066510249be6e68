package util

import "strings"

// SafeTruncate returns at most maxLen leading bytes of s. It is used to log
// a recognizable prefix of tokens and codes without the full value.
// A negative maxLen yields "".
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// NormalizeURL removes trailing slashes so resource indicators compare
// equal with or without them.
//
//	NormalizeURL("https://example.com/")   // "https://example.com"
//	NormalizeURL("https://example.com///") // "https://example.com"
func NormalizeURL(url string) string {
	return strings.TrimRight(url, "/")
}
