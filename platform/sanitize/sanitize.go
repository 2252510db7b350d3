// Package sanitize provides text normalisation helpers for chat messages.
package sanitize

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// htmlTagRegex matches HTML tags
	htmlTagRegex    = regexp.MustCompile(`<[^>]*>`)
	spaceRunRegex   = regexp.MustCompile(`[ \t]{2,}`)
	blankLinesRegex = regexp.MustCompile(`\n{3,}`)
)

// StripHTML removes all HTML tags from a string.
// Entities are decoded and the result is stripped again to catch encoded tags.
func StripHTML(s string) string {
	result := htmlTagRegex.ReplaceAllString(s, "")
	result = strings.ReplaceAll(result, "&lt;", "<")
	result = strings.ReplaceAll(result, "&gt;", ">")
	result = strings.ReplaceAll(result, "&amp;", "&")
	result = strings.ReplaceAll(result, "&quot;", "\"")
	result = strings.ReplaceAll(result, "&#39;", "'")
	result = htmlTagRegex.ReplaceAllString(result, "")
	return strings.TrimSpace(result)
}

// StripControl drops control and zero-width characters, keeping newlines and tabs.
func StripControl(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return r
		case r == '\r':
			return -1
		case unicode.IsControl(r):
			return -1
		case unicode.Is(unicode.Cf, r):
			return -1
		}
		return r
	}, s)
}

// Text prepares user-provided chat text for storage and prompting: control
// characters and markup are removed and whitespace runs collapsed.
func Text(s string) string {
	result := StripHTML(StripControl(s))
	result = spaceRunRegex.ReplaceAllString(result, " ")
	result = blankLinesRegex.ReplaceAllString(result, "\n\n")
	return strings.TrimSpace(result)
}

// Truncate clips s to at most limit runes. The bool reports whether anything was removed.
func Truncate(s string, limit int) (string, bool) {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s, false
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:limit])), true
}
