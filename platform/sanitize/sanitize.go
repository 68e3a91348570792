// Package sanitize provides text and log sanitization utilities.
package sanitize

import (
	"regexp"
	"strings"
)

var (
	// htmlTagRegex matches HTML tags
	htmlTagRegex = regexp.MustCompile(`<[^>]*>`)

	// secretValueRegex matches key/value pairs whose key names a credential,
	// in both JSON ("apikey": "...") and query (apikey=...) shapes.
	secretValueRegex = regexp.MustCompile(`(?i)("?(?:apikey|api_key|password|token|authorization|secret)"?\s*[:=]\s*)("[^"]*"|[^\s,&}]+)`)
)

// StripHTML removes all HTML tags from a string, making it safe for text-only display.
func StripHTML(s string) string {
	result := htmlTagRegex.ReplaceAllString(s, "")
	result = strings.ReplaceAll(result, "&lt;", "<")
	result = strings.ReplaceAll(result, "&gt;", ">")
	result = strings.ReplaceAll(result, "&amp;", "&")
	result = strings.ReplaceAll(result, "&quot;", "\"")
	result = strings.ReplaceAll(result, "&#39;", "'")
	// Re-strip after entity decode to catch encoded tags
	result = htmlTagRegex.ReplaceAllString(result, "")
	return strings.TrimSpace(result)
}

// Text sanitizes a string for safe text storage by stripping HTML.
// Use for user-provided text forwarded to the CRM (notes, names).
func Text(s string) string {
	return StripHTML(s)
}

// Payload redacts credential values and truncates the result to maxLen runes.
// Use before logging raw webhook bodies or upstream responses.
func Payload(s string, maxLen int) string {
	result := secretValueRegex.ReplaceAllString(s, `$1"[REDACTED]"`)
	if maxLen > 0 && len(result) > maxLen {
		result = result[:maxLen] + "...(truncated)"
	}
	return result
}
