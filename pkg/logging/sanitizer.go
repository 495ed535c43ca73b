package logging

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	// MaxSearchLogLength is the maximum length of user search text to log.
	MaxSearchLogLength = 64
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

var (
	// password=xxx, pwd=xxx, pass=xxx (until next delimiter)
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// user:pass@host in URLs
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@`)

	// Authorization headers leaking into wrapped errors
	bearerPattern = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-_.]+`)
)

// SanitizeConnectionString removes credentials from a DSN or database URL.
// Use this before logging any connection string.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}

	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@")
	return sanitized
}

// SanitizeError renders err with credentials removed.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	sanitized := SanitizeConnectionString(err.Error())
	sanitized = bearerPattern.ReplaceAllString(sanitized, "Bearer "+RedactedText)
	return sanitized
}

// SanitizeSearchTerm prepares reader-supplied search text for a log line:
// control characters are dropped and the result is truncated.
func SanitizeSearchTerm(term string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, term)
	return TruncateString(cleaned, MaxSearchLogLength)
}

// TruncateString truncates s to maxLen runes and adds ellipsis if needed.
func TruncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
