package logging

import (
	"regexp"
)

const (
	// MaxNameLogLength bounds raw names echoed into logs.
	MaxNameLogLength = 120
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

var (
	// password=xxx, pwd=xxx, pass=xxx (until next delimiter)
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// api_key=xxx, apikey=xxx, key=xxx with a long token
	apiKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|apikey|key)=[A-Za-z0-9-_]{20,}`)

	// Bearer tokens sent to embedding endpoints
	bearerPattern = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9-_.]+`)

	// user:pass@host in URLs (postgres://, redis://)
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@`)
)

// SanitizeConnectionString removes credentials from a DSN or URL.
// Use this before logging any connection string.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	return connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@")
}

// SanitizeAPIKey reduces a key to a recognisable hint.
func SanitizeAPIKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return RedactedText
	}
	return key[:4] + "..." + RedactedText
}

// SanitizeError strips credentials from an error message before logging.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(err.Error(), "${1}="+RedactedText)
	sanitized = bearerPattern.ReplaceAllString(sanitized, "Bearer "+RedactedText)
	sanitized = apiKeyPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
	return connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@")
}

// TruncateString truncates a string to maxLen and adds ellipsis if needed
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// TruncateName bounds a raw college or course name for logging.
func TruncateName(name string) string {
	return TruncateString(name, MaxNameLogLength)
}
