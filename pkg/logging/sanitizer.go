package logging

import (
	"regexp"
	"strings"
)

const (
	// MaxQueryLogLength is the maximum length of a query to log
	MaxQueryLogLength = 200
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

var (
	// password=xxx, pwd=xxx, pass=xxx (until next delimiter)
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// Azure AD service principal secrets and access tokens in DSNs or driver errors
	secretPattern = regexp.MustCompile(`(?i)(client[_ ]?secret|access[_ ]?token|fedauth[_ ]?token)=[^;&\s]+`)

	// Bearer tokens (three base64 segments separated by dots)
	bearerPattern = regexp.MustCompile(`Bearer\s+[A-Za-z0-9-_]+\.[A-Za-z0-9-_]+\.[A-Za-z0-9-_]*`)

	// user:pass@host in URL-style connection strings (postgres://, sqlserver://)
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@]+@[^/\s?]+`)

	whitespacePattern = regexp.MustCompile(`\s+`)
)

func redact(s string) string {
	s = passwordPattern.ReplaceAllString(s, "${1}="+RedactedText)
	s = secretPattern.ReplaceAllString(s, "${1}="+RedactedText)
	s = bearerPattern.ReplaceAllString(s, "Bearer "+RedactedText)
	return connStringPattern.ReplaceAllString(s, "://"+RedactedText+"@"+RedactedText)
}

// SanitizeConnectionString removes credentials from a DSN before it is logged.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	return redact(connStr)
}

// SanitizeError returns err's message with credentials removed.
// Driver errors from failed logins can echo the connection string.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return redact(err.Error())
}

// SanitizeQuery flattens a SQL query onto one line, truncates it and removes credentials.
func SanitizeQuery(query string) string {
	if query == "" {
		return ""
	}
	flat := strings.TrimSpace(whitespacePattern.ReplaceAllString(query, " "))
	return redact(TruncateString(flat, MaxQueryLogLength))
}

// TruncateString truncates a string to maxLen and adds ellipsis if needed
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
