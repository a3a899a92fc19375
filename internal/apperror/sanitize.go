package apperror

import "regexp"

// Adapted from the teacher's internal/api/error_sanitizer.go: strip
// addresses, bearer tokens, and IPs from an error message before it
// reaches a client response or a log line (spec.md §4.3 step 8).

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	tokenPattern = regexp.MustCompile(`(?i)(bearer|token|key|secret)[=:\s]+[A-Za-z0-9._\-]{8,}`)
	ipv4Pattern  = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
)

// Sanitize redacts PII-shaped substrings from a raw error message.
func Sanitize(msg string) string {
	msg = emailPattern.ReplaceAllString(msg, "[redacted-email]")
	msg = tokenPattern.ReplaceAllString(msg, "[redacted-credential]")
	msg = ipv4Pattern.ReplaceAllString(msg, "[redacted-ip]")
	return msg
}
