package apperror

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeRedactsEmail(t *testing.T) {
	out := Sanitize("connection refused for user@example.com")
	assert.Contains(t, out, "[redacted-email]")
	assert.NotContains(t, out, "user@example.com")
}

func TestSanitizeRedactsBearerToken(t *testing.T) {
	out := Sanitize("auth failed with token: abcdef1234567890")
	assert.Contains(t, out, "[redacted-credential]")
	assert.NotContains(t, out, "abcdef1234567890")
}

func TestSanitizeRedactsIPv4(t *testing.T) {
	out := Sanitize("dial tcp 203.0.113.42:25: connection refused")
	assert.Contains(t, out, "[redacted-ip]")
	assert.NotContains(t, out, "203.0.113.42")
}

func TestSanitizeLeavesPlainMessageUntouched(t *testing.T) {
	out := Sanitize("smtp: 451 4.3.0 temporary failure")
	assert.Equal(t, "smtp: 451 4.3.0 temporary failure", out)
}
