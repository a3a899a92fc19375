package httpapi

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBearerTokenStripsPrefix(t *testing.T) {
	assert.Equal(t, "abc123", bearerToken("Bearer abc123"))
}

func TestBearerTokenPassesThroughRawValue(t *testing.T) {
	assert.Equal(t, "abc123", bearerToken("abc123"))
}

func TestBearerTokenHandlesEmpty(t *testing.T) {
	assert.Equal(t, "", bearerToken(""))
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	r.RemoteAddr = "192.168.1.1:54321"
	assert.Equal(t, "203.0.113.5", clientIP(r))
}

func TestClientIPFallsBackToRemoteAddr(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "192.168.1.1:54321"
	assert.Equal(t, "192.168.1.1", clientIP(r))
}
