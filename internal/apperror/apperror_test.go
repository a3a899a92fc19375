package apperror

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[Kind]int{
		KindAuthentication: http.StatusUnauthorized,
		KindAuthorization:  http.StatusForbidden,
		KindNotFound:       http.StatusNotFound,
		KindValidation:     http.StatusBadRequest,
		KindConflict:       http.StatusConflict,
		KindRateLimited:    http.StatusTooManyRequests,
		KindSuppressed:     http.StatusBadRequest,
		KindQueuePaused:    http.StatusServiceUnavailable,
		KindInternal:       http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, New(kind, "x").HTTPStatus())
	}
}

func TestUnknownKindDefaultsToInternalServerError(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, New(Kind("BOGUS"), "x").HTTPStatus())
}

func TestRetryable(t *testing.T) {
	assert.True(t, New(KindSMTPTransient, "x").Retryable())
	assert.True(t, New(KindInternal, "x").Retryable())
	assert.False(t, New(KindValidation, "x").Retryable())
	assert.False(t, New(KindSMTPPermanent, "x").Retryable())
}

func TestWrapUnwrapsCause(t *testing.T) {
	cause := errors.New("underlying failure")
	err := Wrap(KindInternal, "context", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "underlying failure")
}

func TestAsAndKindOf(t *testing.T) {
	err := New(KindNotFound, "missing")
	got, ok := As(err)
	assert.True(t, ok)
	assert.Equal(t, KindNotFound, got.Kind)
	assert.Equal(t, KindNotFound, KindOf(err))

	assert.Equal(t, KindInternal, KindOf(errors.New("plain error")))
}

func TestWithDetailsAttaches(t *testing.T) {
	err := New(KindValidation, "bad").WithDetails(map[string]string{"path": "subject"})
	assert.NotNil(t, err.Details)
}
