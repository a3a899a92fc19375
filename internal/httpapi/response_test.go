package httpapi

import (
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/ignite/relay/internal/apperror"
)

func TestWriteErrorSetsRateLimitHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	err := apperror.New(apperror.KindRateLimited, "rate limit exceeded at queue scope").
		WithDetails(map[string]any{
			"retryAfter": 42,
			"limit":      60,
			"remaining":  0,
			"reset":      int64(1760000000),
		})

	writeError(rec, zerolog.Nop(), err)

	assert.Equal(t, 429, rec.Code)
	assert.Equal(t, "42", rec.Header().Get("Retry-After"))
	assert.Equal(t, "60", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "1760000000", rec.Header().Get("X-RateLimit-Reset"))
}

func TestWriteErrorTranslatesKindToStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, zerolog.Nop(), apperror.New(apperror.KindQueuePaused, "queue is paused"))
	assert.Equal(t, 503, rec.Code)
	assert.Contains(t, rec.Body.String(), "QUEUE_PAUSED")
}

func TestWriteErrorWrapsUnknownErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, zerolog.Nop(), assertingErr{})
	assert.Equal(t, 500, rec.Code)
}

type assertingErr struct{}

func (assertingErr) Error() string { return "boom" }
