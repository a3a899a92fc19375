// Package httpapi implements the transactional email platform's HTTP
// surface: router wiring, middleware, and handlers for the /v1 endpoints
// described in spec.md §6. Grounded on the teacher's internal/api package
// (chi router, JSON response helpers), rebuilt around the {success,
// data|error} envelope shape this platform exposes instead of the
// teacher's monitoring-dashboard responses.
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/ignite/relay/internal/apperror"
)

// envelope is the uniform response body for every /v1 endpoint.
type envelope struct {
	Success bool           `json:"success"`
	Data    any            `json:"data,omitempty"`
	Error   *errorEnvelope `json:"error,omitempty"`
}

type errorEnvelope struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// writeJSON writes data wrapped in a success envelope.
func writeJSON(w http.ResponseWriter, log zerolog.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Success: true, Data: data}); err != nil {
		log.Error().Err(err).Msg("httpapi: encode response")
	}
}

// writeError writes err wrapped in an error envelope, translating its
// apperror.Kind to an HTTP status and sanitizing the message first. A
// rate-limited error additionally carries the Retry-After and X-RateLimit-*
// headers spec.md §6 prescribes, sourced from the limiter's decision details.
func writeError(w http.ResponseWriter, log zerolog.Logger, err error) {
	ae, ok := apperror.As(err)
	if !ok {
		ae = apperror.Wrap(apperror.KindInternal, "internal error", err)
	}
	if ae.Kind == apperror.KindRateLimited {
		setRateLimitHeaders(w, ae.Details)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(ae.HTTPStatus())
	body := envelope{
		Success: false,
		Error: &errorEnvelope{
			Kind:    string(ae.Kind),
			Message: apperror.Sanitize(ae.Message),
			Details: ae.Details,
		},
	}
	if encErr := json.NewEncoder(w).Encode(body); encErr != nil {
		log.Error().Err(encErr).Msg("httpapi: encode error response")
	}
}

// setRateLimitHeaders maps the admission controller's 429 detail bag onto
// the response headers clients key their backoff from.
func setRateLimitHeaders(w http.ResponseWriter, details any) {
	m, ok := details.(map[string]any)
	if !ok {
		return
	}
	if v, ok := m["retryAfter"].(int); ok && v >= 0 {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", v))
	}
	if v, ok := m["limit"].(int); ok {
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", v))
	}
	if v, ok := m["remaining"].(int); ok {
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", v))
	}
	if v, ok := m["reset"].(int64); ok {
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", v))
	}
}

// decodeJSON reads a JSON body into dst, returning a VALIDATION_ERROR
// apperror on failure.
func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperror.Newf(apperror.KindValidation, "invalid JSON body: %v", err)
	}
	return nil
}
