// Handlers for the tracking event-write contract (spec.md §1, §3; Non-goals:
// this service records opens/clicks reported back by a pixel/redirect
// collaborator, it does not serve the pixel or perform the redirect).
// Grounded on the teacher's webhook-ingest handlers (decode a token/body from
// an external caller, record it, reply 204) adapted to tracking.Tracker.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/relay/internal/apperror"
)

// handleTrackOpen implements POST /v1/tracking/open/:token.
func (s *Server) handleTrackOpen(w http.ResponseWriter, r *http.Request) {
	if s.tracker == nil {
		writeError(w, s.log, apperror.New(apperror.KindNotFound, "tracking is not configured"))
		return
	}
	token := chi.URLParam(r, "token")
	if err := s.tracker.RecordOpen(r.Context(), token); err != nil {
		writeError(w, s.log, apperror.New(apperror.KindNotFound, "invalid or expired tracking token"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTrackClick implements POST /v1/tracking/click/:code. The resolved
// original URL is returned in the body for the external redirect
// collaborator; this handler never issues the redirect itself.
func (s *Server) handleTrackClick(w http.ResponseWriter, r *http.Request) {
	if s.tracker == nil {
		writeError(w, s.log, apperror.New(apperror.KindNotFound, "tracking is not configured"))
		return
	}
	code := chi.URLParam(r, "code")
	url, err := s.tracker.RecordClick(r.Context(), code)
	if err != nil {
		writeError(w, s.log, apperror.New(apperror.KindNotFound, "unknown tracking link"))
		return
	}
	writeJSON(w, s.log, http.StatusOK, map[string]string{"url": url})
}
