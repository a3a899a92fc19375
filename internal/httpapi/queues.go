// Handlers for spec.md §6's /v1/queues endpoints: CRUD, pause/resume, and
// stats. Grounded on the teacher's campaign CRUD handlers (decode, call a
// repository, 201/200/204), adapted to this platform's Queue model.
package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/relay/internal/admission"
	"github.com/ignite/relay/internal/apperror"
	"github.com/ignite/relay/internal/domain"
	"github.com/ignite/relay/internal/repository/postgres"
)

type createQueueRequest struct {
	Name            string `json:"name"`
	Priority        int    `json:"priority"`
	RateLimitPerMin *int   `json:"rateLimitPerMinute,omitempty"`
	MaxRetries      int    `json:"maxRetries,omitempty"`
	RetryDelaySeq   []int  `json:"retryDelaySeconds,omitempty"`
	SMTPConfigID    *string `json:"smtpConfigId,omitempty"`
	TrackOpens      bool   `json:"trackOpens,omitempty"`
	TrackClicks     bool   `json:"trackClicks,omitempty"`
}

// handleCreateQueue implements POST /v1/queues.
func (s *Server) handleCreateQueue(w http.ResponseWriter, r *http.Request) {
	auth, err := authFromContext(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	var req createQueueRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	if !admission.ValidQueueName(req.Name) {
		writeError(w, s.log, apperror.New(apperror.KindValidation, "queue name must be lowercase alphanumeric with hyphens"))
		return
	}

	q := &domain.Queue{
		TenantID:        auth.TenantID,
		Name:            req.Name,
		Priority:        req.Priority,
		RateLimitPerMin: req.RateLimitPerMin,
		MaxRetries:      req.MaxRetries,
		RetryDelaySeq:   req.RetryDelaySeq,
		SMTPConfigID:    req.SMTPConfigID,
		TrackOpens:      req.TrackOpens,
		TrackClicks:     req.TrackClicks,
	}
	if err := s.queues.Create(r.Context(), q); err != nil {
		if errors.Is(err, postgres.ErrDuplicateQueueName) {
			writeError(w, s.log, apperror.New(apperror.KindConflict, "a queue with this name already exists"))
			return
		}
		writeError(w, s.log, apperror.Wrap(apperror.KindInternal, "create queue", err))
		return
	}
	writeJSON(w, s.log, http.StatusCreated, q)
}

// handleListQueues implements GET /v1/queues.
func (s *Server) handleListQueues(w http.ResponseWriter, r *http.Request) {
	auth, err := authFromContext(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	list, err := s.queues.ListByTenant(r.Context(), auth.TenantID)
	if err != nil {
		writeError(w, s.log, apperror.Wrap(apperror.KindInternal, "list queues", err))
		return
	}
	writeJSON(w, s.log, http.StatusOK, list)
}

// handleGetQueue implements GET /v1/queues/:id.
func (s *Server) handleGetQueue(w http.ResponseWriter, r *http.Request) {
	q, err := s.loadTenantQueue(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, s.log, http.StatusOK, q)
}

type patchQueueRequest struct {
	Paused *bool `json:"paused,omitempty"`
}

// handlePatchQueue implements PATCH /v1/queues/:id. Only the paused flag is
// mutable post-creation; everything else about a queue's identity is fixed
// to keep retry/backoff semantics stable across a queue's lifetime.
func (s *Server) handlePatchQueue(w http.ResponseWriter, r *http.Request) {
	q, err := s.loadTenantQueue(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	var req patchQueueRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	if req.Paused != nil {
		if err := s.queues.SetPaused(r.Context(), q.ID, *req.Paused); err != nil {
			writeError(w, s.log, apperror.Wrap(apperror.KindInternal, "update queue", err))
			return
		}
		q.Paused = *req.Paused
	}
	writeJSON(w, s.log, http.StatusOK, q)
}

// handleDeleteQueue implements DELETE /v1/queues/:id.
func (s *Server) handleDeleteQueue(w http.ResponseWriter, r *http.Request) {
	q, err := s.loadTenantQueue(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	if err := s.queues.Delete(r.Context(), q.ID); err != nil {
		writeError(w, s.log, apperror.Wrap(apperror.KindInternal, "delete queue", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePauseQueue implements POST /v1/queues/:id/pause.
func (s *Server) handlePauseQueue(w http.ResponseWriter, r *http.Request) {
	q, err := s.loadTenantQueue(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	if err := s.queues.SetPaused(r.Context(), q.ID, true); err != nil {
		writeError(w, s.log, apperror.Wrap(apperror.KindInternal, "pause queue", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleResumeQueue implements POST /v1/queues/:id/resume.
func (s *Server) handleResumeQueue(w http.ResponseWriter, r *http.Request) {
	q, err := s.loadTenantQueue(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	if err := s.queues.SetPaused(r.Context(), q.ID, false); err != nil {
		writeError(w, s.log, apperror.Wrap(apperror.KindInternal, "resume queue", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleQueueStats implements GET /v1/queues/:id/stats (spec.md §4.2 stats).
func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	q, err := s.loadTenantQueue(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	stats, err := s.broker.Stats(r.Context(), q.ID)
	if err != nil {
		writeError(w, s.log, apperror.Wrap(apperror.KindInternal, "queue stats", err))
		return
	}
	writeJSON(w, s.log, http.StatusOK, stats)
}

func (s *Server) loadTenantQueue(r *http.Request) (*domain.Queue, error) {
	auth, err := authFromContext(r)
	if err != nil {
		return nil, err
	}
	q, err := s.queues.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return nil, apperror.New(apperror.KindNotFound, "queue not found")
	}
	if q.TenantID != auth.TenantID {
		return nil, apperror.New(apperror.KindNotFound, "queue not found")
	}
	return q, nil
}
