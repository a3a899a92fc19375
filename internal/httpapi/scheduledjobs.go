// Handlers for spec.md §6's /v1/scheduled-jobs endpoints and the standalone
// cron-validation helper endpoint. Grounded on the teacher's campaign
// scheduling handlers, adapted to this platform's cron-driven ScheduledJob
// model (spec.md §4.8).
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/relay/internal/apperror"
	"github.com/ignite/relay/internal/domain"
	"github.com/ignite/relay/internal/scheduler"
)

type createScheduledJobRequest struct {
	QueueID        string         `json:"queueId"`
	CronExpression string         `json:"cronExpression"`
	Timezone       string         `json:"timezone,omitempty"`
	EmailTemplate  map[string]any `json:"emailTemplate"`
}

// handleCreateScheduledJob implements POST /v1/scheduled-jobs. The cron
// expression is validated up front and the job's first next_run_at is
// computed immediately, per spec.md §4.8.
func (s *Server) handleCreateScheduledJob(w http.ResponseWriter, r *http.Request) {
	auth, err := authFromContext(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	var req createScheduledJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	if req.Timezone == "" {
		req.Timezone = "UTC"
	}
	if err := scheduler.ValidateCron(req.CronExpression); err != nil {
		writeError(w, s.log, apperror.New(apperror.KindValidation, err.Error()))
		return
	}
	q, err := s.queues.GetByID(r.Context(), req.QueueID)
	if err != nil || q.TenantID != auth.TenantID {
		writeError(w, s.log, apperror.New(apperror.KindNotFound, "queue not found"))
		return
	}

	now := time.Now().UTC()
	next, err := scheduler.NextFireTime(req.CronExpression, req.Timezone, now)
	if err != nil {
		writeError(w, s.log, apperror.New(apperror.KindValidation, err.Error()))
		return
	}

	job := &domain.ScheduledJob{
		TenantID:       auth.TenantID,
		QueueID:        req.QueueID,
		CronExpression: req.CronExpression,
		Timezone:       req.Timezone,
		EmailTemplate:  req.EmailTemplate,
		Active:         true,
		NextRunAt:      &next,
	}
	if err := s.scheduledJob.Create(r.Context(), job); err != nil {
		writeError(w, s.log, apperror.Wrap(apperror.KindInternal, "create scheduled job", err))
		return
	}
	writeJSON(w, s.log, http.StatusCreated, job)
}

// handleListScheduledJobs implements GET /v1/scheduled-jobs.
func (s *Server) handleListScheduledJobs(w http.ResponseWriter, r *http.Request) {
	auth, err := authFromContext(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	jobs, err := s.scheduledJob.ListByTenant(r.Context(), auth.TenantID)
	if err != nil {
		writeError(w, s.log, apperror.Wrap(apperror.KindInternal, "list scheduled jobs", err))
		return
	}
	writeJSON(w, s.log, http.StatusOK, jobs)
}

// handleDeleteScheduledJob implements DELETE /v1/scheduled-jobs/:id.
func (s *Server) handleDeleteScheduledJob(w http.ResponseWriter, r *http.Request) {
	auth, err := authFromContext(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	id := chi.URLParam(r, "id")
	job, err := s.scheduledJob.Get(r.Context(), id)
	if err != nil || job.TenantID != auth.TenantID {
		writeError(w, s.log, apperror.New(apperror.KindNotFound, "scheduled job not found"))
		return
	}
	if err := s.scheduledJob.Delete(r.Context(), id); err != nil {
		writeError(w, s.log, apperror.Wrap(apperror.KindInternal, "delete scheduled job", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type validateCronRequest struct {
	CronExpression string `json:"cronExpression"`
	Timezone       string `json:"timezone,omitempty"`
}

// handleValidateCron implements POST /v1/validate-cron, used by clients to
// check an expression before creating a scheduled job.
func (s *Server) handleValidateCron(w http.ResponseWriter, r *http.Request) {
	var req validateCronRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	if req.Timezone == "" {
		req.Timezone = "UTC"
	}
	if err := scheduler.ValidateCron(req.CronExpression); err != nil {
		writeJSON(w, s.log, http.StatusOK, struct {
			Valid bool   `json:"valid"`
			Error string `json:"error"`
		}{Valid: false, Error: err.Error()})
		return
	}
	next, err := scheduler.NextFireTime(req.CronExpression, req.Timezone, time.Now().UTC())
	if err != nil {
		writeJSON(w, s.log, http.StatusOK, struct {
			Valid bool   `json:"valid"`
			Error string `json:"error"`
		}{Valid: false, Error: err.Error()})
		return
	}
	writeJSON(w, s.log, http.StatusOK, struct {
		Valid       bool      `json:"valid"`
		NextFireAt  time.Time `json:"nextFireAt"`
	}{Valid: true, NextFireAt: next})
}
