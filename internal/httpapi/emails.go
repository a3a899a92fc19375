// Handlers for spec.md §6's /v1/emails endpoints: single send, batch send,
// list, get, event history, cancel, and manual retry. Grounded on the
// teacher's mailing_sending.go handler shape (decode, call a domain
// service, translate the result to an HTTP response) adapted to this
// platform's admission.Controller and envelope format.
package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/relay/internal/admission"
	"github.com/ignite/relay/internal/apperror"
	"github.com/ignite/relay/internal/domain"
)

const maxBatchSize = 10000
const defaultListLimit = 50
const maxListLimit = 200

func recipientsFromRequest(rs []recipientPayload) []domain.Recipient {
	out := make([]domain.Recipient, len(rs))
	for i, r := range rs {
		out[i] = domain.Recipient{Email: r.Email, Name: r.Name}
	}
	return out
}

type recipientPayload struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendEmailRequest struct {
	Queue           string             `json:"queue"`
	From            recipientPayload   `json:"from"`
	To              []recipientPayload `json:"to"`
	CC              []recipientPayload `json:"cc,omitempty"`
	BCC             []recipientPayload `json:"bcc,omitempty"`
	ReplyTo         string             `json:"replyTo,omitempty"`
	Subject         string             `json:"subject"`
	HTMLBody        string             `json:"htmlBody,omitempty"`
	TextBody        string             `json:"textBody,omitempty"`
	Headers         map[string]string  `json:"headers,omitempty"`
	Personalization map[string]any     `json:"personalization,omitempty"`
	Metadata        map[string]any     `json:"metadata,omitempty"`
	ScheduledAt     string             `json:"scheduledAt,omitempty"`
}

func (req sendEmailRequest) toSendRequest() (admission.SendRequest, error) {
	var scheduledAt *time.Time
	if req.ScheduledAt != "" {
		t, err := parseRFC3339(req.ScheduledAt)
		if err != nil {
			return admission.SendRequest{}, apperror.New(apperror.KindValidation, "scheduledAt must be RFC3339")
		}
		scheduledAt = &t
	}
	return admission.SendRequest{
		QueueName:       req.Queue,
		From:            domain.Recipient{Email: req.From.Email, Name: req.From.Name},
		To:              recipientsFromRequest(req.To),
		CC:              recipientsFromRequest(req.CC),
		BCC:             recipientsFromRequest(req.BCC),
		ReplyTo:         req.ReplyTo,
		Subject:         req.Subject,
		HTMLBody:        req.HTMLBody,
		TextBody:        req.TextBody,
		Headers:         req.Headers,
		Personalization: req.Personalization,
		Metadata:        req.Metadata,
		ScheduledAt:     scheduledAt,
	}, nil
}

// handleSubmitEmail implements POST /v1/emails (spec.md §6).
func (s *Server) handleSubmitEmail(w http.ResponseWriter, r *http.Request) {
	auth, err := authFromContext(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	var req sendEmailRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}

	sendReq, err := req.toSendRequest()
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	idempotencyKey := r.Header.Get("Idempotency-Key")
	result, err := s.admission.Submit(r.Context(), *auth, sendReq, idempotencyKey)
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		w.Header().Set("X-Idempotency-Replayed", "true")
		status = http.StatusOK
	}
	writeJSON(w, s.log, status, result.Email)
}

type batchResult struct {
	TotalCount  int               `json:"totalCount"`
	QueuedCount int               `json:"queuedCount"`
	FailedCount int               `json:"failedCount"`
	EmailIDs    []string          `json:"emailIds"`
	Errors      []batchItemError  `json:"errors,omitempty"`
}

type batchItemError struct {
	Index   int    `json:"index"`
	Message string `json:"message"`
}

// handleSubmitBatch implements POST /v1/emails/batch (spec.md §6): each
// entry is admitted independently so one bad entry never fails the batch.
func (s *Server) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	auth, err := authFromContext(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	var req struct {
		Emails         []sendEmailRequest `json:"emails"`
		IdempotencyKey string             `json:"idempotencyKey,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	if len(req.Emails) > maxBatchSize {
		writeError(w, s.log, apperror.Newf(apperror.KindValidation, "batch exceeds %d entries", maxBatchSize))
		return
	}

	out := batchResult{TotalCount: len(req.Emails)}
	for i, entry := range req.Emails {
		sendReq, err := entry.toSendRequest()
		if err == nil {
			var result *admission.Result
			result, err = s.admission.Submit(r.Context(), *auth, sendReq, "")
			if err == nil {
				out.QueuedCount++
				out.EmailIDs = append(out.EmailIDs, result.Email.ID)
				continue
			}
		}
		out.FailedCount++
		out.Errors = append(out.Errors, batchItemError{Index: i, Message: apperror.Sanitize(err.Error())})
	}

	// 201 if any entry queued, 400 if every entry failed.
	status := http.StatusCreated
	if out.QueuedCount == 0 && out.TotalCount > 0 {
		status = http.StatusBadRequest
	}
	writeJSON(w, s.log, status, out)
}

// handleListEmails implements GET /v1/emails (spec.md §6, cursor paginated).
func (s *Server) handleListEmails(w http.ResponseWriter, r *http.Request) {
	auth, err := authFromContext(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, convErr := strconv.Atoi(raw); convErr == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	var cursor *domain.Cursor
	// Cursor is opaque to the caller; this implementation round-trips it
	// verbatim via the `cursor` query parameter in the prior response.
	if raw := r.URL.Query().Get("cursor"); raw != "" {
		if decoded, ok := decodeCursor(raw); ok {
			cursor = decoded
		}
	}

	emails, next, err := s.emails.List(r.Context(), auth.TenantID, cursor, limit)
	if err != nil {
		writeError(w, s.log, apperror.Wrap(apperror.KindInternal, "list emails", err))
		return
	}

	resp := struct {
		Emails     []domain.Email `json:"emails"`
		NextCursor string         `json:"nextCursor,omitempty"`
	}{Emails: emails}
	if next != nil {
		resp.NextCursor = encodeCursor(*next)
	}
	writeJSON(w, s.log, http.StatusOK, resp)
}

// handleGetEmail implements GET /v1/emails/:id.
func (s *Server) handleGetEmail(w http.ResponseWriter, r *http.Request) {
	auth, err := authFromContext(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	email, err := s.loadTenantEmail(r, auth.TenantID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, s.log, http.StatusOK, email)
}

// handleListEmailEvents implements GET /v1/emails/:id/events.
func (s *Server) handleListEmailEvents(w http.ResponseWriter, r *http.Request) {
	auth, err := authFromContext(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	email, err := s.loadTenantEmail(r, auth.TenantID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	events, err := s.events.ListByEmail(r.Context(), email.ID)
	if err != nil {
		writeError(w, s.log, apperror.Wrap(apperror.KindInternal, "list email events", err))
		return
	}
	writeJSON(w, s.log, http.StatusOK, events)
}

// handleCancelEmail implements DELETE /v1/emails/:id: only a still-queued
// email can be cancelled (spec.md §3).
func (s *Server) handleCancelEmail(w http.ResponseWriter, r *http.Request) {
	auth, err := authFromContext(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	email, err := s.loadTenantEmail(r, auth.TenantID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	ok, err := s.emails.Cancel(r.Context(), email.ID)
	if err != nil {
		writeError(w, s.log, apperror.Wrap(apperror.KindInternal, "cancel email", err))
		return
	}
	if !ok {
		writeError(w, s.log, apperror.New(apperror.KindConflict, "email is no longer queued"))
		return
	}
	// Cancellation is recorded on the email row's status alone; the event
	// log holds only the lifecycle types clients subscribe to.
	w.WriteHeader(http.StatusNoContent)
}

// handleRetryEmail implements POST /v1/emails/:id/retry: only a failed
// email can be manually requeued.
func (s *Server) handleRetryEmail(w http.ResponseWriter, r *http.Request) {
	auth, err := authFromContext(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	email, err := s.loadTenantEmail(r, auth.TenantID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	ok, err := s.emails.RetryFailed(r.Context(), email.ID)
	if err != nil {
		writeError(w, s.log, apperror.Wrap(apperror.KindInternal, "retry email", err))
		return
	}
	if !ok {
		writeError(w, s.log, apperror.New(apperror.KindConflict, "email is not in a failed state"))
		return
	}
	q, err := s.queues.GetByID(r.Context(), email.QueueID)
	if err != nil {
		writeError(w, s.log, apperror.Wrap(apperror.KindInternal, "resolve queue for retry", err))
		return
	}
	if _, err := s.broker.Enqueue(r.Context(), q.ID, map[string]any{"emailId": email.ID}, enqueueOptsFor(*q)); err != nil {
		writeError(w, s.log, apperror.Wrap(apperror.KindInternal, "enqueue retry", err))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// loadTenantEmail fetches an email and enforces that it belongs to the
// authenticated tenant, returning a NOT_FOUND otherwise so tenants can
// never observe another tenant's existence via status codes.
func (s *Server) loadTenantEmail(r *http.Request, tenantID, id string) (*domain.Email, error) {
	email, err := s.emails.Get(r.Context(), id)
	if err != nil {
		return nil, apperror.New(apperror.KindNotFound, "email not found")
	}
	if email.TenantID != tenantID {
		return nil, apperror.New(apperror.KindNotFound, "email not found")
	}
	return email, nil
}
