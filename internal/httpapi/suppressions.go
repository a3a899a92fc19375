// Handlers for spec.md §6's /v1/suppressions endpoints. Grounded on the
// teacher's list-and-bulk-insert handler pairs, adapted to this platform's
// tenant-scoped SuppressionEntry model.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/relay/internal/apperror"
	"github.com/ignite/relay/internal/domain"
)

type addSuppressionRequest struct {
	Email     string                   `json:"email"`
	Reason    domain.SuppressionReason `json:"reason"`
	ExpiresAt *string                  `json:"expiresAt,omitempty"`
}

// handleAddSuppression implements POST /v1/suppressions.
func (s *Server) handleAddSuppression(w http.ResponseWriter, r *http.Request) {
	auth, err := authFromContext(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	var req addSuppressionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	if req.Email == "" {
		writeError(w, s.log, apperror.New(apperror.KindValidation, "email is required"))
		return
	}

	entry := &domain.SuppressionEntry{
		TenantID: &auth.TenantID,
		Email:    req.Email,
		Reason:   req.Reason,
	}
	if req.ExpiresAt != nil {
		t, err := parseRFC3339(*req.ExpiresAt)
		if err != nil {
			writeError(w, s.log, apperror.New(apperror.KindValidation, "expiresAt must be RFC3339"))
			return
		}
		entry.ExpiresAt = &t
	}
	if err := s.suppressions.Add(r.Context(), entry); err != nil {
		writeError(w, s.log, apperror.Wrap(apperror.KindInternal, "add suppression entry", err))
		return
	}
	writeJSON(w, s.log, http.StatusCreated, entry)
}

type bulkAddSuppressionsRequest struct {
	Entries []addSuppressionRequest `json:"entries"`
}

// handleBulkAddSuppressions implements POST /v1/suppressions/bulk.
func (s *Server) handleBulkAddSuppressions(w http.ResponseWriter, r *http.Request) {
	auth, err := authFromContext(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	var req bulkAddSuppressionsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}

	entries := make([]domain.SuppressionEntry, 0, len(req.Entries))
	for _, e := range req.Entries {
		if e.Email == "" {
			continue
		}
		entry := domain.SuppressionEntry{TenantID: &auth.TenantID, Email: e.Email, Reason: e.Reason}
		if e.ExpiresAt != nil {
			if t, err := parseRFC3339(*e.ExpiresAt); err == nil {
				entry.ExpiresAt = &t
			}
		}
		entries = append(entries, entry)
	}

	inserted, err := s.suppressions.AddBulk(r.Context(), entries)
	if err != nil {
		writeError(w, s.log, apperror.Wrap(apperror.KindInternal, "bulk add suppression entries", err))
		return
	}
	writeJSON(w, s.log, http.StatusOK, struct {
		Submitted int `json:"submitted"`
		Inserted  int `json:"inserted"`
	}{Submitted: len(req.Entries), Inserted: inserted})
}

// handleListSuppressions implements GET /v1/suppressions.
func (s *Server) handleListSuppressions(w http.ResponseWriter, r *http.Request) {
	auth, err := authFromContext(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	entries, err := s.suppressions.ListByTenant(r.Context(), auth.TenantID)
	if err != nil {
		writeError(w, s.log, apperror.Wrap(apperror.KindInternal, "list suppression entries", err))
		return
	}
	writeJSON(w, s.log, http.StatusOK, entries)
}

// handleRemoveSuppression implements DELETE /v1/suppressions/:email.
func (s *Server) handleRemoveSuppression(w http.ResponseWriter, r *http.Request) {
	auth, err := authFromContext(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	email := chi.URLParam(r, "email")
	if err := s.suppressions.Remove(r.Context(), auth.TenantID, email); err != nil {
		writeError(w, s.log, apperror.Wrap(apperror.KindInternal, "remove suppression entry", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
