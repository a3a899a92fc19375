// Handlers for spec.md §6's /v1/webhooks/deliveries endpoints. Grounded on
// the teacher's delivery-log read handlers, adapted to this platform's
// WebhookDelivery model and the broker-driven retry path (spec.md §4.5).
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/relay/internal/apperror"
	"github.com/ignite/relay/internal/domain"
)

// handleListWebhookDeliveries implements GET /v1/webhooks/deliveries.
func (s *Server) handleListWebhookDeliveries(w http.ResponseWriter, r *http.Request) {
	auth, err := authFromContext(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	deliveries, err := s.webhooks.ListByTenant(r.Context(), auth.TenantID)
	if err != nil {
		writeError(w, s.log, apperror.Wrap(apperror.KindInternal, "list webhook deliveries", err))
		return
	}
	writeJSON(w, s.log, http.StatusOK, deliveries)
}

// handleRetryWebhookDelivery implements POST /v1/webhooks/deliveries/:id/retry,
// re-enqueueing a failed delivery for another attempt outside the sweeper's
// normal backoff schedule.
func (s *Server) handleRetryWebhookDelivery(w http.ResponseWriter, r *http.Request) {
	auth, err := authFromContext(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	id := chi.URLParam(r, "id")
	delivery, err := s.webhooks.Get(r.Context(), id)
	if err != nil || delivery.TenantID != auth.TenantID {
		writeError(w, s.log, apperror.New(apperror.KindNotFound, "webhook delivery not found"))
		return
	}
	if delivery.Status == domain.WebhookDelivered {
		writeError(w, s.log, apperror.New(apperror.KindConflict, "delivery already succeeded"))
		return
	}
	if _, err := s.broker.Enqueue(r.Context(), domain.WebhookQueueName, map[string]any{"deliveryId": delivery.ID}, enqueueOptsFor(domain.Queue{Priority: 5})); err != nil {
		writeError(w, s.log, apperror.Wrap(apperror.KindInternal, "enqueue webhook retry", err))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
