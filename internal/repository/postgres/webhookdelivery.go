package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/relay/internal/domain"
)

// WebhookDeliveryRepository implements outbound webhook attempt persistence
// (spec.md §3, §4.5).
type WebhookDeliveryRepository struct {
	db *sql.DB
}

// NewWebhookDeliveryRepository constructs a WebhookDeliveryRepository.
func NewWebhookDeliveryRepository(db *sql.DB) *WebhookDeliveryRepository {
	return &WebhookDeliveryRepository{db: db}
}

// Create inserts a new pending delivery, queued by the dispatcher when an
// email event fires (spec.md §4.5 step 1).
func (r *WebhookDeliveryRepository) Create(ctx context.Context, d *domain.WebhookDelivery) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(d.Payload)
	if err != nil {
		return fmt.Errorf("postgres: marshal webhook payload: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (id, tenant_id, source_email_id, event_type,
			payload, status, attempts, last_error, next_retry_at, delivered_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, d.ID, d.TenantID, d.SourceEmailID, d.EventType, payload, d.Status,
		d.Attempts, d.LastError, d.NextRetryAt, d.DeliveredAt, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert webhook delivery: %w", err)
	}
	return nil
}

// Get fetches a delivery by id.
func (r *WebhookDeliveryRepository) Get(ctx context.Context, id string) (*domain.WebhookDelivery, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, source_email_id, event_type, payload, status,
		       attempts, last_error, next_retry_at, delivered_at, created_at
		FROM webhook_deliveries WHERE id = $1
	`, id)
	return scanWebhookDelivery(row)
}

// DueForRetry returns pending deliveries whose next_retry_at has passed or
// is unset, used by the sweeper (spec.md §4.5 retry loop).
func (r *WebhookDeliveryRepository) DueForRetry(ctx context.Context, now time.Time, limit int) ([]domain.WebhookDelivery, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, source_email_id, event_type, payload, status,
		       attempts, last_error, next_retry_at, delivered_at, created_at
		FROM webhook_deliveries
		WHERE status = 'pending'
		  AND (next_retry_at IS NULL OR next_retry_at <= $1)
		ORDER BY created_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list due webhook deliveries: %w", err)
	}
	defer rows.Close()
	var out []domain.WebhookDelivery
	for rows.Next() {
		var d domain.WebhookDelivery
		var payload []byte
		if err := rows.Scan(&d.ID, &d.TenantID, &d.SourceEmailID, &d.EventType,
			&payload, &d.Status, &d.Attempts, &d.LastError, &d.NextRetryAt,
			&d.DeliveredAt, &d.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(payload, &d.Payload)
		out = append(out, d)
	}
	return out, rows.Err()
}

// MarkDelivered records a successful delivery.
func (r *WebhookDeliveryRepository) MarkDelivered(ctx context.Context, id string, deliveredAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE webhook_deliveries SET status = 'delivered', delivered_at = $1 WHERE id = $2
	`, deliveredAt, id)
	return err
}

// MarkAttemptFailed records a failed attempt and schedules (or exhausts)
// the next retry. Status stays `pending` while retries remain, per the
// sweeper's redelivery convention; it only becomes `failed` once the
// attempt budget is exhausted.
func (r *WebhookDeliveryRepository) MarkAttemptFailed(ctx context.Context, id string, lastErr string, nextRetryAt *time.Time) error {
	status := string(domain.WebhookPending)
	if nextRetryAt == nil {
		status = string(domain.WebhookFailed)
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET status = $1, attempts = attempts + 1, last_error = $2, next_retry_at = $3
		WHERE id = $4
	`, status, lastErr, nextRetryAt, id)
	return err
}

// ListByTenant lists a tenant's webhook deliveries.
func (r *WebhookDeliveryRepository) ListByTenant(ctx context.Context, tenantID string) ([]domain.WebhookDelivery, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, source_email_id, event_type, payload, status,
		       attempts, last_error, next_retry_at, delivered_at, created_at
		FROM webhook_deliveries WHERE tenant_id = $1
		ORDER BY created_at DESC
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list webhook deliveries: %w", err)
	}
	defer rows.Close()
	var out []domain.WebhookDelivery
	for rows.Next() {
		var d domain.WebhookDelivery
		var payload []byte
		if err := rows.Scan(&d.ID, &d.TenantID, &d.SourceEmailID, &d.EventType,
			&payload, &d.Status, &d.Attempts, &d.LastError, &d.NextRetryAt,
			&d.DeliveredAt, &d.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(payload, &d.Payload)
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanWebhookDelivery(row *sql.Row) (*domain.WebhookDelivery, error) {
	var d domain.WebhookDelivery
	var payload []byte
	if err := row.Scan(&d.ID, &d.TenantID, &d.SourceEmailID, &d.EventType,
		&payload, &d.Status, &d.Attempts, &d.LastError, &d.NextRetryAt,
		&d.DeliveredAt, &d.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	_ = json.Unmarshal(payload, &d.Payload)
	return &d, nil
}
