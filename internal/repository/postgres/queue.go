package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/relay/internal/domain"
)

// QueueRepository implements Queue persistence (spec.md §3).
type QueueRepository struct {
	db *sql.DB
}

// NewQueueRepository constructs a QueueRepository.
func NewQueueRepository(db *sql.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

// Create inserts a new queue. Name uniqueness per tenant is enforced by the
// table's UNIQUE(tenant_id, name) constraint.
func (r *QueueRepository) Create(ctx context.Context, q *domain.Queue) error {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now().UTC()
	}
	if len(q.RetryDelaySeq) == 0 {
		q.RetryDelaySeq = domain.DefaultRetryDelaySeconds
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO queues (id, tenant_id, name, priority, rate_limit_per_min,
			max_retries, retry_delay_seq, smtp_config_id, paused, track_opens,
			track_clicks, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, q.ID, q.TenantID, q.Name, q.Priority, q.RateLimitPerMin, q.MaxRetries,
		pq.Array(q.RetryDelaySeq), q.SMTPConfigID, q.Paused, q.TrackOpens,
		q.TrackClicks, q.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: insert queue: %w", ErrDuplicateQueueName)
		}
		return fmt.Errorf("postgres: insert queue: %w", err)
	}
	return nil
}

// ErrDuplicateQueueName is returned by Create when (tenant_id, name) already exists.
var ErrDuplicateQueueName = errors.New("duplicate queue name for tenant")

// GetByID fetches a queue by id.
func (r *QueueRepository) GetByID(ctx context.Context, id string) (*domain.Queue, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, priority, rate_limit_per_min, max_retries,
		       retry_delay_seq, smtp_config_id, paused, track_opens, track_clicks, created_at
		FROM queues WHERE id = $1
	`, id)
	return scanQueue(row)
}

// GetByName resolves a queue by (tenant, name), used by the Admission
// Controller's queue-resolution step (spec.md §4.1 step 3).
func (r *QueueRepository) GetByName(ctx context.Context, tenantID, name string) (*domain.Queue, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, priority, rate_limit_per_min, max_retries,
		       retry_delay_seq, smtp_config_id, paused, track_opens, track_clicks, created_at
		FROM queues WHERE tenant_id = $1 AND name = $2
	`, tenantID, name)
	return scanQueue(row)
}

func scanQueue(row *sql.Row) (*domain.Queue, error) {
	var q domain.Queue
	if err := row.Scan(&q.ID, &q.TenantID, &q.Name, &q.Priority, &q.RateLimitPerMin,
		&q.MaxRetries, (*intArray)(&q.RetryDelaySeq), &q.SMTPConfigID, &q.Paused,
		&q.TrackOpens, &q.TrackClicks, &q.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &q, nil
}

// intArray scans a Postgres integer[] into []int, a slice type pq.Array
// has no scanner for.
type intArray []int

func (a *intArray) Scan(src any) error {
	var raw pq.Int64Array
	if err := raw.Scan(src); err != nil {
		return err
	}
	*a = make(intArray, len(raw))
	for i, v := range raw {
		(*a)[i] = int(v)
	}
	return nil
}

// SetPaused toggles a queue's paused flag (spec.md §6 pause/resume).
func (r *QueueRepository) SetPaused(ctx context.Context, id string, paused bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE queues SET paused = $1 WHERE id = $2`, paused, id)
	return err
}

// Delete removes a queue. Its smtp_config_id link is nullable so deleting
// the SMTP config never cascades here (spec.md §3).
func (r *QueueRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM queues WHERE id = $1`, id)
	return err
}

// ListActive returns every non-paused queue across all tenants, so the
// Email Worker Pool knows which logical broker queues to reserve from
// (each tenant Queue is its own logical queue, keyed by its id).
func (r *QueueRepository) ListActive(ctx context.Context) ([]domain.Queue, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, priority, rate_limit_per_min, max_retries,
		       retry_delay_seq, smtp_config_id, paused, track_opens, track_clicks, created_at
		FROM queues WHERE paused = FALSE
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Queue
	for rows.Next() {
		var q domain.Queue
		if err := rows.Scan(&q.ID, &q.TenantID, &q.Name, &q.Priority, &q.RateLimitPerMin,
			&q.MaxRetries, (*intArray)(&q.RetryDelaySeq), &q.SMTPConfigID, &q.Paused,
			&q.TrackOpens, &q.TrackClicks, &q.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// ListByTenant returns every queue owned by a tenant, newest first, for
// spec.md §6's `GET /queues` listing.
func (r *QueueRepository) ListByTenant(ctx context.Context, tenantID string) ([]domain.Queue, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, priority, rate_limit_per_min, max_retries,
		       retry_delay_seq, smtp_config_id, paused, track_opens, track_clicks, created_at
		FROM queues WHERE tenant_id = $1 ORDER BY created_at DESC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Queue
	for rows.Next() {
		var q domain.Queue
		if err := rows.Scan(&q.ID, &q.TenantID, &q.Name, &q.Priority, &q.RateLimitPerMin,
			&q.MaxRetries, (*intArray)(&q.RetryDelaySeq), &q.SMTPConfigID, &q.Paused,
			&q.TrackOpens, &q.TrackClicks, &q.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}
