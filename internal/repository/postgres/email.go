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

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = errors.New("postgres: not found")

// ErrIdempotencyConflict signals an existing row for (tenant, idempotency
// key); the caller (admission controller) replays it per spec.md §9(iii).
var ErrIdempotencyConflict = errors.New("postgres: idempotency key already used")

// EmailRepository implements the Email half of the State & Event Store
// (spec.md §4.6), grounded on the teacher's claimBatch-adjacent repository
// style: plain database/sql + lib/pq, JSONB columns for nested structures.
type EmailRepository struct {
	db *sql.DB
}

// NewEmailRepository constructs an EmailRepository.
func NewEmailRepository(db *sql.DB) *EmailRepository {
	return &EmailRepository{db: db}
}

// Insert creates a queued Email row. If e.IdempotencyKey is set and a row
// already exists for (tenant, key), it copies the existing row into e and
// returns ErrIdempotencyConflict so the caller can replay it.
func (r *EmailRepository) Insert(ctx context.Context, e *domain.Email) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	to, _ := json.Marshal(e.To)
	cc, _ := json.Marshal(e.CC)
	bcc, _ := json.Marshal(e.BCC)
	headers, _ := json.Marshal(e.Headers)
	personalization, _ := json.Marshal(e.Personalization)
	metadata, _ := json.Marshal(e.Metadata)

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO emails (
			id, tenant_id, queue_id, idempotency_key, from_email, from_name,
			to_recipients, cc_recipients, bcc_recipients, reply_to, subject,
			html_body, text_body, headers, personalization, metadata,
			status, scheduled_at, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
	`, e.ID, e.TenantID, e.QueueID, e.IdempotencyKey, e.FromEmail, e.FromName,
		to, cc, bcc, e.ReplyTo, e.Subject, e.HTMLBody, e.TextBody,
		headers, personalization, metadata, domain.EmailQueued, e.ScheduledAt, e.CreatedAt)

	if err != nil && isUniqueViolation(err) {
		existing, lookupErr := r.FindByIdempotencyKey(ctx, e.TenantID, *e.IdempotencyKey)
		if lookupErr != nil {
			return fmt.Errorf("postgres: insert email: %w", err)
		}
		*e = *existing
		return ErrIdempotencyConflict
	}
	if err != nil {
		return fmt.Errorf("postgres: insert email: %w", err)
	}
	e.Status = domain.EmailQueued
	return nil
}

// FindByIdempotencyKey looks up an existing email for replay.
func (r *EmailRepository) FindByIdempotencyKey(ctx context.Context, tenantID, key string) (*domain.Email, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id FROM emails WHERE tenant_id = $1 AND idempotency_key = $2
	`, tenantID, key)
	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return r.Get(ctx, id)
}

// Get fetches a single email by id.
func (r *EmailRepository) Get(ctx context.Context, id string) (*domain.Email, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, queue_id, idempotency_key, message_id, from_email,
		       from_name, to_recipients, cc_recipients, bcc_recipients, reply_to,
		       subject, html_body, text_body, headers, personalization, metadata,
		       status, retry_count, last_error, scheduled_at, sent_at,
		       delivered_at, created_at
		FROM emails WHERE id = $1
	`, id)
	return scanEmail(row)
}

func scanEmail(row *sql.Row) (*domain.Email, error) {
	var e domain.Email
	var to, cc, bcc, headers, personalization, metadata []byte
	if err := row.Scan(&e.ID, &e.TenantID, &e.QueueID, &e.IdempotencyKey, &e.MessageID,
		&e.FromEmail, &e.FromName, &to, &cc, &bcc, &e.ReplyTo, &e.Subject,
		&e.HTMLBody, &e.TextBody, &headers, &personalization, &metadata,
		&e.Status, &e.RetryCount, &e.LastError, &e.ScheduledAt, &e.SentAt,
		&e.DeliveredAt, &e.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	_ = json.Unmarshal(to, &e.To)
	_ = json.Unmarshal(cc, &e.CC)
	_ = json.Unmarshal(bcc, &e.BCC)
	_ = json.Unmarshal(headers, &e.Headers)
	_ = json.Unmarshal(personalization, &e.Personalization)
	_ = json.Unmarshal(metadata, &e.Metadata)
	return &e, nil
}

// List returns emails for a tenant using the (created-at desc, id desc)
// cursor scheme from spec.md §4.6/§8 invariant 6.
func (r *EmailRepository) List(ctx context.Context, tenantID string, cursor *domain.Cursor, limit int) ([]domain.Email, *domain.Cursor, error) {
	var rows *sql.Rows
	var err error
	if cursor == nil {
		rows, err = r.db.QueryContext(ctx, `
			SELECT id, tenant_id, queue_id, idempotency_key, message_id, from_email,
			       from_name, to_recipients, cc_recipients, bcc_recipients, reply_to,
			       subject, html_body, text_body, headers, personalization, metadata,
			       status, retry_count, last_error, scheduled_at, sent_at,
			       delivered_at, created_at
			FROM emails WHERE tenant_id = $1
			ORDER BY created_at DESC, id DESC LIMIT $2
		`, tenantID, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, `
			SELECT id, tenant_id, queue_id, idempotency_key, message_id, from_email,
			       from_name, to_recipients, cc_recipients, bcc_recipients, reply_to,
			       subject, html_body, text_body, headers, personalization, metadata,
			       status, retry_count, last_error, scheduled_at, sent_at,
			       delivered_at, created_at
			FROM emails
			WHERE tenant_id = $1 AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC LIMIT $4
		`, tenantID, cursor.CreatedAt, cursor.ID, limit)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: list emails: %w", err)
	}
	defer rows.Close()

	var out []domain.Email
	for rows.Next() {
		var e domain.Email
		var to, cc, bcc, headers, personalization, metadata []byte
		if err := rows.Scan(&e.ID, &e.TenantID, &e.QueueID, &e.IdempotencyKey, &e.MessageID,
			&e.FromEmail, &e.FromName, &to, &cc, &bcc, &e.ReplyTo, &e.Subject,
			&e.HTMLBody, &e.TextBody, &headers, &personalization, &metadata,
			&e.Status, &e.RetryCount, &e.LastError, &e.ScheduledAt, &e.SentAt,
			&e.DeliveredAt, &e.CreatedAt); err != nil {
			return nil, nil, err
		}
		_ = json.Unmarshal(to, &e.To)
		_ = json.Unmarshal(cc, &e.CC)
		_ = json.Unmarshal(bcc, &e.BCC)
		_ = json.Unmarshal(headers, &e.Headers)
		_ = json.Unmarshal(personalization, &e.Personalization)
		_ = json.Unmarshal(metadata, &e.Metadata)
		out = append(out, e)
	}

	var next *domain.Cursor
	if len(out) == limit {
		last := out[len(out)-1]
		next = &domain.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return out, next, rows.Err()
}

// TransitionStatus enforces the "status transition allowed" guard from
// spec.md §5, moving an email's status only if its current status is one
// of from.
func (r *EmailRepository) TransitionStatus(ctx context.Context, id string, from []domain.EmailStatus, to domain.EmailStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE emails SET status = $1 WHERE id = $2 AND status = ANY($3)
	`, to, id, pqStringArray(statusStrings(from)))
	if err != nil {
		return false, fmt.Errorf("postgres: transition status: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func statusStrings(ss []domain.EmailStatus) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}

// MarkSent records a successful send.
func (r *EmailRepository) MarkSent(ctx context.Context, id, messageID string, sentAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE emails SET status = $1, message_id = $2, sent_at = $3 WHERE id = $4
	`, domain.EmailSent, messageID, sentAt, id)
	return err
}

// MarkDelivered records a downstream delivery acknowledgement.
func (r *EmailRepository) MarkDelivered(ctx context.Context, id string, deliveredAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE emails SET status = $1, delivered_at = $2 WHERE id = $3
	`, domain.EmailDelivered, deliveredAt, id)
	return err
}

// MarkFailed records a terminal failure with a sanitized error message.
func (r *EmailRepository) MarkFailed(ctx context.Context, id, lastError string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE emails SET status = $1, last_error = $2 WHERE id = $3
	`, domain.EmailFailed, lastError, id)
	return err
}

// RequeueForRetry moves an email back to queued and increments retry_count,
// per spec.md §4.3 step 8.
func (r *EmailRepository) RequeueForRetry(ctx context.Context, id, lastError string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE emails SET status = $1, last_error = $2, retry_count = retry_count + 1 WHERE id = $3
	`, domain.EmailQueued, lastError, id)
	return err
}

// Cancel cancels an email, but only while it is still queued (spec.md §3).
func (r *EmailRepository) Cancel(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE emails SET status = $1 WHERE id = $2 AND status = $3
	`, domain.EmailCancelled, id, domain.EmailQueued)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// RetryFailed resets a failed email back to queued for a manual retry
// (spec.md §6 `POST /emails/:id/retry`).
func (r *EmailRepository) RetryFailed(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE emails SET status = $1, retry_count = 0, last_error = NULL
		WHERE id = $2 AND status = $3
	`, domain.EmailQueued, id, domain.EmailFailed)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}
