package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/relay/internal/domain"
)

// SuppressionRepository implements suppression-list persistence (spec.md
// §3). A NULL tenant_id row is a global entry that suppresses every tenant.
type SuppressionRepository struct {
	db *sql.DB
}

// NewSuppressionRepository constructs a SuppressionRepository.
func NewSuppressionRepository(db *sql.DB) *SuppressionRepository {
	return &SuppressionRepository{db: db}
}

// Add inserts a suppression entry. A conflicting (tenant_id, email) pair is
// treated as idempotent: the existing row wins.
func (r *SuppressionRepository) Add(ctx context.Context, s *domain.SuppressionEntry) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO suppression_entries (id, tenant_id, email, reason,
			source_email_id, expires_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (tenant_id, email) DO NOTHING
	`, s.ID, s.TenantID, s.Email, s.Reason, s.SourceEmailID, s.ExpiresAt, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert suppression entry: %w", err)
	}
	return nil
}

// AddBulk inserts many entries in one round trip, per spec.md §6 bulk-add.
func (r *SuppressionRepository) AddBulk(ctx context.Context, entries []domain.SuppressionEntry) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO suppression_entries (id, tenant_id, email, reason,
			source_email_id, expires_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (tenant_id, email) DO NOTHING
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	now := time.Now().UTC()
	for _, s := range entries {
		id := s.ID
		if id == "" {
			id = uuid.New().String()
		}
		res, err := stmt.ExecContext(ctx, id, s.TenantID, s.Email, s.Reason,
			s.SourceEmailID, s.ExpiresAt, now)
		if err != nil {
			return inserted, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return inserted, err
	}
	return inserted, nil
}

// FindActiveMatch looks up the first non-expired suppression entry — tenant
// scoped or global — matching any of the given addresses. Used by the
// Admission Controller's suppression-filter step (spec.md §4.1 step 6).
// Tenant-scoped entries take precedence over global ones for the same
// address, matching the api-key > tenant > queue precedence convention used
// for rate limits (spec.md §4.7).
func (r *SuppressionRepository) FindActiveMatch(ctx context.Context, tenantID string, emails []string) (*domain.SuppressionEntry, error) {
	if len(emails) == 0 {
		return nil, nil
	}
	row := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, email, reason, source_email_id, expires_at, created_at
		FROM suppression_entries
		WHERE email = ANY($1)
		  AND (tenant_id = $2 OR tenant_id IS NULL)
		  AND (expires_at IS NULL OR expires_at > now())
		ORDER BY tenant_id NULLS LAST
		LIMIT 1
	`, pqStringArray(emails), tenantID)

	var s domain.SuppressionEntry
	if err := row.Scan(&s.ID, &s.TenantID, &s.Email, &s.Reason, &s.SourceEmailID,
		&s.ExpiresAt, &s.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// Remove deletes a tenant-scoped suppression entry by address.
func (r *SuppressionRepository) Remove(ctx context.Context, tenantID, email string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM suppression_entries WHERE tenant_id = $1 AND email = $2
	`, tenantID, email)
	return err
}

// ListByTenant lists a tenant's suppression entries.
func (r *SuppressionRepository) ListByTenant(ctx context.Context, tenantID string) ([]domain.SuppressionEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, email, reason, source_email_id, expires_at, created_at
		FROM suppression_entries WHERE tenant_id = $1
		ORDER BY created_at DESC
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list suppression entries: %w", err)
	}
	defer rows.Close()
	var out []domain.SuppressionEntry
	for rows.Next() {
		var s domain.SuppressionEntry
		if err := rows.Scan(&s.ID, &s.TenantID, &s.Email, &s.Reason, &s.SourceEmailID,
			&s.ExpiresAt, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
