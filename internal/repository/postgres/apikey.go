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

// APIKeyRepository implements API key persistence used by the Admission
// Controller's authentication step (spec.md §4.1 step 1).
type APIKeyRepository struct {
	db *sql.DB
}

// NewAPIKeyRepository constructs an APIKeyRepository.
func NewAPIKeyRepository(db *sql.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

// Create inserts a new API key record; raw must already be hashed by the
// caller via cryptoutil.HashAPIKey.
func (r *APIKeyRepository) Create(ctx context.Context, k *domain.APIKey) error {
	if k.ID == "" {
		k.ID = uuid.New().String()
	}
	if k.CreatedAt.IsZero() {
		k.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, tenant_id, hashed_key, scopes, ip_allowlist,
			rate_limit_override, active, expires_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, k.ID, k.TenantID, k.HashedKey, pq.Array(k.Scopes), pq.Array(k.IPAllowlist),
		k.RateLimitOverride, k.Active, k.ExpiresAt, k.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert api key: %w", err)
	}
	return nil
}

// ListActiveByTenant scans a tenant's active keys; the caller verifies
// the raw key against each hash via cryptoutil.CheckAPIKey. Keys are
// bcrypt-hashed so there is no direct lookup by raw value (same as
// notifuse's password auth, which the key-hashing here is grounded on).
func (r *APIKeyRepository) ListActiveByTenant(ctx context.Context, tenantID string) ([]domain.APIKey, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, hashed_key, scopes, ip_allowlist,
		       rate_limit_override, active, expires_at, created_at
		FROM api_keys WHERE tenant_id = $1 AND active = TRUE
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list api keys: %w", err)
	}
	defer rows.Close()
	var out []domain.APIKey
	for rows.Next() {
		var k domain.APIKey
		if err := rows.Scan(&k.ID, &k.TenantID, &k.HashedKey, pq.Array(&k.Scopes),
			pq.Array(&k.IPAllowlist), &k.RateLimitOverride, &k.Active, &k.ExpiresAt,
			&k.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// ListAllActive scans every active key across tenants, used by the
// bearer-auth middleware to resolve a presented key without a tenant hint
// in the request.
func (r *APIKeyRepository) ListAllActive(ctx context.Context) ([]domain.APIKey, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, hashed_key, scopes, ip_allowlist,
		       rate_limit_override, active, expires_at, created_at
		FROM api_keys WHERE active = TRUE
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list api keys: %w", err)
	}
	defer rows.Close()
	var out []domain.APIKey
	for rows.Next() {
		var k domain.APIKey
		if err := rows.Scan(&k.ID, &k.TenantID, &k.HashedKey, pq.Array(&k.Scopes),
			pq.Array(&k.IPAllowlist), &k.RateLimitOverride, &k.Active, &k.ExpiresAt,
			&k.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

var errExpired = errors.New("postgres: api key expired")

// Validate checks the active-and-unexpired condition from spec.md §4.1
// step 1. ListActiveByTenant/ListAllActive already filter on active = TRUE;
// this additionally enforces the expires_at bound, which is nullable and so
// cannot be pushed into the same WHERE clause without excluding keys that
// never expire.
func (r *APIKeyRepository) Validate(k domain.APIKey, now time.Time) error {
	if !k.Active {
		return errExpired
	}
	if k.ExpiresAt != nil && now.After(*k.ExpiresAt) {
		return errExpired
	}
	return nil
}
