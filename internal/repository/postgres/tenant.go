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

// TenantRepository implements Tenant/App persistence (spec.md §3).
type TenantRepository struct {
	db *sql.DB
}

// NewTenantRepository constructs a TenantRepository.
func NewTenantRepository(db *sql.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

// Get fetches a tenant by id.
func (r *TenantRepository) Get(ctx context.Context, id string) (*domain.Tenant, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, account_id, name, active, sandbox, webhook_url,
		       encrypted_webhook_secret, daily_quota, monthly_quota, settings,
		       reputation_score, created_at
		FROM tenants WHERE id = $1
	`, id)
	var t domain.Tenant
	var settings []byte
	if err := row.Scan(&t.ID, &t.AccountID, &t.Name, &t.Active, &t.Sandbox,
		&t.WebhookURL, &t.EncryptedWebhookSecret, &t.DailyQuota, &t.MonthlyQuota,
		&settings, &t.ReputationScore, &t.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	_ = json.Unmarshal(settings, &t.Settings)
	return &t, nil
}

// Create inserts a new tenant.
func (r *TenantRepository) Create(ctx context.Context, t *domain.Tenant) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	settings, _ := json.Marshal(t.Settings)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tenants (id, account_id, name, active, sandbox, webhook_url,
			encrypted_webhook_secret, daily_quota, monthly_quota, settings,
			reputation_score, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, t.ID, t.AccountID, t.Name, t.Active, t.Sandbox, t.WebhookURL,
		t.EncryptedWebhookSecret, t.DailyQuota, t.MonthlyQuota, settings,
		t.ReputationScore, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert tenant: %w", err)
	}
	return nil
}

// RegenerateWebhookSecret sets a tenant's encrypted webhook secret,
// invalidating the prior one (spec.md §3 invariant: at most one active
// secret per tenant).
func (r *TenantRepository) RegenerateWebhookSecret(ctx context.Context, tenantID, encryptedSecret string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE tenants SET encrypted_webhook_secret = $1 WHERE id = $2
	`, encryptedSecret, tenantID)
	return err
}

// ReputationScore returns the tenant's current reputation score, used by
// the Worker Pool's throttle gate (spec.md §4.3 step 2).
func (r *TenantRepository) ReputationScore(ctx context.Context, tenantID string) (float64, error) {
	var score float64
	err := r.db.QueryRowContext(ctx, `SELECT reputation_score FROM tenants WHERE id = $1`, tenantID).Scan(&score)
	return score, err
}
