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

// SMTPConfigRepository implements SMTPConfig persistence (spec.md §3). The
// password column only ever holds ciphertext produced by cryptoutil; this
// repository never sees a plaintext credential.
type SMTPConfigRepository struct {
	db *sql.DB
}

// NewSMTPConfigRepository constructs an SMTPConfigRepository.
func NewSMTPConfigRepository(db *sql.DB) *SMTPConfigRepository {
	return &SMTPConfigRepository{db: db}
}

// Create inserts a new SMTP config. c.PasswordCipher must already hold the
// AES-256-GCM ciphertext from cryptoutil.EncryptString.
func (r *SMTPConfigRepository) Create(ctx context.Context, c *domain.SMTPConfig) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO smtp_configs (id, tenant_id, name, host, port, username,
			password_cipher, encryption, pool_size, timeout_ms, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, c.ID, c.TenantID, c.Name, c.Host, c.Port, c.Username, c.PasswordCipher,
		c.Encryption, c.PoolSize, c.TimeoutMillis, c.Active, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert smtp config: %w", err)
	}
	return nil
}

// Get fetches an SMTP config by id, used by the Worker Pool's resolve-SMTP
// step (spec.md §4.3 step 4).
func (r *SMTPConfigRepository) Get(ctx context.Context, id string) (*domain.SMTPConfig, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, host, port, username, password_cipher,
		       encryption, pool_size, timeout_ms, active, created_at
		FROM smtp_configs WHERE id = $1
	`, id)
	return scanSMTPConfig(row)
}

// ListByTenant lists a tenant's configured relays.
func (r *SMTPConfigRepository) ListByTenant(ctx context.Context, tenantID string) ([]domain.SMTPConfig, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, host, port, username, password_cipher,
		       encryption, pool_size, timeout_ms, active, created_at
		FROM smtp_configs WHERE tenant_id = $1
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list smtp configs: %w", err)
	}
	defer rows.Close()
	var out []domain.SMTPConfig
	for rows.Next() {
		var c domain.SMTPConfig
		if err := scanSMTPConfigRow(rows, &c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateActive flips an SMTP config's active flag.
func (r *SMTPConfigRepository) UpdateActive(ctx context.Context, id string, active bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE smtp_configs SET active = $1 WHERE id = $2`, active, id)
	return err
}

func scanSMTPConfig(row *sql.Row) (*domain.SMTPConfig, error) {
	var c domain.SMTPConfig
	if err := row.Scan(&c.ID, &c.TenantID, &c.Name, &c.Host, &c.Port, &c.Username,
		&c.PasswordCipher, &c.Encryption, &c.PoolSize, &c.TimeoutMillis, &c.Active,
		&c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func scanSMTPConfigRow(rows *sql.Rows, c *domain.SMTPConfig) error {
	return rows.Scan(&c.ID, &c.TenantID, &c.Name, &c.Host, &c.Port, &c.Username,
		&c.PasswordCipher, &c.Encryption, &c.PoolSize, &c.TimeoutMillis, &c.Active,
		&c.CreatedAt)
}
