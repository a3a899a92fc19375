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

// ScheduledJobRepository implements cron-driven send template persistence
// (spec.md §3, §4.8).
type ScheduledJobRepository struct {
	db *sql.DB
}

// NewScheduledJobRepository constructs a ScheduledJobRepository.
func NewScheduledJobRepository(db *sql.DB) *ScheduledJobRepository {
	return &ScheduledJobRepository{db: db}
}

// Create inserts a new scheduled job. The caller validates the cron
// expression (via robfig/cron) before calling this.
func (r *ScheduledJobRepository) Create(ctx context.Context, j *domain.ScheduledJob) error {
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	if j.Timezone == "" {
		j.Timezone = "UTC"
	}
	template, err := json.Marshal(j.EmailTemplate)
	if err != nil {
		return fmt.Errorf("postgres: marshal email template: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO scheduled_jobs (id, tenant_id, queue_id, cron_expression,
			timezone, email_template, active, last_run_at, next_run_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, j.ID, j.TenantID, j.QueueID, j.CronExpression, j.Timezone, template,
		j.Active, j.LastRunAt, j.NextRunAt, j.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert scheduled job: %w", err)
	}
	return nil
}

// Get fetches a scheduled job by id.
func (r *ScheduledJobRepository) Get(ctx context.Context, id string) (*domain.ScheduledJob, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, queue_id, cron_expression, timezone, email_template,
		       active, last_run_at, next_run_at, created_at
		FROM scheduled_jobs WHERE id = $1
	`, id)
	return scanScheduledJob(row)
}

// ListByTenant lists a tenant's scheduled jobs.
func (r *ScheduledJobRepository) ListByTenant(ctx context.Context, tenantID string) ([]domain.ScheduledJob, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, queue_id, cron_expression, timezone, email_template,
		       active, last_run_at, next_run_at, created_at
		FROM scheduled_jobs WHERE tenant_id = $1
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list scheduled jobs: %w", err)
	}
	defer rows.Close()
	var out []domain.ScheduledJob
	for rows.Next() {
		var j domain.ScheduledJob
		var template []byte
		if err := rows.Scan(&j.ID, &j.TenantID, &j.QueueID, &j.CronExpression,
			&j.Timezone, &template, &j.Active, &j.LastRunAt, &j.NextRunAt,
			&j.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(template, &j.EmailTemplate)
		out = append(out, j)
	}
	return out, rows.Err()
}

// DueForRun returns active jobs whose next_run_at has passed, used by the
// Scheduler's tick (spec.md §4.8).
func (r *ScheduledJobRepository) DueForRun(ctx context.Context, now time.Time) ([]domain.ScheduledJob, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, queue_id, cron_expression, timezone, email_template,
		       active, last_run_at, next_run_at, created_at
		FROM scheduled_jobs
		WHERE active = TRUE AND next_run_at IS NOT NULL AND next_run_at <= $1
	`, now)
	if err != nil {
		return nil, fmt.Errorf("postgres: list due scheduled jobs: %w", err)
	}
	defer rows.Close()
	var out []domain.ScheduledJob
	for rows.Next() {
		var j domain.ScheduledJob
		var template []byte
		if err := rows.Scan(&j.ID, &j.TenantID, &j.QueueID, &j.CronExpression,
			&j.Timezone, &template, &j.Active, &j.LastRunAt, &j.NextRunAt,
			&j.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(template, &j.EmailTemplate)
		out = append(out, j)
	}
	return out, rows.Err()
}

// MarkRun records a completed tick and the job's next scheduled firing.
func (r *ScheduledJobRepository) MarkRun(ctx context.Context, id string, ranAt, nextRun time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_jobs SET last_run_at = $1, next_run_at = $2 WHERE id = $3
	`, ranAt, nextRun, id)
	return err
}

// SetActive enables or disables a scheduled job.
func (r *ScheduledJobRepository) SetActive(ctx context.Context, id string, active bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE scheduled_jobs SET active = $1 WHERE id = $2`, active, id)
	return err
}

// Delete removes a scheduled job.
func (r *ScheduledJobRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = $1`, id)
	return err
}

func scanScheduledJob(row *sql.Row) (*domain.ScheduledJob, error) {
	var j domain.ScheduledJob
	var template []byte
	if err := row.Scan(&j.ID, &j.TenantID, &j.QueueID, &j.CronExpression,
		&j.Timezone, &template, &j.Active, &j.LastRunAt, &j.NextRunAt,
		&j.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	_ = json.Unmarshal(template, &j.EmailTemplate)
	return &j, nil
}
