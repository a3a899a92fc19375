// Package queue implements the Queue Broker of spec.md §4.2: a durable,
// prioritized, delayed job store with per-worker reservation over the
// `jobs` table. Grounded on the teacher's internal/worker/send_worker.go
// `claimBatch` (an `UPDATE ... WHERE ... FOR UPDATE SKIP LOCKED RETURNING`
// CTE ordered by priority then readiness) generalized from one hardcoded
// campaign-queue query into a store parameterized by logical queue name,
// and on internal/worker/queue_recovery.go for the "reservation expires,
// job returns to waiting" crash-recovery path.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/relay/internal/domain"
)

// Job is a single unit of work dispatched through a logical queue.
type Job struct {
	ID            string
	QueueName     string
	Payload       map[string]any
	Priority      int
	Status        string
	ReadyAt       time.Time
	ReservedUntil *time.Time
	Attempts      int
	LastError     *string
	CreatedAt     time.Time
}

// Status values a job can hold in the jobs table.
const (
	StatusWaiting   = "waiting"
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// EnqueueOptions configures a single Enqueue call (spec.md §4.2 `enqueue`).
type EnqueueOptions struct {
	Priority int // 1..10, 10 = highest
	Delay    time.Duration
	JobID    string
}

// Broker implements the durable job store described in spec.md §4.2.
type Broker struct {
	db *sql.DB
}

// New constructs a Broker over db.
func New(db *sql.DB) *Broker {
	return &Broker{db: db}
}

// Enqueue inserts a new job, optionally delayed until now+opts.Delay and at
// opts.Priority (defaulting to 5 when unset).
func (b *Broker) Enqueue(ctx context.Context, queueName string, payload map[string]any, opts EnqueueOptions) (string, error) {
	id := opts.JobID
	if id == "" {
		id = uuid.New().String()
	}
	priority := opts.Priority
	if priority == 0 {
		priority = 5
	}
	readyAt := time.Now().UTC()
	if opts.Delay > 0 {
		readyAt = readyAt.Add(opts.Delay)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("queue: marshal payload: %w", err)
	}

	_, err = b.db.ExecContext(ctx, `
		INSERT INTO jobs (id, queue_name, payload, priority, status, ready_at, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7)
	`, id, queueName, data, priority, StatusWaiting, readyAt, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("queue: enqueue: %w", err)
	}
	return id, nil
}

// Reserve claims up to one ready job from queueName, making it invisible to
// other reservers for visibility. Returns (nil, nil) if nothing is ready.
// Grounded directly on the teacher's claimBatch CTE: an UPDATE ...
// FOR UPDATE SKIP LOCKED subselect ordered by priority then readiness,
// returning the claimed rows so concurrent reservers never double-claim.
func (b *Broker) Reserve(ctx context.Context, queueName string, visibility time.Duration) (*Job, error) {
	paused, err := b.IsPaused(ctx, queueName)
	if err != nil {
		return nil, err
	}
	if paused {
		return nil, nil
	}

	now := time.Now().UTC()
	reservedUntil := now.Add(visibility)

	row := b.db.QueryRowContext(ctx, `
		WITH claimed AS (
			UPDATE jobs
			SET status = $1, reserved_until = $2
			WHERE id = (
				SELECT j.id FROM jobs j
				WHERE j.queue_name = $3
				  AND j.ready_at <= $4
				  AND (
				        j.status = $5
				        OR (j.status = $1 AND j.reserved_until < $4)
				      )
				ORDER BY j.priority DESC, j.ready_at ASC
				LIMIT 1
				FOR UPDATE SKIP LOCKED
			)
			RETURNING id, queue_name, payload, priority, status, ready_at, reserved_until, attempts, last_error, created_at
		)
		SELECT id, queue_name, payload, priority, status, ready_at, reserved_until, attempts, last_error, created_at
		FROM claimed
	`, StatusActive, reservedUntil, queueName, now, StatusWaiting)

	var j Job
	var payload []byte
	if err := row.Scan(&j.ID, &j.QueueName, &payload, &j.Priority, &j.Status,
		&j.ReadyAt, &j.ReservedUntil, &j.Attempts, &j.LastError, &j.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("queue: reserve: %w", err)
	}
	_ = json.Unmarshal(payload, &j.Payload)
	return &j, nil
}

// Complete marks a job done, per spec.md §4.2 `complete(id)`.
func (b *Broker) Complete(ctx context.Context, id string) error {
	_, err := b.db.ExecContext(ctx, `UPDATE jobs SET status = $1 WHERE id = $2`, StatusCompleted, id)
	if err != nil {
		return fmt.Errorf("queue: complete: %w", err)
	}
	return nil
}

// Fail records a failed attempt. If q is non-nil and attempts remain under
// q.MaxRetries, the job is requeued with the backoff q.BackoffSeconds
// prescribes (spec.md §4.2 `fail(id, error, retry-decision)`); otherwise it
// is marked permanently failed. The returned bool reports whether this was
// the terminal failure (true) or a requeue (false), so the caller can mirror
// the decision onto the email row's status.
func (b *Broker) Fail(ctx context.Context, id string, lastError string, q *domain.Queue) (bool, error) {
	row := b.db.QueryRowContext(ctx, `SELECT attempts FROM jobs WHERE id = $1`, id)
	var attempts int
	if err := row.Scan(&attempts); err != nil {
		return false, fmt.Errorf("queue: fail: load attempts: %w", err)
	}
	attempts++

	maxRetries := 0
	if q != nil {
		maxRetries = q.MaxRetries
	}
	if attempts > maxRetries {
		_, err := b.db.ExecContext(ctx, `
			UPDATE jobs SET status = $1, attempts = $2, last_error = $3 WHERE id = $4
		`, StatusFailed, attempts, lastError, id)
		if err != nil {
			return false, fmt.Errorf("queue: mark failed: %w", err)
		}
		return true, nil
	}

	backoff := time.Duration(domain.DefaultRetryDelaySeconds[0]) * time.Second
	if q != nil {
		backoff = time.Duration(q.BackoffSeconds(attempts-1)) * time.Second
	}
	readyAt := time.Now().UTC().Add(backoff)

	_, err := b.db.ExecContext(ctx, `
		UPDATE jobs SET status = $1, attempts = $2, last_error = $3, ready_at = $4, reserved_until = NULL
		WHERE id = $5
	`, StatusWaiting, attempts, lastError, readyAt, id)
	if err != nil {
		return false, fmt.Errorf("queue: requeue: %w", err)
	}
	return false, nil
}

// FailPermanent forces a terminal failure regardless of retry policy, used
// for errors the pipeline knows are not worth retrying (e.g. SSRF-blocked
// webhook URLs).
func (b *Broker) FailPermanent(ctx context.Context, id string, lastError string) error {
	_, err := b.db.ExecContext(ctx, `
		UPDATE jobs SET status = $1, attempts = attempts + 1, last_error = $2 WHERE id = $3
	`, StatusFailed, lastError, id)
	if err != nil {
		return fmt.Errorf("queue: fail permanent: %w", err)
	}
	return nil
}

// Extend pushes a reserved job's visibility deadline out by extra, per
// spec.md §4.2 `extend(id, ms)`.
func (b *Broker) Extend(ctx context.Context, id string, extra time.Duration) error {
	newDeadline := time.Now().UTC().Add(extra)
	_, err := b.db.ExecContext(ctx, `
		UPDATE jobs SET reserved_until = $1 WHERE id = $2 AND status = $3
	`, newDeadline, id, StatusActive)
	if err != nil {
		return fmt.Errorf("queue: extend: %w", err)
	}
	return nil
}

// Pause stops a logical queue from yielding new reservations via Reserve,
// independent of a tenant Queue row's own paused flag (spec.md §4.2
// `pause(queue-name)`). In-flight reservations still complete normally.
func (b *Broker) Pause(ctx context.Context, queueName string) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO queue_control (queue_name, paused) VALUES ($1, TRUE)
		ON CONFLICT (queue_name) DO UPDATE SET paused = TRUE
	`, queueName)
	if err != nil {
		return fmt.Errorf("queue: pause: %w", err)
	}
	return nil
}

// Resume reverses Pause.
func (b *Broker) Resume(ctx context.Context, queueName string) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO queue_control (queue_name, paused) VALUES ($1, FALSE)
		ON CONFLICT (queue_name) DO UPDATE SET paused = FALSE
	`, queueName)
	if err != nil {
		return fmt.Errorf("queue: resume: %w", err)
	}
	return nil
}

// IsPaused reports whether queueName is broker-paused.
func (b *Broker) IsPaused(ctx context.Context, queueName string) (bool, error) {
	var paused bool
	err := b.db.QueryRowContext(ctx, `SELECT paused FROM queue_control WHERE queue_name = $1`, queueName).Scan(&paused)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("queue: is paused: %w", err)
	}
	return paused, nil
}

// Stats reports job counts by status for queueName, per spec.md §4.2
// `stats(queue-name)`.
func (b *Broker) Stats(ctx context.Context, queueName string) (map[string]int64, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT
			CASE
				WHEN status = $2 AND ready_at > now() THEN 'delayed'
				ELSE status
			END AS bucket,
			COUNT(*)
		FROM jobs
		WHERE queue_name = $1
		GROUP BY bucket
	`, queueName, StatusWaiting)
	if err != nil {
		return nil, fmt.Errorf("queue: stats: %w", err)
	}
	defer rows.Close()

	out := map[string]int64{"waiting": 0, "active": 0, "delayed": 0, "completed": 0, "failed": 0}
	for rows.Next() {
		var bucket string
		var count int64
		if err := rows.Scan(&bucket, &count); err != nil {
			return nil, err
		}
		out[bucket] = count
	}
	return out, rows.Err()
}

// RecoverExpired returns reserved jobs whose visibility deadline has passed
// back to waiting, so a crashed worker's in-flight job is redelivered with
// its retry count unchanged. Grounded on the teacher's
// internal/worker/queue_recovery.go recoverStuckItems sweep.
func (b *Broker) RecoverExpired(ctx context.Context) (int64, error) {
	res, err := b.db.ExecContext(ctx, `
		UPDATE jobs SET status = $1, reserved_until = NULL
		WHERE status = $2 AND reserved_until < $3
	`, StatusWaiting, StatusActive, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("queue: recover expired: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Purge evicts retained completed/failed jobs past their retention window,
// per spec.md §4.2's retention policy (completed: age<=1d or count<=1000;
// failed: age<=7d or count<=5000). It keeps the newest `keep` rows per
// status regardless of age, then deletes anything older than maxAge.
func (b *Broker) Purge(ctx context.Context, queueName, status string, maxAge time.Duration, keep int) (int64, error) {
	res, err := b.db.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE id IN (
			SELECT id FROM jobs
			WHERE queue_name = $1 AND status = $2 AND created_at < $3
			ORDER BY created_at ASC
			LIMIT GREATEST(0, (
				SELECT COUNT(*) FROM jobs WHERE queue_name = $1 AND status = $2
			) - $4)
		)
	`, queueName, status, time.Now().UTC().Add(-maxAge), keep)
	if err != nil {
		return 0, fmt.Errorf("queue: purge: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
