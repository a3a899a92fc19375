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

// TrackingLinkRepository implements short-code redirect persistence used
// by click tracking (spec.md §3).
type TrackingLinkRepository struct {
	db *sql.DB
}

// NewTrackingLinkRepository constructs a TrackingLinkRepository.
func NewTrackingLinkRepository(db *sql.DB) *TrackingLinkRepository {
	return &TrackingLinkRepository{db: db}
}

// Create inserts a new tracking link with the short code the caller
// generated; it does not generate or check the code itself.
func (r *TrackingLinkRepository) Create(ctx context.Context, l *domain.TrackingLink) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tracking_links (id, email_id, short_code, original_url, click_count, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, l.ID, l.EmailID, l.ShortCode, l.OriginalURL, l.ClickCount, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert tracking link: %w", err)
	}
	return nil
}

// GetByShortCode resolves a short code to its original URL and increments
// the click counter atomically, matching the teacher's pattern of doing a
// read-and-bump in a single RETURNING statement instead of a read-then-write
// round trip.
func (r *TrackingLinkRepository) GetByShortCode(ctx context.Context, code string) (*domain.TrackingLink, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE tracking_links SET click_count = click_count + 1
		WHERE short_code = $1
		RETURNING id, email_id, short_code, original_url, click_count, created_at
	`, code)

	var l domain.TrackingLink
	if err := row.Scan(&l.ID, &l.EmailID, &l.ShortCode, &l.OriginalURL,
		&l.ClickCount, &l.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &l, nil
}

// ListByEmail lists an email's tracking links.
func (r *TrackingLinkRepository) ListByEmail(ctx context.Context, emailID string) ([]domain.TrackingLink, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, email_id, short_code, original_url, click_count, created_at
		FROM tracking_links WHERE email_id = $1
	`, emailID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tracking links: %w", err)
	}
	defer rows.Close()
	var out []domain.TrackingLink
	for rows.Next() {
		var l domain.TrackingLink
		if err := rows.Scan(&l.ID, &l.EmailID, &l.ShortCode, &l.OriginalURL,
			&l.ClickCount, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
