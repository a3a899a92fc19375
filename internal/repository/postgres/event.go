package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/relay/internal/domain"
)

// EventRepository implements the append-only Email Event log (spec.md §3).
type EventRepository struct {
	db *sql.DB
}

// NewEventRepository constructs an EventRepository.
func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Append inserts a new event. Events are never updated or deleted.
func (r *EventRepository) Append(ctx context.Context, emailID string, typ domain.EventType, data map[string]any) (*domain.EmailEvent, error) {
	ev := &domain.EmailEvent{
		ID:        uuid.New().String(),
		EmailID:   emailID,
		Type:      typ,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
	payload, _ := json.Marshal(data)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO email_events (id, email_id, type, data, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, ev.ID, ev.EmailID, ev.Type, payload, ev.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("postgres: append event: %w", err)
	}
	return ev, nil
}

// ListByEmail returns an email's events newest-first, per spec.md §6
// `GET /emails/:id/events`.
func (r *EventRepository) ListByEmail(ctx context.Context, emailID string) ([]domain.EmailEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, email_id, type, data, created_at
		FROM email_events WHERE email_id = $1
		ORDER BY created_at DESC, id DESC
	`, emailID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	var out []domain.EmailEvent
	for rows.Next() {
		var ev domain.EmailEvent
		var data []byte
		if err := rows.Scan(&ev.ID, &ev.EmailID, &ev.Type, &data, &ev.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(data, &ev.Data)
		out = append(out, ev)
	}
	return out, rows.Err()
}
