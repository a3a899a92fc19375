package postgres

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/relay/internal/domain"
)

func newMockEmailRepo(t *testing.T) (*EmailRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewEmailRepository(db), mock
}

func TestEmailInsertAssignsIDAndCreatedAt(t *testing.T) {
	r, mock := newMockEmailRepo(t)
	mock.ExpectExec("INSERT INTO emails").WillReturnResult(sqlmock.NewResult(1, 1))

	e := &domain.Email{
		TenantID:  "tenant-1",
		QueueID:   "queue-1",
		FromEmail: "a@x.io",
		To:        []domain.Recipient{{Email: "b@y.io"}},
		Subject:   "hi",
		TextBody:  "hi",
	}
	err := r.Insert(context.Background(), e)
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.CreatedAt.IsZero())
	assert.Equal(t, domain.EmailQueued, e.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEmailInsertIdempotencyConflictReplaysExisting(t *testing.T) {
	r, mock := newMockEmailRepo(t)

	key := "client-key-1"
	mock.ExpectExec("INSERT INTO emails").
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	existingID := "existing-email-id"
	lookupRows := sqlmock.NewRows([]string{"id"}).AddRow(existingID)
	mock.ExpectQuery("SELECT id FROM emails WHERE tenant_id").
		WithArgs("tenant-1", key).
		WillReturnRows(lookupRows)

	getRows := sqlmock.NewRows([]string{
		"id", "tenant_id", "queue_id", "idempotency_key", "message_id", "from_email",
		"from_name", "to_recipients", "cc_recipients", "bcc_recipients", "reply_to",
		"subject", "html_body", "text_body", "headers", "personalization", "metadata",
		"status", "retry_count", "last_error", "scheduled_at", "sent_at",
		"delivered_at", "created_at",
	}).AddRow(
		existingID, "tenant-1", "queue-1", key, nil, "a@x.io",
		"", []byte("[]"), []byte("[]"), []byte("[]"), "",
		"hi", "", "hi", []byte("{}"), []byte("{}"), []byte("{}"),
		domain.EmailQueued, 0, nil, nil, nil,
		nil, time.Now(),
	)
	mock.ExpectQuery("SELECT id, tenant_id, queue_id").WithArgs(existingID).WillReturnRows(getRows)

	e := &domain.Email{
		TenantID:       "tenant-1",
		QueueID:        "queue-1",
		IdempotencyKey: &key,
		FromEmail:      "a@x.io",
		Subject:        "hi",
		TextBody:       "hi",
	}
	err := r.Insert(context.Background(), e)
	assert.ErrorIs(t, err, ErrIdempotencyConflict)
	assert.Equal(t, existingID, e.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
