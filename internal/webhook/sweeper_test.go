package webhook

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ignite/relay/internal/queue"
	"github.com/ignite/relay/internal/repository/postgres"
)

func TestSweepEnqueuesDueDeliveries(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT id, tenant_id, source_email_id").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "source_email_id", "event_type", "payload", "status",
			"attempts", "last_error", "next_retry_at", "delivered_at", "created_at",
		}).AddRow("delivery1", "tenant1", nil, "sent", []byte(`{}`), "pending",
			1, "timeout", now, nil, now))
	mock.ExpectExec("INSERT INTO jobs").WillReturnResult(sqlmock.NewResult(0, 1))

	s := NewSweeper(queue.New(db), postgres.NewWebhookDeliveryRepository(db), time.Minute, 100, zerolog.Nop())
	s.ctx = context.Background()

	s.sweep()

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSweepHandlesNoDueDeliveries(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id, tenant_id, source_email_id").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "source_email_id", "event_type", "payload", "status",
			"attempts", "last_error", "next_retry_at", "delivered_at", "created_at",
		}))

	s := NewSweeper(queue.New(db), postgres.NewWebhookDeliveryRepository(db), time.Minute, 100, zerolog.Nop())
	s.ctx = context.Background()

	s.sweep()

	require.NoError(t, mock.ExpectationsWereMet())
}
