package postgres

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/relay/internal/domain"
)

func newMockSuppressionRepo(t *testing.T) (*SuppressionRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSuppressionRepository(db), mock
}

func TestFindActiveMatchReturnsMatch(t *testing.T) {
	r, mock := newMockSuppressionRepo(t)
	tenantID := "tenant-1"

	rows := sqlmock.NewRows([]string{"id", "tenant_id", "email", "reason", "source_email_id", "expires_at", "created_at"}).
		AddRow("sup-1", tenantID, "blocked@y.io", domain.ReasonManual, nil, nil, time.Now())
	mock.ExpectQuery("SELECT id, tenant_id, email, reason").WillReturnRows(rows)

	match, err := r.FindActiveMatch(context.Background(), tenantID, []string{"blocked@y.io"})
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, "blocked@y.io", match.Email)
	assert.Equal(t, domain.ReasonManual, match.Reason)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindActiveMatchReturnsNilWhenNoRows(t *testing.T) {
	r, mock := newMockSuppressionRepo(t)

	mock.ExpectQuery("SELECT id, tenant_id, email, reason").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "email", "reason", "source_email_id", "expires_at", "created_at"}))

	match, err := r.FindActiveMatch(context.Background(), "tenant-1", []string{"clean@y.io"})
	require.NoError(t, err)
	assert.Nil(t, match)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindActiveMatchShortCircuitsOnEmptyAddresses(t *testing.T) {
	r, _ := newMockSuppressionRepo(t)
	match, err := r.FindActiveMatch(context.Background(), "tenant-1", nil)
	require.NoError(t, err)
	assert.Nil(t, match)
}
