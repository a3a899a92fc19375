package queue

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/relay/internal/domain"
)

func newMockBroker(t *testing.T) (*Broker, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestEnqueueInsertsJob(t *testing.T) {
	b, mock := newMockBroker(t)

	mock.ExpectExec("INSERT INTO jobs").WillReturnResult(sqlmock.NewResult(1, 1))

	id, err := b.Enqueue(context.Background(), "transactional", map[string]any{"emailId": "e1"}, EnqueueOptions{Priority: 8})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveReturnsNoneWhenEmpty(t *testing.T) {
	b, mock := newMockBroker(t)

	mock.ExpectQuery("SELECT paused FROM queue_control").
		WillReturnRows(sqlmock.NewRows([]string{"paused"}))
	mock.ExpectQuery("WITH claimed AS").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "queue_name", "payload", "priority", "status", "ready_at",
			"reserved_until", "attempts", "last_error", "created_at",
		}))

	job, err := b.Reserve(context.Background(), "transactional", 60*time.Second)
	require.NoError(t, err)
	assert.Nil(t, job)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveSkipsWhenPaused(t *testing.T) {
	b, mock := newMockBroker(t)

	mock.ExpectQuery("SELECT paused FROM queue_control").
		WillReturnRows(sqlmock.NewRows([]string{"paused"}).AddRow(true))

	job, err := b.Reserve(context.Background(), "transactional", 60*time.Second)
	require.NoError(t, err)
	assert.Nil(t, job)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveReturnsClaimedJob(t *testing.T) {
	b, mock := newMockBroker(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT paused FROM queue_control").
		WillReturnRows(sqlmock.NewRows([]string{"paused"}))
	mock.ExpectQuery("WITH claimed AS").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "queue_name", "payload", "priority", "status", "ready_at",
			"reserved_until", "attempts", "last_error", "created_at",
		}).AddRow("job1", "transactional", []byte(`{"emailId":"e1"}`), 5, StatusActive, now, now, 0, nil, now))

	job, err := b.Reserve(context.Background(), "transactional", 60*time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "job1", job.ID)
	assert.Equal(t, "e1", job.Payload["emailId"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailRequeuesWithBackoffWhenRetriesRemain(t *testing.T) {
	b, mock := newMockBroker(t)

	mock.ExpectQuery("SELECT attempts FROM jobs").
		WillReturnRows(sqlmock.NewRows([]string{"attempts"}).AddRow(0))
	mock.ExpectExec("UPDATE jobs SET status = \\$1, attempts = \\$2, last_error = \\$3, ready_at = \\$4").
		WillReturnResult(sqlmock.NewResult(0, 1))

	q := &domain.Queue{MaxRetries: 5, RetryDelaySeq: domain.DefaultRetryDelaySeconds}
	permanent, err := b.Fail(context.Background(), "job1", "smtp timeout", q)
	require.NoError(t, err)
	assert.False(t, permanent)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailMarksPermanentlyFailedWhenExhausted(t *testing.T) {
	b, mock := newMockBroker(t)

	mock.ExpectQuery("SELECT attempts FROM jobs").
		WillReturnRows(sqlmock.NewRows([]string{"attempts"}).AddRow(5))
	mock.ExpectExec("UPDATE jobs SET status = \\$1, attempts = \\$2, last_error = \\$3 WHERE").
		WillReturnResult(sqlmock.NewResult(0, 1))

	q := &domain.Queue{MaxRetries: 5, RetryDelaySeq: domain.DefaultRetryDelaySeconds}
	permanent, err := b.Fail(context.Background(), "job1", "smtp timeout", q)
	require.NoError(t, err)
	assert.True(t, permanent)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteMarksCompleted(t *testing.T) {
	b, mock := newMockBroker(t)
	mock.ExpectExec("UPDATE jobs SET status").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, b.Complete(context.Background(), "job1"))
	require.NoError(t, mock.ExpectationsWereMet())
}
