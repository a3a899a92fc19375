package worker

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/relay/internal/apperror"
	"github.com/ignite/relay/internal/domain"
	"github.com/ignite/relay/internal/queue"
	"github.com/ignite/relay/internal/repository/postgres"
)

func newTestPool(t *testing.T) (*Pool, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	p := New(
		queue.New(db),
		nil, // smtp engine unused by tests that never reach a real send
		postgres.NewEmailRepository(db),
		postgres.NewEventRepository(db),
		postgres.NewQueueRepository(db),
		postgres.NewTenantRepository(db),
		postgres.NewSMTPConfigRepository(db),
		postgres.NewWebhookDeliveryRepository(db),
		nil, // tracker unused by tests that never reach tracking rewrite
		domain.SMTPConfig{},
		1, time.Millisecond, time.Minute,
		zerolog.Nop(),
	)
	p.ctx = context.Background()
	return p, mock
}

func emailRow(status domain.EmailStatus) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"id", "tenant_id", "queue_id", "idempotency_key", "message_id", "from_email",
		"from_name", "to_recipients", "cc_recipients", "bcc_recipients", "reply_to",
		"subject", "html_body", "text_body", "headers", "personalization", "metadata",
		"status", "retry_count", "last_error", "scheduled_at", "sent_at",
		"delivered_at", "created_at",
	}).AddRow("email1", "tenant1", "queue1", nil, nil, "from@example.com",
		"", []byte(`[{"email":"to@example.com"}]`), []byte(`[]`), []byte(`[]`), "",
		"hi", "<p>hi</p>", "hi", []byte(`{}`), []byte(`{}`), []byte(`{}`),
		status, 0, nil, nil, nil, nil, now)
}

func tenantRow(sandbox bool, reputation float64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "account_id", "name", "active", "sandbox", "webhook_url",
		"encrypted_webhook_secret", "daily_quota", "monthly_quota", "settings",
		"reputation_score", "created_at",
	}).AddRow("tenant1", nil, "Acme", true, sandbox, nil, nil, nil, nil,
		[]byte(`{}`), reputation, time.Now().UTC())
}

func testJob() *queue.Job {
	return &queue.Job{ID: "job1", Payload: map[string]any{"emailId": "email1"}}
}

func testQueue() domain.Queue {
	return domain.Queue{ID: "queue1", TenantID: "tenant1", Name: "transactional", MaxRetries: 3, RetryDelaySeq: domain.DefaultRetryDelaySeconds}
}

func TestProcessSkipsWhenEmailAlreadyTerminal(t *testing.T) {
	p, mock := newTestPool(t)

	mock.ExpectQuery("SELECT id, tenant_id, queue_id").
		WillReturnRows(emailRow(domain.EmailCancelled))
	mock.ExpectExec("UPDATE jobs SET status").WillReturnResult(sqlmock.NewResult(0, 1))

	p.process(testQueue(), testJob())

	assert.Equal(t, int64(1), p.Stats()["skipped"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessBlocksOnLowReputation(t *testing.T) {
	p, mock := newTestPool(t)

	mock.ExpectQuery("SELECT id, tenant_id, queue_id").
		WillReturnRows(emailRow(domain.EmailQueued))
	mock.ExpectQuery("SELECT id, account_id, name").
		WillReturnRows(tenantRow(false, 5.0))
	mock.ExpectExec("UPDATE emails SET status = \\$1, last_error").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO email_events").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE jobs SET status").WillReturnResult(sqlmock.NewResult(0, 1))

	p.process(testQueue(), testJob())

	assert.Equal(t, int64(1), p.Stats()["failed"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessSandboxSendSucceeds(t *testing.T) {
	p, mock := newTestPool(t)

	mock.ExpectQuery("SELECT id, tenant_id, queue_id").
		WillReturnRows(emailRow(domain.EmailQueued))
	mock.ExpectQuery("SELECT id, account_id, name").
		WillReturnRows(tenantRow(true, 100.0))
	mock.ExpectExec("UPDATE emails SET status = \\$1 WHERE id = \\$2 AND status").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO email_events").WillReturnResult(sqlmock.NewResult(0, 1))
	// resolveSMTPConfig: no queue SMTPConfigID, so the default set below is
	// returned without a DB hit; the sandbox path never reaches the SMTP engine.
	mock.ExpectExec("UPDATE emails SET status = \\$1, message_id").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO email_events").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE jobs SET status").WillReturnResult(sqlmock.NewResult(0, 1))

	q := testQueue()
	// sandbox tenants still need an SMTP config resolved to proceed past step 4;
	// give the pool a default so resolveSMTPConfig succeeds without a DB hit.
	p.defaultSMTP = domain.SMTPConfig{Host: "smtp.example.com"}

	p.process(q, testJob())

	assert.Equal(t, int64(1), p.Stats()["sent"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessFailsPermanentlyWithNoSMTPConfig(t *testing.T) {
	p, mock := newTestPool(t)

	mock.ExpectQuery("SELECT id, tenant_id, queue_id").
		WillReturnRows(emailRow(domain.EmailQueued))
	mock.ExpectQuery("SELECT id, account_id, name").
		WillReturnRows(tenantRow(true, 100.0))
	mock.ExpectExec("UPDATE emails SET status = \\$1 WHERE id = \\$2 AND status").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO email_events").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE emails SET status = \\$1, last_error").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE jobs SET status = \\$1, attempts = attempts \\+ 1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	p.process(testQueue(), testJob())

	assert.Equal(t, int64(1), p.Stats()["failed"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveSMTPConfigFallsBackToDefault(t *testing.T) {
	p, mock := newTestPool(t)
	p.defaultSMTP = domain.SMTPConfig{Host: "smtp.example.com"}

	cfg, err := p.resolveSMTPConfig(context.Background(), testQueue())
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "smtp.example.com", cfg.Host)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleSendFailurePermanentSkipsRetryPolicy(t *testing.T) {
	p, mock := newTestPool(t)

	mock.ExpectExec("UPDATE emails SET status = \\$1, last_error").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE jobs SET status = \\$1, attempts = attempts \\+ 1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	email := &domain.Email{ID: "email1"}
	q := testQueue()
	err := apperror.Wrap(apperror.KindSMTPPermanent, "rejected", assertErr{})
	p.handleSendFailure(context.Background(), q, email, testJob(), err)

	assert.Equal(t, int64(1), p.Stats()["failed"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleSendFailureTransientRequeues(t *testing.T) {
	p, mock := newTestPool(t)

	mock.ExpectQuery("SELECT attempts FROM jobs").
		WillReturnRows(sqlmock.NewRows([]string{"attempts"}).AddRow(0))
	mock.ExpectExec("UPDATE jobs SET status = \\$1, attempts = \\$2, last_error = \\$3, ready_at").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE emails SET status = \\$1, last_error = \\$2, retry_count").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO email_events").WillReturnResult(sqlmock.NewResult(0, 1))

	email := &domain.Email{ID: "email1"}
	q := testQueue()
	err := apperror.Newf(apperror.KindSMTPTransient, "timeout")
	p.handleSendFailure(context.Background(), q, email, testJob(), err)

	assert.Equal(t, int64(0), p.Stats()["failed"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecipientAddresses(t *testing.T) {
	rs := []domain.Recipient{{Email: "a@example.com"}, {Email: "b@example.com", Name: "B"}}
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, recipientAddresses(rs))
}

type assertErr struct{}

func (assertErr) Error() string { return "smtp: rejected" }
