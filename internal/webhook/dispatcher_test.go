package webhook

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ignite/relay/internal/queue"
	"github.com/ignite/relay/internal/repository/postgres"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	d := New(queue.New(db), postgres.NewWebhookDeliveryRepository(db),
		postgres.NewTenantRepository(db), "test-encryption-key", 1,
		time.Millisecond, time.Minute, zerolog.Nop())
	d.ctx = context.Background()
	return d, mock
}

func deliveryRow() *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"id", "tenant_id", "source_email_id", "event_type", "payload", "status",
		"attempts", "last_error", "next_retry_at", "delivered_at", "created_at",
	}).AddRow("delivery1", "tenant1", nil, "sent", []byte(`{"emailId":"email1"}`),
		"pending", 0, nil, nil, nil, now)
}

func tenantRowForWebhook(webhookURL string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "account_id", "name", "active", "sandbox", "webhook_url",
		"encrypted_webhook_secret", "daily_quota", "monthly_quota", "settings",
		"reputation_score", "created_at",
	}).AddRow("tenant1", nil, "Acme", true, false, webhookURL, nil, nil, nil,
		[]byte(`{}`), 100.0, time.Now().UTC())
}

// publicHookURL is a public literal address that passes ValidateURL. The
// httptest server listens on loopback, which ValidateURL blocks, so routeTo
// points the dispatcher's HTTP client at the server for every dial instead.
const publicHookURL = "http://93.184.216.34/hook"

func routeTo(d *Dispatcher, server *httptest.Server) {
	addr := server.Listener.Addr().String()
	d.httpClient.Transport = &http.Transport{
		DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var dialer net.Dialer
			return dialer.DialContext(ctx, network, addr)
		},
	}
}

func TestProcessDeliversSuccessfully(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Webhook-Signature") == "" {
			t.Error("expected signature header")
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d, mock := newTestDispatcher(t)
	routeTo(d, server)
	mock.ExpectQuery("SELECT id, tenant_id, source_email_id").WillReturnRows(deliveryRow())
	mock.ExpectQuery("SELECT id, account_id, name").WillReturnRows(tenantRowForWebhook(publicHookURL))
	mock.ExpectExec("UPDATE webhook_deliveries SET status = 'delivered'").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE jobs SET status").WillReturnResult(sqlmock.NewResult(0, 1))

	d.process(&queue.Job{ID: "job1", Payload: map[string]any{"deliveryId": "delivery1"}})

	require.Equal(t, int64(1), d.Stats()["delivered"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessGivesUpOnSSRFBlockedURL(t *testing.T) {
	d, mock := newTestDispatcher(t)
	mock.ExpectQuery("SELECT id, tenant_id, source_email_id").WillReturnRows(deliveryRow())
	mock.ExpectQuery("SELECT id, account_id, name").
		WillReturnRows(tenantRowForWebhook("http://169.254.169.254/hook"))
	mock.ExpectExec("UPDATE webhook_deliveries").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE jobs SET status = \\$1, attempts = attempts \\+ 1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	d.process(&queue.Job{ID: "job1", Payload: map[string]any{"deliveryId": "delivery1"}})

	require.Equal(t, int64(1), d.Stats()["failed"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessRetriesOnNon2xxUnderMaxAttempts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	d, mock := newTestDispatcher(t)
	routeTo(d, server)
	mock.ExpectQuery("SELECT id, tenant_id, source_email_id").WillReturnRows(deliveryRow())
	mock.ExpectQuery("SELECT id, account_id, name").WillReturnRows(tenantRowForWebhook(publicHookURL))
	mock.ExpectExec("UPDATE webhook_deliveries SET status = \\$1, attempts = attempts \\+ 1, last_error = \\$2, next_retry_at = \\$3").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE jobs SET status").WillReturnResult(sqlmock.NewResult(0, 1))

	d.process(&queue.Job{ID: "job1", Payload: map[string]any{"deliveryId": "delivery1"}})

	require.Equal(t, int64(0), d.Stats()["failed"])
	require.Equal(t, int64(0), d.Stats()["delivered"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessSkipsJobWithNoDeliveryID(t *testing.T) {
	d, mock := newTestDispatcher(t)
	mock.ExpectExec("UPDATE jobs SET status").WillReturnResult(sqlmock.NewResult(0, 1))

	d.process(&queue.Job{ID: "job1", Payload: map[string]any{}})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBackoffClampsToFinalSequenceEntry(t *testing.T) {
	require.Equal(t, 86400*time.Second, backoff(999))
}
