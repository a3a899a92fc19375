package tracking

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/relay/internal/repository/postgres"
)

func newTestTracker(t *testing.T) (*Tracker, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	links := postgres.NewTrackingLinkRepository(db)
	events := postgres.NewEventRepository(db)
	return New(links, events, "tracking-secret"), mock
}

func TestIssueAndRecordOpenToken(t *testing.T) {
	tr, mock := newTestTracker(t)

	tok, err := tr.IssueOpenToken("email-1")
	require.NoError(t, err)
	assert.NotEmpty(t, tok)

	mock.ExpectExec("INSERT INTO email_events").WillReturnResult(sqlmock.NewResult(1, 1))
	err = tr.RecordOpen(context.Background(), tok)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordOpenRejectsGarbageToken(t *testing.T) {
	tr, _ := newTestTracker(t)
	err := tr.RecordOpen(context.Background(), "not-a-jwt")
	assert.ErrorIs(t, err, errInvalidToken)
}

func TestRecordOpenRejectsTokenSignedWithWrongSecret(t *testing.T) {
	tr, _ := newTestTracker(t)
	other, mock := newTestTracker(t)
	_ = mock
	other.secret = "a-different-secret"

	tok, err := other.IssueOpenToken("email-1")
	require.NoError(t, err)

	err = tr.RecordOpen(context.Background(), tok)
	assert.ErrorIs(t, err, errInvalidToken)
}

func TestRewriteClicksNoopWhenDisabled(t *testing.T) {
	tr, _ := newTestTracker(t)
	html := `<a href="https://example.com">click</a>`
	out, err := tr.RewriteClicks(context.Background(), "email-1", html, false)
	require.NoError(t, err)
	assert.Equal(t, html, out)
}

func TestRewriteClicksRewritesHref(t *testing.T) {
	tr, mock := newTestTracker(t)
	mock.ExpectExec("INSERT INTO tracking_links").WillReturnResult(sqlmock.NewResult(1, 1))

	html := `<a href="https://example.com/path">click</a>`
	out, err := tr.RewriteClicks(context.Background(), "email-1", html, true)
	require.NoError(t, err)
	assert.Contains(t, out, "/v1/tracking/click/")
	assert.NotContains(t, out, "https://example.com/path")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordClickBumpsCountAndAppendsEvent(t *testing.T) {
	tr, mock := newTestTracker(t)

	rows := sqlmock.NewRows([]string{"id", "email_id", "short_code", "original_url", "click_count", "created_at"}).
		AddRow("link-1", "email-1", "abc123", "https://example.com/path", 1, time.Now())
	mock.ExpectQuery("UPDATE tracking_links").WithArgs("abc123").WillReturnRows(rows)
	mock.ExpectExec("INSERT INTO email_events").WillReturnResult(sqlmock.NewResult(1, 1))

	url, err := tr.RecordClick(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/path", url)
	require.NoError(t, mock.ExpectationsWereMet())
}
