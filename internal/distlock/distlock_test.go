package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisLockAcquireIsExclusive(t *testing.T) {
	client := newTestRedisClient(t)
	ctx := context.Background()

	a := NewRedisLock(client, "scheduler:tick", time.Minute)
	b := NewRedisLock(client, "scheduler:tick", time.Minute)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "a second holder must not acquire an already-held lock")
}

func TestRedisLockReleaseOnlyOwnerCanRelease(t *testing.T) {
	client := newTestRedisClient(t)
	ctx := context.Background()

	a := NewRedisLock(client, "scheduler:tick", time.Minute)
	b := NewRedisLock(client, "scheduler:tick", time.Minute)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, b.Release(ctx))

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "b's no-op release must not have freed a's lock")

	require.NoError(t, a.Release(ctx))
	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "a's release must free the lock for another holder")
}

func TestRedisLockExtend(t *testing.T) {
	client := newTestRedisClient(t)
	ctx := context.Background()

	a := NewRedisLock(client, "scheduler:tick", time.Second)
	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, a.Extend(ctx, time.Minute))
}

func TestPGAdvisoryLockAcquireAndRelease(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	l := NewPGAdvisoryLock(db, "scheduler:tick")

	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	ok, err := l.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectExec("SELECT pg_advisory_unlock").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, l.Release(context.Background()))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewLockPrefersRedisWhenAvailable(t *testing.T) {
	client := newTestRedisClient(t)
	l := NewLock(client, nil, "k", time.Minute)
	_, ok := l.(*RedisLock)
	assert.True(t, ok)
}

func TestNewLockFallsBackToPGAdvisoryLock(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	l := NewLock(nil, db, "k", time.Minute)
	_, ok := l.(*PGAdvisoryLock)
	assert.True(t, ok)
}
