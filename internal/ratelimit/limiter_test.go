package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return New(client, zerolog.Nop())
}

func TestCheckAllowsUnderLimit(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	res := l.Check(ctx, "k1", 3, time.Minute)
	assert.True(t, res.Allowed)
	assert.Equal(t, 2, res.Remaining)
}

func TestCheckDeniesOverLimit(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res := l.Check(ctx, "k2", 2, time.Minute)
		require.True(t, res.Allowed)
	}
	res := l.Check(ctx, "k2", 2, time.Minute)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
}

func TestCheckFailsOpenWithoutRedis(t *testing.T) {
	l := New(nil, zerolog.Nop())
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		res := l.Check(ctx, "k-no-redis", 1, time.Minute)
		assert.True(t, res.Allowed)
	}
}

func TestCheckUnboundedAlwaysAllows(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		res := l.Check(ctx, "k3", 0, time.Minute)
		assert.True(t, res.Allowed)
	}
}

func TestCheckHierarchicalBlocksAPIKeyFirst(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	// Exhaust the api-key bucket before the hierarchical check.
	l.Check(ctx, APIKeyKey("key1"), 1, time.Minute)

	decision := l.CheckHierarchical(ctx, []Limit{
		{Scope: ScopeAPIKey, Key: APIKeyKey("key1"), Max: 1, Window: time.Minute},
		{Scope: ScopeApp, Key: AppDailyKey("tenant1"), Max: 1000, Window: 24 * time.Hour},
		{Scope: ScopeQueue, Key: QueueKey("q1"), Max: 1000, Window: time.Minute},
	})

	assert.False(t, decision.Allowed)
	assert.Equal(t, ScopeAPIKey, decision.BlockedBy)
}

func TestCheckHierarchicalBlocksQueueLast(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	l.Check(ctx, QueueKey("q2"), 1, time.Minute)

	decision := l.CheckHierarchical(ctx, []Limit{
		{Scope: ScopeAPIKey, Key: APIKeyKey("key2"), Max: 1000, Window: time.Minute},
		{Scope: ScopeApp, Key: AppDailyKey("tenant2"), Max: 1000, Window: 24 * time.Hour},
		{Scope: ScopeQueue, Key: QueueKey("q2"), Max: 1, Window: time.Minute},
	})

	assert.False(t, decision.Allowed)
	assert.Equal(t, ScopeQueue, decision.BlockedBy)
}

func TestCheckHierarchicalAllowsWhenAllPass(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	decision := l.CheckHierarchical(ctx, []Limit{
		{Scope: ScopeAPIKey, Key: APIKeyKey("key3"), Max: 10, Window: time.Minute},
		{Scope: ScopeApp, Key: AppDailyKey("tenant3"), Max: 10, Window: 24 * time.Hour},
	})

	assert.True(t, decision.Allowed)
}
