// Package ratelimit implements the sliding-window rate limiter of spec.md
// §4.7: an atomic check-and-consume primitive over a shared fast store, and
// the hierarchical api-key -> app -> queue precedence the Admission
// Controller runs it under (spec.md §4.1 step 5). Grounded on the teacher's
// internal/worker/rate_limiter.go, which runs the same "check every limit,
// only mutate if all pass" idea as a single Lua script for atomicity; this
// package keeps that idiom but swaps the teacher's per-second/minute/day
// fixed counters for a sliding-window sorted set, since spec.md §4.7 asks
// for "drop entries older than now-window, count remaining, insert if
// below limit" rather than fixed time-bucketed counters.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// slidingWindowScript is the atomic check(key, limit, window-ms) operation
// from spec.md §4.7. It trims expired entries, counts what remains, and
// only if under limit adds `now` (with a uuid-suffixed member, resolving
// Ambiguity ii of spec.md §9 in favor of a collision-free member over
// math.random()) before refreshing the key's TTL.
const slidingWindowScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local windowMs = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - windowMs)
local count = redis.call("ZCARD", key)

if count >= limit then
    local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
    local resetAt = now + windowMs
    if oldest[2] then
        resetAt = tonumber(oldest[2]) + windowMs
    end
    return {0, 0, resetAt}
end

redis.call("ZADD", key, now, member)
redis.call("PEXPIRE", key, windowMs)
local remaining = limit - count - 1
return {1, remaining, now + windowMs}
`

// Result is the outcome of a single Check call.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter implements the sliding-window counter over Redis.
type Limiter struct {
	redis  *redis.Client
	log    zerolog.Logger
	script *redis.Script
}

// New builds a Limiter over redisClient.
func New(redisClient *redis.Client, log zerolog.Logger) *Limiter {
	return &Limiter{redis: redisClient, log: log, script: redis.NewScript(slidingWindowScript)}
}

// Check runs the atomic sliding-window check for key. A non-positive limit
// means "unbounded" and always allows. On backing-store failure — including
// a process started without a reachable Redis at all — the limiter fails
// open (allows), logging the error, per spec.md §4.7's explicit fail-open
// contract.
func (l *Limiter) Check(ctx context.Context, key string, limit int, window time.Duration) Result {
	if limit <= 0 {
		return Result{Allowed: true, Remaining: 0, ResetAt: time.Now().Add(window)}
	}
	if l.redis == nil {
		return Result{Allowed: true, Remaining: limit, ResetAt: time.Now().Add(window)}
	}
	now := time.Now()
	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.New().String())

	res, err := l.script.Run(ctx, l.redis,
		[]string{key},
		now.UnixMilli(), window.Milliseconds(), limit, member,
	).Slice()
	if err != nil {
		l.log.Error().Err(err).Str("key", key).Msg("ratelimit: redis check failed, failing open")
		return Result{Allowed: true, Remaining: limit, ResetAt: now.Add(window)}
	}

	allowed := res[0].(int64) == 1
	remaining := int(res[1].(int64))
	resetMs := res[2].(int64)
	return Result{Allowed: allowed, Remaining: remaining, ResetAt: time.UnixMilli(resetMs)}
}

// Scope identifies which level of the api-key/app/queue hierarchy produced
// a decision, per spec.md §4.1 step 5's "first hit wins" ordering.
type Scope string

const (
	ScopeAPIKey Scope = "apikey"
	ScopeApp    Scope = "app"
	ScopeQueue  Scope = "queue"
)

// Limit bundles one scope's key, ceiling, and window for a hierarchical
// check; a zero-value Max is treated as unbounded.
type Limit struct {
	Scope  Scope
	Key    string
	Max    int
	Window time.Duration
}

// Decision is the outcome of CheckHierarchical.
type Decision struct {
	Allowed   bool
	BlockedBy Scope
	Result    Result
}

// CheckHierarchical evaluates the api-key and app limits concurrently (they
// are independent scopes), then the queue limit if configured, returning
// the first denial in apikey -> app -> queue order regardless of which
// check actually completed first — matching spec.md §4.7: "Hierarchical
// check runs api-key and tenant in parallel, then queue if configured, and
// returns the first blocker in order apikey -> app -> queue."
func (l *Limiter) CheckHierarchical(ctx context.Context, limits []Limit) Decision {
	var apiKeyLimit, appLimit, queueLimit *Limit
	for i := range limits {
		switch limits[i].Scope {
		case ScopeAPIKey:
			apiKeyLimit = &limits[i]
		case ScopeApp:
			appLimit = &limits[i]
		case ScopeQueue:
			queueLimit = &limits[i]
		}
	}

	var wg sync.WaitGroup
	var apiKeyRes, appRes Result
	if apiKeyLimit != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			apiKeyRes = l.Check(ctx, apiKeyLimit.Key, apiKeyLimit.Max, apiKeyLimit.Window)
		}()
	}
	if appLimit != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			appRes = l.Check(ctx, appLimit.Key, appLimit.Max, appLimit.Window)
		}()
	}
	wg.Wait()

	if apiKeyLimit != nil && !apiKeyRes.Allowed {
		return Decision{Allowed: false, BlockedBy: ScopeAPIKey, Result: apiKeyRes}
	}
	if appLimit != nil && !appRes.Allowed {
		return Decision{Allowed: false, BlockedBy: ScopeApp, Result: appRes}
	}
	if queueLimit != nil {
		queueRes := l.Check(ctx, queueLimit.Key, queueLimit.Max, queueLimit.Window)
		if !queueRes.Allowed {
			return Decision{Allowed: false, BlockedBy: ScopeQueue, Result: queueRes}
		}
		return Decision{Allowed: true, Result: queueRes}
	}
	if apiKeyLimit != nil {
		return Decision{Allowed: true, Result: apiKeyRes}
	}
	if appLimit != nil {
		return Decision{Allowed: true, Result: appRes}
	}
	return Decision{Allowed: true}
}

// APIKeyKey builds the Redis key for an api-key-scoped bucket.
func APIKeyKey(apiKeyID string) string { return fmt.Sprintf("ratelimit:apikey:%s", apiKeyID) }

// AppDailyKey builds the Redis key for a tenant's daily bucket.
func AppDailyKey(tenantID string) string { return fmt.Sprintf("ratelimit:app:%s:daily", tenantID) }

// QueueKey builds the Redis key for a queue's per-minute bucket.
func QueueKey(queueID string) string { return fmt.Sprintf("ratelimit:queue:%s", queueID) }
