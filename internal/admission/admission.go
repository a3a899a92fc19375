// Package admission implements the Admission Controller of spec.md §4.1:
// authentication, validation, queue resolution, idempotency, hierarchical
// rate limiting, suppression filtering, and persistence/enqueue for a
// single send. Grounded on the teacher's org_context.go (tenant resolution
// from an API key) and mailing_sending.go (the "validate, then persist,
// then enqueue" shape of a single send handler), restructured around this
// platform's queued-job pipeline instead of the teacher's direct
// ESP-adapter dispatch.
package admission

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ignite/relay/internal/apperror"
	"github.com/ignite/relay/internal/cryptoutil"
	"github.com/ignite/relay/internal/domain"
	"github.com/ignite/relay/internal/obs"
	"github.com/ignite/relay/internal/queue"
	"github.com/ignite/relay/internal/ratelimit"
	"github.com/ignite/relay/internal/repository/postgres"
	"github.com/ignite/relay/internal/scheduler"
)

var queueNamePattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// SendRequest is the payload shape of spec.md §4.1's `submit` contract,
// independent of how it arrived (HTTP body or Scheduler cron fire).
type SendRequest struct {
	QueueName       string
	From            domain.Recipient
	To              []domain.Recipient
	CC              []domain.Recipient
	BCC             []domain.Recipient
	ReplyTo         string
	Subject         string
	HTMLBody        string
	TextBody        string
	Headers         map[string]string
	Personalization map[string]any
	Metadata        map[string]any
	ScheduledAt     *time.Time
}

// AuthResult is what Authenticate resolves a bearer credential to.
type AuthResult struct {
	TenantID string
	APIKey   domain.APIKey
}

// Result is the outcome of a successful Submit: the persisted email and
// whether it was a replay of a prior idempotent submission.
type Result struct {
	Email    *domain.Email
	Replayed bool
}

// Controller implements spec.md §4.1 end to end.
type Controller struct {
	tenants      *postgres.TenantRepository
	apiKeys      *postgres.APIKeyRepository
	queues       *postgres.QueueRepository
	emails       *postgres.EmailRepository
	events       *postgres.EventRepository
	suppressions *postgres.SuppressionRepository
	broker       *queue.Broker
	limiter      *ratelimit.Limiter

	defaultAPIKeyPerMinute int
	defaultAppPerDay       int
	log                    zerolog.Logger
}

// New builds a Controller.
func New(
	tenants *postgres.TenantRepository,
	apiKeys *postgres.APIKeyRepository,
	queues *postgres.QueueRepository,
	emails *postgres.EmailRepository,
	events *postgres.EventRepository,
	suppressions *postgres.SuppressionRepository,
	broker *queue.Broker,
	limiter *ratelimit.Limiter,
	defaultAPIKeyPerMinute, defaultAppPerDay int,
	log zerolog.Logger,
) *Controller {
	return &Controller{
		tenants:                tenants,
		apiKeys:                apiKeys,
		queues:                 queues,
		emails:                 emails,
		events:                 events,
		suppressions:           suppressions,
		broker:                 broker,
		limiter:                limiter,
		defaultAPIKeyPerMinute: defaultAPIKeyPerMinute,
		defaultAppPerDay:       defaultAppPerDay,
		log:                    log,
	}
}

// Authenticate implements spec.md §4.1 step 1: resolve a bearer credential
// to a tenant and API key record, enforcing active/unexpired and
// IP-allowlist checks. rawKey is the raw bearer token; remoteIP is the
// caller's address (already stripped of port) for the allowlist check.
func (c *Controller) Authenticate(ctx context.Context, rawKey, remoteIP string) (*AuthResult, error) {
	if rawKey == "" {
		return nil, apperror.New(apperror.KindAuthentication, "missing bearer credential")
	}

	keys, err := c.apiKeys.ListAllActive(ctx)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindInternal, "list active api keys", err)
	}

	var matched *domain.APIKey
	for i := range keys {
		if cryptoutil.CheckAPIKey(keys[i].HashedKey, rawKey) {
			matched = &keys[i]
			break
		}
	}
	if matched == nil {
		return nil, apperror.New(apperror.KindAuthentication, "invalid api key")
	}

	if err := c.apiKeys.Validate(*matched, time.Now().UTC()); err != nil {
		return nil, apperror.New(apperror.KindAuthentication, "api key inactive or expired")
	}

	if len(matched.IPAllowlist) > 0 && remoteIP != "" {
		if !ipAllowed(matched.IPAllowlist, remoteIP) {
			return nil, apperror.New(apperror.KindAuthorization, "caller ip not in api key allowlist")
		}
	}

	tenant, err := c.tenants.Get(ctx, matched.TenantID)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return nil, apperror.New(apperror.KindAuthentication, "tenant not found")
		}
		return nil, apperror.Wrap(apperror.KindInternal, "load tenant", err)
	}
	if !tenant.Active {
		return nil, apperror.New(apperror.KindAuthorization, "tenant inactive")
	}

	return &AuthResult{TenantID: matched.TenantID, APIKey: *matched}, nil
}

func ipAllowed(allowlist []string, remoteIP string) bool {
	ip := net.ParseIP(remoteIP)
	for _, entry := range allowlist {
		if entry == remoteIP {
			return true
		}
		if ip != nil && strings.Contains(entry, "/") {
			_, cidr, err := net.ParseCIDR(entry)
			if err == nil && cidr.Contains(ip) {
				return true
			}
		}
	}
	return false
}

// Submit runs spec.md §4.1 steps 2-8 for an authenticated HTTP submission.
// idempotencyKey is the empty string when the caller sent none.
func (c *Controller) Submit(ctx context.Context, auth AuthResult, req SendRequest, idempotencyKey string) (*Result, error) {
	res, err := c.submit(ctx, auth.TenantID, &auth.APIKey, req, idempotencyKey)
	if err != nil {
		obs.AdmissionRejections.WithLabelValues(string(apperror.KindOf(err))).Inc()
	}
	return res, err
}

// SubmitScheduled implements scheduler.Submitter: the Scheduler drives cron
// fires through the same admission path (validation, rate limits,
// suppression) minus the HTTP-only steps of authentication and
// idempotency, per spec.md §4.8 ("submit it via the same admission path").
func (c *Controller) SubmitScheduled(ctx context.Context, req scheduler.SubmitRequest) (*domain.Email, error) {
	res, err := c.submit(ctx, req.TenantID, nil, SendRequest{
		QueueName:       req.QueueName,
		From:            req.From,
		To:              req.To,
		CC:              req.CC,
		BCC:             req.BCC,
		ReplyTo:         req.ReplyTo,
		Subject:         req.Subject,
		HTMLBody:        req.HTMLBody,
		TextBody:        req.TextBody,
		Headers:         req.Headers,
		Personalization: req.Personalization,
		Metadata:        req.Metadata,
	}, "")
	if err != nil {
		return nil, err
	}
	return res.Email, nil
}

// submit is the shared core of both entry points.
func (c *Controller) submit(ctx context.Context, tenantID string, apiKey *domain.APIKey, req SendRequest, idempotencyKey string) (*Result, error) {
	if err := validateSendRequest(req); err != nil {
		return nil, err
	}

	// Step 3: resolve queue.
	q, err := c.queues.GetByName(ctx, tenantID, req.QueueName)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return nil, apperror.New(apperror.KindNotFound, "queue not found")
		}
		return nil, apperror.Wrap(apperror.KindInternal, "resolve queue", err)
	}
	if q.Paused {
		return nil, apperror.New(apperror.KindQueuePaused, "queue is paused")
	}

	// Step 4: idempotency. A fast-path lookup replays a previously accepted
	// submission before any rate-limit token is consumed; the unique
	// constraint inside Insert remains the race-proof backstop (a concurrent
	// duplicate surfaces there as ErrIdempotencyConflict).
	var idempotencyPtr *string
	if idempotencyKey != "" {
		idempotencyPtr = &idempotencyKey
		if prior, err := c.emails.FindByIdempotencyKey(ctx, tenantID, idempotencyKey); err == nil {
			return &Result{Email: prior, Replayed: true}, nil
		} else if !errors.Is(err, postgres.ErrNotFound) {
			return nil, apperror.Wrap(apperror.KindInternal, "idempotency lookup", err)
		}
	}

	// Step 5: hierarchical rate limits, api-key -> app -> queue.
	var limits []ratelimit.Limit
	blockedMax := 0
	if apiKey != nil {
		perMinute := c.defaultAPIKeyPerMinute
		if apiKey.RateLimitOverride != nil {
			perMinute = *apiKey.RateLimitOverride
		}
		limits = append(limits, ratelimit.Limit{
			Scope: ratelimit.ScopeAPIKey, Key: ratelimit.APIKeyKey(apiKey.ID),
			Max: perMinute, Window: time.Minute,
		})
	}
	limits = append(limits, ratelimit.Limit{
		Scope: ratelimit.ScopeApp, Key: ratelimit.AppDailyKey(tenantID),
		Max: c.defaultAppPerDay, Window: 24 * time.Hour,
	})
	if q.RateLimitPerMin != nil {
		limits = append(limits, ratelimit.Limit{
			Scope: ratelimit.ScopeQueue, Key: ratelimit.QueueKey(q.ID),
			Max: *q.RateLimitPerMin, Window: time.Minute,
		})
	}
	decision := c.limiter.CheckHierarchical(ctx, limits)
	if !decision.Allowed {
		for _, l := range limits {
			if l.Scope == decision.BlockedBy {
				blockedMax = l.Max
			}
		}
		return nil, apperror.New(apperror.KindRateLimited, fmt.Sprintf("rate limit exceeded at %s scope", decision.BlockedBy)).
			WithDetails(map[string]any{
				"retryAfter": int(time.Until(decision.Result.ResetAt).Seconds()),
				"limit":      blockedMax,
				"remaining":  decision.Result.Remaining,
				"reset":      decision.Result.ResetAt.Unix(),
			})
	}

	// Step 6: suppression filter across to/cc/bcc.
	all := domain.Email{To: req.To, CC: req.CC, BCC: req.BCC}.AllRecipients()
	addrs := make([]string, len(all))
	for i, r := range all {
		addrs[i] = strings.ToLower(r.Email)
	}
	if match, err := c.suppressions.FindActiveMatch(ctx, tenantID, addrs); err != nil {
		return nil, apperror.Wrap(apperror.KindInternal, "suppression lookup", err)
	} else if match != nil {
		return nil, apperror.New(apperror.KindSuppressed, fmt.Sprintf("recipient %s is suppressed (%s)", match.Email, match.Reason)).
			WithDetails(map[string]string{"email": match.Email, "reason": string(match.Reason)})
	}

	// Step 7: persist + enqueue.
	email := &domain.Email{
		TenantID:        tenantID,
		QueueID:         q.ID,
		IdempotencyKey:  idempotencyPtr,
		FromEmail:       req.From.Email,
		FromName:        req.From.Name,
		To:              req.To,
		CC:              req.CC,
		BCC:             req.BCC,
		ReplyTo:         req.ReplyTo,
		Subject:         req.Subject,
		HTMLBody:        req.HTMLBody,
		TextBody:        req.TextBody,
		Headers:         req.Headers,
		Personalization: req.Personalization,
		Metadata:        req.Metadata,
		ScheduledAt:     req.ScheduledAt,
	}

	insertErr := c.emails.Insert(ctx, email)
	if insertErr != nil {
		if errors.Is(insertErr, postgres.ErrIdempotencyConflict) {
			return &Result{Email: email, Replayed: true}, nil
		}
		return nil, apperror.Wrap(apperror.KindInternal, "persist email", insertErr)
	}

	if _, err := c.events.Append(ctx, email.ID, domain.EventQueued, nil); err != nil {
		c.log.Error().Err(err).Str("email", email.ID).Msg("admission: append queued event")
	}

	opts := queue.EnqueueOptions{Priority: q.Priority}
	if req.ScheduledAt != nil && req.ScheduledAt.After(time.Now().UTC()) {
		opts.Delay = time.Until(*req.ScheduledAt)
	}
	if _, err := c.broker.Enqueue(ctx, q.ID, map[string]any{"emailId": email.ID}, opts); err != nil {
		return nil, apperror.Wrap(apperror.KindInternal, "enqueue send job", err)
	}

	return &Result{Email: email}, nil
}

// ValidQueueName reports whether name satisfies spec.md §3's
// lowercase-alphanumeric-hyphen rule for Queue.Name.
func ValidQueueName(name string) bool {
	return name != "" && queueNamePattern.MatchString(name)
}

// SchedulerAdapter satisfies scheduler.Submitter by delegating to
// Controller.SubmitScheduled, keeping the Scheduler decoupled from this
// package's richer Submit/Authenticate surface.
type SchedulerAdapter struct{ *Controller }

func (a SchedulerAdapter) Submit(ctx context.Context, req scheduler.SubmitRequest) (*domain.Email, error) {
	return a.SubmitScheduled(ctx, req)
}
