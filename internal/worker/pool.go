// Package worker implements the Email Worker Pool of spec.md §4.3: a fixed
// number of goroutines that reserve jobs from the Queue Broker, load the
// backing Email row, gate on tenant reputation, personalize content,
// dispatch through the SMTP Engine, and update status/event state.
// Grounded on the teacher's internal/worker/send_worker.go SendWorkerPool
// (poll loop, atomic counters, context-cancel + WaitGroup shutdown), with
// the ESP-HTTP dispatch replaced by the SMTP Engine pool.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ignite/relay/internal/apperror"
	"github.com/ignite/relay/internal/domain"
	"github.com/ignite/relay/internal/obs"
	"github.com/ignite/relay/internal/queue"
	"github.com/ignite/relay/internal/repository/postgres"
	"github.com/ignite/relay/internal/smtpengine"
	"github.com/ignite/relay/internal/tracking"
)

// Pool runs N concurrent send workers over every active tenant Queue.
type Pool struct {
	broker      *queue.Broker
	smtp        *smtpengine.Pool
	emails      *postgres.EmailRepository
	events      *postgres.EventRepository
	queues      *postgres.QueueRepository
	tenants     *postgres.TenantRepository
	smtpConfigs *postgres.SMTPConfigRepository
	webhooks    *postgres.WebhookDeliveryRepository
	tracker     *tracking.Tracker
	defaultSMTP domain.SMTPConfig

	numWorkers   int
	pollInterval time.Duration
	visibility   time.Duration
	log          zerolog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	totalSent    int64
	totalFailed  int64
	totalSkipped int64
}

// New builds a Pool. numWorkers defaults to 10, pollInterval to 250ms,
// visibility to 60s, matching spec.md §4.3/§4.2 defaults.
func New(
	broker *queue.Broker,
	smtp *smtpengine.Pool,
	emails *postgres.EmailRepository,
	events *postgres.EventRepository,
	queues *postgres.QueueRepository,
	tenants *postgres.TenantRepository,
	smtpConfigs *postgres.SMTPConfigRepository,
	webhooks *postgres.WebhookDeliveryRepository,
	tracker *tracking.Tracker,
	defaultSMTP domain.SMTPConfig,
	numWorkers int,
	pollInterval, visibility time.Duration,
	log zerolog.Logger,
) *Pool {
	if numWorkers <= 0 {
		numWorkers = 10
	}
	if pollInterval <= 0 {
		pollInterval = 250 * time.Millisecond
	}
	if visibility <= 0 {
		visibility = 60 * time.Second
	}
	return &Pool{
		broker:       broker,
		smtp:         smtp,
		emails:       emails,
		events:       events,
		queues:       queues,
		tenants:      tenants,
		smtpConfigs:  smtpConfigs,
		webhooks:     webhooks,
		tracker:      tracker,
		defaultSMTP:  defaultSMTP,
		numWorkers:   numWorkers,
		pollInterval: pollInterval,
		visibility:   visibility,
		log:          log,
	}
}

// Start launches the worker goroutines. Idempotent if already running.
func (p *Pool) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.mu.Unlock()

	p.log.Info().Int("workers", p.numWorkers).Msg("worker pool: starting")
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
}

// Stop signals every worker to drain and blocks until they exit, per
// spec.md §5's graceful-shutdown requirement.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	p.log.Info().
		Int64("sent", atomic.LoadInt64(&p.totalSent)).
		Int64("failed", atomic.LoadInt64(&p.totalFailed)).
		Int64("skipped", atomic.LoadInt64(&p.totalSkipped)).
		Msg("worker pool: stopped")
}

// Stats reports cumulative counters for observability.
func (p *Pool) Stats() map[string]int64 {
	return map[string]int64{
		"sent":    atomic.LoadInt64(&p.totalSent),
		"failed":  atomic.LoadInt64(&p.totalFailed),
		"skipped": atomic.LoadInt64(&p.totalSkipped),
	}
}

// run is a single worker's poll loop: scan every active tenant Queue (each
// one a distinct logical broker queue keyed by the Queue's id) and reserve
// at most one job per pass.
func (p *Pool) run(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		queues, err := p.queues.ListActive(p.ctx)
		if err != nil {
			p.log.Error().Err(err).Int("worker", id).Msg("worker: list active queues")
			p.sleep(p.pollInterval)
			continue
		}
		if len(queues) == 0 {
			p.sleep(p.pollInterval)
			continue
		}

		claimed := false
		for _, q := range queues {
			job, err := p.broker.Reserve(p.ctx, q.ID, p.visibility)
			if err != nil {
				p.log.Error().Err(err).Str("queue", q.ID).Msg("worker: reserve")
				continue
			}
			if job == nil {
				continue
			}
			claimed = true
			p.process(q, job)
		}
		if !claimed {
			p.sleep(p.pollInterval)
		}
	}
}

func (p *Pool) sleep(d time.Duration) {
	select {
	case <-p.ctx.Done():
	case <-time.After(d):
	}
}

// process runs the full spec.md §4.3 step sequence for a single reserved
// job against queue q.
func (p *Pool) process(q domain.Queue, job *queue.Job) {
	ctx := p.ctx
	emailID, _ := job.Payload["emailId"].(string)
	if emailID == "" {
		p.log.Error().Str("job", job.ID).Msg("worker: job payload missing emailId")
		_ = p.broker.Complete(ctx, job.ID)
		return
	}

	email, err := p.emails.Get(ctx, emailID)
	if err != nil {
		p.log.Error().Err(err).Str("email", emailID).Msg("worker: load email")
		_ = p.broker.Complete(ctx, job.ID)
		return
	}

	// Step 1: idempotent re-delivery guard. A job may be redelivered after a
	// worker crash; only queued/processing emails are still actionable.
	if email.Status != domain.EmailQueued && email.Status != domain.EmailProcessing {
		atomic.AddInt64(&p.totalSkipped, 1)
		_ = p.broker.Complete(ctx, job.ID)
		return
	}

	tenant, err := p.tenants.Get(ctx, email.TenantID)
	if err != nil {
		p.log.Error().Err(err).Str("tenant", email.TenantID).Msg("worker: load tenant")
		return
	}

	// Step 2: reputation gate.
	if ReputationBlocked(tenant.ReputationScore, tenant.Sandbox) {
		reason := fmt.Sprintf("Rejected: reputation score %.1f below critical threshold", tenant.ReputationScore)
		_ = p.emails.MarkFailed(ctx, email.ID, reason)
		_, _ = p.events.Append(ctx, email.ID, domain.EventProcessing, map[string]any{"throttled": true})
		_ = p.broker.Complete(ctx, job.ID)
		atomic.AddInt64(&p.totalFailed, 1)
		return
	}

	// Step 3: queued -> processing, guarded so a racing redelivery can't
	// double-process.
	if email.Status == domain.EmailQueued {
		ok, err := p.emails.TransitionStatus(ctx, email.ID, []domain.EmailStatus{domain.EmailQueued}, domain.EmailProcessing)
		if err != nil {
			p.log.Error().Err(err).Str("email", email.ID).Msg("worker: transition to processing")
			return
		}
		if !ok {
			_ = p.broker.Complete(ctx, job.ID)
			return
		}
		_, _ = p.events.Append(ctx, email.ID, domain.EventProcessing, nil)
	}

	// Step 4: resolve SMTP config.
	cfg, err := p.resolveSMTPConfig(ctx, q)
	if err != nil {
		p.log.Error().Err(err).Str("queue", q.ID).Msg("worker: resolve smtp config")
	}
	if cfg == nil {
		_ = p.emails.MarkFailed(ctx, email.ID, "No SMTP configuration available")
		_ = p.broker.FailPermanent(ctx, job.ID, "no smtp configuration available")
		atomic.AddInt64(&p.totalFailed, 1)
		return
	}

	// Step 5: personalization, then click/open tracking rewrite (spec.md §1:
	// "offers tracking (opens, clicks)"; Queue.TrackClicks/TrackOpens gate it
	// per-queue, spec.md §3).
	subject := Personalize(email.Subject, email.Personalization)
	html := Personalize(email.HTMLBody, email.Personalization)
	text := Personalize(email.TextBody, email.Personalization)
	html = p.applyTracking(ctx, q, email, html)

	// Step 6: sandbox synthesis or real dispatch.
	var result *smtpengine.SendResult
	if tenant.Sandbox {
		result = &smtpengine.SendResult{
			MessageID: fmt.Sprintf("sandbox-%s-%d@local", email.ID, time.Now().UnixMilli()),
			Accepted:  recipientAddresses(email.To),
		}
	} else {
		msg := smtpengine.Message{
			From:    domain.Recipient{Email: email.FromEmail, Name: email.FromName},
			To:      email.To,
			CC:      email.CC,
			BCC:     email.BCC,
			ReplyTo: email.ReplyTo,
			Subject: subject,
			HTML:    html,
			Text:    text,
			Headers: email.Headers,
		}
		var sendErr error
		result, sendErr = p.smtp.Send(ctx, *cfg, msg)
		if sendErr != nil {
			p.handleSendFailure(ctx, q, email, job, sendErr)
			return
		}
	}

	// Step 7: success. The in-memory row is advanced to the post-send state
	// before the webhook payload snapshot is taken from it.
	now := time.Now().UTC()
	_ = p.emails.MarkSent(ctx, email.ID, result.MessageID, now)
	email.Status = domain.EmailSent
	email.MessageID = &result.MessageID
	email.SentAt = &now
	_, _ = p.events.Append(ctx, email.ID, domain.EventSent, map[string]any{
		"messageId": result.MessageID,
		"accepted":  result.Accepted,
		"rejected":  result.Rejected,
	})
	p.enqueueWebhook(ctx, tenant, email, q, domain.EventSent)
	_ = p.broker.Complete(ctx, job.ID)
	atomic.AddInt64(&p.totalSent, 1)
	obs.EmailsProcessed.WithLabelValues("sent").Inc()
}

// applyTracking rewrites anchor hrefs into short-code redirect tokens and,
// if opens are tracked, appends a 1x1 pixel carrying a signed open token.
// Returns html unchanged if tracking isn't configured for this process or
// disabled on the queue.
func (p *Pool) applyTracking(ctx context.Context, q domain.Queue, email *domain.Email, html string) string {
	if p.tracker == nil || html == "" {
		return html
	}
	rewritten, err := p.tracker.RewriteClicks(ctx, email.ID, html, q.TrackClicks)
	if err != nil {
		p.log.Warn().Err(err).Str("email", email.ID).Msg("worker: rewrite tracked links")
		rewritten = html
	}
	if q.TrackOpens {
		if tok, err := p.tracker.IssueOpenToken(email.ID); err == nil {
			rewritten += fmt.Sprintf(`<img src="/v1/tracking/open/%s" width="1" height="1" alt="" style="display:none" />`, tok)
		} else {
			p.log.Warn().Err(err).Str("email", email.ID).Msg("worker: issue open token")
		}
	}
	return rewritten
}

func (p *Pool) resolveSMTPConfig(ctx context.Context, q domain.Queue) (*domain.SMTPConfig, error) {
	if q.SMTPConfigID != nil {
		cfg, err := p.smtpConfigs.Get(ctx, *q.SMTPConfigID)
		if err != nil && !errors.Is(err, postgres.ErrNotFound) {
			return nil, err
		}
		if cfg != nil && cfg.Active {
			return cfg, nil
		}
	}
	if p.defaultSMTP.Host != "" {
		return &p.defaultSMTP, nil
	}
	return nil, nil
}

// handleSendFailure implements spec.md §4.3 step 8: sanitize the error,
// then either requeue (retry remains, transient) or terminally fail
// (permanent, or retries exhausted).
func (p *Pool) handleSendFailure(ctx context.Context, q domain.Queue, email *domain.Email, job *queue.Job, sendErr error) {
	clean := apperror.Sanitize(sendErr.Error())
	permanent := apperror.KindOf(sendErr) == apperror.KindSMTPPermanent

	if permanent {
		_ = p.emails.MarkFailed(ctx, email.ID, clean)
		_ = p.broker.FailPermanent(ctx, job.ID, clean)
		atomic.AddInt64(&p.totalFailed, 1)
		obs.EmailsProcessed.WithLabelValues("failed").Inc()
		return
	}

	terminal, err := p.broker.Fail(ctx, job.ID, clean, &q)
	if err != nil {
		p.log.Error().Err(err).Str("job", job.ID).Msg("worker: record failed attempt")
	}
	if terminal {
		_ = p.emails.MarkFailed(ctx, email.ID, clean)
		atomic.AddInt64(&p.totalFailed, 1)
		obs.EmailsProcessed.WithLabelValues("failed").Inc()
		return
	}
	_ = p.emails.RequeueForRetry(ctx, email.ID, clean)
	_, _ = p.events.Append(ctx, email.ID, domain.EventQueued, map[string]any{"retry": true})
	obs.EmailsProcessed.WithLabelValues("retried").Inc()
}

// enqueueWebhook persists a pending webhook_delivery row and queues its
// dispatch job, per spec.md §4.5's "no side-channels" event-notification
// rule: every observable transition becomes an append plus an enqueue, never
// a direct call into the dispatcher.
func (p *Pool) enqueueWebhook(ctx context.Context, tenant *domain.Tenant, email *domain.Email, q domain.Queue, eventType domain.EventType) {
	if tenant.WebhookURL == nil || *tenant.WebhookURL == "" {
		return
	}
	payload := map[string]any{
		"emailId":   email.ID,
		"messageId": email.MessageID,
		"appId":     tenant.ID,
		"queueName": q.Name,
		"from":      email.FromEmail,
		"to":        recipientAddresses(email.To),
		"subject":   email.Subject,
		"status":    string(email.Status),
		"metadata":  email.Metadata,
		"event":     string(eventType),
	}
	delivery := &domain.WebhookDelivery{
		TenantID:      tenant.ID,
		SourceEmailID: &email.ID,
		EventType:     eventType,
		Payload:       payload,
		Status:        domain.WebhookPending,
	}
	if err := p.webhooks.Create(ctx, delivery); err != nil {
		p.log.Error().Err(err).Str("email", email.ID).Msg("worker: create webhook delivery")
		return
	}
	if _, err := p.broker.Enqueue(ctx, domain.WebhookQueueName, map[string]any{"deliveryId": delivery.ID}, queue.EnqueueOptions{Priority: 5}); err != nil {
		p.log.Error().Err(err).Str("delivery", delivery.ID).Msg("worker: enqueue webhook job")
	}
}

func recipientAddresses(rs []domain.Recipient) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Email
	}
	return out
}
