// Package scheduler implements spec.md §4.8: cron-expansion of Scheduled
// Jobs into ordinary sends. Delayed-job release (the other of the
// component's two duties) is not separate code here — the Queue Broker's
// own `ready_at` promotion inside Reserve already does it.
//
// Grounded on the teacher's internal/pkg/distlock usage pattern (a
// ticker-driven tick guarded by a distributed lock so multiple server
// replicas never double-fire); cron-expression semantics come from
// github.com/robfig/cron/v3, a dependency absent from the teacher but
// present across the retrieved pack (LLRHook-mailit, posthoot-backend,
// bravo1goingdark-mailgrid all depend on it for this exact purpose).
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/ignite/relay/internal/distlock"
	"github.com/ignite/relay/internal/domain"
	"github.com/ignite/relay/internal/repository/postgres"
)

// SubmitRequest mirrors the Admission Controller's submit contract (spec.md
// §4.1) closely enough for the Scheduler to drive it without importing the
// admission package — any type with a matching Submit method satisfies
// Submitter structurally.
type SubmitRequest struct {
	TenantID        string
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
}

// Submitter is the admission-path surface the Scheduler drives on each cron
// fire, per spec.md §4.8: "submit it via the same admission path — rate
// limits and suppression still apply."
type Submitter interface {
	Submit(ctx context.Context, req SubmitRequest) (*domain.Email, error)
}

// Scheduler ticks on a steady cadence, independent of work progress (spec.md
// §5), looking for Scheduled Jobs whose next_run_at has passed.
type Scheduler struct {
	jobs      *postgres.ScheduledJobRepository
	queues    *postgres.QueueRepository
	submitter Submitter
	newLock   func() distlock.DistLock
	tick      time.Duration
	log       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Scheduler. newLock is called once per tick to obtain a fresh
// lock handle (distlock.DistLock implementations carry per-instance
// ownership tokens, so a factory is safer than sharing one across ticks).
func New(
	jobs *postgres.ScheduledJobRepository,
	queues *postgres.QueueRepository,
	submitter Submitter,
	newLock func() distlock.DistLock,
	tick time.Duration,
	log zerolog.Logger,
) *Scheduler {
	if tick <= 0 {
		tick = 30 * time.Second
	}
	return &Scheduler{jobs: jobs, queues: queues, submitter: submitter, newLock: newLock, tick: tick, log: log}
}

// Start launches the scheduler's tick loop.
func (s *Scheduler) Start() {
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.wg.Add(1)
	go s.run()
}

// Stop signals the tick loop to exit and waits for any in-flight tick.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.tickOnce()
		}
	}
}

// tickOnce runs a single guarded tick: acquire the cross-process lock, fire
// every due job, release. A lock held by another replica simply skips this
// tick rather than waiting, since the next tick arrives shortly regardless.
func (s *Scheduler) tickOnce() {
	lock := s.newLock()
	acquired, err := lock.Acquire(s.ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("scheduler: acquire lock")
		return
	}
	if !acquired {
		return
	}
	defer func() {
		if err := lock.Release(s.ctx); err != nil {
			s.log.Error().Err(err).Msg("scheduler: release lock")
		}
	}()

	now := time.Now().UTC()
	due, err := s.jobs.DueForRun(s.ctx, now)
	if err != nil {
		s.log.Error().Err(err).Msg("scheduler: list due jobs")
		return
	}
	for _, j := range due {
		s.fire(j, now)
	}
}

// fire submits one due job's template through the admission path and
// reschedules its next run, per spec.md §4.8.
func (s *Scheduler) fire(j domain.ScheduledJob, now time.Time) {
	q, err := s.queues.GetByID(s.ctx, j.QueueID)
	if err != nil {
		s.log.Error().Err(err).Str("job", j.ID).Msg("scheduler: resolve queue")
		return
	}

	req, err := buildSubmitRequest(j, q.Name)
	if err != nil {
		s.log.Error().Err(err).Str("job", j.ID).Msg("scheduler: malformed email template")
		return
	}

	if _, err := s.submitter.Submit(s.ctx, req); err != nil {
		s.log.Error().Err(err).Str("job", j.ID).Msg("scheduler: submit")
	}

	next, err := NextFireTime(j.CronExpression, j.Timezone, now)
	if err != nil {
		s.log.Error().Err(err).Str("job", j.ID).Msg("scheduler: compute next fire time")
		return
	}
	if err := s.jobs.MarkRun(s.ctx, j.ID, now, next); err != nil {
		s.log.Error().Err(err).Str("job", j.ID).Msg("scheduler: mark run")
	}
}

type emailTemplatePayload struct {
	From            domain.Recipient   `json:"from"`
	To              []domain.Recipient `json:"to"`
	CC              []domain.Recipient `json:"cc"`
	BCC             []domain.Recipient `json:"bcc"`
	ReplyTo         string             `json:"replyTo"`
	Subject         string             `json:"subject"`
	HTMLBody        string             `json:"htmlBody"`
	TextBody        string             `json:"textBody"`
	Headers         map[string]string  `json:"headers"`
	Personalization map[string]any     `json:"personalization"`
	Metadata        map[string]any     `json:"metadata"`
}

func buildSubmitRequest(j domain.ScheduledJob, queueName string) (SubmitRequest, error) {
	raw, err := json.Marshal(j.EmailTemplate)
	if err != nil {
		return SubmitRequest{}, fmt.Errorf("scheduler: marshal template: %w", err)
	}
	var t emailTemplatePayload
	if err := json.Unmarshal(raw, &t); err != nil {
		return SubmitRequest{}, fmt.Errorf("scheduler: unmarshal template: %w", err)
	}
	return SubmitRequest{
		TenantID:        j.TenantID,
		QueueName:       queueName,
		From:            t.From,
		To:              t.To,
		CC:              t.CC,
		BCC:             t.BCC,
		ReplyTo:         t.ReplyTo,
		Subject:         t.Subject,
		HTMLBody:        t.HTMLBody,
		TextBody:        t.TextBody,
		Headers:         t.Headers,
		Personalization: t.Personalization,
		Metadata:        t.Metadata,
	}, nil
}

var standardCronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCron parses a standard 5-field cron expression (or a `@every`/
// `@daily`-style descriptor), per spec.md §4.8's validate-on-create rule.
func ParseCron(expr string) (cron.Schedule, error) {
	sched, err := standardCronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("scheduler: invalid cron expression %q: %w", expr, err)
	}
	return sched, nil
}

// ValidateCron reports whether expr is a well-formed cron expression,
// backing both Scheduled Job creation and the `/validate-cron` endpoint.
func ValidateCron(expr string) error {
	_, err := ParseCron(expr)
	return err
}

// NextFireTime computes the next UTC instant at or after `after` that expr
// fires in the given IANA timezone.
func NextFireTime(expr, timezone string, after time.Time) (time.Time, error) {
	sched, err := ParseCron(expr)
	if err != nil {
		return time.Time{}, err
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("scheduler: unknown timezone %q: %w", timezone, err)
	}
	return sched.Next(after.In(loc)).UTC(), nil
}
