// Package webhook implements spec.md §4.5: signed outbound delivery of
// tenant webhooks and the periodic sweep that releases retryable ones.
// Grounded on the teacher's internal/worker/webhook_receiver.go — an
// atomic-counter-tracked worker bound to *sql.DB — inverted from inbound
// event ingestion into outbound signed dispatch, since the teacher never
// originates its own webhook calls.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ignite/relay/internal/cryptoutil"
	"github.com/ignite/relay/internal/domain"
	"github.com/ignite/relay/internal/obs"
	"github.com/ignite/relay/internal/queue"
	"github.com/ignite/relay/internal/repository/postgres"
)

const (
	maxAttempts = 5
	postTimeout = 10 * time.Second
)

func backoff(attempt int) time.Duration {
	seq := domain.DefaultRetryDelaySeconds
	idx := attempt
	if idx >= len(seq) {
		idx = len(seq) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return time.Duration(seq[idx]) * time.Second
}

// Dispatcher runs concurrent workers over the broker's
// domain.WebhookQueueName queue, each delivering one webhook payload per
// reservation (spec.md §4.5 steps 1-3).
type Dispatcher struct {
	broker        *queue.Broker
	deliveries    *postgres.WebhookDeliveryRepository
	tenants       *postgres.TenantRepository
	httpClient    *http.Client
	encryptionKey string

	numWorkers   int
	pollInterval time.Duration
	visibility   time.Duration
	log          zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	totalDelivered int64
	totalFailed    int64
}

// New builds a Dispatcher. encryptionKey decrypts each tenant's stored
// webhook secret ahead of signing (spec.md §3's invariant that plaintext
// secrets exist only transiently inside the component that needs them).
func New(
	broker *queue.Broker,
	deliveries *postgres.WebhookDeliveryRepository,
	tenants *postgres.TenantRepository,
	encryptionKey string,
	numWorkers int,
	pollInterval, visibility time.Duration,
	log zerolog.Logger,
) *Dispatcher {
	if numWorkers <= 0 {
		numWorkers = 5
	}
	if pollInterval <= 0 {
		pollInterval = 250 * time.Millisecond
	}
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	return &Dispatcher{
		broker:        broker,
		deliveries:    deliveries,
		tenants:       tenants,
		httpClient:    &http.Client{Timeout: postTimeout},
		encryptionKey: encryptionKey,
		numWorkers:    numWorkers,
		pollInterval:  pollInterval,
		visibility:    visibility,
		log:           log,
	}
}

// Start launches the dispatcher's worker goroutines.
func (d *Dispatcher) Start() {
	d.ctx, d.cancel = context.WithCancel(context.Background())
	for i := 0; i < d.numWorkers; i++ {
		d.wg.Add(1)
		go d.run(i)
	}
}

// Stop signals every worker to exit and waits for in-flight deliveries.
func (d *Dispatcher) Stop() {
	d.cancel()
	d.wg.Wait()
}

// Stats reports lifetime delivery counters.
func (d *Dispatcher) Stats() map[string]int64 {
	return map[string]int64{
		"delivered": atomic.LoadInt64(&d.totalDelivered),
		"failed":    atomic.LoadInt64(&d.totalFailed),
	}
}

func (d *Dispatcher) run(id int) {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		default:
		}
		job, err := d.broker.Reserve(d.ctx, domain.WebhookQueueName, d.visibility)
		if err != nil {
			d.log.Error().Err(err).Int("worker", id).Msg("webhook dispatcher: reserve")
			d.sleep(d.pollInterval)
			continue
		}
		if job == nil {
			d.sleep(d.pollInterval)
			continue
		}
		d.process(job)
	}
}

func (d *Dispatcher) sleep(dur time.Duration) {
	select {
	case <-d.ctx.Done():
	case <-time.After(dur):
	}
}

// process delivers a single webhook job, per spec.md §4.5 steps 1-3.
func (d *Dispatcher) process(job *queue.Job) {
	deliveryID, _ := job.Payload["deliveryId"].(string)
	if deliveryID == "" {
		_ = d.broker.Complete(d.ctx, job.ID)
		return
	}

	delivery, err := d.deliveries.Get(d.ctx, deliveryID)
	if err != nil {
		d.log.Error().Err(err).Str("delivery", deliveryID).Msg("webhook dispatcher: load delivery")
		_ = d.broker.Complete(d.ctx, job.ID)
		return
	}
	if delivery.Status == domain.WebhookDelivered {
		_ = d.broker.Complete(d.ctx, job.ID)
		return
	}

	tenant, err := d.tenants.Get(d.ctx, delivery.TenantID)
	if err != nil || tenant.WebhookURL == nil || *tenant.WebhookURL == "" {
		d.giveUp(job, delivery, "tenant webhook url not configured")
		return
	}

	// Step 1: reject SSRF-unsafe destinations outright, no retry.
	if err := ValidateURL(d.ctx, *tenant.WebhookURL); err != nil {
		d.giveUp(job, delivery, err.Error())
		return
	}

	body, err := json.Marshal(delivery.Payload)
	if err != nil {
		d.log.Error().Err(err).Str("delivery", delivery.ID).Msg("webhook dispatcher: marshal payload")
		_ = d.broker.Complete(d.ctx, job.ID)
		return
	}

	secret := ""
	if tenant.EncryptedWebhookSecret != nil && *tenant.EncryptedWebhookSecret != "" {
		secret, err = cryptoutil.DecryptString(*tenant.EncryptedWebhookSecret, d.encryptionKey)
		if err != nil {
			d.log.Error().Err(err).Str("tenant", tenant.ID).Msg("webhook dispatcher: decrypt secret")
			_ = d.broker.Complete(d.ctx, job.ID)
			return
		}
	}

	// Step 2: sign over timestamp + "." + body, the receiver-side
	// convention spec.md §6 documents.
	timestamp := time.Now().UTC().Unix()
	signed := fmt.Sprintf("%d.%s", timestamp, body)
	signature := cryptoutil.ComputeHMAC256([]byte(signed), secret)

	// Step 3: POST and branch on the outcome.
	postErr := d.post(*tenant.WebhookURL, body, signature, timestamp)
	if postErr != nil {
		d.retryOrFail(job, delivery, postErr)
		return
	}
	now := time.Now().UTC()
	_ = d.deliveries.MarkDelivered(d.ctx, delivery.ID, now)
	_ = d.broker.Complete(d.ctx, job.ID)
	atomic.AddInt64(&d.totalDelivered, 1)
	obs.WebhookDeliveries.WithLabelValues("delivered").Inc()
}

func (d *Dispatcher) giveUp(job *queue.Job, delivery *domain.WebhookDelivery, reason string) {
	_ = d.deliveries.MarkAttemptFailed(d.ctx, delivery.ID, reason, nil)
	_ = d.broker.FailPermanent(d.ctx, job.ID, reason)
	atomic.AddInt64(&d.totalFailed, 1)
	obs.WebhookDeliveries.WithLabelValues("failed").Inc()
}

// retryOrFail records a failed delivery attempt. While attempts remain
// under maxAttempts the row stays pending with a next-retry-at for the
// sweeper to pick up; once exhausted it's marked failed for good.
func (d *Dispatcher) retryOrFail(job *queue.Job, delivery *domain.WebhookDelivery, postErr error) {
	attempts := delivery.Attempts + 1
	if attempts >= maxAttempts {
		_ = d.deliveries.MarkAttemptFailed(d.ctx, delivery.ID, postErr.Error(), nil)
		_ = d.broker.FailPermanent(d.ctx, job.ID, postErr.Error())
		atomic.AddInt64(&d.totalFailed, 1)
		obs.WebhookDeliveries.WithLabelValues("failed").Inc()
		return
	}
	next := time.Now().UTC().Add(backoff(attempts))
	_ = d.deliveries.MarkAttemptFailed(d.ctx, delivery.ID, postErr.Error(), &next)
	_ = d.broker.Complete(d.ctx, job.ID)
}

func (d *Dispatcher) post(url string, body []byte, signature string, timestamp int64) error {
	req, err := http.NewRequestWithContext(d.ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", "sha256="+signature)
	req.Header.Set("X-Webhook-Timestamp", fmt.Sprintf("%d", timestamp))

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: non-2xx response %d", resp.StatusCode)
	}
	return nil
}
