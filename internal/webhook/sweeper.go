package webhook

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ignite/relay/internal/domain"
	"github.com/ignite/relay/internal/queue"
	"github.com/ignite/relay/internal/repository/postgres"
)

// Sweeper periodically releases pending deliveries whose next-retry-at has
// passed by re-enqueueing them, per spec.md §4.5 step 4. This is the sole
// mechanism that retries a delivery — the Dispatcher itself only records
// the next-retry-at and stops.
type Sweeper struct {
	broker     *queue.Broker
	deliveries *postgres.WebhookDeliveryRepository
	interval   time.Duration
	batchSize  int
	log        zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper builds a Sweeper.
func NewSweeper(broker *queue.Broker, deliveries *postgres.WebhookDeliveryRepository, interval time.Duration, batchSize int, log zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Sweeper{broker: broker, deliveries: deliveries, interval: interval, batchSize: batchSize, log: log}
}

// Start launches the sweeper's tick loop.
func (s *Sweeper) Start() {
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.wg.Add(1)
	go s.run()
}

// Stop signals the tick loop to exit and waits for any in-flight sweep.
func (s *Sweeper) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Sweeper) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	due, err := s.deliveries.DueForRetry(s.ctx, time.Now().UTC(), s.batchSize)
	if err != nil {
		s.log.Error().Err(err).Msg("webhook sweeper: list due deliveries")
		return
	}
	for _, d := range due {
		if _, err := s.broker.Enqueue(s.ctx, domain.WebhookQueueName, map[string]any{"deliveryId": d.ID}, queue.EnqueueOptions{Priority: 5}); err != nil {
			s.log.Error().Err(err).Str("delivery", d.ID).Msg("webhook sweeper: enqueue")
		}
	}
}
