// Command worker runs the Email Worker Pool (spec.md §4.3): N goroutines
// reserving jobs from the Queue Broker, dispatching through the SMTP
// Engine, and updating email/event state. Grounded on the teacher's
// cmd/worker/main.go (DB pool sizing, signal-driven graceful shutdown),
// rewired from SparkPost mailing/journey workers onto this platform's
// worker.Pool + smtpengine.Pool.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ignite/relay/internal/config"
	"github.com/ignite/relay/internal/cryptoutil"
	"github.com/ignite/relay/internal/domain"
	"github.com/ignite/relay/internal/obs"
	"github.com/ignite/relay/internal/queue"
	"github.com/ignite/relay/internal/repository/postgres"
	"github.com/ignite/relay/internal/smtpengine"
	"github.com/ignite/relay/internal/tracking"
	"github.com/ignite/relay/internal/worker"
)

func main() {
	log.Println("Starting ignite-relay Email Worker Pool...")

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}
	cfg, err := config.LoadFromEnv(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := obs.New(cfg.Log.Level, cfg.Log.Development)

	db, err := postgres.Open(cfg.Database)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = db.PingContext(pingCtx)
	pingCancel()
	if err != nil {
		log.Fatalf("failed to ping database: %v", err)
	}
	logger.Info().Msg("connected to database")

	emails := postgres.NewEmailRepository(db)
	events := postgres.NewEventRepository(db)
	queues := postgres.NewQueueRepository(db)
	tenants := postgres.NewTenantRepository(db)
	smtpConfigs := postgres.NewSMTPConfigRepository(db)
	webhookDeliveries := postgres.NewWebhookDeliveryRepository(db)
	trackingLinks := postgres.NewTrackingLinkRepository(db)

	broker := queue.New(db)
	smtpPool := smtpengine.New(cfg.Security.EncryptionKey, time.Minute, logger)
	tracker := tracking.New(trackingLinks, events, cfg.Security.JWTSecret)

	defaultSMTP := buildDefaultSMTP(cfg, logger)

	pool := worker.New(
		broker, smtpPool, emails, events, queues, tenants, smtpConfigs, webhookDeliveries,
		tracker,
		defaultSMTP,
		cfg.Worker.Concurrency, cfg.Worker.PollInterval(), cfg.Worker.VisibilityTimeout(),
		logger,
	)
	pool.Start()
	logger.Info().Int("workers", cfg.Worker.Concurrency).Msg("email worker pool started")

	if cfg.Metrics.Enabled {
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			logger.Info().Str("addr", addr).Msg("metrics listener started")
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Error().Err(err).Msg("metrics listener failed")
			}
		}()
	}

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			if n, err := broker.RecoverExpired(context.Background()); err != nil {
				logger.Error().Err(err).Msg("queue recovery sweep failed")
			} else if n > 0 {
				logger.Info().Int64("recovered", n).Msg("queue recovery reclaimed stuck reservations")
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutdown signal received, draining in-flight sends")
	pool.Stop()
	smtpPool.Close()
	logger.Info().Msg("worker stopped")
}

// buildDefaultSMTP seeds the process-level fallback relay (spec.md §4.3
// step 4: "queue's smtp_config_id if active, else process-level default")
// from environment-sourced defaults, encrypting the plaintext password the
// same way a tenant's own SMTP Config would be stored.
func buildDefaultSMTP(cfg *config.Config, logger zerolog.Logger) domain.SMTPConfig {
	if cfg.SMTP.Host == "" {
		return domain.SMTPConfig{}
	}
	cipher, err := cryptoutil.EncryptString(cfg.SMTP.Password, cfg.Security.EncryptionKey)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to encrypt process-level default SMTP password; default SMTP disabled")
		return domain.SMTPConfig{}
	}
	encryption := domain.EncryptionSTARTTLS
	if cfg.SMTP.Secure {
		encryption = domain.EncryptionTLS
	}
	return domain.SMTPConfig{
		ID:             "default",
		Name:           "process-default",
		Host:           cfg.SMTP.Host,
		Port:           cfg.SMTP.Port,
		Username:       cfg.SMTP.Username,
		PasswordCipher: cipher,
		Encryption:     encryption,
		PoolSize:       5,
		TimeoutMillis:  30000,
		Active:         true,
	}
}
