// Command server runs the ignite-relay HTTP admission surface together with
// the Webhook Dispatcher, its retry Sweeper, and the cron Scheduler in one
// process. Grounded on the teacher's cmd/server/main.go: same banner-log +
// pre-flight-port-check + graceful-shutdown shape, rewired from SparkPost/
// ESP-adapter wiring onto this platform's admission/queue/worker/webhook
// stack.
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/relay/internal/admission"
	"github.com/ignite/relay/internal/config"
	"github.com/ignite/relay/internal/distlock"
	"github.com/ignite/relay/internal/httpapi"
	"github.com/ignite/relay/internal/obs"
	"github.com/ignite/relay/internal/queue"
	"github.com/ignite/relay/internal/ratelimit"
	"github.com/ignite/relay/internal/repository/postgres"
	"github.com/ignite/relay/internal/scheduler"
	"github.com/ignite/relay/internal/tracking"
	"github.com/ignite/relay/internal/webhook"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v", port, addr, err)
	}
	ln.Close()
	return nil
}

func main() {
	log.Println("╔════════════════════════════════════════════════════════════╗")
	log.Println("║  ignite-relay API server (cmd/server/main.go)               ║")
	log.Println("║  Admission + Webhook Dispatcher + Scheduler                  ║")
	log.Println("╚════════════════════════════════════════════════════════════╝")

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}
	cfg, err := config.LoadFromEnv(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	host := cfg.Server.GetHost()
	port := cfg.Server.Port
	if err := checkPortAvailable(host, port); err != nil {
		log.Fatalf("pre-flight check FAILED: %v", err)
	}
	log.Printf("pre-flight check passed: port %d is available", port)

	logger := obs.New(cfg.Log.Level, cfg.Log.Development)

	db, err := postgres.Open(cfg.Database)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		pingCancel()
		log.Fatalf("failed to ping database: %v", err)
	}
	pingCancel()
	logger.Info().Msg("connected to database")

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		redisClient = redis.NewClient(opts)
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.Warn().Err(err).Msg("redis unreachable; rate limiter fails open, scheduler falls back to PG advisory locks")
			redisClient = nil
		}
		pingCancel()
	} else {
		logger.Warn().Msg("REDIS_URL not configured; scheduler uses PG advisory locks")
	}

	tenants := postgres.NewTenantRepository(db)
	apiKeys := postgres.NewAPIKeyRepository(db)
	queues := postgres.NewQueueRepository(db)
	emails := postgres.NewEmailRepository(db)
	events := postgres.NewEventRepository(db)
	suppressions := postgres.NewSuppressionRepository(db)
	scheduledJobs := postgres.NewScheduledJobRepository(db)
	webhookDeliveries := postgres.NewWebhookDeliveryRepository(db)
	trackingLinks := postgres.NewTrackingLinkRepository(db)

	broker := queue.New(db)
	limiter := ratelimit.New(redisClient, logger)
	tracker := tracking.New(trackingLinks, events, cfg.Security.JWTSecret)

	adm := admission.New(
		tenants, apiKeys, queues, emails, events, suppressions,
		broker, limiter,
		cfg.RateLimit.DefaultAPIKeyPerMinute, cfg.RateLimit.DefaultAppPerDay,
		logger,
	)

	sched := scheduler.New(
		scheduledJobs, queues,
		admission.SchedulerAdapter{Controller: adm},
		func() distlock.DistLock {
			return distlock.NewLock(redisClient, db, "ignite-relay:scheduler:tick", 45*time.Second)
		},
		30*time.Second,
		logger,
	)
	sched.Start()
	defer sched.Stop()

	dispatcher := webhook.New(
		broker, webhookDeliveries, tenants,
		cfg.Security.EncryptionKey,
		5, 250*time.Millisecond, 30*time.Second,
		logger,
	)
	dispatcher.Start()
	defer dispatcher.Stop()

	sweeper := webhook.NewSweeper(broker, webhookDeliveries, cfg.Webhook.SweepInterval(), 200, logger)
	sweeper.Start()
	defer sweeper.Stop()

	srv := httpapi.New(
		adm, queues, emails, events, suppressions, scheduledJobs, webhookDeliveries,
		broker, nil, tracker, db, redisClient, logger,
	)
	srv.SetAnonymizeIPs(cfg.Log.AnonymizeIPs)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutdown signal received, draining")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown error")
	}

	if redisClient != nil {
		redisClient.Close()
	}
	logger.Info().Msg("server stopped")
}
