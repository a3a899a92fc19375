package httpapi

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ignite/relay/internal/admission"
	"github.com/ignite/relay/internal/obs"
	"github.com/ignite/relay/internal/queue"
	"github.com/ignite/relay/internal/repository/postgres"
	"github.com/ignite/relay/internal/tracking"
	"github.com/ignite/relay/internal/worker"
)

// Server holds every dependency the /v1 handlers need and builds the chi
// router. Grounded on the teacher's internal/api.Handlers struct (one
// receiver bundling every collaborator a handler might need) and
// internal/api/routes.go's SetupRoutes idiom.
type Server struct {
	admission    *admission.Controller
	queues       *postgres.QueueRepository
	emails       *postgres.EmailRepository
	events       *postgres.EventRepository
	suppressions *postgres.SuppressionRepository
	scheduledJob *postgres.ScheduledJobRepository
	webhooks     *postgres.WebhookDeliveryRepository
	broker       *queue.Broker
	pool         *worker.Pool
	tracker      *tracking.Tracker
	db           *sql.DB
	redis        *redis.Client
	startedAt    time.Time
	log          zerolog.Logger
	anonymizeIPs bool
}

// SetAnonymizeIPs enables masking of client addresses in access logs.
func (s *Server) SetAnonymizeIPs(on bool) { s.anonymizeIPs = on }

// New builds a Server.
func New(
	adm *admission.Controller,
	queues *postgres.QueueRepository,
	emails *postgres.EmailRepository,
	events *postgres.EventRepository,
	suppressions *postgres.SuppressionRepository,
	scheduledJobs *postgres.ScheduledJobRepository,
	webhooks *postgres.WebhookDeliveryRepository,
	broker *queue.Broker,
	pool *worker.Pool,
	tracker *tracking.Tracker,
	db *sql.DB,
	redisClient *redis.Client,
	log zerolog.Logger,
) *Server {
	return &Server{
		admission:    adm,
		queues:       queues,
		emails:       emails,
		events:       events,
		suppressions: suppressions,
		scheduledJob: scheduledJobs,
		webhooks:     webhooks,
		broker:       broker,
		pool:         pool,
		tracker:      tracker,
		db:           db,
		redis:        redisClient,
		startedAt:    time.Now().UTC(),
		log:          log,
	}
}

// Router builds the chi mux for every /v1 endpoint in spec.md §6.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(loggerMiddleware(s.log, s.anonymizeIPs))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/health/detailed", s.handleHealthDetailed)
	r.Get("/health/ready", s.handleHealthReady)
	r.Handle("/metrics", promhttp.Handler())

	// Tracking callbacks are hit by an external pixel/redirect collaborator
	// carrying its own signed token, not a tenant API key, so they sit
	// outside the /v1 withAuth group (spec.md Non-goals: this service only
	// implements the event-write contract, not the pixel/redirect itself).
	r.Post("/v1/tracking/open/{token}", s.handleTrackOpen)
	r.Post("/v1/tracking/click/{code}", s.handleTrackClick)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.withAuth)

		r.Post("/emails", s.handleSubmitEmail)
		r.Post("/emails/batch", s.handleSubmitBatch)
		r.Get("/emails", s.handleListEmails)
		r.Get("/emails/{id}", s.handleGetEmail)
		r.Get("/emails/{id}/events", s.handleListEmailEvents)
		r.Delete("/emails/{id}", s.handleCancelEmail)
		r.Post("/emails/{id}/retry", s.handleRetryEmail)

		r.Post("/queues", s.handleCreateQueue)
		r.Get("/queues", s.handleListQueues)
		r.Get("/queues/{id}", s.handleGetQueue)
		r.Patch("/queues/{id}", s.handlePatchQueue)
		r.Delete("/queues/{id}", s.handleDeleteQueue)
		r.Post("/queues/{id}/pause", s.handlePauseQueue)
		r.Post("/queues/{id}/resume", s.handleResumeQueue)
		r.Get("/queues/{id}/stats", s.handleQueueStats)

		r.Post("/suppressions", s.handleAddSuppression)
		r.Post("/suppressions/bulk", s.handleBulkAddSuppressions)
		r.Get("/suppressions", s.handleListSuppressions)
		r.Delete("/suppressions/{email}", s.handleRemoveSuppression)

		r.Post("/scheduled-jobs", s.handleCreateScheduledJob)
		r.Get("/scheduled-jobs", s.handleListScheduledJobs)
		r.Delete("/scheduled-jobs/{id}", s.handleDeleteScheduledJob)
		r.Post("/validate-cron", s.handleValidateCron)

		r.Get("/webhooks/deliveries", s.handleListWebhookDeliveries)
		r.Post("/webhooks/deliveries/{id}/retry", s.handleRetryWebhookDelivery)
	})

	return r
}

// loggerMiddleware logs one line per request at debug level, grounded on
// the teacher's middleware.Logger usage but routed through zerolog instead
// of chi's stdlib logger. Client addresses are masked when the operator
// enables IP anonymization.
func loggerMiddleware(log zerolog.Logger, anonymizeIPs bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			ip := clientIP(r)
			if anonymizeIPs {
				ip = obs.AnonymizeIP(ip)
			}
			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("ip", ip).
				Str("requestId", middleware.GetReqID(r.Context())).
				Int("status", ww.Status()).
				Dur("latency", time.Since(start)).
				Msg("http request")
		})
	}
}
