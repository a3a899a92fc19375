package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors registered against the default registry and served by the
// promhttp handler on /metrics (spec.md §6).
var (
	// SMTPVerifyDuration records connection verification latency per host,
	// per spec.md §4.4.
	SMTPVerifyDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "relay",
		Subsystem: "smtp",
		Name:      "verify_duration_seconds",
		Help:      "SMTP connection verification (dial + handshake) latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"host"})

	// EmailsProcessed counts worker-pool outcomes by result.
	EmailsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "worker",
		Name:      "emails_processed_total",
		Help:      "Emails processed by the worker pool, by outcome.",
	}, []string{"outcome"})

	// WebhookDeliveries counts outbound webhook POST outcomes.
	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "webhook",
		Name:      "deliveries_total",
		Help:      "Outbound webhook deliveries, by outcome.",
	}, []string{"outcome"})

	// AdmissionRejections counts submissions refused before enqueue, by
	// error kind.
	AdmissionRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "admission",
		Name:      "rejections_total",
		Help:      "Send submissions rejected by the admission controller, by kind.",
	}, []string{"kind"})
)
