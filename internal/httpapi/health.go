// Health and readiness endpoints. Grounded on the teacher's
// internal/api/health_handler.go HealthChecker: concurrent per-dependency
// checks feeding a channel, an aggregate status rollup, and a human-readable
// uptime string — adapted here to this platform's Postgres/Redis/queue-depth
// dependencies instead of Postgres/Redis/S3/campaign-queue.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

type componentCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

type healthStatus struct {
	Status string                     `json:"status"`
	Uptime string                     `json:"uptime"`
	Checks map[string]componentCheck `json:"checks,omitempty"`
}

// handleHealth implements GET /health: always 200, status field conveys
// health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.log, http.StatusOK, healthStatus{Status: "healthy", Uptime: formatUptime(time.Since(s.startedAt))})
}

// handleHealthDetailed implements GET /health/detailed: runs every
// dependency check concurrently and reports the aggregate.
func (s *Server) handleHealthDetailed(w http.ResponseWriter, r *http.Request) {
	checks := s.runAllChecks(r.Context())
	overall := determineOverallStatus(checks)
	writeJSON(w, s.log, http.StatusOK, healthStatus{Status: overall, Uptime: formatUptime(time.Since(s.startedAt)), Checks: checks})
}

// handleHealthReady implements GET /health/ready: 503 once any critical
// dependency is down, for use as a load-balancer/orchestrator readiness probe.
func (s *Server) handleHealthReady(w http.ResponseWriter, r *http.Request) {
	checks := s.runAllChecks(r.Context())
	overall := determineOverallStatus(checks)
	ready := overall != "unhealthy"
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, s.log, status, struct {
		Ready  bool                      `json:"ready"`
		Status string                    `json:"status"`
		Checks map[string]componentCheck `json:"checks"`
	}{Ready: ready, Status: overall, Checks: checks})
}

func (s *Server) runAllChecks(ctx context.Context) map[string]componentCheck {
	type result struct {
		name  string
		check componentCheck
	}
	ch := make(chan result, 3)

	go func() { ch <- result{"postgresql", s.checkPostgres(ctx)} }()
	go func() { ch <- result{"redis", s.checkRedis(ctx)} }()
	go func() { ch <- result{"queues", s.checkQueues(ctx)} }()

	checks := make(map[string]componentCheck, 3)
	for i := 0; i < 3; i++ {
		r := <-ch
		checks[r.name] = r.check
	}
	return checks
}

func (s *Server) checkPostgres(ctx context.Context) componentCheck {
	if s.db == nil {
		return componentCheck{Status: "down", Message: "not configured"}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	start := time.Now()
	err := s.db.PingContext(pingCtx)
	latency := time.Since(start)
	if err != nil {
		return componentCheck{Status: "down", Latency: latency.String(), Message: fmt.Sprintf("ping failed: %v", err)}
	}
	status, msg := "up", "connected"
	if latency > time.Second {
		status, msg = "degraded", fmt.Sprintf("slow response (%s)", latency)
	}
	return componentCheck{Status: status, Latency: latency.String(), Message: msg}
}

func (s *Server) checkRedis(ctx context.Context) componentCheck {
	if s.redis == nil {
		return componentCheck{Status: "down", Message: "not configured"}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	start := time.Now()
	err := s.redis.Ping(pingCtx).Err()
	latency := time.Since(start)
	if err != nil {
		return componentCheck{Status: "down", Latency: latency.String(), Message: fmt.Sprintf("ping failed: %v", err)}
	}
	status, msg := "up", "connected"
	if latency > 500*time.Millisecond {
		status, msg = "degraded", fmt.Sprintf("slow response (%s)", latency)
	}
	return componentCheck{Status: status, Latency: latency.String(), Message: msg}
}

// checkQueues reports aggregate active-queue depth across every tenant
// queue, a proxy for worker-pool health the way the teacher's checkWorkers
// used campaign queue depth.
func (s *Server) checkQueues(ctx context.Context) componentCheck {
	if s.queues == nil || s.broker == nil {
		return componentCheck{Status: "down", Message: "not configured"}
	}
	checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	start := time.Now()
	active, err := s.queues.ListActive(checkCtx)
	latency := time.Since(start)
	if err != nil {
		return componentCheck{Status: "degraded", Latency: latency.String(), Message: fmt.Sprintf("queue list failed: %v", err)}
	}

	var waiting int64
	for _, q := range active {
		stats, err := s.broker.Stats(checkCtx, q.ID)
		if err != nil {
			continue
		}
		waiting += stats["waiting"]
	}

	status := "up"
	msg := fmt.Sprintf("%d jobs waiting across %d active queues", waiting, len(active))
	if waiting > 10000 {
		status = "degraded"
		msg = fmt.Sprintf("high queue depth: %d jobs waiting", waiting)
	}
	return componentCheck{Status: status, Latency: latency.String(), Message: msg}
}

func determineOverallStatus(checks map[string]componentCheck) string {
	if db, ok := checks["postgresql"]; ok && db.Status == "down" && db.Message != "not configured" {
		return "unhealthy"
	}
	for _, c := range checks {
		if c.Status == "degraded" {
			return "degraded"
		}
		if c.Status == "down" && c.Message != "not configured" {
			return "degraded"
		}
	}
	return "healthy"
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
