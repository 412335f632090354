package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/relay-core/internal/relay"
)

// healthCheckTimeout bounds each component check in GET /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Prometheus scrape endpoint, not rate limited.
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.rateLimitMiddleware)

		r.Get("/health", s.handleHealth)

		r.Route("/relays", func(r chi.Router) {
			r.Get("/", s.handleListRelays)
			r.Post("/", s.handleCreateRelay)
			r.Post("/on", s.handleSwitchAll(relay.CommandOn))
			r.Post("/off", s.handleSwitchAll(relay.CommandOff))

			r.Route("/{number}", func(r chi.Router) {
				r.Get("/", s.handleGetRelay)
				r.Patch("/", s.handleUpdateRelay)
				r.Delete("/", s.handleDeleteRelay)
				r.Get("/status", s.handleGetStatus)
				r.Post("/on", s.handleSwitch(relay.CommandOn))
				r.Post("/off", s.handleSwitch(relay.CommandOff))
				r.Post("/refresh", s.handleRefresh)
				r.Get("/history", s.handleHistory)
			})
		})
	})

	return r
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Relays        int               `json:"relays"`
	Sync          string            `json:"sync"`
	Components    map[string]string `json:"components,omitempty"`
}

// handleHealth reports service status. Any failing component makes the
// service "degraded" and the response 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        "ok",
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Relays:        s.manager.Count(),
		Sync:          s.manager.Sync().String(),
	}

	if len(s.checks) > 0 {
		resp.Components = make(map[string]string, len(s.checks))
	}
	for name, check := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := check.HealthCheck(ctx)
		cancel()

		if err != nil {
			resp.Components[name] = err.Error()
			resp.Status = "degraded"
			continue
		}
		resp.Components[name] = "ok"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
