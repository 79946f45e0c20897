// Package http exposes the fulfillment sessions and their intents over a chi
// router.
package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ysprod/plancosmique-sub004/internal/service"
	"github.com/ysprod/plancosmique-sub004/pkg/health"
	"github.com/ysprod/plancosmique-sub004/pkg/middleware"
)

// RouterConfig carries the router's middleware knobs.
type RouterConfig struct {
	ServiceName    string
	Environment    string
	AllowedOrigins []string
	RateLimiter    *middleware.KeyedLimiter
}

// NewRouter creates a chi router with all fulfillment routes registered.
func NewRouter(
	orchestrator *service.Orchestrator,
	healthHandler *health.Handler,
	logger *slog.Logger,
	cfg RouterConfig,
) http.Handler {
	r := chi.NewRouter()

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.AllowedOrigins
	corsCfg.Environment = cfg.Environment

	// Global middleware. Order matters: tracing and request logging populate
	// the context the request-scoped logger reads.
	r.Use(middleware.CORS(corsCfg))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Tracing(cfg.ServiceName))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics(cfg.ServiceName))

	// Health and metrics endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	h := NewFulfillmentHandler(orchestrator, logger)

	r.Route("/api/v1/fulfillment", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		// Session creation is the gateway-callback entry point; rate limit it.
		r.With(middleware.RateLimit(cfg.RateLimiter)).Post("/", h.StartSession)

		r.Get("/{id}", h.GetSession)
		r.Post("/{id}/retry", h.Retry)
		r.Post("/{id}/offerings", h.PayWithOfferings)
		r.Post("/{id}/cancel-redirect", h.CancelRedirect)
	})

	return r
}

// ContentTypeJSON sets the JSON content type on all responses.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
