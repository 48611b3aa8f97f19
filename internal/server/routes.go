package server

import (
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/panelsim/panelsim/internal/errors"
	"github.com/panelsim/panelsim/internal/observability"
	"github.com/panelsim/panelsim/internal/server/handlers"
	servermw "github.com/panelsim/panelsim/internal/server/middleware"
)

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	health := s.opts.Health
	s.router.Get("/health", health.HealthHandler)
	s.router.Get("/health/live", health.LivenessHandler)
	s.router.Get("/health/ready", health.ReadinessHandler)
	s.router.Get("/health/startup", health.StartupHandler)

	s.router.Get("/version", handlers.VersionHandler)
	s.router.Get("/metrics", MetricsHandler)

	if api := s.opts.API; api != nil {
		s.router.Route("/api", func(r chi.Router) {
			r.Get("/usage", api.Usage)
			r.Get("/stats", api.StatsTotals)
			r.Get("/prefectures", api.Prefectures)

			r.Get("/respondents", api.ListRespondents)
			r.Get("/respondents/{id}", api.GetRespondent)
			r.Get("/respondents/{id}/profile", api.GetProfile)
			r.Post("/respondents/{id}/profile/enhance", api.EnhanceProfile)
			r.Post("/interview/{id}", api.Interview)

			r.With(servermw.Throttle(s.opts.BulkLimiter, bulkThrottled)).Post("/bulk-question", api.BulkQuestion)

			r.Get("/batches", api.ListBatches)
			r.Get("/batches/{id}", api.GetBatch)
		})
	}

	s.registerAdminEndpoint()
}

func bulkThrottled(w http.ResponseWriter, r *http.Request, wait time.Duration) {
	apperrors.RespondWithError(w, r, apperrors.NewRateLimitedError("too many bulk requests from this client", wait))
}

// registerAdminEndpoint exposes gofulmen's signal endpoint (reload and
// shutdown) when an admin token is configured.
func (s *Server) registerAdminEndpoint() {
	logger := observability.ServerLogger
	if s.opts.AdminToken == "" {
		if logger != nil {
			logger.Debug("Admin signal endpoint disabled (no admin token set)")
		}
		return
	}

	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: s.opts.AdminToken,
		RateLimit: 10,
		RateBurst: 5,
	})
	s.router.Post("/admin/signal", handler.ServeHTTP)

	if logger != nil {
		logger.Info("Admin signal endpoint enabled",
			zap.String("path", "/admin/signal"),
			zap.String("rate_limit", "10/min, burst 5"))
	}
}
