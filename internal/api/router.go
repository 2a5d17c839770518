package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/nanostyle/internal/identity"
	"github.com/ashureev/nanostyle/internal/middleware"
)

// RouterConfig holds the shell concerns wrapped around the handlers.
type RouterConfig struct {
	Gate        middleware.GateConfig
	RateLimiter *middleware.RateLimiter
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

// NewRouter builds the full HTTP surface.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(h.origins))
	r.Use(middleware.AccessGate(cfg.Gate, "/health"))
	r.Use(identity.Middleware(h.signer))

	h.RegisterHealth(r)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	var limit func(http.Handler) http.Handler
	if cfg.RateLimiter != nil {
		limit = middleware.RateLimit(cfg.RateLimiter, identity.IPFromRequest, http.HandlerFunc(RateLimited))
	}
	h.RegisterSessionRoutes(r)
	h.RegisterGenerationRoutes(r, limit)
	r.Get("/ws/progress", h.Progress)
	return r
}
