/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind proxies
  3. Access log: zap, one line per request (observability.RequestLogger)
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Timeout:    Request context deadline
  6. CORS:       Cross-origin requests for the admin UI and storefront
  7. Rate limit: Per-IP requests per minute (httprate)

ROUTE GROUPS:
  /healthz, /metrics            Public
  /api/auth/login               Public
  /api/reward-tiers/*           Staff (admin, supervisor)
  /api/customer-rewards/*       Staff
  /api/customers/{id}/wallet/*  Top-up admin only; summary staff or the customer
  /api/orders/{id}/pay          Staff or the owning customer
  /api/scenarios/*              Staff, not mounted in production

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Token middleware and role checks
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"

	"github.com/warp/reward-engine/generic"
	"github.com/warp/reward-engine/observability"
)

// RouterConfig carries the transport settings of NewRouter.
type RouterConfig struct {
	AllowedOrigins     []string
	RateLimitPerMinute int
	RequestTimeout     time.Duration

	// Metrics serves /metrics when set.
	Metrics http.Handler
	Logger  *zap.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Language", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	}))
	if cfg.RateLimitPerMinute > 0 {
		r.Use(httprate.LimitByIP(cfg.RateLimitPerMinute, time.Minute))
	}

	r.Get("/healthz", h.Health)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	staff := RequireRole(generic.RoleAdmin, generic.RoleSupervisor)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.Auth.Middleware)

			// Tier routes
			r.With(staff).Route("/reward-tiers", func(r chi.Router) {
				r.Get("/", h.ListTiers)
				r.Post("/", h.CreateTier)
				r.Get("/{id}", h.GetTier)
				r.Put("/{id}", h.UpdateTier)
				r.Delete("/{id}", h.DeleteTier)
			})

			// Reward ledger routes
			r.With(staff).Route("/customer-rewards", func(r chi.Router) {
				r.Get("/", h.ListRewards)
				r.Post("/recompute", h.RecomputeRewards)
				r.Post("/process", h.ProcessRewards)
				r.Get("/export", h.ExportRewards)
				r.Get("/customer/{customerId}", h.CustomerRewardHistory)
				r.Put("/{id}", h.AdjustReward)
			})

			// Wallet routes
			r.Route("/customers/{id}/wallet", func(r chi.Router) {
				r.Get("/", h.GetWallet)
				r.With(RequireRole(generic.RoleAdmin)).Post("/topup", h.TopUpWallet)
			})
			r.Post("/orders/{id}/pay", h.PayOrder)

			// Scenario routes
			if !h.production {
				r.With(staff).Route("/scenarios", func(r chi.Router) {
					r.Get("/", h.ListScenarios)
					r.Get("/current", h.GetCurrentScenario)
					r.Post("/load", h.LoadScenario)
					r.Post("/reset", h.ResetDatabase)
				})
			}
		})
	})

	return r
}
