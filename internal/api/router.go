package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/hugh/go-reclaim/internal/accounts"
	"github.com/hugh/go-reclaim/internal/api/handlers"
	"github.com/hugh/go-reclaim/internal/api/middleware"
	"github.com/hugh/go-reclaim/internal/audit"
	"github.com/hugh/go-reclaim/internal/auth"
	"github.com/hugh/go-reclaim/internal/database/models"
	"github.com/hugh/go-reclaim/internal/findings"
	"github.com/hugh/go-reclaim/internal/remediation"
	"github.com/hugh/go-reclaim/internal/scan"
	"github.com/hugh/go-reclaim/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Router struct {
	chi.Router
}

type RouterConfig struct {
	DB          *gorm.DB
	Redis       *redis.Client // optional
	Logger      *slog.Logger
	JWT         auth.TokenValidator
	AuthService auth.Authenticator
	Metrics     *telemetry.Metrics

	Accounts     *accounts.Service
	Orchestrator *scan.Orchestrator
	Findings     *findings.Service
	Engine       *remediation.Engine
	AuditLog     *audit.Log

	AllowedOrigins []string // CORS allowed origins
	RateLimitReqs  int      // Rate limit requests per window
	RateLimitSecs  int      // Rate limit window in seconds
}

func NewRouter(cfg RouterConfig) *Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Logging(cfg.Logger, cfg.Metrics))

	if cfg.RateLimitReqs > 0 {
		r.Use(middleware.RateLimit(cfg.RateLimitReqs, cfg.RateLimitSecs))
	}

	allowedOrigins := cfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:3000", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	var pinger handlers.RedisPinger
	if cfg.Redis != nil {
		pinger = cfg.Redis
	}

	healthHandler := handlers.NewHealthHandler(cfg.DB, pinger)
	authHandler := handlers.NewAuthHandler(cfg.AuthService, cfg.Logger)
	accountHandler := handlers.NewAccountHandler(cfg.Accounts, cfg.Logger)
	scanHandler := handlers.NewScanHandler(cfg.Orchestrator, cfg.Logger)
	findingHandler := handlers.NewFindingHandler(cfg.Findings, cfg.Logger)
	planHandler := handlers.NewPlanHandler(cfg.Engine, cfg.Logger)
	auditHandler := handlers.NewAuditHandler(cfg.AuditLog, cfg.Logger)
	scheduleHandler := handlers.NewScheduleHandler(cfg.DB, cfg.Orchestrator, cfg.Logger)

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", cfg.Metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Public auth endpoints
		r.Post("/auth/register", authHandler.Register)
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/logout", authHandler.Logout)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT))

			r.Get("/auth/me", authHandler.Me)

			r.Route("/accounts", func(r chi.Router) {
				r.Get("/", accountHandler.List)
				r.Get("/{id}", accountHandler.Get)
				r.Post("/{id}/verify", accountHandler.Verify)
				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireRole(models.RoleOwner, models.RoleAdmin))
					r.Post("/", accountHandler.Create)
					r.Delete("/{id}", accountHandler.Delete)
				})
			})

			r.Route("/scans", func(r chi.Router) {
				r.Get("/", scanHandler.List)
				r.Post("/", scanHandler.Create)
				r.Get("/{id}", scanHandler.Get)
				r.Post("/{id}/cancel", scanHandler.Cancel)
			})

			r.Route("/findings", func(r chi.Router) {
				r.Get("/", findingHandler.List)
				r.Get("/{id}", findingHandler.Get)
				r.Post("/{id}/snooze", findingHandler.Snooze)
				r.Post("/{id}/dismiss", findingHandler.Dismiss)
				r.Post("/{id}/reopen", findingHandler.Reopen)
			})

			// Approval and anything that touches live resources needs an
			// owner or admin.
			r.Route("/plans", func(r chi.Router) {
				r.Get("/", planHandler.List)
				r.Post("/", planHandler.Create)
				r.Get("/{id}", planHandler.Get)
				r.Post("/{id}/validate", planHandler.Validate)
				r.Get("/{id}/script", planHandler.Script)
				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireRole(models.RoleOwner, models.RoleAdmin))
					r.Post("/{id}/approve", planHandler.Approve)
					r.Post("/{id}/execute", planHandler.Execute)
					r.Post("/{id}/schedule", planHandler.Schedule)
				})
			})

			r.Get("/audit", auditHandler.List)

			r.Route("/schedules", func(r chi.Router) {
				r.Get("/", scheduleHandler.List)
				r.Post("/", scheduleHandler.Create)
				r.Get("/{id}", scheduleHandler.Get)
				r.Put("/{id}", scheduleHandler.Update)
				r.Delete("/{id}", scheduleHandler.Delete)
				r.Post("/{id}/trigger", scheduleHandler.Trigger)
			})
		})
	})

	return &Router{r}
}
