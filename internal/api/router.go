package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/parley-chat/parley/internal/api/middleware"
	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/delivery"
	"github.com/parley-chat/parley/internal/handlers"
	"github.com/parley-chat/parley/internal/relay"
	"github.com/parley-chat/parley/internal/store"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, st store.DataStore, redisClient *redis.Client, rel *relay.Relay, coord *delivery.Coordinator, cfg *config.Config) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(64 * 1024)) // 64KB max body
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting (only when redis is configured)
	if redisClient != nil {
		limiter := middleware.NewRateLimiter(redisClient, logger, middleware.RateLimiterConfig{
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: cfg.AutoBlockEnabled,
		})
		r.Use(limiter.Middleware)
	}

	// CORS - browser clients call from anywhere
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(st, coord, rel, redisClient, logger, cfg)
	auth := middleware.NewAuthMiddleware(st, []byte(cfg.JWTSecret))

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes (no auth required)
	r.Get("/health", h.Health)
	r.Post("/register", h.Register)
	r.Post("/login", h.Login)

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth)

		r.Get("/ws", h.ServeWS)

		r.Get("/users", h.ListUsers)
		r.Get("/users/search", h.SearchUsers)

		r.Post("/conversations", h.CreateConversation)
		r.Get("/conversations", h.ListConversations)
		r.Get("/conversations/{id}", h.GetConversation)
		r.Delete("/conversations/{id}", h.DeleteConversation)

		r.Get("/conversations/{id}/messages", h.ListMessages)
		r.Get("/conversations/{id}/messages/poll", h.PollMessages)
		r.Post("/conversations/{id}/messages", h.PostMessage)
		r.Delete("/conversations/{id}/messages/{messageID}", h.DeleteMessage)
	})

	return r
}
