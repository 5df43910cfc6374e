package api

import (
	"time"

	"onetime.share/config"
	"onetime.share/internal/secrets"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func SetupRouter(svc *secrets.Service, cfg *config.Config) *chi.Mux {
	h := NewHandler(svc, cfg)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(RequestID)
	r.Use(Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	// CORS
	r.Use(CORS(CORSConfig{
		AllowedOrigins: []string{"127.0.0.1"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
		MaxAge:         86400,
	}))

	// Health
	r.Get("/health", h.Health)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(JSONOnly)

		if cfg.RateLimit.Enabled {
			apiLimiter := NewRateLimiter(cfg.RateLimit.RequestsPerMin, time.Minute)
			revealLimiter := NewRateLimiter(cfg.RateLimit.RevealPerMin, time.Minute)

			r.Use(apiLimiter.Middleware)

			r.Route("/secrets", func(r chi.Router) {
				r.Post("/", h.CreateSecret)
				r.With(revealLimiter.Middleware).Get("/{id}", h.RevealSecret)
			})
		} else {
			r.Route("/secrets", func(r chi.Router) {
				r.Post("/", h.CreateSecret)
				r.Get("/{id}", h.RevealSecret)
			})
		}
	})

	// Frontend
	r.Get("/", h.Index)
	r.Get("/s/{id}", h.RevealPage)

	return r
}
