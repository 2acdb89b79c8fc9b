package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nash333/saskay-snacks-manager-sub002/internal/config"
	"github.com/nash333/saskay-snacks-manager-sub002/internal/handlers"
	customMiddleware "github.com/nash333/saskay-snacks-manager-sub002/internal/middleware"
)

// newPublicRouter публичный API; все маршруты требуют JWT
func newPublicRouter(cfg *config.Config, h *handlers.Handlers, validator customMiddleware.TokenValidator) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Recovery())
	r.Use(customMiddleware.Logging())
	r.Use(customMiddleware.Metrics())
	r.Use(middleware.Timeout(cfg.Timeouts.HTTPMiddleware))

	// CORS для встроенного приложения в админке Shopify
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Use(customMiddleware.Auth(validator))

		r.Post("/batch-save", h.Batch.SaveBatch)
		r.Post("/state", h.Batch.GetState)
	})

	return r
}

// newInternalRouter health, readiness и метрики
func newInternalRouter(cfg *config.Config, h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Recovery())
	r.Use(customMiddleware.Metrics())
	r.Use(middleware.Timeout(cfg.Timeouts.HTTPMiddleware))

	r.Get("/health", h.Health.Health)
	r.Get("/ready", h.Health.Ready)
	r.Handle("/metrics", promhttp.Handler())

	return r
}
