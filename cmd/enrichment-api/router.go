// Package main provides the API router setup.
package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/spherical-ai/spherical/libs/product-enrichment/cmd/enrichment-api/handlers"
	"github.com/spherical-ai/spherical/libs/product-enrichment/cmd/enrichment-api/middleware"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/observability"
)

// RouterConfig holds router settings.
type RouterConfig struct {
	RequestTimeout time.Duration
	AllowedOrigins []string
	Auth           middleware.AuthConfig
	// Ready reports whether backing stores answer. Nil means always ready.
	Ready func(ctx context.Context) error
}

// NewRouter creates the main API router with all routes configured.
func NewRouter(logger *observability.Logger, cfg RouterConfig, products *handlers.ProductHandler) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	if cfg.RequestTimeout > 0 {
		r.Use(chimiddleware.Timeout(cfg.RequestTimeout))
	}

	// Health checks (unauthenticated)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy","service":"product-enrichment"}`))
	})
	r.Get("/liveness_check", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"OK"}`))
	})
	r.Get("/readiness_check", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if cfg.Ready != nil {
			if err := cfg.Ready(r.Context()); err != nil {
				logger.WithContext(r.Context()).Warn().Err(err).Msg("Readiness check failed")
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"UNAVAILABLE"}`))
				return
			}
		}
		_, _ = w.Write([]byte(`{"status":"OK"}`))
	})

	r.Route("/api/v1/genai/products", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.Auth))

		r.Post("/", products.Create)
		r.Post("/attributes", products.Attributes)
		r.Post("/categories", products.Categories)
		r.Post("/marketing", products.Marketing)
		r.Put("/{id}", products.Update)
		r.Delete("/{id}", products.Delete)
	})

	return r
}
