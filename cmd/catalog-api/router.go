// Package main provides the API router setup.
package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/spherical-ai/catalog-engine/cmd/catalog-api/handlers"
	"github.com/spherical-ai/catalog-engine/internal/cache"
	"github.com/spherical-ai/catalog-engine/internal/observability"
)

// Pinger reports whether the backing database is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// AppConfig holds the collaborators and settings of the router.
type AppConfig struct {
	RequestTimeout time.Duration
	CacheTTL       time.Duration
	Products       handlers.ProductReader
	Snapshots      handlers.SnapshotReader
	Cache          cache.Client
	DB             Pinger
}

// NewRouter creates the API router with all routes configured.
func NewRouter(logger *observability.Logger, cfg *AppConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(cfg.RequestTimeout))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if cfg.DB != nil {
			if err := cfg.DB.PingContext(r.Context()); err != nil {
				logger.Error().Err(err).Msg("Health check failed")
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"unhealthy","service":"catalog-engine"}`))
				return
			}
		}
		w.Write([]byte(`{"status":"healthy","service":"catalog-engine"}`))
	})

	catalog := handlers.NewCatalogHandler(logger, cfg.Products, cfg.Snapshots, cfg.Cache, cfg.CacheTTL)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/products/{key}", catalog.GetProduct)
		r.Get("/catalog", catalog.ListCatalog)
		r.Route("/brands", func(r chi.Router) {
			r.Get("/quality", catalog.ListBrandQuality)
			r.Get("/{slug}/quality", catalog.GetBrandQuality)
		})
	})

	return r
}

func requestLogger(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug().
				Str("request_id", chimiddleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("Request served")
		})
	}
}
