// Package api is the HTTP transport adapter for the controller: it wires
// registration, heartbeat, routing, and state-sync endpoints onto the
// capability registry. The registry itself defines no wire format; this
// package is one of the interchangeable protocol adapters around it.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/workmesh/workmesh/internal/api/middleware"
	"github.com/workmesh/workmesh/internal/config"
)

// NewRouter creates the HTTP router with all controller routes.
func NewRouter(cfg *config.Config, h *Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(middleware.NewTokenAuth(cfg.Auth.Token).Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	// Health, info, metrics
	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(cfg))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/workers", func(r chi.Router) {
			r.Get("/", h.ListWorkers)
			r.Post("/", h.RegisterWorker)
			r.Route("/{workerID}", func(r chi.Router) {
				r.Post("/heartbeat", h.Heartbeat)
				r.Delete("/", h.DeregisterWorker)
			})
		})

		r.Get("/route", h.Route)

		r.Route("/state", func(r chi.Router) {
			r.Get("/", h.ExportState)
			r.Post("/import", h.ImportState)
		})
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "workmesh-controller",
	})
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version": cfg.Version,
		})
	}
}
