package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/good-yellow-bee/stockalert/internal/api/alerts"
	"github.com/good-yellow-bee/stockalert/internal/api/middleware"
)

// setupRouter creates and configures the chi router with all routes.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestLogger(s.logger, s.config.Verbose))
	r.Use(middleware.PrometheusMiddleware)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Recoverer(s.logger))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		JSONError(w, ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		JSONError(w, ErrMethodNotAllowed)
	})

	// Health check (public)
	r.Route("/health", s.healthHandler.Routes)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		alertHandler := alerts.NewHandler(s.service, s.history, s.config.RequestTimeout, s.logger)

		r.Route("/tenants/{tenantID}", func(r chi.Router) {
			r.Use(requireTenantID)
			alertHandler.Routes(r)
		})
	})

	return r
}

// requireTenantID rejects blank or oversized tenant IDs before they reach storage.
func requireTenantID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "tenantID")
		if id == "" || len(id) > 64 {
			JSONError(w, NewBadRequest("invalid tenant id"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
