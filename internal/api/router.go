package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api", func(r chi.Router) {
		// Visitor surface
		r.Get("/bootstrap", s.handleBootstrap)
		r.Post("/ring", s.handleRing)

		// Admin surface (secret checked in the handlers)
		r.Post("/lab-status", s.handleSetLabStatus)
		r.Get("/lab-status", s.handleListLabStatus)
		r.Get("/audit", s.handleAuditList)

		// Retired endpoint from the first deployment; old clients still
		// probe it, so answer with a permanent 410 rather than a 404.
		r.HandleFunc("/labs", s.handleLabsGone)
		r.HandleFunc("/labs/*", s.handleLabsGone)

		// Operational surface
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	mqttConnected := false
	if s.mqtt != nil {
		mqttConnected = s.mqtt.IsConnected()
	}

	dbHealthy := true
	if s.db != nil {
		dbHealthy = s.db.HealthCheck(r.Context()) == nil
	}

	status := "ok"
	if !mqttConnected || !dbHealthy {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   status,
		"version":  s.version,
		"mqtt":     mqttConnected,
		"database": dbHealthy,
	})
}

// handleLabsGone answers the retired listing endpoint.
func (s *Server) handleLabsGone(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusGone, ErrCodeGone, "this endpoint has been retired; use GET /api/bootstrap")
}
