package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(withRequestID, s.accessLog, s.recoverPanics, s.cors)
	r.Use(middleware.RequestSize(maxRequestBodySize))

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	wsPath := s.wsCfg.Path
	if wsPath == "" {
		wsPath = "/ws"
	}
	r.Get(wsPath, s.handleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Get("/inventory", s.handleInventory)
		r.Get("/devices/{id}/state", s.handleDeviceState)

		r.Route("/groups/{ga}", func(r chi.Router) {
			r.Use(s.requireToken)
			r.Post("/write", s.handleGroupWrite)
			r.Get("/read", s.handleGroupRead)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	if !s.link.IsConnected() {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"version":        s.version,
		"link_connected": s.link.IsConnected(),
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
	})
}
