package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/shadow-agent/internal/auth"
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

	// Dashboard endpoints kept at their historical paths
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/gps-data", s.handleGPSData)
		r.Get("/alerts", s.handleAlerts)
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/metrics", s.handleMetrics)
			r.Get("/state", s.handleState)
			r.Get("/alert", s.handleAlert)
			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Group(func(r chi.Router) {
				r.Use(s.requireRole(auth.RoleOperator))
				r.Get("/alerts/history", s.handleAlertHistory)
				r.Get("/commands/history", s.handleCommandHistory)
			})
		})
	})

	return r
}
