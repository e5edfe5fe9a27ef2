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

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Auth endpoints (no auth required)
		r.Post("/auth/token", s.handleToken)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// WS ticket requires authentication - caller must hold a
			// valid token to request a ticket.
			r.Post("/auth/ws-ticket", s.handleWSTicket)

			// Bed endpoints
			r.Route("/beds", func(r chi.Router) {
				r.Get("/", s.handleListBeds)
				r.Post("/", s.handleCreateBed)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetBed)
					r.Patch("/", s.handleUpdateBed)
					r.Delete("/", s.handleDeleteBed)

					r.Get("/status", s.handleBedStatus)
					r.Post("/connect", s.handleConnectBed)
					r.Post("/disconnect", s.handleDisconnectBed)
					r.Post("/command", s.handleCommand)
					r.Post("/hold", s.handleStartHold)
					r.Post("/hold/stop", s.handleStopHold)
					r.Post("/stop", s.handleStopAll)
				})
			})

			// Discovery
			r.Post("/scan", s.handleScan)

			// System
			r.Get("/status", s.handleStatus)
			r.Get("/commands", s.handleCommands)
			r.Get("/audit", s.handleListAudit)

			// WebSocket (auth via ticket, validated in handler)
			r.Get("/ws", s.handleWebSocket)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
