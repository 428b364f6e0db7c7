// Package ingress implements the Ingress API: POST /api/inbox, GET
// /health, and the supplemented operator read-only endpoints, per spec
// §4.8 and SPEC_FULL §6.8.
package ingress

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires the fixed endpoint set behind chi's standard middleware
// stack, grounded on zachbroad-webhook-relay/cmd/relay/main.go.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	r.Get("/health", h.Health)
	r.Post("/api/inbox", h.PostInbox)
	r.Get("/api/status", h.Status)
	r.Get("/api/config", h.Config)

	return r
}
