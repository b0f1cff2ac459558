// Package api exposes the HTTP surface: campaign and lead management,
// sequence templates, job controls, inbound webhooks, and auth. All
// errors use the {"detail": "..."} envelope.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nimbusmail/outreach/internal/auth"
	"github.com/nimbusmail/outreach/internal/config"
	"github.com/nimbusmail/outreach/internal/service/campaign"
	"github.com/nimbusmail/outreach/internal/service/ingest"
	"github.com/nimbusmail/outreach/internal/transport"
	"github.com/nimbusmail/outreach/internal/worker"
)

// Server is the API server.
type Server struct {
	cfg      *config.Config
	handler  http.Handler
	handlers *Handlers
	server   *http.Server
	router   *chi.Mux
}

// NewServer wires the handlers and routes. dispatcher may be nil when
// the API runs without an embedded worker.
func NewServer(
	cfg *config.Config,
	campaigns *campaign.Service,
	ingestSvc *ingest.Service,
	authSvc *auth.Service,
	mail transport.EmailTransport,
	dispatcher *worker.Dispatcher,
) *Server {
	h := NewHandlers(cfg, campaigns, ingestSvc, authSvc, mail, dispatcher)
	router := SetupRoutes(h, authSvc, cfg)
	return &Server{cfg: cfg, handler: router, handlers: h, router: router}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.handler
}
