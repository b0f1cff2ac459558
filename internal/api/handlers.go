package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nimbusmail/outreach/internal/auth"
	"github.com/nimbusmail/outreach/internal/config"
	"github.com/nimbusmail/outreach/internal/pkg/httputil"
	"github.com/nimbusmail/outreach/internal/service/campaign"
	"github.com/nimbusmail/outreach/internal/service/ingest"
	"github.com/nimbusmail/outreach/internal/transport"
	"github.com/nimbusmail/outreach/internal/worker"
)

// Handlers holds the services behind the HTTP surface.
type Handlers struct {
	cfg        *config.Config
	campaigns  *campaign.Service
	ingest     *ingest.Service
	auth       *auth.Service
	mail       transport.EmailTransport
	dispatcher *worker.Dispatcher // nil when the API runs without a worker
}

// NewHandlers creates the handler set.
func NewHandlers(
	cfg *config.Config,
	campaigns *campaign.Service,
	ingestSvc *ingest.Service,
	authSvc *auth.Service,
	mail transport.EmailTransport,
	dispatcher *worker.Dispatcher,
) *Handlers {
	return &Handlers{
		cfg:        cfg,
		campaigns:  campaigns,
		ingest:     ingestSvc,
		auth:       authSvc,
		mail:       mail,
		dispatcher: dispatcher,
	}
}

// HealthCheck reports liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok"})
}

// WorkerStats returns the embedded dispatcher's lifetime counters.
func (h *Handlers) WorkerStats(w http.ResponseWriter, r *http.Request) {
	if h.dispatcher == nil {
		httputil.OK(w, map[string]int64{})
		return
	}
	httputil.OK(w, h.dispatcher.Stats())
}

// userID returns the authenticated user; the auth middleware
// guarantees its presence on /api routes.
func (h *Handlers) userID(r *http.Request) uuid.UUID {
	id, _ := auth.UserIDFromContext(r.Context())
	return id
}

// pathUUID parses a UUID route parameter, writing a 400 on failure.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		httputil.BadRequest(w, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// wake nudges the dispatcher after schedule-affecting writes.
func (h *Handlers) wake() {
	if h.dispatcher != nil {
		h.dispatcher.Wake()
	}
}

// writeError maps service errors to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, campaign.ErrNotFound),
		errors.Is(err, campaign.ErrLeadNotFound),
		errors.Is(err, campaign.ErrJobNotFound),
		errors.Is(err, ingest.ErrLeadNotFound):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, campaign.ErrInvalidTransition),
		errors.Is(err, campaign.ErrNotDraft),
		errors.Is(err, campaign.ErrDuplicateLead),
		errors.Is(err, campaign.ErrDuplicateStep):
		httputil.Conflict(w, err.Error())
	case errors.Is(err, campaign.ErrValidation),
		errors.Is(err, campaign.ErrNoLeads),
		errors.Is(err, campaign.ErrNoStepOneTemplate):
		httputil.BadRequest(w, err.Error())
	default:
		httputil.InternalError(w, err)
	}
}
