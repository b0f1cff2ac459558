package api

import (
	"net/http"

	"github.com/nimbusmail/outreach/internal/domain"
	"github.com/nimbusmail/outreach/internal/pkg/httputil"
	"github.com/nimbusmail/outreach/internal/service/campaign"
)

// ListLeads returns the campaign's leads.
func (h *Handlers) ListLeads(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "campaignID")
	if !ok {
		return
	}
	out, err := h.campaigns.ListLeads(r.Context(), h.userID(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if out == nil {
		out = []domain.Lead{}
	}
	httputil.OK(w, out)
}

// AddLead enrolls a lead in the campaign.
func (h *Handlers) AddLead(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "campaignID")
	if !ok {
		return
	}
	var input campaign.LeadInput
	if !httputil.Decode(w, r, &input) {
		return
	}
	l, err := h.campaigns.AddLead(r.Context(), h.userID(r), id, input)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.Created(w, l)
}

// EmailHistory returns a lead's per-step send history.
func (h *Handlers) EmailHistory(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := pathUUID(w, r, "campaignID")
	if !ok {
		return
	}
	leadID, ok := pathUUID(w, r, "leadID")
	if !ok {
		return
	}
	out, err := h.campaigns.EmailHistory(r.Context(), h.userID(r), campaignID, leadID)
	if err != nil {
		writeError(w, err)
		return
	}
	if out == nil {
		out = []campaign.HistoryEntry{}
	}
	httputil.OK(w, out)
}

// MarkReplied manually marks a lead as replied. Only available in
// simulated reply mode; with real webhooks the provider is the source
// of truth.
func (h *Handlers) MarkReplied(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Reply.Mode != "simulated" {
		httputil.Conflict(w, "manual reply marking requires simulated reply mode")
		return
	}
	campaignID, ok := pathUUID(w, r, "campaignID")
	if !ok {
		return
	}
	leadID, ok := pathUUID(w, r, "leadID")
	if !ok {
		return
	}
	// Ownership check before touching the lead.
	if _, err := h.campaigns.GetLead(r.Context(), h.userID(r), campaignID, leadID); err != nil {
		writeError(w, err)
		return
	}
	out, err := h.ingest.SimulateReply(r.Context(), leadID)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, out)
}
