package api

import (
	"net/http"

	"github.com/nimbusmail/outreach/internal/domain"
	"github.com/nimbusmail/outreach/internal/pkg/httputil"
	"github.com/nimbusmail/outreach/internal/service/campaign"
)

// ListTemplates returns the campaign's sequence steps.
func (h *Handlers) ListTemplates(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "campaignID")
	if !ok {
		return
	}
	out, err := h.campaigns.ListTemplates(r.Context(), h.userID(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if out == nil {
		out = []domain.Template{}
	}
	httputil.OK(w, out)
}

// AddTemplate adds a sequence step.
func (h *Handlers) AddTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "campaignID")
	if !ok {
		return
	}
	var input campaign.TemplateInput
	if !httputil.Decode(w, r, &input) {
		return
	}
	t, err := h.campaigns.AddTemplate(r.Context(), h.userID(r), id, input)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.Created(w, t)
}
