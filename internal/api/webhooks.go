package api

import (
	"net/http"

	"github.com/nimbusmail/outreach/internal/pkg/httputil"
)

// InboundWebhook receives reply and bounce events from the email
// provider. Always answers 200 for parseable payloads, even without a
// lead match, so the provider doesn't retry what cannot improve.
func (h *Handlers) InboundWebhook(w http.ResponseWriter, r *http.Request) {
	if !h.mail.VerifyInbound(r) {
		httputil.Unauthorized(w, "invalid webhook credentials")
		return
	}
	msg, err := h.mail.ParseInbound(r)
	if err != nil {
		httputil.BadRequest(w, "unparseable payload: "+err.Error())
		return
	}
	out, err := h.ingest.HandleInbound(r.Context(), msg)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, out)
}
