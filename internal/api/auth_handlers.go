package api

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/nimbusmail/outreach/internal/auth"
	"github.com/nimbusmail/outreach/internal/pkg/httputil"
	"github.com/nimbusmail/outreach/internal/pkg/logger"
	"github.com/nimbusmail/outreach/internal/transport"
)

// RequestMagicLink emails a sign-in link to the address, creating the
// account on first use. Responds identically whether or not the
// account existed.
func (h *Handlers) RequestMagicLink(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Email string `json:"email"`
	}
	if !httputil.Decode(w, r, &input) {
		return
	}
	link, u, err := h.auth.RequestMagicLink(r.Context(), input.Email)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidEmail) {
			httputil.BadRequest(w, err.Error())
			return
		}
		httputil.InternalError(w, err)
		return
	}

	msg := &transport.Message{
		FromAddress: h.cfg.Email.FromAddress,
		FromName:    h.cfg.Email.FromName,
		To:          u.Email,
		Subject:     "Your sign-in link",
		HTMLBody: fmt.Sprintf(
			`<p>Click to sign in:</p><p><a href="%s">%s</a></p><p>The link expires in %d minutes.</p>`,
			link, link, h.cfg.Auth.MagicLinkTTLMins),
	}
	if _, err := h.mail.Send(r.Context(), msg); err != nil {
		httputil.InternalError(w, err)
		return
	}
	log.Printf("[API] Magic link sent to %s", logger.RedactEmail(u.Email))
	httputil.OK(w, map[string]string{"detail": "magic link sent"})
}

// VerifyMagicLink exchanges a link token for a session token.
func (h *Handlers) VerifyMagicLink(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Token string `json:"token"`
	}
	if !httputil.Decode(w, r, &input) {
		return
	}
	session, u, err := h.auth.VerifyMagicLink(r.Context(), input.Token)
	if err != nil {
		httputil.Unauthorized(w, "invalid or expired link")
		return
	}
	httputil.OK(w, map[string]any{"token": session, "user": u})
}

// CurrentUser returns the authenticated account.
func (h *Handlers) CurrentUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.auth.CurrentUser(r.Context(), h.userID(r))
	if err != nil {
		httputil.Unauthorized(w, "unknown account")
		return
	}
	httputil.OK(w, u)
}

// UpdateProfile sets the sender identity (from name and signature)
// used on outgoing campaign email.
func (h *Handlers) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var input struct {
		FirstName     string `json:"first_name"`
		SignatureHTML string `json:"signature_html"`
	}
	if !httputil.Decode(w, r, &input) {
		return
	}
	if input.FirstName == "" {
		httputil.BadRequest(w, "first_name is required")
		return
	}
	u, err := h.auth.UpdateProfile(r.Context(), h.userID(r), input.FirstName, input.SignatureHTML)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, u)
}
