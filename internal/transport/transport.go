// Package transport abstracts the email provider behind a single
// interface the dispatcher and ingestor consume.
//
// Adapters are split into individual files:
//   - resend.go:   Resend API via the official SDK
//   - postmark.go: Postmark API via raw HTTP (send + inbound webhook parsing)
//   - ses.go:      AWS SES v2
//   - console.go:  development sender that logs instead of delivering
package transport

import (
	"context"
	"net/http"
	"time"
)

// Message is one outbound email, fully rendered.
type Message struct {
	FromAddress string
	FromName    string
	ReplyTo     string
	To          string
	Subject     string
	HTMLBody    string
	Headers     map[string]string
	// Metadata is attached to the provider send for later correlation
	// (campaign_id, lead_id, job_id).
	Metadata map[string]string
}

// InboundMessage is a parsed inbound webhook payload (reply or bounce).
type InboundMessage struct {
	// InReplyTo is the provider message id the reply references, from
	// In-Reply-To or the first References entry. Empty for bounces
	// without threading headers.
	InReplyTo string
	// RoutingToken is the plus-address token from the To address
	// (reply+{token}@domain), when the provider exposes it.
	RoutingToken string
	From         string
	To           string
	Subject      string
	TextBody     string
	// Bounce is true when the event is a delivery failure rather than
	// a reply.
	Bounce bool
	// BouncedMessageID is the provider message id of the send that
	// bounced.
	BouncedMessageID string
	ReceivedAt       time.Time
}

// EmailTransport sends rendered messages and understands the
// provider's inbound webhook format. Implementations must be safe for
// concurrent use; the dispatcher calls Send from multiple workers.
type EmailTransport interface {
	// Send delivers one message and returns the provider message id.
	// Errors are classified: transient errors should be retried,
	// permanent ones fail the job immediately (see SendError).
	Send(ctx context.Context, msg *Message) (string, error)

	// VerifyInbound authenticates an inbound webhook request.
	VerifyInbound(r *http.Request) bool

	// ParseInbound extracts the reply/bounce content from an inbound
	// webhook request body.
	ParseInbound(r *http.Request) (*InboundMessage, error)
}

// InboundAuth holds the HTTP Basic credentials inbound webhooks must
// present. Zero value rejects everything.
type InboundAuth struct {
	Username string
	Password string
}

// Verify checks the request's Basic auth header against the
// configured credentials.
func (a InboundAuth) Verify(r *http.Request) bool {
	if a.Username == "" || a.Password == "" {
		return false
	}
	user, pass, ok := r.BasicAuth()
	return ok && user == a.Username && pass == a.Password
}
