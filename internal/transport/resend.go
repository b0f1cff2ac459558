package transport

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/resend/resend-go/v2"

	"github.com/nimbusmail/outreach/internal/pkg/logger"
)

// ResendTransport sends via the Resend API using the official SDK.
// Resend has no native inbound parsing, so inbound webhooks use the
// generic JSON format guarded by Basic auth.
type ResendTransport struct {
	client *resend.Client
	auth   InboundAuth
}

// NewResendTransport creates a Resend transport.
func NewResendTransport(apiKey string, auth InboundAuth) *ResendTransport {
	return &ResendTransport{
		client: resend.NewClient(apiKey),
		auth:   auth,
	}
}

// Send delivers one message through Resend.
func (t *ResendTransport) Send(ctx context.Context, msg *Message) (string, error) {
	req := &resend.SendEmailRequest{
		From:    fmt.Sprintf("%s <%s>", msg.FromName, msg.FromAddress),
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTMLBody,
	}
	if msg.ReplyTo != "" {
		req.ReplyTo = msg.ReplyTo
	}
	if len(msg.Headers) > 0 {
		req.Headers = msg.Headers
	}

	sent, err := t.client.Emails.SendWithContext(ctx, req)
	if err != nil {
		if classifyErr(err) == KindPermanent {
			return "", Permanent(fmt.Errorf("resend: %w", err))
		}
		return "", Transient(fmt.Errorf("resend: %w", err))
	}

	log.Printf("[Resend] Sent to %s (id: %s)", logger.RedactEmail(msg.To), sent.Id)
	return sent.Id, nil
}

// VerifyInbound authenticates an inbound webhook via Basic auth.
func (t *ResendTransport) VerifyInbound(r *http.Request) bool {
	return t.auth.Verify(r)
}

// ParseInbound decodes the generic inbound JSON payload.
func (t *ResendTransport) ParseInbound(r *http.Request) (*InboundMessage, error) {
	return parseGenericInbound(r)
}
