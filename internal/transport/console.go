package transport

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"

	"github.com/nimbusmail/outreach/internal/pkg/logger"
)

// ConsoleTransport logs outgoing email instead of delivering it. Used
// in development and as the degraded fallback when no provider is
// configured. Message ids are synthesized so the scheduling chain
// behaves exactly as in production.
type ConsoleTransport struct {
	auth InboundAuth
	seq  atomic.Int64
}

// NewConsoleTransport creates a console transport.
func NewConsoleTransport(auth InboundAuth) *ConsoleTransport {
	return &ConsoleTransport{auth: auth}
}

// Send logs the message and returns a synthetic message id.
func (t *ConsoleTransport) Send(_ context.Context, msg *Message) (string, error) {
	id := fmt.Sprintf("console-%d", t.seq.Add(1))
	log.Printf("[Console] To: %s | Subject: %s | ReplyTo: %s | id: %s",
		logger.RedactEmail(msg.To), msg.Subject, msg.ReplyTo, id)
	return id, nil
}

// VerifyInbound authenticates an inbound webhook via Basic auth.
func (t *ConsoleTransport) VerifyInbound(r *http.Request) bool {
	return t.auth.Verify(r)
}

// ParseInbound decodes the generic inbound JSON payload.
func (t *ConsoleTransport) ParseInbound(r *http.Request) (*InboundMessage, error) {
	return parseGenericInbound(r)
}
