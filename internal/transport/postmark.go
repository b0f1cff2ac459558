package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/nimbusmail/outreach/internal/pkg/httpretry"
	"github.com/nimbusmail/outreach/internal/pkg/logger"
)

const postmarkBaseURL = "https://api.postmarkapp.com"

// PostmarkTransport sends via the Postmark API and parses Postmark's
// native inbound and bounce webhook payloads.
type PostmarkTransport struct {
	token   string
	baseURL string
	client  httpretry.HTTPDoer
	auth    InboundAuth
}

// NewPostmarkTransport creates a Postmark transport. Requests retry on
// transient HTTP failures; send timeouts are owned by the caller's ctx.
func NewPostmarkTransport(token string, auth InboundAuth) *PostmarkTransport {
	return &PostmarkTransport{
		token:   token,
		baseURL: postmarkBaseURL,
		client:  httpretry.NewRetryClient(&http.Client{Timeout: 30 * time.Second}, 2),
		auth:    auth,
	}
}

type postmarkSendRequest struct {
	From          string            `json:"From"`
	To            string            `json:"To"`
	Subject       string            `json:"Subject"`
	HTMLBody      string            `json:"HtmlBody"`
	ReplyTo       string            `json:"ReplyTo,omitempty"`
	Metadata      map[string]string `json:"Metadata,omitempty"`
	Headers       []postmarkHeader  `json:"Headers,omitempty"`
	MessageStream string            `json:"MessageStream"`
}

type postmarkHeader struct {
	Name  string `json:"Name"`
	Value string `json:"Value"`
}

type postmarkSendResponse struct {
	MessageID string `json:"MessageID"`
	ErrorCode int    `json:"ErrorCode"`
	Message   string `json:"Message"`
}

// Send delivers one message through Postmark.
func (t *PostmarkTransport) Send(ctx context.Context, msg *Message) (string, error) {
	payload := postmarkSendRequest{
		From:          fmt.Sprintf("%s <%s>", msg.FromName, msg.FromAddress),
		To:            msg.To,
		Subject:       msg.Subject,
		HTMLBody:      msg.HTMLBody,
		ReplyTo:       msg.ReplyTo,
		Metadata:      msg.Metadata,
		MessageStream: "outbound",
	}
	for name, value := range msg.Headers {
		payload.Headers = append(payload.Headers, postmarkHeader{Name: name, Value: value})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", Permanent(fmt.Errorf("postmark: marshal: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/email", bytes.NewReader(body))
	if err != nil {
		return "", Permanent(fmt.Errorf("postmark: build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", t.token)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", Transient(fmt.Errorf("postmark: %w", err))
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	var parsed postmarkSendResponse
	_ = json.Unmarshal(respBody, &parsed)

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("postmark: status %d code %d: %s", resp.StatusCode, parsed.ErrorCode, parsed.Message)
		if classifyStatus(resp.StatusCode) == KindPermanent {
			return "", Permanent(err)
		}
		return "", Transient(err)
	}

	log.Printf("[Postmark] Sent to %s (id: %s)", logger.RedactEmail(msg.To), parsed.MessageID)
	return parsed.MessageID, nil
}

// VerifyInbound authenticates an inbound webhook via Basic auth, the
// scheme Postmark supports by embedding credentials in the webhook URL.
func (t *PostmarkTransport) VerifyInbound(r *http.Request) bool {
	return t.auth.Verify(r)
}

// postmarkInboundPayload is Postmark's inbound webhook shape, reduced
// to the fields the ingestor needs. Bounce webhooks arrive on the same
// endpoint distinguished by RecordType.
type postmarkInboundPayload struct {
	RecordType  string `json:"RecordType"`
	From        string `json:"From"`
	To          string `json:"To"`
	Subject     string `json:"Subject"`
	TextBody    string `json:"TextBody"`
	MailboxHash string `json:"MailboxHash"`
	MessageID   string `json:"MessageID"`
	Headers     []struct {
		Name  string `json:"Name"`
		Value string `json:"Value"`
	} `json:"Headers"`
	// Bounce fields
	Type  string `json:"Type"`
	Email string `json:"Email"`
}

// ParseInbound decodes a Postmark inbound or bounce webhook.
func (t *PostmarkTransport) ParseInbound(r *http.Request) (*InboundMessage, error) {
	var p postmarkInboundPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("postmark: decode inbound: %w", err)
	}

	msg := &InboundMessage{
		From:       p.From,
		To:         p.To,
		Subject:    p.Subject,
		TextBody:   p.TextBody,
		ReceivedAt: time.Now().UTC(),
	}

	if p.RecordType == "Bounce" {
		msg.Bounce = true
		msg.BouncedMessageID = p.MessageID
		msg.To = p.Email
		return msg, nil
	}

	msg.RoutingToken = p.MailboxHash
	if msg.RoutingToken == "" {
		msg.RoutingToken = RoutingTokenFromAddress(p.To)
	}
	for _, h := range p.Headers {
		switch h.Name {
		case "In-Reply-To":
			if msg.InReplyTo == "" {
				msg.InReplyTo = stripAngles(h.Value)
			}
		case "References":
			if msg.InReplyTo == "" {
				msg.InReplyTo = firstReference(h.Value)
			}
		}
	}
	return msg, nil
}

func firstReference(refs string) string {
	for _, f := range strings.Fields(refs) {
		return stripAngles(f)
	}
	return ""
}
