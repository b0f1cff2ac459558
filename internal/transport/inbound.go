package transport

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// genericInboundPayload is the provider-neutral inbound format accepted
// by adapters without a native inbound API. Reply-forwarding services
// and test rigs post this shape.
type genericInboundPayload struct {
	InReplyTo  string   `json:"in_reply_to"`
	References []string `json:"references"`
	From       string   `json:"from"`
	To         string   `json:"to"`
	Subject    string   `json:"subject"`
	TextBody   string   `json:"text_body"`
	Bounce     bool     `json:"bounce"`
	MessageID  string   `json:"message_id"`
}

func parseGenericInbound(r *http.Request) (*InboundMessage, error) {
	var p genericInboundPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		return nil, err
	}
	inReplyTo := p.InReplyTo
	if inReplyTo == "" && len(p.References) > 0 {
		inReplyTo = p.References[0]
	}
	return &InboundMessage{
		InReplyTo:        stripAngles(inReplyTo),
		RoutingToken:     RoutingTokenFromAddress(p.To),
		From:             p.From,
		To:               p.To,
		Subject:          p.Subject,
		TextBody:         p.TextBody,
		Bounce:           p.Bounce,
		BouncedMessageID: p.MessageID,
		ReceivedAt:       time.Now().UTC(),
	}, nil
}

// RoutingTokenFromAddress extracts the plus-address token from a
// reply-to address: "reply+abc123@reply.example.com" yields "abc123".
// Returns "" when the address has no token.
func RoutingTokenFromAddress(addr string) string {
	at := strings.LastIndex(addr, "@")
	if at < 0 {
		return ""
	}
	local := addr[:at]
	plus := strings.Index(local, "+")
	if plus < 0 {
		return ""
	}
	return local[plus+1:]
}

// ReplyToAddress builds the plus-addressed reply-to for a lead:
// reply+{token}@domain. Empty domain yields "" (no custom reply-to).
func ReplyToAddress(domain, token string) string {
	if domain == "" {
		return ""
	}
	return "reply+" + token + "@" + domain
}

// stripAngles removes RFC 5322 angle brackets from a message id.
func stripAngles(id string) string {
	return strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(id), "<"), ">")
}
