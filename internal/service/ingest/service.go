package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/nimbusmail/outreach/internal/pkg/logger"
	"github.com/nimbusmail/outreach/internal/transport"
)

// CompletionChecker transitions a campaign to COMPLETED when no work
// remains. Implemented by the campaign service.
type CompletionChecker interface {
	CheckCompletion(ctx context.Context, campaignID uuid.UUID) (bool, error)
}

// Service correlates inbound messages to leads and applies the state
// changes. Safe for concurrent use.
type Service struct {
	repo      Repository
	campaigns CompletionChecker
}

// NewService creates an ingest service backed by the given repository.
// campaigns may be nil to disable the completion sweep.
func NewService(repo Repository, campaigns CompletionChecker) *Service {
	return &Service{repo: repo, campaigns: campaigns}
}

// Outcome describes what an inbound event did, for the webhook
// response and logs.
type Outcome struct {
	Matched       bool   `json:"matched"`
	Action        string `json:"action"` // "replied", "bounced", "already_terminal", "no_match"
	LeadID        string `json:"lead_id,omitempty"`
	CancelledJobs int    `json:"cancelled_jobs"`
}

// HandleInbound processes one parsed webhook payload. Unmatched events
// are logged and reported, never errors; providers retry on failure
// and an unknown correlation will not improve.
func (s *Service) HandleInbound(ctx context.Context, msg *transport.InboundMessage) (Outcome, error) {
	leadID, found, err := s.correlate(ctx, msg)
	if err != nil {
		return Outcome{}, err
	}
	if !found {
		log.Printf("[Ingest] No lead match (from: %s, in-reply-to: %s)", logger.RedactEmail(msg.From), msg.InReplyTo)
		return Outcome{Action: "no_match"}, nil
	}

	if msg.Bounce {
		res, err := s.repo.FailLeadFromBounce(ctx, leadID, msg.BouncedMessageID)
		if err != nil {
			if errors.Is(err, ErrLeadNotFound) {
				return Outcome{Action: "no_match"}, nil
			}
			return Outcome{}, fmt.Errorf("fail lead %s from bounce: %w", leadID, err)
		}
		action := "bounced"
		if !res.Changed {
			action = "already_terminal"
		}
		log.Printf("[Ingest] Bounce for lead %s: %s (%d jobs cancelled)", leadID, action, res.CancelledJobs)
		s.sweepCompletion(ctx, res)
		return Outcome{Matched: true, Action: action, LeadID: leadID.String(), CancelledJobs: res.CancelledJobs}, nil
	}

	out, err := s.markReplied(ctx, leadID)
	if errors.Is(err, ErrLeadNotFound) {
		// Routing token decoded to an unknown lead; nothing to do.
		return Outcome{Action: "no_match"}, nil
	}
	return out, err
}

// SimulateReply marks a lead as replied without an inbound webhook.
// Backs the manual mark-replied endpoint in simulated reply mode.
func (s *Service) SimulateReply(ctx context.Context, leadID uuid.UUID) (Outcome, error) {
	return s.markReplied(ctx, leadID)
}

func (s *Service) markReplied(ctx context.Context, leadID uuid.UUID) (Outcome, error) {
	res, err := s.repo.MarkReplied(ctx, leadID)
	if err != nil {
		if errors.Is(err, ErrLeadNotFound) {
			return Outcome{Action: "no_match"}, err
		}
		return Outcome{}, fmt.Errorf("mark lead %s replied: %w", leadID, err)
	}
	action := "replied"
	if !res.Changed {
		action = "already_terminal"
	}
	log.Printf("[Ingest] Reply for lead %s: %s (%d jobs cancelled)", leadID, action, res.CancelledJobs)
	s.sweepCompletion(ctx, res)
	return Outcome{Matched: true, Action: action, LeadID: leadID.String(), CancelledJobs: res.CancelledJobs}, nil
}

// sweepCompletion checks the campaign after an ingestion cancelled its
// jobs. Cancelling a lead's last pending work can finish the campaign
// with nothing left for the dispatcher to claim, so waiting for the
// dispatcher's batch sweep would leave it ACTIVE forever.
func (s *Service) sweepCompletion(ctx context.Context, res ReplyResult) {
	if s.campaigns == nil || !res.Changed || res.CampaignID == uuid.Nil {
		return
	}
	if _, err := s.campaigns.CheckCompletion(ctx, res.CampaignID); err != nil {
		log.Printf("[Ingest] completion check %s: %v", res.CampaignID, err)
	}
}

// correlate resolves an inbound message to a lead: the plus-address
// routing token carries the lead id directly, otherwise the
// In-Reply-To header (or bounced message id) joins against jobs'
// message_id.
func (s *Service) correlate(ctx context.Context, msg *transport.InboundMessage) (uuid.UUID, bool, error) {
	if msg.RoutingToken != "" {
		if id, err := uuid.Parse(msg.RoutingToken); err == nil {
			return id, true, nil
		}
	}
	messageID := msg.InReplyTo
	if msg.Bounce && msg.BouncedMessageID != "" {
		messageID = msg.BouncedMessageID
	}
	if messageID == "" {
		return uuid.Nil, false, nil
	}
	return s.repo.LeadIDByMessageID(ctx, messageID)
}
