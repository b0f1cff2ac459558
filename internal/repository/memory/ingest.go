package memory

import (
	"context"

	"github.com/google/uuid"

	"github.com/nimbusmail/outreach/internal/domain"
	"github.com/nimbusmail/outreach/internal/service/ingest"
)

// =============================================================================
// ingest.Repository
// =============================================================================

func (s *Store) LeadIDByMessageID(_ context.Context, messageID string) (uuid.UUID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.MessageID == messageID && messageID != "" {
			return j.LeadID, true, nil
		}
	}
	return uuid.Nil, false, nil
}

func (s *Store) MarkReplied(_ context.Context, leadID uuid.UUID) (ingest.ReplyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waitForLeadClaimsLocked(leadID)

	l, ok := s.leads[leadID]
	if !ok {
		return ingest.ReplyResult{}, ingest.ErrLeadNotFound
	}
	if l.Status.IsTerminal() {
		return ingest.ReplyResult{}, nil
	}
	l.Status = domain.LeadStatusReplied
	l.UpdatedAt = s.clk.Now()
	return ingest.ReplyResult{
		Changed:       true,
		CampaignID:    l.CampaignID,
		CancelledJobs: s.cancelPendingLocked(leadID, "lead terminal"),
	}, nil
}

func (s *Store) FailLeadFromBounce(_ context.Context, leadID uuid.UUID, bouncedMessageID string) (ingest.ReplyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waitForLeadClaimsLocked(leadID)

	l, ok := s.leads[leadID]
	if !ok {
		return ingest.ReplyResult{}, ingest.ErrLeadNotFound
	}

	now := s.clk.Now()
	if bouncedMessageID != "" {
		for _, j := range s.jobs {
			if j.LeadID == leadID && j.MessageID == bouncedMessageID && j.Status == domain.JobStatusSent {
				j.Status = domain.JobStatusFailed
				j.LastError = "bounced"
				j.UpdatedAt = now
			}
		}
	}

	if l.Status.IsTerminal() {
		return ingest.ReplyResult{}, nil
	}
	for _, j := range s.jobs {
		if j.LeadID == leadID && j.Status == domain.JobStatusSent {
			return ingest.ReplyResult{}, nil
		}
	}

	l.Status = domain.LeadStatusFailed
	l.UpdatedAt = now
	return ingest.ReplyResult{
		Changed:       true,
		CampaignID:    l.CampaignID,
		CancelledJobs: s.cancelPendingLocked(leadID, "lead terminal"),
	}, nil
}

// waitForLeadClaimsLocked blocks until no claim holds any of the
// lead's jobs, mirroring how the SQL job updates wait on the
// dispatcher's row locks. Caller holds the store mutex.
func (s *Store) waitForLeadClaimsLocked(leadID uuid.UUID) {
	for s.leadClaimedLocked(leadID) {
		s.cond.Wait()
	}
}

func (s *Store) leadClaimedLocked(leadID uuid.UUID) bool {
	for id := range s.claimed {
		if j, ok := s.jobs[id]; ok && j.LeadID == leadID {
			return true
		}
	}
	return false
}

func (s *Store) cancelPendingLocked(leadID uuid.UUID, reason string) int {
	now := s.clk.Now()
	n := 0
	for _, j := range s.jobs {
		if j.LeadID == leadID && j.Status == domain.JobStatusPending {
			j.Status = domain.JobStatusSkipped
			j.LastError = reason
			j.UpdatedAt = now
			n++
		}
	}
	return n
}

// =============================================================================
// auth user repository
// =============================================================================

func (s *Store) GetOrCreateUser(_ context.Context, email string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = domain.NormalizeEmail(email)
	if id, ok := s.usersByEmail[email]; ok {
		cp := *s.users[id]
		return &cp, nil
	}
	now := s.clk.Now()
	u := &domain.User{ID: uuid.New(), Email: email, CreatedAt: now, UpdatedAt: now}
	s.users[u.ID] = u
	s.usersByEmail[email] = u.ID
	cp := *u
	return &cp, nil
}

func (s *Store) GetUser(_ context.Context, id uuid.UUID) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (s *Store) UpdateProfile(_ context.Context, id uuid.UUID, firstName, signatureHTML string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	u.FirstName = firstName
	u.SignatureHTML = signatureHTML
	u.ProfileCompleted = true
	u.UpdatedAt = s.clk.Now()
	cp := *u
	return &cp, nil
}
