package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/nimbusmail/outreach/internal/domain"
	"github.com/nimbusmail/outreach/internal/worker"
)

// =============================================================================
// worker.Store
// =============================================================================

func (s *Store) DueJobs(_ context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*domain.Job
	for _, j := range s.jobs {
		if j.Due(now) && !s.claimed[j.ID] {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(i, j int) bool { return jobBefore(due[i], due[j]) })
	if len(due) > limit {
		due = due[:limit]
	}
	ids := make([]uuid.UUID, len(due))
	for i, j := range due {
		ids[i] = j.ID
	}
	return ids, nil
}

// Claim locks one pending job. The snapshot handed to the dispatcher is
// taken under the store mutex, and reply ingestion for the same lead
// waits until the claim finishes, which reproduces the row-lock
// serialization of the SQL implementation.
func (s *Store) Claim(_ context.Context, jobID uuid.UUID) (worker.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok || j.Status != domain.JobStatusPending || s.claimed[jobID] {
		return nil, worker.ErrJobUnavailable
	}

	camp, ok := s.campaigns[j.CampaignID]
	if !ok {
		return nil, worker.ErrJobUnavailable
	}
	lead, ok := s.leads[j.LeadID]
	if !ok {
		return nil, worker.ErrJobUnavailable
	}

	c := &memClaim{store: s, jobID: jobID}
	c.job = copyJob(j)
	c.campaign = copyCampaign(camp)
	leadCopy := *lead
	c.lead = &leadCopy
	if t := s.templateForStepLocked(j.CampaignID, j.StepNumber); t != nil {
		cp := *t
		c.tpl = &cp
	}
	if t := s.templateForStepLocked(j.CampaignID, j.StepNumber+1); t != nil {
		cp := *t
		c.next = &cp
	}
	if u, ok := s.users[camp.UserID]; ok {
		cp := *u
		c.owner = &cp
	} else {
		c.owner = &domain.User{ID: camp.UserID}
	}

	s.claimed[jobID] = true
	return c, nil
}

type memClaim struct {
	store    *Store
	jobID    uuid.UUID
	job      *domain.Job
	campaign *domain.Campaign
	lead     *domain.Lead
	tpl      *domain.Template
	next     *domain.Template
	owner    *domain.User
	done     bool
}

func (c *memClaim) Job() *domain.Job               { return c.job }
func (c *memClaim) Campaign() *domain.Campaign     { return c.campaign }
func (c *memClaim) Lead() *domain.Lead             { return c.lead }
func (c *memClaim) Template() *domain.Template     { return c.tpl }
func (c *memClaim) NextTemplate() *domain.Template { return c.next }
func (c *memClaim) Owner() *domain.User            { return c.owner }

func (c *memClaim) MarkSent(_ context.Context, sentAt time.Time, messageID string, next *domain.Job) error {
	c.store.mu.Lock()
	defer c.finish()

	j, ok := c.store.jobs[c.jobID]
	if !ok {
		return nil
	}
	j.Status = domain.JobStatusSent
	t := sentAt
	j.SentAt = &t
	j.MessageID = messageID
	j.Attempts++
	j.LastError = ""
	j.UpdatedAt = sentAt

	if l, ok := c.store.leads[j.LeadID]; ok && l.Status == domain.LeadStatusPending {
		l.Status = domain.LeadStatusContacted
		l.UpdatedAt = sentAt
	}

	if next != nil && c.store.jobForStepLocked(next.LeadID, next.StepNumber) == nil {
		cp := copyJob(next)
		c.store.jobs[cp.ID] = cp
	}
	return nil
}

func (c *memClaim) MarkSkipped(_ context.Context, reason string) error {
	c.store.mu.Lock()
	defer c.finish()

	j, ok := c.store.jobs[c.jobID]
	if !ok {
		return nil
	}
	j.Status = domain.JobStatusSkipped
	j.LastError = reason
	j.UpdatedAt = c.store.clk.Now()
	return nil
}

func (c *memClaim) RescheduleRetry(_ context.Context, at time.Time, attempts int, sendErr string) error {
	c.store.mu.Lock()
	defer c.finish()

	j, ok := c.store.jobs[c.jobID]
	if !ok {
		return nil
	}
	j.ScheduledAt = at
	j.Attempts = attempts
	j.LastError = sendErr
	j.UpdatedAt = c.store.clk.Now()
	return nil
}

func (c *memClaim) MarkFailed(_ context.Context, attempts int, sendErr string, failLead bool) error {
	c.store.mu.Lock()
	defer c.finish()

	now := c.store.clk.Now()
	j, ok := c.store.jobs[c.jobID]
	if !ok {
		return nil
	}
	j.Status = domain.JobStatusFailed
	j.Attempts = attempts
	j.LastError = sendErr
	j.UpdatedAt = now

	if failLead {
		if l, ok := c.store.leads[j.LeadID]; ok && l.Status != domain.LeadStatusReplied {
			l.Status = domain.LeadStatusFailed
			l.UpdatedAt = now
		}
	}
	return nil
}

func (c *memClaim) Release() error {
	if c.done {
		return nil
	}
	c.store.mu.Lock()
	c.finish()
	return nil
}

// finish unclaims the job and wakes blocked ingest calls. Caller holds
// the store mutex.
func (c *memClaim) finish() {
	c.done = true
	delete(c.store.claimed, c.jobID)
	c.store.cond.Broadcast()
	c.store.mu.Unlock()
}
