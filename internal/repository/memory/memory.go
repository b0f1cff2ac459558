// Package memory implements the storage interfaces with in-process
// maps. It backs tests and the console development mode, and mirrors
// the Postgres locking behavior: a claimed job blocks reply
// cancellation for its lead until the claim finishes.
package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nimbusmail/outreach/internal/domain"
	"github.com/nimbusmail/outreach/internal/pkg/clock"
	"github.com/nimbusmail/outreach/internal/service/campaign"
)

// Store holds all state behind one mutex. It implements
// campaign.Repository, ingest.Repository, worker.Store, and the auth
// user repository.
type Store struct {
	mu   sync.Mutex
	cond *sync.Cond
	clk  clock.Clock

	users        map[uuid.UUID]*domain.User
	usersByEmail map[string]uuid.UUID
	campaigns    map[uuid.UUID]*domain.Campaign
	leads        map[uuid.UUID]*domain.Lead
	templates    map[uuid.UUID]*domain.Template
	jobs         map[uuid.UUID]*domain.Job
	claimed      map[uuid.UUID]bool // job ids locked by an open claim
}

// New creates an empty store.
func New(clk clock.Clock) *Store {
	s := &Store{
		clk:          clk,
		users:        make(map[uuid.UUID]*domain.User),
		usersByEmail: make(map[string]uuid.UUID),
		campaigns:    make(map[uuid.UUID]*domain.Campaign),
		leads:        make(map[uuid.UUID]*domain.Lead),
		templates:    make(map[uuid.UUID]*domain.Template),
		jobs:         make(map[uuid.UUID]*domain.Job),
		claimed:      make(map[uuid.UUID]bool),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func lessUUID(a, b uuid.UUID) bool { return bytes.Compare(a[:], b[:]) < 0 }

func copyCampaign(c *domain.Campaign) *domain.Campaign {
	out := *c
	out.Tags = append([]string(nil), c.Tags...)
	return &out
}

func copyJob(j *domain.Job) *domain.Job {
	out := *j
	if j.SentAt != nil {
		t := *j.SentAt
		out.SentAt = &t
	}
	return &out
}

// =============================================================================
// campaign.Repository
// =============================================================================

func (s *Store) CreateCampaign(_ context.Context, c *domain.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clk.Now()
	c.CreatedAt, c.UpdatedAt = now, now
	s.campaigns[c.ID] = copyCampaign(c)
	return nil
}

func (s *Store) GetCampaign(_ context.Context, userID, id uuid.UUID) (*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getCampaignLocked(userID, id)
}

func (s *Store) getCampaignLocked(userID, id uuid.UUID) (*domain.Campaign, error) {
	c, ok := s.campaigns[id]
	if !ok || c.UserID != userID {
		return nil, campaign.ErrNotFound
	}
	return copyCampaign(c), nil
}

func (s *Store) ListCampaigns(_ context.Context, userID uuid.UUID) ([]domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Campaign
	for _, c := range s.campaigns {
		if c.UserID == userID {
			out = append(out, *copyCampaign(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpdateCampaign(_ context.Context, c *domain.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.campaigns[c.ID]
	if !ok {
		return campaign.ErrNotFound
	}
	cur.Name, cur.Pitch, cur.Tone, cur.StartTime = c.Name, c.Pitch, c.Tone, c.StartTime
	cur.UpdatedAt = s.clk.Now()
	return nil
}

func (s *Store) DeleteCampaign(_ context.Context, userID, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok || c.UserID != userID {
		return campaign.ErrNotFound
	}
	delete(s.campaigns, id)
	for lid, l := range s.leads {
		if l.CampaignID == id {
			delete(s.leads, lid)
		}
	}
	for tid, t := range s.templates {
		if t.CampaignID == id {
			delete(s.templates, tid)
		}
	}
	for jid, j := range s.jobs {
		if j.CampaignID == id {
			delete(s.jobs, jid)
		}
	}
	return nil
}

func (s *Store) UpdateCampaignStatus(_ context.Context, id uuid.UUID, from, to domain.CampaignStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok || c.Status != from {
		return campaign.ErrInvalidTransition
	}
	c.Status = to
	c.UpdatedAt = s.clk.Now()
	return nil
}

func (s *Store) LaunchCampaign(_ context.Context, id uuid.UUID, startTime *time.Time, scheduledAt time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok || c.Status != domain.CampaignStatusDraft {
		return 0, campaign.ErrInvalidTransition
	}
	tpl := s.templateForStepLocked(id, 1)
	if tpl == nil {
		return 0, campaign.ErrNoStepOneTemplate
	}

	c.Status = domain.CampaignStatusActive
	c.StartTime = startTime
	now := s.clk.Now()
	c.UpdatedAt = now

	created := 0
	for _, l := range s.leads {
		if l.CampaignID != id || l.Status.IsTerminal() {
			continue
		}
		if s.jobForStepLocked(l.ID, 1) != nil {
			continue
		}
		j := &domain.Job{
			ID:          uuid.New(),
			CampaignID:  id,
			LeadID:      l.ID,
			TemplateID:  tpl.ID,
			StepNumber:  1,
			Status:      domain.JobStatusPending,
			ScheduledAt: scheduledAt,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		s.jobs[j.ID] = j
		created++
	}
	return created, nil
}

func (s *Store) GetCampaignStats(_ context.Context, id uuid.UUID) (*domain.CampaignStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := &domain.CampaignStats{}
	for _, l := range s.leads {
		if l.CampaignID != id {
			continue
		}
		stats.TotalLeads++
		switch l.Status {
		case domain.LeadStatusPending:
			stats.PendingLeads++
		case domain.LeadStatusContacted:
			stats.ContactedLeads++
		case domain.LeadStatusReplied:
			stats.RepliedLeads++
		case domain.LeadStatusFailed:
			stats.FailedLeads++
		}
	}
	for _, j := range s.jobs {
		if j.CampaignID == id && j.Status == domain.JobStatusPending {
			stats.PendingJobs++
		}
	}
	return stats, nil
}

func (s *Store) StepSummaries(_ context.Context, id uuid.UUID) ([]domain.StepSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byStep := make(map[int]*domain.StepSummary)
	for _, j := range s.jobs {
		if j.CampaignID != id {
			continue
		}
		sum, ok := byStep[j.StepNumber]
		if !ok {
			sum = &domain.StepSummary{StepNumber: j.StepNumber}
			byStep[j.StepNumber] = sum
		}
		switch j.Status {
		case domain.JobStatusPending:
			sum.Pending++
			if sum.NextScheduled == nil || j.ScheduledAt.Before(*sum.NextScheduled) {
				t := j.ScheduledAt
				sum.NextScheduled = &t
			}
		case domain.JobStatusSent:
			sum.Sent++
		case domain.JobStatusFailed:
			sum.Failed++
		case domain.JobStatusSkipped:
			sum.Skipped++
		}
	}
	out := make([]domain.StepSummary, 0, len(byStep))
	for _, sum := range byStep {
		out = append(out, *sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepNumber < out[j].StepNumber })
	return out, nil
}

func (s *Store) CompletionState(_ context.Context, id uuid.UUID) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pendingJobs, pendingLeads := 0, 0
	for _, j := range s.jobs {
		if j.CampaignID == id && j.Status == domain.JobStatusPending {
			pendingJobs++
		}
	}
	for _, l := range s.leads {
		if l.CampaignID == id && l.Status == domain.LeadStatusPending {
			pendingLeads++
		}
	}
	return pendingJobs, pendingLeads, nil
}

func (s *Store) DuplicateCampaign(_ context.Context, userID, id uuid.UUID, newName string) (*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, err := s.getCampaignLocked(userID, id)
	if err != nil {
		return nil, err
	}
	now := s.clk.Now()
	dup := &domain.Campaign{
		ID:        uuid.New(),
		UserID:    userID,
		Name:      newName,
		Pitch:     src.Pitch,
		Tone:      src.Tone,
		Status:    domain.CampaignStatusDraft,
		Tags:      append([]string(nil), src.Tags...),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.campaigns[dup.ID] = dup
	var copies []*domain.Template
	for _, t := range s.templates {
		if t.CampaignID != id {
			continue
		}
		copies = append(copies, &domain.Template{
			ID:           uuid.New(),
			CampaignID:   dup.ID,
			StepNumber:   t.StepNumber,
			Subject:      t.Subject,
			Body:         t.Body,
			DelayMinutes: t.DelayMinutes,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}
	for _, t := range copies {
		s.templates[t.ID] = t
	}
	return copyCampaign(dup), nil
}

func (s *Store) AddTag(_ context.Context, campaignID uuid.UUID, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[campaignID]
	if !ok {
		return campaign.ErrNotFound
	}
	for _, t := range c.Tags {
		if t == tag {
			return nil
		}
	}
	c.Tags = append(c.Tags, tag)
	c.UpdatedAt = s.clk.Now()
	return nil
}

func (s *Store) RemoveTag(_ context.Context, campaignID uuid.UUID, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[campaignID]
	if !ok {
		return campaign.ErrNotFound
	}
	kept := c.Tags[:0]
	for _, t := range c.Tags {
		if t != tag {
			kept = append(kept, t)
		}
	}
	c.Tags = kept
	c.UpdatedAt = s.clk.Now()
	return nil
}

func (s *Store) CreateLead(_ context.Context, l *domain.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cur := range s.leads {
		if cur.CampaignID == l.CampaignID && cur.Email == l.Email {
			return campaign.ErrDuplicateLead
		}
	}
	now := s.clk.Now()
	l.CreatedAt, l.UpdatedAt = now, now
	cp := *l
	s.leads[l.ID] = &cp
	return nil
}

func (s *Store) ListLeads(_ context.Context, campaignID uuid.UUID) ([]domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Lead
	for _, l := range s.leads {
		if l.CampaignID == campaignID {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return lessUUID(out[i].ID, out[j].ID)
	})
	return out, nil
}

func (s *Store) GetLead(_ context.Context, campaignID, leadID uuid.UUID) (*domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[leadID]
	if !ok || l.CampaignID != campaignID {
		return nil, campaign.ErrLeadNotFound
	}
	cp := *l
	return &cp, nil
}

func (s *Store) CreateTemplate(_ context.Context, t *domain.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.templateForStepLocked(t.CampaignID, t.StepNumber) != nil {
		return campaign.ErrDuplicateStep
	}
	now := s.clk.Now()
	t.CreatedAt, t.UpdatedAt = now, now
	cp := *t
	s.templates[t.ID] = &cp
	return nil
}

func (s *Store) ListTemplates(_ context.Context, campaignID uuid.UUID) ([]domain.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Template
	for _, t := range s.templates {
		if t.CampaignID == campaignID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepNumber < out[j].StepNumber })
	return out, nil
}

func (s *Store) EmailHistory(_ context.Context, campaignID, leadID uuid.UUID) ([]campaign.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []campaign.HistoryEntry
	for _, j := range s.jobs {
		if j.CampaignID != campaignID || j.LeadID != leadID {
			continue
		}
		entry := campaign.HistoryEntry{
			StepNumber:  j.StepNumber,
			Status:      j.Status,
			ScheduledAt: j.ScheduledAt,
			Attempts:    j.Attempts,
			LastError:   j.LastError,
		}
		if j.SentAt != nil {
			t := *j.SentAt
			entry.SentAt = &t
		}
		if tpl, ok := s.templates[j.TemplateID]; ok {
			entry.Subject = tpl.Subject
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepNumber < out[j].StepNumber })
	return out, nil
}

func (s *Store) NextPendingJob(_ context.Context, campaignID uuid.UUID) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *domain.Job
	for _, j := range s.jobs {
		if j.CampaignID != campaignID || j.Status != domain.JobStatusPending {
			continue
		}
		if best == nil || jobBefore(j, best) {
			best = j
		}
	}
	if best == nil {
		return nil, campaign.ErrJobNotFound
	}
	return copyJob(best), nil
}

func (s *Store) PullJobToNow(_ context.Context, jobID uuid.UUID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok || j.Status != domain.JobStatusPending {
		return campaign.ErrJobNotFound
	}
	j.ScheduledAt = now
	j.UpdatedAt = now
	return nil
}

func (s *Store) RetryJob(_ context.Context, jobID uuid.UUID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok || j.Status != domain.JobStatusFailed {
		return campaign.ErrJobNotFound
	}
	s.resetJobLocked(j, now)
	return nil
}

func (s *Store) RetryAllFailed(_ context.Context, campaignID uuid.UUID, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.CampaignID == campaignID && j.Status == domain.JobStatusFailed {
			s.resetJobLocked(j, now)
			n++
		}
	}
	return n, nil
}

func (s *Store) resetJobLocked(j *domain.Job, now time.Time) {
	j.Status = domain.JobStatusPending
	j.ScheduledAt = now
	j.Attempts = 0
	j.LastError = ""
	j.UpdatedAt = now
}

func (s *Store) templateForStepLocked(campaignID uuid.UUID, step int) *domain.Template {
	for _, t := range s.templates {
		if t.CampaignID == campaignID && t.StepNumber == step {
			return t
		}
	}
	return nil
}

func (s *Store) jobForStepLocked(leadID uuid.UUID, step int) *domain.Job {
	for _, j := range s.jobs {
		if j.LeadID == leadID && j.StepNumber == step {
			return j
		}
	}
	return nil
}

func jobBefore(a, b *domain.Job) bool {
	if !a.ScheduledAt.Equal(b.ScheduledAt) {
		return a.ScheduledAt.Before(b.ScheduledAt)
	}
	if a.CampaignID != b.CampaignID {
		return lessUUID(a.CampaignID, b.CampaignID)
	}
	if a.LeadID != b.LeadID {
		return lessUUID(a.LeadID, b.LeadID)
	}
	return a.StepNumber < b.StepNumber
}
