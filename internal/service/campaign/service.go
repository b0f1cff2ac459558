package campaign

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/nimbusmail/outreach/internal/domain"
	"github.com/nimbusmail/outreach/internal/pkg/clock"
	"github.com/nimbusmail/outreach/internal/schedule"
)

// Service implements campaign business logic. All public methods are
// safe for concurrent use if the underlying repository is
// concurrency-safe.
type Service struct {
	repo Repository
	clk  clock.Clock
}

// NewService creates a campaign service backed by the given repository.
func NewService(repo Repository, clk clock.Clock) *Service {
	return &Service{repo: repo, clk: clk}
}

// CreateInput holds the fields for creating a new campaign.
type CreateInput struct {
	Name  string   `json:"name"`
	Pitch string   `json:"pitch"`
	Tone  string   `json:"tone"`
	Tags  []string `json:"tags"`
}

// Create validates and persists a new campaign in draft status.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, input CreateInput) (*domain.Campaign, error) {
	now := s.clk.Now()
	c := &domain.Campaign{
		ID:        uuid.New(),
		UserID:    userID,
		Name:      input.Name,
		Pitch:     input.Pitch,
		Tone:      input.Tone,
		Status:    domain.CampaignStatusDraft,
		Tags:      input.Tags,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := s.repo.CreateCampaign(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Get returns one campaign with its stats.
func (s *Service) Get(ctx context.Context, userID, id uuid.UUID) (*domain.Campaign, *domain.CampaignStats, error) {
	c, err := s.repo.GetCampaign(ctx, userID, id)
	if err != nil {
		return nil, nil, err
	}
	stats, err := s.repo.GetCampaignStats(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return c, stats, nil
}

// List returns the user's campaigns.
func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]domain.Campaign, error) {
	return s.repo.ListCampaigns(ctx, userID)
}

// UpdateInput holds the mutable campaign fields. Nil pointers are not
// applied.
type UpdateInput struct {
	Name      *string    `json:"name"`
	Pitch     *string    `json:"pitch"`
	Tone      *string    `json:"tone"`
	StartTime *time.Time `json:"start_time"`
}

// Update modifies mutable campaign fields.
func (s *Service) Update(ctx context.Context, userID, id uuid.UUID, u UpdateInput) (*domain.Campaign, error) {
	c, err := s.repo.GetCampaign(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if u.Name != nil {
		c.Name = *u.Name
	}
	if u.Pitch != nil {
		c.Pitch = *u.Pitch
	}
	if u.Tone != nil {
		c.Tone = *u.Tone
	}
	if u.StartTime != nil {
		t := u.StartTime.UTC()
		c.StartTime = &t
	}
	c.UpdatedAt = s.clk.Now()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := s.repo.UpdateCampaign(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Delete removes a campaign. Only drafts may be deleted; everything
// else has history worth keeping.
func (s *Service) Delete(ctx context.Context, userID, id uuid.UUID) error {
	c, err := s.repo.GetCampaign(ctx, userID, id)
	if err != nil {
		return err
	}
	if c.Status != domain.CampaignStatusDraft {
		return ErrNotDraft
	}
	return s.repo.DeleteCampaign(ctx, userID, id)
}

// Launch transitions DRAFT→ACTIVE and creates one step-1 job per
// non-terminal lead, all in a single transaction. Requires at least
// one lead and a step-1 template. startTime, when set and in the
// future, delays the first sends; otherwise sending begins now.
func (s *Service) Launch(ctx context.Context, userID, id uuid.UUID, startTime *time.Time) (int, error) {
	c, err := s.repo.GetCampaign(ctx, userID, id)
	if err != nil {
		return 0, err
	}
	if c.Status != domain.CampaignStatusDraft {
		return 0, ErrInvalidTransition
	}

	leads, err := s.repo.ListLeads(ctx, id)
	if err != nil {
		return 0, err
	}
	if len(leads) == 0 {
		return 0, ErrNoLeads
	}

	templates, err := s.repo.ListTemplates(ctx, id)
	if err != nil {
		return 0, err
	}
	hasStepOne := false
	for _, t := range templates {
		if t.StepNumber == 1 {
			hasStepOne = true
			break
		}
	}
	if !hasStepOne {
		return 0, ErrNoStepOneTemplate
	}

	now := s.clk.Now()
	scheduledAt := schedule.FirstStepAt(startTime, now)

	n, err := s.repo.LaunchCampaign(ctx, id, startTime, scheduledAt)
	if err != nil {
		return 0, fmt.Errorf("launch campaign %s: %w", id, err)
	}
	log.Printf("[campaign.Service] Campaign %s launched: %d step-1 jobs scheduled for %s", id, n, scheduledAt.Format(time.RFC3339))
	return n, nil
}

// Pause sets an ACTIVE campaign to PAUSED. Pending jobs are left
// untouched; the dispatcher re-checks campaign status before every
// send, so the pause takes effect at the next claim.
func (s *Service) Pause(ctx context.Context, userID, id uuid.UUID) error {
	if _, err := s.repo.GetCampaign(ctx, userID, id); err != nil {
		return err
	}
	return s.repo.UpdateCampaignStatus(ctx, id, domain.CampaignStatusActive, domain.CampaignStatusPaused)
}

// Resume sets a PAUSED campaign back to ACTIVE. Overdue jobs keep
// their original scheduled_at and become eligible immediately.
func (s *Service) Resume(ctx context.Context, userID, id uuid.UUID) error {
	if _, err := s.repo.GetCampaign(ctx, userID, id); err != nil {
		return err
	}
	return s.repo.UpdateCampaignStatus(ctx, id, domain.CampaignStatusPaused, domain.CampaignStatusActive)
}

// CheckCompletion transitions an ACTIVE campaign to COMPLETED once no
// pending jobs remain and no lead is still waiting for its first
// contact. Returns true when the transition happened. Called by the
// dispatcher after each batch; losing the ACTIVE→COMPLETED
// compare-and-set to a concurrent worker is not an error.
func (s *Service) CheckCompletion(ctx context.Context, id uuid.UUID) (bool, error) {
	pendingJobs, pendingLeads, err := s.repo.CompletionState(ctx, id)
	if err != nil {
		return false, err
	}
	if pendingJobs > 0 || pendingLeads > 0 {
		return false, nil
	}
	err = s.repo.UpdateCampaignStatus(ctx, id, domain.CampaignStatusActive, domain.CampaignStatusCompleted)
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return false, nil
		}
		return false, err
	}
	log.Printf("[campaign.Service] Campaign %s completed", id)
	return true, nil
}

// Duplicate copies a campaign's definition into a new draft. Leads and
// jobs are not copied.
func (s *Service) Duplicate(ctx context.Context, userID, id uuid.UUID, newName string) (*domain.Campaign, error) {
	if newName == "" {
		return nil, fmt.Errorf("%w: new campaign name is required", ErrValidation)
	}
	return s.repo.DuplicateCampaign(ctx, userID, id, newName)
}

// AddTag adds a tag to the campaign's tag set.
func (s *Service) AddTag(ctx context.Context, userID, id uuid.UUID, tag string) error {
	if tag == "" {
		return fmt.Errorf("%w: tag is required", ErrValidation)
	}
	if _, err := s.repo.GetCampaign(ctx, userID, id); err != nil {
		return err
	}
	return s.repo.AddTag(ctx, id, tag)
}

// RemoveTag removes a tag from the campaign's tag set.
func (s *Service) RemoveTag(ctx context.Context, userID, id uuid.UUID, tag string) error {
	if _, err := s.repo.GetCampaign(ctx, userID, id); err != nil {
		return err
	}
	return s.repo.RemoveTag(ctx, id, tag)
}

// LeadInput holds the fields for enrolling a lead.
type LeadInput struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	Company   string `json:"company"`
}

// AddLead enrolls a lead in the campaign. Emails are lowercased and
// deduplicated per campaign.
func (s *Service) AddLead(ctx context.Context, userID, campaignID uuid.UUID, input LeadInput) (*domain.Lead, error) {
	if _, err := s.repo.GetCampaign(ctx, userID, campaignID); err != nil {
		return nil, err
	}
	now := s.clk.Now()
	l := &domain.Lead{
		ID:         uuid.New(),
		CampaignID: campaignID,
		Email:      domain.NormalizeEmail(input.Email),
		FirstName:  input.FirstName,
		Company:    input.Company,
		Status:     domain.LeadStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := l.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := s.repo.CreateLead(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

// GetLead returns one lead in an owned campaign.
func (s *Service) GetLead(ctx context.Context, userID, campaignID, leadID uuid.UUID) (*domain.Lead, error) {
	if _, err := s.repo.GetCampaign(ctx, userID, campaignID); err != nil {
		return nil, err
	}
	return s.repo.GetLead(ctx, campaignID, leadID)
}

// ListLeads returns the campaign's leads.
func (s *Service) ListLeads(ctx context.Context, userID, campaignID uuid.UUID) ([]domain.Lead, error) {
	if _, err := s.repo.GetCampaign(ctx, userID, campaignID); err != nil {
		return nil, err
	}
	return s.repo.ListLeads(ctx, campaignID)
}

// TemplateInput holds the fields for adding a sequence step.
type TemplateInput struct {
	StepNumber   int    `json:"step_number"`
	Subject      string `json:"subject"`
	Body         string `json:"body"`
	DelayMinutes int    `json:"delay_minutes"`
}

// AddTemplate adds a sequence step to the campaign.
func (s *Service) AddTemplate(ctx context.Context, userID, campaignID uuid.UUID, input TemplateInput) (*domain.Template, error) {
	if _, err := s.repo.GetCampaign(ctx, userID, campaignID); err != nil {
		return nil, err
	}
	now := s.clk.Now()
	t := &domain.Template{
		ID:           uuid.New(),
		CampaignID:   campaignID,
		StepNumber:   input.StepNumber,
		Subject:      input.Subject,
		Body:         input.Body,
		DelayMinutes: input.DelayMinutes,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := s.repo.CreateTemplate(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// ListTemplates returns the campaign's templates ordered by step.
func (s *Service) ListTemplates(ctx context.Context, userID, campaignID uuid.UUID) ([]domain.Template, error) {
	if _, err := s.repo.GetCampaign(ctx, userID, campaignID); err != nil {
		return nil, err
	}
	return s.repo.ListTemplates(ctx, campaignID)
}

// EmailHistory returns a lead's send history for display.
func (s *Service) EmailHistory(ctx context.Context, userID, campaignID, leadID uuid.UUID) ([]HistoryEntry, error) {
	if _, err := s.repo.GetCampaign(ctx, userID, campaignID); err != nil {
		return nil, err
	}
	return s.repo.EmailHistory(ctx, campaignID, leadID)
}

// NextSend returns the campaign's earliest pending job.
func (s *Service) NextSend(ctx context.Context, userID, campaignID uuid.UUID) (*domain.Job, error) {
	if _, err := s.repo.GetCampaign(ctx, userID, campaignID); err != nil {
		return nil, err
	}
	return s.repo.NextPendingJob(ctx, campaignID)
}

// SendNow pulls the campaign's earliest pending job forward so the
// dispatcher picks it up on the next tick. Returns the job.
func (s *Service) SendNow(ctx context.Context, userID, campaignID uuid.UUID) (*domain.Job, error) {
	if _, err := s.repo.GetCampaign(ctx, userID, campaignID); err != nil {
		return nil, err
	}
	job, err := s.repo.NextPendingJob(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	now := s.clk.Now()
	if err := s.repo.PullJobToNow(ctx, job.ID, now); err != nil {
		return nil, err
	}
	job.ScheduledAt = now
	return job, nil
}

// RetryJob resets one failed job to pending, due now.
func (s *Service) RetryJob(ctx context.Context, userID, campaignID, jobID uuid.UUID) error {
	if _, err := s.repo.GetCampaign(ctx, userID, campaignID); err != nil {
		return err
	}
	return s.repo.RetryJob(ctx, jobID, s.clk.Now())
}

// RetryAllFailed resets every failed job in the campaign.
func (s *Service) RetryAllFailed(ctx context.Context, userID, campaignID uuid.UUID) (int, error) {
	if _, err := s.repo.GetCampaign(ctx, userID, campaignID); err != nil {
		return 0, err
	}
	return s.repo.RetryAllFailed(ctx, campaignID, s.clk.Now())
}

// StepSummary returns per-step job aggregates for the campaign.
func (s *Service) StepSummary(ctx context.Context, userID, campaignID uuid.UUID) ([]domain.StepSummary, error) {
	if _, err := s.repo.GetCampaign(ctx, userID, campaignID); err != nil {
		return nil, err
	}
	return s.repo.StepSummaries(ctx, campaignID)
}
