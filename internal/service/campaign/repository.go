package campaign

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nimbusmail/outreach/internal/domain"
)

// Repository defines the data access contract for campaign lifecycle
// management. Implementations must be safe for concurrent use.
type Repository interface {
	// CreateCampaign inserts a new campaign with its tags.
	CreateCampaign(ctx context.Context, c *domain.Campaign) error

	// GetCampaign returns one campaign owned by userID, tags included.
	// Returns ErrNotFound if it doesn't exist.
	GetCampaign(ctx context.Context, userID, id uuid.UUID) (*domain.Campaign, error)

	// ListCampaigns returns the user's campaigns ordered by created_at DESC.
	ListCampaigns(ctx context.Context, userID uuid.UUID) ([]domain.Campaign, error)

	// UpdateCampaign applies name/pitch/tone/start_time changes.
	UpdateCampaign(ctx context.Context, c *domain.Campaign) error

	// DeleteCampaign removes a campaign and everything under it.
	DeleteCampaign(ctx context.Context, userID, id uuid.UUID) error

	// UpdateCampaignStatus transitions status from exactly `from` to
	// `to` (compare-and-set). Returns ErrInvalidTransition when the
	// current status is not `from`.
	UpdateCampaignStatus(ctx context.Context, id uuid.UUID, from, to domain.CampaignStatus) error

	// LaunchCampaign atomically transitions DRAFT→ACTIVE, records the
	// start time, and creates one step-1 job per non-terminal lead with
	// the given scheduled_at. Creating a job that already exists for
	// (lead, step 1) is a no-op. Returns the number of jobs created,
	// or ErrInvalidTransition when the campaign is not a draft.
	LaunchCampaign(ctx context.Context, id uuid.UUID, startTime *time.Time, scheduledAt time.Time) (int, error)

	// GetCampaignStats returns lead counts by status and pending job count.
	GetCampaignStats(ctx context.Context, id uuid.UUID) (*domain.CampaignStats, error)

	// StepSummaries returns per-step job aggregates ordered by step number.
	StepSummaries(ctx context.Context, id uuid.UUID) ([]domain.StepSummary, error)

	// CompletionState returns the campaign's remaining work: pending
	// job count and count of leads still in PENDING status.
	CompletionState(ctx context.Context, id uuid.UUID) (pendingJobs, pendingLeads int, err error)

	// DuplicateCampaign copies a campaign's definition (templates,
	// tags, pitch, tone) into a new DRAFT campaign. Leads and jobs are
	// not copied.
	DuplicateCampaign(ctx context.Context, userID, id uuid.UUID, newName string) (*domain.Campaign, error)

	// AddTag / RemoveTag manage the campaign's tag set. Adding an
	// existing tag is a no-op.
	AddTag(ctx context.Context, campaignID uuid.UUID, tag string) error
	RemoveTag(ctx context.Context, campaignID uuid.UUID, tag string) error

	// CreateLead inserts a lead. Returns ErrDuplicateLead when the
	// email already exists in the campaign.
	CreateLead(ctx context.Context, l *domain.Lead) error

	// ListLeads returns the campaign's leads ordered by created_at.
	ListLeads(ctx context.Context, campaignID uuid.UUID) ([]domain.Lead, error)

	// GetLead returns one lead. Returns ErrLeadNotFound if missing.
	GetLead(ctx context.Context, campaignID, leadID uuid.UUID) (*domain.Lead, error)

	// CreateTemplate inserts a template. Returns ErrDuplicateStep when
	// the step number is taken.
	CreateTemplate(ctx context.Context, t *domain.Template) error

	// ListTemplates returns the campaign's templates ordered by step number.
	ListTemplates(ctx context.Context, campaignID uuid.UUID) ([]domain.Template, error)

	// EmailHistory returns a lead's jobs joined with their template
	// subjects, ordered by step number.
	EmailHistory(ctx context.Context, campaignID, leadID uuid.UUID) ([]HistoryEntry, error)

	// NextPendingJob returns the campaign's earliest pending job, or
	// ErrJobNotFound when none remain.
	NextPendingJob(ctx context.Context, campaignID uuid.UUID) (*domain.Job, error)

	// PullJobToNow moves a PENDING job's scheduled_at to now. Returns
	// ErrJobNotFound when the job is missing or not pending.
	PullJobToNow(ctx context.Context, jobID uuid.UUID, now time.Time) error

	// RetryJob resets one FAILED job to PENDING due now, clearing
	// attempts and last_error. Returns ErrJobNotFound when the job is
	// missing or not failed.
	RetryJob(ctx context.Context, jobID uuid.UUID, now time.Time) error

	// RetryAllFailed resets every FAILED job in the campaign. Returns
	// the number of jobs reset.
	RetryAllFailed(ctx context.Context, campaignID uuid.UUID, now time.Time) (int, error)
}

// HistoryEntry is one row of a lead's email history.
type HistoryEntry struct {
	StepNumber  int              `json:"step_number"`
	Status      domain.JobStatus `json:"status"`
	ScheduledAt time.Time        `json:"scheduled_at"`
	SentAt      *time.Time       `json:"sent_at,omitempty"`
	Subject     string           `json:"subject"`
	Attempts    int              `json:"attempts"`
	LastError   string           `json:"last_error,omitempty"`
}
