package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CampaignStatus is the lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusActive    CampaignStatus = "active"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
)

// Valid reports whether s is a known campaign status.
func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignStatusDraft, CampaignStatusActive, CampaignStatusPaused, CampaignStatusCompleted:
		return true
	}
	return false
}

// CanTransitionTo reports whether the lifecycle state machine allows
// moving from s to next. Completed is terminal.
func (s CampaignStatus) CanTransitionTo(next CampaignStatus) bool {
	switch s {
	case CampaignStatusDraft:
		return next == CampaignStatusActive
	case CampaignStatusActive:
		return next == CampaignStatusPaused || next == CampaignStatusCompleted
	case CampaignStatusPaused:
		return next == CampaignStatusActive
	}
	return false
}

// Campaign is an outbound sequence of one or more email steps sent to a
// set of leads. StartTime is the earliest moment step 1 may go out.
type Campaign struct {
	ID        uuid.UUID      `json:"id" db:"id"`
	UserID    uuid.UUID      `json:"user_id" db:"user_id"`
	Name      string         `json:"name" db:"name"`
	Pitch     string         `json:"pitch" db:"pitch"`
	Tone      string         `json:"tone" db:"tone"`
	Status    CampaignStatus `json:"status" db:"status"`
	StartTime *time.Time     `json:"start_time,omitempty" db:"start_time"`
	Tags      []string       `json:"tags" db:"-"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
}

// Validate checks invariants that must hold before persisting.
func (c *Campaign) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("campaign name is required")
	}
	if len(c.Name) > 255 {
		return fmt.Errorf("campaign name exceeds 255 characters")
	}
	if !c.Status.Valid() {
		return fmt.Errorf("invalid campaign status: %s", c.Status)
	}
	return nil
}

// CampaignStats is the per-campaign aggregate returned alongside a
// campaign on detail reads.
type CampaignStats struct {
	TotalLeads     int `json:"total_leads"`
	PendingLeads   int `json:"pending_leads"`
	ContactedLeads int `json:"contacted_leads"`
	RepliedLeads   int `json:"replied_leads"`
	FailedLeads    int `json:"failed_leads"`
	PendingJobs    int `json:"pending_jobs"`
}

// StepSummary aggregates job counts for one step of a campaign.
type StepSummary struct {
	StepNumber    int        `json:"step_number"`
	Pending       int        `json:"pending"`
	Sent          int        `json:"sent"`
	Failed        int        `json:"failed"`
	Skipped       int        `json:"skipped"`
	NextScheduled *time.Time `json:"next_scheduled,omitempty"`
}
