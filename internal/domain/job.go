package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the outcome state of a scheduled send.
type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusSent    JobStatus = "sent"
	JobStatusFailed  JobStatus = "failed"
	JobStatusSkipped JobStatus = "skipped"
)

// Valid reports whether s is a known job status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusSent, JobStatusFailed, JobStatusSkipped:
		return true
	}
	return false
}

// Job is one scheduled email send: a (lead, step) pair with a due time.
// At most one job exists per (lead_id, step_number), and at most one of
// them ever reaches sent.
//
// Attempts counts send attempts made so far; ScheduledAt moves forward
// on retry backoff. SentAt and MessageID are set only on a sent outcome.
// LastError keeps the most recent transport failure for operators.
type Job struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	CampaignID  uuid.UUID  `json:"campaign_id" db:"campaign_id"`
	LeadID      uuid.UUID  `json:"lead_id" db:"lead_id"`
	TemplateID  uuid.UUID  `json:"template_id" db:"template_id"`
	StepNumber  int        `json:"step_number" db:"step_number"`
	Status      JobStatus  `json:"status" db:"status"`
	ScheduledAt time.Time  `json:"scheduled_at" db:"scheduled_at"`
	Attempts    int        `json:"attempts" db:"attempts"`
	SentAt      *time.Time `json:"sent_at,omitempty" db:"sent_at"`
	MessageID   string     `json:"message_id,omitempty" db:"message_id"`
	LastError   string     `json:"last_error,omitempty" db:"last_error"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// Due reports whether the job is eligible for claiming at now.
func (j *Job) Due(now time.Time) bool {
	return j.Status == JobStatusPending && !j.ScheduledAt.After(now)
}
