package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Template is one step of a campaign's email sequence. StepNumber is
// 1-based and unique per campaign; DelayMinutes is the wait after the
// previous step's actual send before this step goes out (ignored for
// step 1, which anchors on the campaign start time).
type Template struct {
	ID           uuid.UUID `json:"id" db:"id"`
	CampaignID   uuid.UUID `json:"campaign_id" db:"campaign_id"`
	StepNumber   int       `json:"step_number" db:"step_number"`
	Subject      string    `json:"subject" db:"subject"`
	Body         string    `json:"body" db:"body"`
	DelayMinutes int       `json:"delay_minutes" db:"delay_minutes"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Validate checks invariants that must hold before persisting.
func (t *Template) Validate() error {
	if t.StepNumber < 1 {
		return fmt.Errorf("template step_number must be >= 1, got %d", t.StepNumber)
	}
	if t.Subject == "" {
		return fmt.Errorf("template subject is required")
	}
	if t.Body == "" {
		return fmt.Errorf("template body is required")
	}
	if t.DelayMinutes < 0 {
		return fmt.Errorf("template delay_minutes must be >= 0, got %d", t.DelayMinutes)
	}
	return nil
}
