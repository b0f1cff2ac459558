package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LeadStatus is the contact state of a lead within its campaign.
type LeadStatus string

const (
	LeadStatusPending   LeadStatus = "pending"
	LeadStatusContacted LeadStatus = "contacted"
	LeadStatusReplied   LeadStatus = "replied"
	LeadStatusFailed    LeadStatus = "failed"
)

// Valid reports whether s is a known lead status.
func (s LeadStatus) Valid() bool {
	switch s {
	case LeadStatusPending, LeadStatusContacted, LeadStatusReplied, LeadStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether a lead in this status receives no further
// sends. Replied and failed leads are never contacted again.
func (s LeadStatus) IsTerminal() bool {
	return s == LeadStatusReplied || s == LeadStatusFailed
}

// Lead is one recipient enrolled in a campaign. Email is stored
// lowercased; (campaign_id, email) is unique.
type Lead struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	CampaignID uuid.UUID  `json:"campaign_id" db:"campaign_id"`
	Email      string     `json:"email" db:"email"`
	FirstName  string     `json:"first_name" db:"first_name"`
	Company    string     `json:"company" db:"company"`
	Status     LeadStatus `json:"status" db:"status"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

// NormalizeEmail lowercases and trims an address for storage and lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Validate checks invariants that must hold before persisting.
func (l *Lead) Validate() error {
	if l.Email == "" {
		return fmt.Errorf("lead email is required")
	}
	if !strings.Contains(l.Email, "@") {
		return fmt.Errorf("lead email %q is not an address", l.Email)
	}
	if !l.Status.Valid() {
		return fmt.Errorf("invalid lead status: %s", l.Status)
	}
	return nil
}
