package campaign

import "errors"

// Sentinel errors for the campaign service layer.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("campaign not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotDraft          = errors.New("campaign is not a draft")
	ErrNoLeads           = errors.New("campaign has no leads")
	ErrNoStepOneTemplate = errors.New("campaign has no template for step 1")
	ErrLeadNotFound      = errors.New("lead not found")
	ErrJobNotFound       = errors.New("job not found")
	ErrDuplicateLead     = errors.New("lead email already exists in campaign")
	ErrDuplicateStep     = errors.New("template step number already exists in campaign")
)
