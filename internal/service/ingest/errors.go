package ingest

import "errors"

// Sentinel errors for the ingest service layer.
var (
	ErrLeadNotFound = errors.New("lead not found")
)
