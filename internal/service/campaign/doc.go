// Package campaign implements campaign lifecycle management.
//
// The service layer owns the DRAFT → ACTIVE → PAUSED → ACTIVE →
// COMPLETED state machine, creates the step-1 jobs at launch, and
// answers campaign-scoped queries (stats, step summaries, email
// history). It depends on the repository interface defined in this
// package and never imports from api/.
//
// Repository implementations live in repository/postgres/ and
// repository/memory/.
package campaign
