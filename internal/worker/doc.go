// Package worker contains the job dispatcher.
//
// The dispatcher polls the store for due jobs and processes each one
// inside its own claim: validate → render → send → record outcome →
// schedule the follow-up. Multiple dispatcher processes can run
// against the same database; the store's row locking keeps each job
// with exactly one of them.
package worker
