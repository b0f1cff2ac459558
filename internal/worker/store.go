package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nimbusmail/outreach/internal/domain"
)

// ErrJobUnavailable is returned by Claim when the job is locked by
// another worker or no longer pending. The dispatcher moves on.
var ErrJobUnavailable = errors.New("job unavailable")

// Store provides job claiming for the dispatcher. Implementations must
// be safe for concurrent use by multiple dispatcher processes.
type Store interface {
	// DueJobs returns ids of pending jobs due at now, ordered by
	// (scheduled_at, campaign_id, lead_id, step_number). The snapshot
	// is advisory; each id must still be claimed.
	DueJobs(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)

	// Claim locks one job for exclusive processing and loads its
	// context (campaign, lead, template, owner) inside the claim's
	// transaction. The lead status read through the claim is fresh:
	// it happens after the row lock is acquired, so a concurrent
	// reply either committed before (and is visible) or is blocked
	// until this claim finishes. Returns ErrJobUnavailable when the
	// job is locked elsewhere or already resolved.
	Claim(ctx context.Context, jobID uuid.UUID) (Claim, error)
}

// Claim is one locked job. Exactly one finishing call must be made:
// MarkSent, MarkSkipped, RescheduleRetry, MarkFailed (each commits) or
// Release (rolls back, leaving the job untouched).
type Claim interface {
	Job() *domain.Job
	Campaign() *domain.Campaign
	Lead() *domain.Lead
	// Template returns the template for the job's step, or nil when it
	// was deleted after scheduling.
	Template() *domain.Template
	// NextTemplate returns the template for step+1, or nil when the
	// sequence ends here.
	NextTemplate() *domain.Template
	// Owner returns the campaign's owning user (signature, from name).
	Owner() *domain.User

	// MarkSent records the send, transitions the lead
	// PENDING→CONTACTED, and inserts the follow-up job (nil when the
	// sequence is done), all in the claim's transaction.
	MarkSent(ctx context.Context, sentAt time.Time, messageID string, next *domain.Job) error

	// MarkSkipped resolves the job without sending.
	MarkSkipped(ctx context.Context, reason string) error

	// RescheduleRetry keeps the job pending with a new due time after
	// a transient failure. attempts is the new attempt count.
	RescheduleRetry(ctx context.Context, at time.Time, attempts int, sendErr string) error

	// MarkFailed resolves the job as failed and, when failLead is
	// true, fails the lead unless it already replied.
	MarkFailed(ctx context.Context, attempts int, sendErr string, failLead bool) error

	// Release rolls back the claim, reverting the job to its
	// pre-claim state.
	Release() error
}

// CompletionChecker transitions campaigns to COMPLETED when their work
// is done. Implemented by the campaign service.
type CompletionChecker interface {
	CheckCompletion(ctx context.Context, campaignID uuid.UUID) (bool, error)
}
