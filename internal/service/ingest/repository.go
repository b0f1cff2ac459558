package ingest

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines the data access contract for inbound event
// processing. Implementations must be safe for concurrent use.
type Repository interface {
	// LeadIDByMessageID resolves a provider message id to the lead
	// that received it, via the jobs table. found is false when no
	// job carries that message id.
	LeadIDByMessageID(ctx context.Context, messageID string) (leadID uuid.UUID, found bool, err error)

	// MarkReplied transitions a non-terminal lead to REPLIED and
	// cancels (skips) its pending jobs, all in one transaction. The
	// job updates take the same row locks the dispatcher holds while
	// sending, so this call blocks until any in-flight send for the
	// lead commits. Returns ErrLeadNotFound when the lead id is
	// unknown; Changed is false when the lead was already terminal.
	MarkReplied(ctx context.Context, leadID uuid.UUID) (ReplyResult, error)

	// FailLeadFromBounce records a bounce: the job that sent
	// bouncedMessageID moves to FAILED, and the lead moves to FAILED
	// too unless some other job for the lead already delivered. One
	// transaction, same locking as MarkReplied.
	FailLeadFromBounce(ctx context.Context, leadID uuid.UUID, bouncedMessageID string) (ReplyResult, error)
}

// ReplyResult reports what an ingestion changed. CampaignID identifies
// the lead's campaign so the service can sweep it for completion after
// jobs are cancelled.
type ReplyResult struct {
	Changed       bool
	CancelledJobs int
	CampaignID    uuid.UUID
}
