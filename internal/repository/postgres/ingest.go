package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/nimbusmail/outreach/internal/service/ingest"
)

// IngestRepository implements ingest.Repository. Lead state changes and
// pending-job cancellation run in one transaction; the job UPDATE takes
// the same row locks a dispatcher claim holds, so a reply racing an
// in-flight send waits for that send to commit before cancelling.
type IngestRepository struct{ db *sql.DB }

// NewIngestRepository creates a Postgres-backed ingest repository.
func NewIngestRepository(db *sql.DB) *IngestRepository {
	return &IngestRepository{db: db}
}

func (r *IngestRepository) LeadIDByMessageID(ctx context.Context, messageID string) (uuid.UUID, bool, error) {
	var leadID uuid.UUID
	err := r.db.QueryRowContext(ctx, `
		SELECT lead_id FROM jobs WHERE message_id = $1
	`, messageID).Scan(&leadID)
	if err == sql.ErrNoRows {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("lead by message id: %w", err)
	}
	return leadID, true, nil
}

func (r *IngestRepository) MarkReplied(ctx context.Context, leadID uuid.UUID) (ingest.ReplyResult, error) {
	var res ingest.ReplyResult
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		campaignID, status, err := lockLead(ctx, tx, leadID)
		if err != nil {
			return err
		}
		if status == "replied" || status == "failed" {
			return nil
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE leads SET status = 'replied', updated_at = NOW() WHERE id = $1
		`, leadID)
		if err != nil {
			return fmt.Errorf("mark lead replied: %w", err)
		}

		res.Changed = true
		res.CampaignID = campaignID
		res.CancelledJobs, err = cancelPendingJobs(ctx, tx, leadID, "lead terminal")
		return err
	})
	return res, err
}

func (r *IngestRepository) FailLeadFromBounce(ctx context.Context, leadID uuid.UUID, bouncedMessageID string) (ingest.ReplyResult, error) {
	var res ingest.ReplyResult
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		campaignID, status, err := lockLead(ctx, tx, leadID)
		if err != nil {
			return err
		}

		// The bounced send itself no longer counts as a delivery.
		if bouncedMessageID != "" {
			_, err = tx.ExecContext(ctx, `
				UPDATE jobs SET status = 'failed', last_error = 'bounced', updated_at = NOW()
				WHERE lead_id = $1 AND message_id = $2 AND status = 'sent'
			`, leadID, bouncedMessageID)
			if err != nil {
				return fmt.Errorf("fail bounced job: %w", err)
			}
		}

		if status == "replied" || status == "failed" {
			return nil
		}

		var delivered bool
		err = tx.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM jobs WHERE lead_id = $1 AND status = 'sent')
		`, leadID).Scan(&delivered)
		if err != nil {
			return fmt.Errorf("check deliveries: %w", err)
		}
		if delivered {
			return nil
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE leads SET status = 'failed', updated_at = NOW() WHERE id = $1
		`, leadID)
		if err != nil {
			return fmt.Errorf("mark lead failed: %w", err)
		}

		res.Changed = true
		res.CampaignID = campaignID
		res.CancelledJobs, err = cancelPendingJobs(ctx, tx, leadID, "lead terminal")
		return err
	})
	return res, err
}

func (r *IngestRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func lockLead(ctx context.Context, tx *sql.Tx, leadID uuid.UUID) (uuid.UUID, string, error) {
	var campaignID uuid.UUID
	var status string
	err := tx.QueryRowContext(ctx, `
		SELECT campaign_id, status FROM leads WHERE id = $1 FOR UPDATE
	`, leadID).Scan(&campaignID, &status)
	if err == sql.ErrNoRows {
		return uuid.Nil, "", ingest.ErrLeadNotFound
	}
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("lock lead: %w", err)
	}
	return campaignID, status, nil
}

func cancelPendingJobs(ctx context.Context, tx *sql.Tx, leadID uuid.UUID, reason string) (int, error) {
	result, err := tx.ExecContext(ctx, `
		UPDATE jobs SET status = 'skipped', last_error = $1, updated_at = NOW()
		WHERE lead_id = $2 AND status = 'pending'
	`, reason, leadID)
	if err != nil {
		return 0, fmt.Errorf("cancel pending jobs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cancelled rows: %w", err)
	}
	return int(n), nil
}
