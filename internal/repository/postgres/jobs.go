package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nimbusmail/outreach/internal/domain"
	"github.com/nimbusmail/outreach/internal/worker"
)

const jobColumns = `id, campaign_id, lead_id, template_id, step_number, status,
	scheduled_at, attempts, sent_at, COALESCE(message_id,''), COALESCE(last_error,''),
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	j := &domain.Job{}
	err := row.Scan(&j.ID, &j.CampaignID, &j.LeadID, &j.TemplateID, &j.StepNumber, &j.Status,
		&j.ScheduledAt, &j.Attempts, &j.SentAt, &j.MessageID, &j.LastError,
		&j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return j, nil
}

// JobStore implements worker.Store against PostgreSQL. Each claim is
// one transaction holding a FOR UPDATE lock on the job row until an
// outcome commits or the claim is released.
type JobStore struct{ db *sql.DB }

// NewJobStore creates a Postgres-backed job store.
func NewJobStore(db *sql.DB) *JobStore { return &JobStore{db: db} }

func (s *JobStore) DueJobs(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM jobs
		WHERE status = 'pending' AND scheduled_at <= $1
		ORDER BY scheduled_at, campaign_id, lead_id, step_number
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("due jobs: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *JobStore) Claim(ctx context.Context, jobID uuid.UUID) (worker.Claim, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}

	// SKIP LOCKED: a job claimed by another worker, or row-locked by a
	// reply cancellation in flight, is simply not ours this tick.
	job, err := scanJob(tx.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE id = $1 AND status = 'pending'
		FOR UPDATE SKIP LOCKED
	`, jobID))
	if err != nil {
		tx.Rollback()
		if err == sql.ErrNoRows {
			return nil, worker.ErrJobUnavailable
		}
		return nil, fmt.Errorf("lock job: %w", err)
	}

	c := &jobClaim{tx: tx, job: job}
	if err := c.load(ctx); err != nil {
		tx.Rollback()
		return nil, err
	}
	return c, nil
}

type jobClaim struct {
	tx       *sql.Tx
	job      *domain.Job
	campaign *domain.Campaign
	lead     *domain.Lead
	tpl      *domain.Template
	next     *domain.Template
	owner    *domain.User
	done     bool
}

// load reads the claim's context inside the transaction. Campaign and
// lead status are re-read here, after the row lock, which is what
// makes the pre-send validation trustworthy.
func (c *jobClaim) load(ctx context.Context) error {
	c.campaign = &domain.Campaign{}
	err := c.tx.QueryRowContext(ctx, `
		SELECT id, user_id, name, COALESCE(pitch,''), COALESCE(tone,''), status,
		       start_time, created_at, updated_at
		FROM campaigns WHERE id = $1
	`, c.job.CampaignID).Scan(
		&c.campaign.ID, &c.campaign.UserID, &c.campaign.Name, &c.campaign.Pitch,
		&c.campaign.Tone, &c.campaign.Status, &c.campaign.StartTime,
		&c.campaign.CreatedAt, &c.campaign.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("load campaign: %w", err)
	}

	c.lead = &domain.Lead{}
	err = c.tx.QueryRowContext(ctx, `
		SELECT id, campaign_id, email, COALESCE(first_name,''), COALESCE(company,''),
		       status, created_at, updated_at
		FROM leads WHERE id = $1
	`, c.job.LeadID).Scan(
		&c.lead.ID, &c.lead.CampaignID, &c.lead.Email, &c.lead.FirstName,
		&c.lead.Company, &c.lead.Status, &c.lead.CreatedAt, &c.lead.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("load lead: %w", err)
	}

	c.tpl, err = c.template(ctx, c.job.StepNumber)
	if err != nil {
		return err
	}
	c.next, err = c.template(ctx, c.job.StepNumber+1)
	if err != nil {
		return err
	}

	c.owner = &domain.User{}
	err = c.tx.QueryRowContext(ctx, `
		SELECT id, email, COALESCE(first_name,''), COALESCE(signature_html,''),
		       profile_completed, created_at, updated_at
		FROM users WHERE id = $1
	`, c.campaign.UserID).Scan(
		&c.owner.ID, &c.owner.Email, &c.owner.FirstName, &c.owner.SignatureHTML,
		&c.owner.ProfileCompleted, &c.owner.CreatedAt, &c.owner.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("load owner: %w", err)
	}
	return nil
}

func (c *jobClaim) template(ctx context.Context, step int) (*domain.Template, error) {
	t := &domain.Template{}
	err := c.tx.QueryRowContext(ctx, `
		SELECT id, campaign_id, step_number, subject, body, delay_minutes, created_at, updated_at
		FROM templates WHERE campaign_id = $1 AND step_number = $2
	`, c.job.CampaignID, step).Scan(
		&t.ID, &t.CampaignID, &t.StepNumber, &t.Subject, &t.Body,
		&t.DelayMinutes, &t.CreatedAt, &t.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load template step %d: %w", step, err)
	}
	return t, nil
}

func (c *jobClaim) Job() *domain.Job               { return c.job }
func (c *jobClaim) Campaign() *domain.Campaign     { return c.campaign }
func (c *jobClaim) Lead() *domain.Lead             { return c.lead }
func (c *jobClaim) Template() *domain.Template     { return c.tpl }
func (c *jobClaim) NextTemplate() *domain.Template { return c.next }
func (c *jobClaim) Owner() *domain.User            { return c.owner }

func (c *jobClaim) MarkSent(ctx context.Context, sentAt time.Time, messageID string, next *domain.Job) error {
	if c.done {
		return fmt.Errorf("claim already finished")
	}
	_, err := c.tx.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'sent', sent_at = $1, message_id = $2, attempts = attempts + 1,
		    last_error = NULL, updated_at = $1
		WHERE id = $3
	`, sentAt, messageID, c.job.ID)
	if err != nil {
		c.rollback()
		return fmt.Errorf("mark sent: %w", err)
	}
	_, err = c.tx.ExecContext(ctx, `
		UPDATE leads SET status = 'contacted', updated_at = $1
		WHERE id = $2 AND status = 'pending'
	`, sentAt, c.job.LeadID)
	if err != nil {
		c.rollback()
		return fmt.Errorf("mark lead contacted: %w", err)
	}
	if next != nil {
		_, err = c.tx.ExecContext(ctx, `
			INSERT INTO jobs (id, campaign_id, lead_id, template_id, step_number,
			                  status, scheduled_at, attempts, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, 'pending', $6, 0, $7, $7)
			ON CONFLICT (lead_id, step_number) DO NOTHING
		`, next.ID, next.CampaignID, next.LeadID, next.TemplateID, next.StepNumber,
			next.ScheduledAt, sentAt)
		if err != nil {
			c.rollback()
			return fmt.Errorf("create follow-up job: %w", err)
		}
	}
	return c.commit()
}

func (c *jobClaim) MarkSkipped(ctx context.Context, reason string) error {
	if c.done {
		return fmt.Errorf("claim already finished")
	}
	_, err := c.tx.ExecContext(ctx, `
		UPDATE jobs SET status = 'skipped', last_error = $1, updated_at = NOW()
		WHERE id = $2
	`, reason, c.job.ID)
	if err != nil {
		c.rollback()
		return fmt.Errorf("mark skipped: %w", err)
	}
	return c.commit()
}

func (c *jobClaim) RescheduleRetry(ctx context.Context, at time.Time, attempts int, sendErr string) error {
	if c.done {
		return fmt.Errorf("claim already finished")
	}
	_, err := c.tx.ExecContext(ctx, `
		UPDATE jobs SET scheduled_at = $1, attempts = $2, last_error = $3, updated_at = NOW()
		WHERE id = $4
	`, at, attempts, sendErr, c.job.ID)
	if err != nil {
		c.rollback()
		return fmt.Errorf("reschedule retry: %w", err)
	}
	return c.commit()
}

func (c *jobClaim) MarkFailed(ctx context.Context, attempts int, sendErr string, failLead bool) error {
	if c.done {
		return fmt.Errorf("claim already finished")
	}
	_, err := c.tx.ExecContext(ctx, `
		UPDATE jobs SET status = 'failed', attempts = $1, last_error = $2, updated_at = NOW()
		WHERE id = $3
	`, attempts, sendErr, c.job.ID)
	if err != nil {
		c.rollback()
		return fmt.Errorf("mark failed: %w", err)
	}
	if failLead {
		_, err = c.tx.ExecContext(ctx, `
			UPDATE leads SET status = 'failed', updated_at = NOW()
			WHERE id = $1 AND status != 'replied'
		`, c.job.LeadID)
		if err != nil {
			c.rollback()
			return fmt.Errorf("mark lead failed: %w", err)
		}
	}
	return c.commit()
}

func (c *jobClaim) Release() error {
	if c.done {
		return nil
	}
	c.rollback()
	return nil
}

func (c *jobClaim) commit() error {
	c.done = true
	if err := c.tx.Commit(); err != nil {
		return fmt.Errorf("commit claim: %w", err)
	}
	return nil
}

func (c *jobClaim) rollback() {
	c.done = true
	c.tx.Rollback()
}
