package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/nimbusmail/outreach/internal/domain"
	"github.com/nimbusmail/outreach/internal/service/campaign"
)

// CampaignRepo implements campaign.Repository against PostgreSQL.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

func (r *CampaignRepo) CreateCampaign(ctx context.Context, c *domain.Campaign) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO campaigns (id, user_id, name, pitch, tone, status, start_time, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, c.ID, c.UserID, c.Name, c.Pitch, c.Tone, c.Status, c.StartTime, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	for _, tag := range c.Tags {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO campaign_tags (campaign_id, tag) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, c.ID, tag); err != nil {
			return fmt.Errorf("create campaign tag: %w", err)
		}
	}
	return tx.Commit()
}

func (r *CampaignRepo) GetCampaign(ctx context.Context, userID, id uuid.UUID) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, COALESCE(pitch,''), COALESCE(tone,''), status,
		       start_time, created_at, updated_at
		FROM campaigns
		WHERE id = $1 AND user_id = $2
	`, id, userID).Scan(
		&c.ID, &c.UserID, &c.Name, &c.Pitch, &c.Tone, &c.Status,
		&c.StartTime, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	if c.Tags, err = r.tags(ctx, id); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepo) tags(ctx context.Context, campaignID uuid.UUID) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT tag FROM campaign_tags WHERE campaign_id = $1 ORDER BY tag
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("get tags: %w", err)
	}
	defer rows.Close()
	tags := []string{}
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

func (r *CampaignRepo) ListCampaigns(ctx context.Context, userID uuid.UUID) ([]domain.Campaign, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.user_id, c.name, COALESCE(c.pitch,''), COALESCE(c.tone,''), c.status,
		       c.start_time, c.created_at, c.updated_at,
		       COALESCE(array_agg(t.tag ORDER BY t.tag) FILTER (WHERE t.tag IS NOT NULL), '{}')
		FROM campaigns c
		LEFT JOIN campaign_tags t ON t.campaign_id = c.id
		WHERE c.user_id = $1
		GROUP BY c.id
		ORDER BY c.created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		var c domain.Campaign
		if err := rows.Scan(
			&c.ID, &c.UserID, &c.Name, &c.Pitch, &c.Tone, &c.Status,
			&c.StartTime, &c.CreatedAt, &c.UpdatedAt, pq.Array(&c.Tags),
		); err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *CampaignRepo) UpdateCampaign(ctx context.Context, c *domain.Campaign) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET name = $1, pitch = $2, tone = $3, start_time = $4, updated_at = $5
		WHERE id = $6 AND user_id = $7
	`, c.Name, c.Pitch, c.Tone, c.StartTime, c.UpdatedAt, c.ID, c.UserID)
	if err != nil {
		return fmt.Errorf("update campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return campaign.ErrNotFound
	}
	return nil
}

func (r *CampaignRepo) DeleteCampaign(ctx context.Context, userID, id uuid.UUID) error {
	// Child rows cascade via foreign keys.
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM campaigns WHERE id = $1 AND user_id = $2
	`, id, userID)
	if err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return campaign.ErrNotFound
	}
	return nil
}

func (r *CampaignRepo) UpdateCampaignStatus(ctx context.Context, id uuid.UUID, from, to domain.CampaignStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, to, id, from)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return campaign.ErrInvalidTransition
	}
	return nil
}

func (r *CampaignRepo) LaunchCampaign(ctx context.Context, id uuid.UUID, startTime *time.Time, scheduledAt time.Time) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE campaigns SET status = 'active', start_time = $1, updated_at = NOW()
		WHERE id = $2 AND status = 'draft'
	`, startTime, id)
	if err != nil {
		return 0, fmt.Errorf("activate campaign: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, campaign.ErrInvalidTransition
	}

	res, err = tx.ExecContext(ctx, `
		INSERT INTO jobs (id, campaign_id, lead_id, template_id, step_number,
		                  status, scheduled_at, attempts, created_at, updated_at)
		SELECT gen_random_uuid(), l.campaign_id, l.id, t.id, 1,
		       'pending', $1, 0, NOW(), NOW()
		FROM leads l
		JOIN templates t ON t.campaign_id = l.campaign_id AND t.step_number = 1
		WHERE l.campaign_id = $2 AND l.status NOT IN ('replied','failed')
		ON CONFLICT (lead_id, step_number) DO NOTHING
	`, scheduledAt, id)
	if err != nil {
		return 0, fmt.Errorf("create step-1 jobs: %w", err)
	}
	n, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit launch: %w", err)
	}
	return int(n), nil
}

func (r *CampaignRepo) GetCampaignStats(ctx context.Context, id uuid.UUID) (*domain.CampaignStats, error) {
	s := &domain.CampaignStats{}
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'pending'),
		       COUNT(*) FILTER (WHERE status = 'contacted'),
		       COUNT(*) FILTER (WHERE status = 'replied'),
		       COUNT(*) FILTER (WHERE status = 'failed')
		FROM leads WHERE campaign_id = $1
	`, id).Scan(&s.TotalLeads, &s.PendingLeads, &s.ContactedLeads, &s.RepliedLeads, &s.FailedLeads)
	if err != nil {
		return nil, fmt.Errorf("lead stats: %w", err)
	}
	err = r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM jobs WHERE campaign_id = $1 AND status = 'pending'
	`, id).Scan(&s.PendingJobs)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	return s, nil
}

func (r *CampaignRepo) StepSummaries(ctx context.Context, id uuid.UUID) ([]domain.StepSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT step_number,
		       COUNT(*) FILTER (WHERE status = 'pending'),
		       COUNT(*) FILTER (WHERE status = 'sent'),
		       COUNT(*) FILTER (WHERE status = 'failed'),
		       COUNT(*) FILTER (WHERE status = 'skipped'),
		       MIN(scheduled_at) FILTER (WHERE status = 'pending')
		FROM jobs
		WHERE campaign_id = $1
		GROUP BY step_number
		ORDER BY step_number
	`, id)
	if err != nil {
		return nil, fmt.Errorf("step summaries: %w", err)
	}
	defer rows.Close()

	var out []domain.StepSummary
	for rows.Next() {
		var s domain.StepSummary
		if err := rows.Scan(&s.StepNumber, &s.Pending, &s.Sent, &s.Failed, &s.Skipped, &s.NextScheduled); err != nil {
			return nil, fmt.Errorf("scan step summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *CampaignRepo) CompletionState(ctx context.Context, id uuid.UUID) (int, int, error) {
	var pendingJobs, pendingLeads int
	err := r.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM jobs WHERE campaign_id = $1 AND status = 'pending'),
			(SELECT COUNT(*) FROM leads WHERE campaign_id = $1 AND status = 'pending')
	`, id).Scan(&pendingJobs, &pendingLeads)
	if err != nil {
		return 0, 0, fmt.Errorf("completion state: %w", err)
	}
	return pendingJobs, pendingLeads, nil
}

func (r *CampaignRepo) DuplicateCampaign(ctx context.Context, userID, id uuid.UUID, newName string) (*domain.Campaign, error) {
	src, err := r.GetCampaign(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	newID := uuid.New()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO campaigns (id, user_id, name, pitch, tone, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'draft', NOW(), NOW())
	`, newID, userID, newName, src.Pitch, src.Tone)
	if err != nil {
		return nil, fmt.Errorf("duplicate campaign: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO templates (id, campaign_id, step_number, subject, body, delay_minutes, created_at, updated_at)
		SELECT gen_random_uuid(), $1, step_number, subject, body, delay_minutes, NOW(), NOW()
		FROM templates WHERE campaign_id = $2
	`, newID, id)
	if err != nil {
		return nil, fmt.Errorf("duplicate templates: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO campaign_tags (campaign_id, tag)
		SELECT $1, tag FROM campaign_tags WHERE campaign_id = $2
	`, newID, id)
	if err != nil {
		return nil, fmt.Errorf("duplicate tags: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit duplicate: %w", err)
	}

	return r.GetCampaign(ctx, userID, newID)
}

func (r *CampaignRepo) AddTag(ctx context.Context, campaignID uuid.UUID, tag string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaign_tags (campaign_id, tag) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, campaignID, tag)
	if err != nil {
		return fmt.Errorf("add tag: %w", err)
	}
	return nil
}

func (r *CampaignRepo) RemoveTag(ctx context.Context, campaignID uuid.UUID, tag string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM campaign_tags WHERE campaign_id = $1 AND tag = $2
	`, campaignID, tag)
	if err != nil {
		return fmt.Errorf("remove tag: %w", err)
	}
	return nil
}

func (r *CampaignRepo) CreateLead(ctx context.Context, l *domain.Lead) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO leads (id, campaign_id, email, first_name, company, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, l.ID, l.CampaignID, l.Email, l.FirstName, l.Company, l.Status, l.CreatedAt, l.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return campaign.ErrDuplicateLead
		}
		return fmt.Errorf("create lead: %w", err)
	}
	return nil
}

func (r *CampaignRepo) ListLeads(ctx context.Context, campaignID uuid.UUID) ([]domain.Lead, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, campaign_id, email, COALESCE(first_name,''), COALESCE(company,''),
		       status, created_at, updated_at
		FROM leads
		WHERE campaign_id = $1
		ORDER BY created_at
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	defer rows.Close()

	var out []domain.Lead
	for rows.Next() {
		var l domain.Lead
		if err := rows.Scan(&l.ID, &l.CampaignID, &l.Email, &l.FirstName, &l.Company,
			&l.Status, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *CampaignRepo) GetLead(ctx context.Context, campaignID, leadID uuid.UUID) (*domain.Lead, error) {
	l := &domain.Lead{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, campaign_id, email, COALESCE(first_name,''), COALESCE(company,''),
		       status, created_at, updated_at
		FROM leads
		WHERE id = $1 AND campaign_id = $2
	`, leadID, campaignID).Scan(&l.ID, &l.CampaignID, &l.Email, &l.FirstName, &l.Company,
		&l.Status, &l.CreatedAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, campaign.ErrLeadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lead: %w", err)
	}
	return l, nil
}

func (r *CampaignRepo) CreateTemplate(ctx context.Context, t *domain.Template) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO templates (id, campaign_id, step_number, subject, body, delay_minutes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, t.ID, t.CampaignID, t.StepNumber, t.Subject, t.Body, t.DelayMinutes, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return campaign.ErrDuplicateStep
		}
		return fmt.Errorf("create template: %w", err)
	}
	return nil
}

func (r *CampaignRepo) ListTemplates(ctx context.Context, campaignID uuid.UUID) ([]domain.Template, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, campaign_id, step_number, subject, body, delay_minutes, created_at, updated_at
		FROM templates
		WHERE campaign_id = $1
		ORDER BY step_number
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []domain.Template
	for rows.Next() {
		var t domain.Template
		if err := rows.Scan(&t.ID, &t.CampaignID, &t.StepNumber, &t.Subject, &t.Body,
			&t.DelayMinutes, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *CampaignRepo) EmailHistory(ctx context.Context, campaignID, leadID uuid.UUID) ([]campaign.HistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT j.step_number, j.status, j.scheduled_at, j.sent_at,
		       COALESCE(t.subject,''), j.attempts, COALESCE(j.last_error,'')
		FROM jobs j
		LEFT JOIN templates t ON t.id = j.template_id
		WHERE j.campaign_id = $1 AND j.lead_id = $2
		ORDER BY j.step_number
	`, campaignID, leadID)
	if err != nil {
		return nil, fmt.Errorf("email history: %w", err)
	}
	defer rows.Close()

	var out []campaign.HistoryEntry
	for rows.Next() {
		var h campaign.HistoryEntry
		if err := rows.Scan(&h.StepNumber, &h.Status, &h.ScheduledAt, &h.SentAt,
			&h.Subject, &h.Attempts, &h.LastError); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *CampaignRepo) NextPendingJob(ctx context.Context, campaignID uuid.UUID) (*domain.Job, error) {
	j, err := scanJob(r.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE campaign_id = $1 AND status = 'pending'
		ORDER BY scheduled_at, campaign_id, lead_id, step_number
		LIMIT 1
	`, campaignID))
	if err == sql.ErrNoRows {
		return nil, campaign.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("next pending job: %w", err)
	}
	return j, nil
}

func (r *CampaignRepo) PullJobToNow(ctx context.Context, jobID uuid.UUID, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET scheduled_at = $1, updated_at = $1
		WHERE id = $2 AND status = 'pending'
	`, now, jobID)
	if err != nil {
		return fmt.Errorf("pull job: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return campaign.ErrJobNotFound
	}
	return nil
}

func (r *CampaignRepo) RetryJob(ctx context.Context, jobID uuid.UUID, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'pending', scheduled_at = $1, attempts = 0, last_error = NULL, updated_at = $1
		WHERE id = $2 AND status = 'failed'
	`, now, jobID)
	if err != nil {
		return fmt.Errorf("retry job: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return campaign.ErrJobNotFound
	}
	return nil
}

func (r *CampaignRepo) RetryAllFailed(ctx context.Context, campaignID uuid.UUID, now time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'pending', scheduled_at = $1, attempts = 0, last_error = NULL, updated_at = $1
		WHERE campaign_id = $2 AND status = 'failed'
	`, now, campaignID)
	if err != nil {
		return 0, fmt.Errorf("retry all failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
