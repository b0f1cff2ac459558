package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/nimbusmail/outreach/internal/domain"
	"github.com/nimbusmail/outreach/internal/service/campaign"
	"github.com/nimbusmail/outreach/internal/service/ingest"
	"github.com/nimbusmail/outreach/internal/worker"
)

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	return db, mock, func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	}
}

func jobRow(jobID, campaignID, leadID, templateID uuid.UUID, now time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "campaign_id", "lead_id", "template_id", "step_number", "status",
		"scheduled_at", "attempts", "sent_at", "message_id", "last_error",
		"created_at", "updated_at",
	}).AddRow(jobID, campaignID, leadID, templateID, 1, "pending", now, 0, nil, "", "", now, now)
}

// =============================================================================
// JOB STORE
// =============================================================================

func TestJobStore_DueJobs(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	a, b := uuid.New(), uuid.New()
	mock.ExpectQuery("SELECT id FROM jobs").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(a).AddRow(b))

	ids, err := NewJobStore(db).DueJobs(context.Background(), time.Now(), 10)
	if err != nil {
		t.Fatalf("DueJobs: %v", err)
	}
	if len(ids) != 2 || ids[0] != a || ids[1] != b {
		t.Errorf("ids = %v", ids)
	}
}

func TestJobStore_ClaimUnavailable(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := NewJobStore(db).Claim(context.Background(), uuid.New())
	if !errors.Is(err, worker.ErrJobUnavailable) {
		t.Errorf("err = %v, want ErrJobUnavailable", err)
	}
}

func TestJobStore_ClaimAndMarkSent(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	now := time.Now()
	jobID, campaignID, leadID := uuid.New(), uuid.New(), uuid.New()
	templateID, userID := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
		WillReturnRows(jobRow(jobID, campaignID, leadID, templateID, now))
	mock.ExpectQuery("FROM campaigns WHERE id").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "name", "pitch", "tone", "status", "start_time", "created_at", "updated_at",
		}).AddRow(campaignID, userID, "Q3 outreach", "", "", "active", nil, now, now))
	mock.ExpectQuery("FROM leads WHERE id").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "campaign_id", "email", "first_name", "company", "status", "created_at", "updated_at",
		}).AddRow(leadID, campaignID, "ada@example.com", "Ada", "Initech", "pending", now, now))
	mock.ExpectQuery("FROM templates WHERE campaign_id").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "campaign_id", "step_number", "subject", "body", "delay_minutes", "created_at", "updated_at",
		}).AddRow(templateID, campaignID, 1, "Hi", "Body", 0, now, now))
	mock.ExpectQuery("FROM templates WHERE campaign_id").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("FROM users WHERE id").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "email", "first_name", "signature_html", "profile_completed", "created_at", "updated_at",
		}).AddRow(userID, "owner@example.com", "Sam", "", true, now, now))

	claim, err := NewJobStore(db).Claim(context.Background(), jobID)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if claim.Campaign().Status != domain.CampaignStatusActive {
		t.Errorf("campaign status = %s", claim.Campaign().Status)
	}
	if claim.NextTemplate() != nil {
		t.Error("expected no next template")
	}

	mock.ExpectExec("UPDATE jobs").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE leads").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := claim.MarkSent(context.Background(), now, "msg-1", nil); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}
}

func TestJobStore_ReleaseRollsBack(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	now := time.Now()
	jobID, campaignID, leadID := uuid.New(), uuid.New(), uuid.New()
	templateID, userID := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
		WillReturnRows(jobRow(jobID, campaignID, leadID, templateID, now))
	mock.ExpectQuery("FROM campaigns WHERE id").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "name", "pitch", "tone", "status", "start_time", "created_at", "updated_at",
		}).AddRow(campaignID, userID, "Q3 outreach", "", "", "paused", nil, now, now))
	mock.ExpectQuery("FROM leads WHERE id").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "campaign_id", "email", "first_name", "company", "status", "created_at", "updated_at",
		}).AddRow(leadID, campaignID, "ada@example.com", "Ada", "", "pending", now, now))
	mock.ExpectQuery("FROM templates WHERE campaign_id").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("FROM templates WHERE campaign_id").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("FROM users WHERE id").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "email", "first_name", "signature_html", "profile_completed", "created_at", "updated_at",
		}).AddRow(userID, "owner@example.com", "Sam", "", true, now, now))
	mock.ExpectRollback()

	claim, err := NewJobStore(db).Claim(context.Background(), jobID)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := claim.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	// Double release is a no-op.
	if err := claim.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}
}

// =============================================================================
// CAMPAIGN REPO
// =============================================================================

func TestCampaignRepo_StatusCAS(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	id := uuid.New()
	repo := NewCampaignRepo(db)

	mock.ExpectExec("UPDATE campaigns SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := repo.UpdateCampaignStatus(context.Background(), id, domain.CampaignStatusActive, domain.CampaignStatusPaused); err != nil {
		t.Fatalf("pause: %v", err)
	}

	// Status moved underneath us: zero rows matched.
	mock.ExpectExec("UPDATE campaigns SET status").
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.UpdateCampaignStatus(context.Background(), id, domain.CampaignStatusActive, domain.CampaignStatusPaused)
	if !errors.Is(err, campaign.ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestCampaignRepo_Launch(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	id := uuid.New()
	scheduledAt := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE campaigns SET status = 'active'").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO jobs").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	created, err := NewCampaignRepo(db).LaunchCampaign(context.Background(), id, nil, scheduledAt)
	if err != nil {
		t.Fatalf("LaunchCampaign: %v", err)
	}
	if created != 3 {
		t.Errorf("created = %d, want 3", created)
	}
}

func TestCampaignRepo_LaunchNotDraft(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE campaigns SET status = 'active'").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := NewCampaignRepo(db).LaunchCampaign(context.Background(), uuid.New(), nil, time.Now())
	if !errors.Is(err, campaign.ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestCampaignRepo_CompletionState(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectQuery("SELECT").
		WillReturnRows(sqlmock.NewRows([]string{"jobs", "leads"}).AddRow(0, 2))

	jobs, leads, err := NewCampaignRepo(db).CompletionState(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("CompletionState: %v", err)
	}
	if jobs != 0 || leads != 2 {
		t.Errorf("jobs=%d leads=%d", jobs, leads)
	}
}

// =============================================================================
// INGEST REPO
// =============================================================================

func TestIngestRepo_MarkReplied(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	leadID := uuid.New()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT campaign_id, status FROM leads").
		WillReturnRows(sqlmock.NewRows([]string{"campaign_id", "status"}).AddRow(uuid.New().String(), "contacted"))
	mock.ExpectExec("UPDATE leads SET status = 'replied'").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE jobs SET status = 'skipped'").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	res, err := NewIngestRepository(db).MarkReplied(context.Background(), leadID)
	if err != nil {
		t.Fatalf("MarkReplied: %v", err)
	}
	if !res.Changed || res.CancelledJobs != 2 {
		t.Errorf("result = %+v", res)
	}
}

func TestIngestRepo_MarkRepliedTerminalLead(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT campaign_id, status FROM leads").
		WillReturnRows(sqlmock.NewRows([]string{"campaign_id", "status"}).AddRow(uuid.New().String(), "replied"))
	mock.ExpectCommit()

	res, err := NewIngestRepository(db).MarkReplied(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("MarkReplied: %v", err)
	}
	if res.Changed {
		t.Errorf("result = %+v, want unchanged", res)
	}
}

func TestIngestRepo_MarkRepliedUnknownLead(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT campaign_id, status FROM leads").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := NewIngestRepository(db).MarkReplied(context.Background(), uuid.New())
	if !errors.Is(err, ingest.ErrLeadNotFound) {
		t.Errorf("err = %v, want ErrLeadNotFound", err)
	}
}

func TestIngestRepo_BounceWithEarlierDelivery(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	leadID := uuid.New()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT campaign_id, status FROM leads").
		WillReturnRows(sqlmock.NewRows([]string{"campaign_id", "status"}).AddRow(uuid.New().String(), "contacted"))
	mock.ExpectExec("UPDATE jobs SET status = 'failed'").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectCommit()

	res, err := NewIngestRepository(db).FailLeadFromBounce(context.Background(), leadID, "msg-2")
	if err != nil {
		t.Fatalf("FailLeadFromBounce: %v", err)
	}
	if res.Changed {
		t.Errorf("result = %+v, want lead untouched", res)
	}
}

func TestIngestRepo_BounceFailsLead(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	leadID := uuid.New()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT campaign_id, status FROM leads").
		WillReturnRows(sqlmock.NewRows([]string{"campaign_id", "status"}).AddRow(uuid.New().String(), "contacted"))
	mock.ExpectExec("UPDATE jobs SET status = 'failed'").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("UPDATE leads SET status = 'failed'").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE jobs SET status = 'skipped'").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := NewIngestRepository(db).FailLeadFromBounce(context.Background(), leadID, "msg-1")
	if err != nil {
		t.Fatalf("FailLeadFromBounce: %v", err)
	}
	if !res.Changed || res.CancelledJobs != 1 {
		t.Errorf("result = %+v", res)
	}
}

// =============================================================================
// USER REPO
// =============================================================================

func TestUserRepo_GetOrCreateNormalizesEmail(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	now := time.Now()
	id := uuid.New()
	mock.ExpectQuery("INSERT INTO users").
		WithArgs(sqlmock.AnyArg(), "sam@example.com").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "email", "first_name", "signature_html", "profile_completed", "created_at", "updated_at",
		}).AddRow(id, "sam@example.com", "", "", false, now, now))

	u, err := NewUserRepository(db).GetOrCreateUser(context.Background(), "  Sam@Example.COM ")
	if err != nil {
		t.Fatalf("GetOrCreateUser: %v", err)
	}
	if u.Email != "sam@example.com" {
		t.Errorf("email = %s", u.Email)
	}
}
