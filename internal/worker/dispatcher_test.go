package worker_test

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nimbusmail/outreach/internal/domain"
	"github.com/nimbusmail/outreach/internal/pkg/clock"
	"github.com/nimbusmail/outreach/internal/transport"
	"github.com/nimbusmail/outreach/internal/worker"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeStore is an in-memory worker.Store with claim semantics.
type fakeStore struct {
	mu        sync.Mutex
	jobs      map[uuid.UUID]*domain.Job
	campaigns map[uuid.UUID]*domain.Campaign
	leads     map[uuid.UUID]*domain.Lead
	templates map[uuid.UUID]map[int]*domain.Template
	owner     *domain.User
	claimed   map[uuid.UUID]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:      make(map[uuid.UUID]*domain.Job),
		campaigns: make(map[uuid.UUID]*domain.Campaign),
		leads:     make(map[uuid.UUID]*domain.Lead),
		templates: make(map[uuid.UUID]map[int]*domain.Template),
		owner:     &domain.User{ID: uuid.New(), Email: "owner@example.com", FirstName: "Sam", SignatureHTML: "<p>Sam</p>"},
		claimed:   make(map[uuid.UUID]bool),
	}
}

func (s *fakeStore) addTemplate(campaignID uuid.UUID, step, delay int, subject, body string) *domain.Template {
	t := &domain.Template{ID: uuid.New(), CampaignID: campaignID, StepNumber: step, Subject: subject, Body: body, DelayMinutes: delay}
	if s.templates[campaignID] == nil {
		s.templates[campaignID] = make(map[int]*domain.Template)
	}
	s.templates[campaignID][step] = t
	return t
}

func (s *fakeStore) DueJobs(_ context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*domain.Job
	for _, j := range s.jobs {
		if j.Due(now) && !s.claimed[j.ID] {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(i, k int) bool {
		a, b := due[i], due[k]
		if !a.ScheduledAt.Equal(b.ScheduledAt) {
			return a.ScheduledAt.Before(b.ScheduledAt)
		}
		if a.CampaignID != b.CampaignID {
			return a.CampaignID.String() < b.CampaignID.String()
		}
		if a.LeadID != b.LeadID {
			return a.LeadID.String() < b.LeadID.String()
		}
		return a.StepNumber < b.StepNumber
	})
	var ids []uuid.UUID
	for _, j := range due {
		if len(ids) >= limit {
			break
		}
		ids = append(ids, j.ID)
	}
	return ids, nil
}

func (s *fakeStore) Claim(_ context.Context, jobID uuid.UUID) (worker.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok || j.Status != domain.JobStatusPending || s.claimed[jobID] {
		return nil, worker.ErrJobUnavailable
	}
	s.claimed[jobID] = true
	jc := *j
	lead := *s.leads[j.LeadID]
	camp := *s.campaigns[j.CampaignID]
	claim := &fakeClaim{store: s, job: &jc, lead: &lead, campaign: &camp}
	if steps := s.templates[j.CampaignID]; steps != nil {
		claim.tpl = steps[j.StepNumber]
		claim.next = steps[j.StepNumber+1]
	}
	return claim, nil
}

type fakeClaim struct {
	store    *fakeStore
	job      *domain.Job
	campaign *domain.Campaign
	lead     *domain.Lead
	tpl      *domain.Template
	next     *domain.Template
}

func (c *fakeClaim) Job() *domain.Job               { return c.job }
func (c *fakeClaim) Campaign() *domain.Campaign     { return c.campaign }
func (c *fakeClaim) Lead() *domain.Lead             { return c.lead }
func (c *fakeClaim) Template() *domain.Template     { return c.tpl }
func (c *fakeClaim) NextTemplate() *domain.Template { return c.next }
func (c *fakeClaim) Owner() *domain.User            { return c.store.owner }

func (c *fakeClaim) finish() { delete(c.store.claimed, c.job.ID) }

func (c *fakeClaim) MarkSent(_ context.Context, sentAt time.Time, messageID string, next *domain.Job) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	j := c.store.jobs[c.job.ID]
	j.Status = domain.JobStatusSent
	j.SentAt = &sentAt
	j.MessageID = messageID
	j.Attempts++
	if lead := c.store.leads[j.LeadID]; lead.Status == domain.LeadStatusPending {
		lead.Status = domain.LeadStatusContacted
	}
	if next != nil {
		cp := *next
		c.store.jobs[cp.ID] = &cp
	}
	c.finish()
	return nil
}

func (c *fakeClaim) MarkSkipped(_ context.Context, reason string) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	j := c.store.jobs[c.job.ID]
	j.Status = domain.JobStatusSkipped
	j.LastError = reason
	c.finish()
	return nil
}

func (c *fakeClaim) RescheduleRetry(_ context.Context, at time.Time, attempts int, sendErr string) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	j := c.store.jobs[c.job.ID]
	j.ScheduledAt = at
	j.Attempts = attempts
	j.LastError = sendErr
	c.finish()
	return nil
}

func (c *fakeClaim) MarkFailed(_ context.Context, attempts int, sendErr string, failLead bool) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	j := c.store.jobs[c.job.ID]
	j.Status = domain.JobStatusFailed
	j.Attempts = attempts
	j.LastError = sendErr
	if failLead {
		if lead := c.store.leads[j.LeadID]; lead.Status != domain.LeadStatusReplied {
			lead.Status = domain.LeadStatusFailed
		}
	}
	c.finish()
	return nil
}

func (c *fakeClaim) Release() error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	c.finish()
	return nil
}

// fakeSender scripts transport outcomes.
type fakeSender struct {
	mu    sync.Mutex
	sent  []*transport.Message
	errs  []error // consumed per call; nil entry = success
	delay time.Duration
}

func (f *fakeSender) Send(_ context.Context, msg *transport.Message) (string, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var err error
	if len(f.errs) > 0 {
		err, f.errs = f.errs[0], f.errs[1:]
	}
	if err != nil {
		return "", err
	}
	cp := *msg
	f.sent = append(f.sent, &cp)
	return "fake-" + uuid.NewString()[:8], nil
}

func (f *fakeSender) VerifyInbound(*http.Request) bool { return false }
func (f *fakeSender) ParseInbound(*http.Request) (*transport.InboundMessage, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeSender) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// fakeChecker records completion sweeps.
type fakeChecker struct {
	mu    sync.Mutex
	calls []uuid.UUID
}

func (f *fakeChecker) CheckCompletion(_ context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)
	return false, nil
}

// seed creates an active campaign with one pending lead and a due
// step-1 job.
func seed(s *fakeStore) (campID, leadID, jobID uuid.UUID) {
	campID, leadID, jobID = uuid.New(), uuid.New(), uuid.New()
	s.campaigns[campID] = &domain.Campaign{ID: campID, UserID: s.owner.ID, Name: "Q1 outreach", Status: domain.CampaignStatusActive}
	s.leads[leadID] = &domain.Lead{ID: leadID, CampaignID: campID, Email: "ana@corp.com", FirstName: "Ana", Company: "Corp", Status: domain.LeadStatusPending}
	tpl := s.addTemplate(campID, 1, 0, "Hi {{first_name}}", "<p>Hello {{first_name}} at {{company}}</p>")
	s.jobs[jobID] = &domain.Job{ID: jobID, CampaignID: campID, LeadID: leadID, TemplateID: tpl.ID, StepNumber: 1, Status: domain.JobStatusPending, ScheduledAt: base}
	return
}

func newDispatcher(s *fakeStore, sender transport.EmailTransport, checker worker.CompletionChecker, clk clock.Clock) *worker.Dispatcher {
	return worker.NewDispatcher(s, checker, sender, clk, worker.Options{
		FromAddress:   "sam@example.com",
		FromName:      "Sam",
		ReplyToDomain: "reply.example.com",
		MaxAttempts:   3,
	})
}

func TestTickSendsDueJob(t *testing.T) {
	store := newFakeStore()
	campID, leadID, jobID := seed(store)
	sender := &fakeSender{}
	checker := &fakeChecker{}
	clk := clock.NewFake(base)

	d := newDispatcher(store, sender, checker, clk)
	d.Tick(context.Background())

	job := store.jobs[jobID]
	if job.Status != domain.JobStatusSent {
		t.Fatalf("job status = %s", job.Status)
	}
	if job.MessageID == "" || job.SentAt == nil {
		t.Error("sent job must carry message_id and sent_at")
	}
	if store.leads[leadID].Status != domain.LeadStatusContacted {
		t.Errorf("lead status = %s, want contacted", store.leads[leadID].Status)
	}

	if got := sender.sentCount(); got != 1 {
		t.Fatalf("sent %d messages", got)
	}
	msg := sender.sent[0]
	if msg.Subject != "Hi Ana" {
		t.Errorf("subject = %q", msg.Subject)
	}
	if !strings.Contains(msg.HTMLBody, "Hello Ana at Corp") || !strings.Contains(msg.HTMLBody, "<p>Sam</p>") {
		t.Errorf("body = %q", msg.HTMLBody)
	}
	if msg.ReplyTo != "reply+"+leadID.String()+"@reply.example.com" {
		t.Errorf("reply-to = %q", msg.ReplyTo)
	}

	if len(checker.calls) != 1 || checker.calls[0] != campID {
		t.Errorf("completion sweep calls = %v", checker.calls)
	}
}

func TestFollowUpAnchoredOnActualSendTime(t *testing.T) {
	store := newFakeStore()
	campID, leadID, jobID := seed(store)
	store.addTemplate(campID, 2, 60, "Following up", "<p>Still interested?</p>")

	// The job was due at base but the dispatcher only gets to it 45
	// minutes late.
	clk := clock.NewFake(base.Add(45 * time.Minute))
	d := newDispatcher(store, &fakeSender{}, &fakeChecker{}, clk)
	d.Tick(context.Background())

	var next *domain.Job
	for _, j := range store.jobs {
		if j.StepNumber == 2 {
			next = j
		}
	}
	if next == nil {
		t.Fatal("follow-up job not created")
	}
	want := base.Add(45 * time.Minute).Add(60 * time.Minute)
	if !next.ScheduledAt.Equal(want) {
		t.Errorf("follow-up scheduled_at = %v, want %v (sent_at + delay)", next.ScheduledAt, want)
	}
	if next.LeadID != leadID || next.Status != domain.JobStatusPending {
		t.Errorf("follow-up = %+v", next)
	}
	if store.jobs[jobID].Status != domain.JobStatusSent {
		t.Errorf("step 1 not sent")
	}
}

func TestLastStepCreatesNoFollowUp(t *testing.T) {
	store := newFakeStore()
	_, _, jobID := seed(store)
	d := newDispatcher(store, &fakeSender{}, &fakeChecker{}, clock.NewFake(base))
	d.Tick(context.Background())

	if len(store.jobs) != 1 {
		t.Fatalf("expected no follow-up, have %d jobs", len(store.jobs))
	}
	if store.jobs[jobID].Status != domain.JobStatusSent {
		t.Errorf("job status = %s", store.jobs[jobID].Status)
	}
}

func TestPausedCampaignLeavesJobUntouched(t *testing.T) {
	store := newFakeStore()
	campID, _, jobID := seed(store)
	store.campaigns[campID].Status = domain.CampaignStatusPaused
	sender := &fakeSender{}

	d := newDispatcher(store, sender, &fakeChecker{}, clock.NewFake(base))
	d.Tick(context.Background())

	job := store.jobs[jobID]
	if job.Status != domain.JobStatusPending {
		t.Fatalf("paused campaign mutated job: %s", job.Status)
	}
	if !job.ScheduledAt.Equal(base) {
		t.Errorf("scheduled_at changed on pause: %v", job.ScheduledAt)
	}
	if sender.sentCount() != 0 {
		t.Error("sent while paused")
	}
	if store.claimed[jobID] {
		t.Error("claim not released")
	}

	// Resume: the same overdue job sends with its original schedule.
	store.campaigns[campID].Status = domain.CampaignStatusActive
	d.Tick(context.Background())
	if store.jobs[jobID].Status != domain.JobStatusSent {
		t.Errorf("job not sent after resume: %s", store.jobs[jobID].Status)
	}
}

func TestRepliedLeadSkipped(t *testing.T) {
	store := newFakeStore()
	_, leadID, jobID := seed(store)
	store.leads[leadID].Status = domain.LeadStatusReplied
	sender := &fakeSender{}

	d := newDispatcher(store, sender, &fakeChecker{}, clock.NewFake(base))
	d.Tick(context.Background())

	job := store.jobs[jobID]
	if job.Status != domain.JobStatusSkipped {
		t.Fatalf("job status = %s, want skipped", job.Status)
	}
	if job.LastError != "lead terminal: replied" {
		t.Errorf("skip reason = %q", job.LastError)
	}
	if sender.sentCount() != 0 {
		t.Error("sent to replied lead")
	}
}

func TestTemplateMissingSkipped(t *testing.T) {
	store := newFakeStore()
	campID, _, jobID := seed(store)
	delete(store.templates[campID], 1)
	sender := &fakeSender{}

	d := newDispatcher(store, sender, &fakeChecker{}, clock.NewFake(base))
	d.Tick(context.Background())

	job := store.jobs[jobID]
	if job.Status != domain.JobStatusSkipped || job.LastError != "template missing" {
		t.Fatalf("job = %s (%s)", job.Status, job.LastError)
	}
	if sender.sentCount() != 0 {
		t.Error("sent without template")
	}
}

func TestTransientFailureRetriesWithBackoff(t *testing.T) {
	store := newFakeStore()
	_, leadID, jobID := seed(store)
	sender := &fakeSender{errs: []error{
		transport.Transient(errors.New("timeout")),
		transport.Transient(errors.New("timeout")),
		transport.Transient(errors.New("timeout")),
	}}
	clk := clock.NewFake(base)
	d := newDispatcher(store, sender, &fakeChecker{}, clk)

	// Attempt 1: back off 60s.
	d.Tick(context.Background())
	job := store.jobs[jobID]
	if job.Status != domain.JobStatusPending || job.Attempts != 1 {
		t.Fatalf("after attempt 1: %s attempts=%d", job.Status, job.Attempts)
	}
	if want := base.Add(60 * time.Second); !job.ScheduledAt.Equal(want) {
		t.Fatalf("retry 1 at %v, want %v", job.ScheduledAt, want)
	}

	// Attempt 2: back off 120s.
	clk.Set(job.ScheduledAt)
	d.Tick(context.Background())
	if job.Attempts != 2 {
		t.Fatalf("attempts = %d", job.Attempts)
	}
	if want := clk.Now().Add(120 * time.Second); !job.ScheduledAt.Equal(want) {
		t.Fatalf("retry 2 at %v, want %v", job.ScheduledAt, want)
	}

	// Attempt 3 is the last: job fails, lead fails.
	clk.Set(job.ScheduledAt)
	d.Tick(context.Background())
	if job.Status != domain.JobStatusFailed || job.Attempts != 3 {
		t.Fatalf("after attempt 3: %s attempts=%d", job.Status, job.Attempts)
	}
	if store.leads[leadID].Status != domain.LeadStatusFailed {
		t.Errorf("lead status = %s, want failed", store.leads[leadID].Status)
	}
	if job.LastError == "" {
		t.Error("last_error empty after failure")
	}
}

// panicSender blows up mid-send a scripted number of times, then
// behaves like the inner fakeSender.
type panicSender struct {
	fakeSender
	panics int
}

func (p *panicSender) Send(ctx context.Context, msg *transport.Message) (string, error) {
	if p.panics > 0 {
		p.panics--
		panic("codec blew up")
	}
	return p.fakeSender.Send(ctx, msg)
}

func TestPanicDuringSendRecordedAsTransientFailure(t *testing.T) {
	store := newFakeStore()
	_, leadID, jobID := seed(store)
	sender := &panicSender{panics: 3}
	clk := clock.NewFake(base)
	d := newDispatcher(store, sender, &fakeChecker{}, clk)

	d.Tick(context.Background())
	job := store.jobs[jobID]
	if job.Status != domain.JobStatusPending || job.Attempts != 1 {
		t.Fatalf("after panic 1: %s attempts=%d", job.Status, job.Attempts)
	}
	if !strings.Contains(job.LastError, "panic") {
		t.Fatalf("last_error = %q, want the panic recorded", job.LastError)
	}
	if want := base.Add(60 * time.Second); !job.ScheduledAt.Equal(want) {
		t.Fatalf("retry at %v, want %v", job.ScheduledAt, want)
	}
	if store.claimed[jobID] {
		t.Error("claim not released after panic")
	}

	// Two more panics exhaust the attempt budget: job and lead fail,
	// same as a send error would.
	clk.Set(job.ScheduledAt)
	d.Tick(context.Background())
	clk.Set(job.ScheduledAt)
	d.Tick(context.Background())
	if job.Status != domain.JobStatusFailed || job.Attempts != 3 {
		t.Fatalf("after panic 3: %s attempts=%d", job.Status, job.Attempts)
	}
	if store.leads[leadID].Status != domain.LeadStatusFailed {
		t.Errorf("lead status = %s, want failed", store.leads[leadID].Status)
	}
}

func TestPermanentFailureNoRetry(t *testing.T) {
	store := newFakeStore()
	_, leadID, jobID := seed(store)
	sender := &fakeSender{errs: []error{transport.Permanent(errors.New("invalid address"))}}

	d := newDispatcher(store, sender, &fakeChecker{}, clock.NewFake(base))
	d.Tick(context.Background())

	job := store.jobs[jobID]
	if job.Status != domain.JobStatusFailed || job.Attempts != 1 {
		t.Fatalf("job = %s attempts=%d, want failed after one attempt", job.Status, job.Attempts)
	}
	if store.leads[leadID].Status != domain.LeadStatusFailed {
		t.Errorf("lead status = %s", store.leads[leadID].Status)
	}
}

func TestConcurrentDispatchersNoDoubleSend(t *testing.T) {
	store := newFakeStore()
	campID := uuid.New()
	store.campaigns[campID] = &domain.Campaign{ID: campID, UserID: store.owner.ID, Name: "bulk", Status: domain.CampaignStatusActive}
	tpl := store.addTemplate(campID, 1, 0, "Hi {{first_name}}", "<p>hi</p>")
	for i := 0; i < 40; i++ {
		leadID, jobID := uuid.New(), uuid.New()
		store.leads[leadID] = &domain.Lead{ID: leadID, CampaignID: campID, Email: "x@corp.com", Status: domain.LeadStatusPending}
		store.jobs[jobID] = &domain.Job{ID: jobID, CampaignID: campID, LeadID: leadID, TemplateID: tpl.ID, StepNumber: 1, Status: domain.JobStatusPending, ScheduledAt: base}
	}

	sender := &fakeSender{delay: time.Millisecond}
	clk := clock.NewFake(base)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		d := worker.NewDispatcher(store, &fakeChecker{}, sender, clk, worker.Options{
			FromAddress: "sam@example.com", BatchSize: 40, MaxAttempts: 3,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Tick(context.Background())
			d.Tick(context.Background())
		}()
	}
	wg.Wait()

	if got := sender.sentCount(); got != 40 {
		t.Fatalf("sent %d messages for 40 jobs", got)
	}
	for _, j := range store.jobs {
		if j.Status != domain.JobStatusSent {
			t.Errorf("job %s left %s", j.ID, j.Status)
		}
	}
}

func TestStartStopLifecycle(t *testing.T) {
	store := newFakeStore()
	_, _, jobID := seed(store)
	sender := &fakeSender{}

	d := worker.NewDispatcher(store, &fakeChecker{}, sender, clock.New(), worker.Options{
		FromAddress:  "sam@example.com",
		PollInterval: time.Hour, // rely on Wake, not the timer
		MaxAttempts:  3,
	})
	d.Start()
	defer d.Stop()

	store.mu.Lock()
	store.jobs[jobID].ScheduledAt = time.Now().UTC().Add(-time.Minute)
	store.mu.Unlock()
	d.Wake()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		store.mu.Lock()
		st := store.jobs[jobID].Status
		store.mu.Unlock()
		if st == domain.JobStatusSent {
			if d.Stats()["total_sent"] != 1 {
				t.Errorf("stats = %v", d.Stats())
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job not processed after Wake")
}
