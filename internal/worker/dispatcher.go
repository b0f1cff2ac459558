package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nimbusmail/outreach/internal/domain"
	"github.com/nimbusmail/outreach/internal/pkg/clock"
	"github.com/nimbusmail/outreach/internal/pkg/logger"
	"github.com/nimbusmail/outreach/internal/render"
	"github.com/nimbusmail/outreach/internal/schedule"
	"github.com/nimbusmail/outreach/internal/transport"
)

// Options tunes a Dispatcher.
type Options struct {
	PollInterval  time.Duration // default 5s
	BatchSize     int           // default 10
	MaxAttempts   int           // default 3
	SendTimeout   time.Duration // default 30s
	FromAddress   string
	FromName      string
	ReplyToDomain string // plus-addressed reply-to domain; empty disables
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 30 * time.Second
	}
	return o
}

// Dispatcher polls for due jobs, claims them one at a time, and runs
// each through validate → render → send → record. Any number of
// dispatchers may run against the same database; the claim's row lock
// keeps them from colliding.
type Dispatcher struct {
	store      Store
	campaigns  CompletionChecker
	sender     transport.EmailTransport
	clk        clock.Clock
	opts       Options
	dispatcher string // log tag, unique per process

	// Stats
	totalSent    int64
	totalFailed  int64
	totalSkipped int64

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
	wake    chan struct{}
}

// NewDispatcher creates a dispatcher. Call Start to begin polling.
func NewDispatcher(store Store, campaigns CompletionChecker, sender transport.EmailTransport, clk clock.Clock, opts Options) *Dispatcher {
	return &Dispatcher{
		store:      store,
		campaigns:  campaigns,
		sender:     sender,
		clk:        clk,
		opts:       opts.withDefaults(),
		dispatcher: fmt.Sprintf("dispatcher-%s", uuid.New().String()[:8]),
		wake:       make(chan struct{}, 1),
	}
}

// Start begins the poll loop.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.mu.Unlock()

	log.Printf("[Dispatcher] %s starting (poll=%s batch=%d max_attempts=%d)",
		d.dispatcher, d.opts.PollInterval, d.opts.BatchSize, d.opts.MaxAttempts)

	d.wg.Add(1)
	go d.loop()
}

// Stop finishes the in-flight job and exits. Claimed-but-unfinished
// work rolls back to pending.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.cancel()
	d.mu.Unlock()

	log.Printf("[Dispatcher] %s stopping...", d.dispatcher)
	d.wg.Wait()
	log.Printf("[Dispatcher] %s stopped. Total sent: %d, failed: %d, skipped: %d",
		d.dispatcher, atomic.LoadInt64(&d.totalSent), atomic.LoadInt64(&d.totalFailed), atomic.LoadInt64(&d.totalSkipped))
}

// Wake makes the loop poll immediately instead of waiting out the
// current sleep. Called after launch and send-now.
func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Stats returns lifetime counters.
func (d *Dispatcher) Stats() map[string]int64 {
	return map[string]int64{
		"total_sent":    atomic.LoadInt64(&d.totalSent),
		"total_failed":  atomic.LoadInt64(&d.totalFailed),
		"total_skipped": atomic.LoadInt64(&d.totalSkipped),
	}
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()

	for {
		d.Tick(d.ctx)

		select {
		case <-d.ctx.Done():
			return
		case <-d.wake:
		case <-time.After(d.opts.PollInterval):
		}
	}
}

// Tick runs one poll cycle: claim and process up to BatchSize due
// jobs, then sweep touched campaigns for completion. Exported so tests
// and the simulated mode can drive the dispatcher without the loop.
func (d *Dispatcher) Tick(ctx context.Context) {
	now := d.clk.Now()
	ids, err := d.store.DueJobs(ctx, now, d.opts.BatchSize)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("[Dispatcher] %s poll: %v", d.dispatcher, err)
		}
		return
	}

	touched := make(map[uuid.UUID]struct{})
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		if campaignID, ok := d.processJob(ctx, id); ok {
			touched[campaignID] = struct{}{}
		}
	}

	for campaignID := range touched {
		if _, err := d.campaigns.CheckCompletion(ctx, campaignID); err != nil && ctx.Err() == nil {
			log.Printf("[Dispatcher] %s completion check %s: %v", d.dispatcher, campaignID, err)
		}
	}
}

// processJob claims and resolves one job. Returns the campaign id and
// true when the job reached a final state this cycle (and so the
// campaign is worth a completion check).
func (d *Dispatcher) processJob(ctx context.Context, jobID uuid.UUID) (campaignID uuid.UUID, resolved bool) {
	claim, err := d.store.Claim(ctx, jobID)
	if err != nil {
		if !errors.Is(err, ErrJobUnavailable) && ctx.Err() == nil {
			log.Printf("[Dispatcher] %s claim %s: %v", d.dispatcher, jobID, err)
		}
		return uuid.Nil, false
	}

	finished := false
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Dispatcher] %s panic processing job %s: %v", d.dispatcher, jobID, r)
			if !finished {
				d.recordPanic(ctx, claim, r)
			}
			return
		}
		if !finished {
			_ = claim.Release()
		}
	}()

	job := claim.Job()
	camp := claim.Campaign()
	lead := claim.Lead()

	// Validation after lock. Campaign paused (or no longer active):
	// leave the row untouched so resume picks it up as-is.
	if camp.Status != domain.CampaignStatusActive {
		_ = claim.Release()
		finished = true
		return camp.ID, false
	}

	// Lead went terminal since scheduling: resolve without sending.
	if lead.Status.IsTerminal() {
		if err := claim.MarkSkipped(ctx, "lead terminal: "+string(lead.Status)); err != nil {
			log.Printf("[Dispatcher] %s skip job %s: %v", d.dispatcher, job.ID, err)
			return camp.ID, false
		}
		finished = true
		atomic.AddInt64(&d.totalSkipped, 1)
		return camp.ID, true
	}

	tpl := claim.Template()
	if tpl == nil {
		if err := claim.MarkSkipped(ctx, "template missing"); err != nil {
			log.Printf("[Dispatcher] %s skip job %s: %v", d.dispatcher, job.ID, err)
			return camp.ID, false
		}
		finished = true
		atomic.AddInt64(&d.totalSkipped, 1)
		return camp.ID, true
	}

	owner := claim.Owner()
	email := render.Render(tpl, lead, owner.SignatureHTML)

	msg := &transport.Message{
		FromAddress: d.opts.FromAddress,
		FromName:    d.fromName(owner),
		ReplyTo:     transport.ReplyToAddress(d.opts.ReplyToDomain, lead.ID.String()),
		To:          lead.Email,
		Subject:     email.Subject,
		HTMLBody:    email.BodyHTML,
		Metadata: map[string]string{
			"campaign_id": camp.ID.String(),
			"lead_id":     lead.ID.String(),
			"job_id":      job.ID.String(),
		},
	}

	attempts := job.Attempts + 1
	sendCtx, cancel := context.WithTimeout(ctx, d.opts.SendTimeout)
	messageID, sendErr := d.sender.Send(sendCtx, msg)
	cancel()

	if sendErr == nil {
		sentAt := d.clk.Now()
		next := d.nextJob(claim, sentAt)
		if err := claim.MarkSent(ctx, sentAt, messageID, next); err != nil {
			log.Printf("[Dispatcher] %s record sent job %s: %v", d.dispatcher, job.ID, err)
			return camp.ID, false
		}
		finished = true
		atomic.AddInt64(&d.totalSent, 1)
		log.Printf("[Dispatcher] %s sent job %s step %d to %s (attempt %d)",
			d.dispatcher, job.ID, job.StepNumber, logger.RedactEmail(lead.Email), attempts)
		return camp.ID, true
	}

	if transport.IsPermanent(sendErr) || attempts >= d.opts.MaxAttempts {
		if err := claim.MarkFailed(ctx, attempts, sendErr.Error(), true); err != nil {
			log.Printf("[Dispatcher] %s record failed job %s: %v", d.dispatcher, job.ID, err)
			return camp.ID, false
		}
		finished = true
		atomic.AddInt64(&d.totalFailed, 1)
		log.Printf("[Dispatcher] %s job %s failed permanently after %d attempts: %v",
			d.dispatcher, job.ID, attempts, sendErr)
		return camp.ID, true
	}

	retryAt := schedule.RetryAt(d.clk.Now(), attempts)
	if err := claim.RescheduleRetry(ctx, retryAt, attempts, sendErr.Error()); err != nil {
		log.Printf("[Dispatcher] %s reschedule job %s: %v", d.dispatcher, job.ID, err)
		return camp.ID, false
	}
	finished = true
	log.Printf("[Dispatcher] %s job %s attempt %d failed, retrying at %s: %v",
		d.dispatcher, job.ID, attempts, retryAt.Format(time.RFC3339), sendErr)
	return camp.ID, false
}

// recordPanic resolves a claim interrupted by a panic as a transient
// failure, so the attempt counts and the message lands in last_error
// instead of the job silently reverting to pending every tick. Past
// the attempt budget the job fails for good.
func (d *Dispatcher) recordPanic(ctx context.Context, claim Claim, r any) {
	job := claim.Job()
	attempts := job.Attempts + 1
	msg := fmt.Sprintf("panic: %v", r)

	if attempts >= d.opts.MaxAttempts {
		if err := claim.MarkFailed(ctx, attempts, msg, true); err != nil {
			_ = claim.Release()
			return
		}
		atomic.AddInt64(&d.totalFailed, 1)
		return
	}
	retryAt := schedule.RetryAt(d.clk.Now(), attempts)
	if err := claim.RescheduleRetry(ctx, retryAt, attempts, msg); err != nil {
		_ = claim.Release()
	}
}

// nextJob builds the follow-up job anchored on the actual send time,
// or nil when the sequence has no further step.
func (d *Dispatcher) nextJob(claim Claim, sentAt time.Time) *domain.Job {
	nt := claim.NextTemplate()
	if nt == nil {
		return nil
	}
	job := claim.Job()
	return &domain.Job{
		ID:          uuid.New(),
		CampaignID:  job.CampaignID,
		LeadID:      job.LeadID,
		TemplateID:  nt.ID,
		StepNumber:  nt.StepNumber,
		Status:      domain.JobStatusPending,
		ScheduledAt: schedule.NextStepAt(sentAt, nt.DelayMinutes),
		CreatedAt:   sentAt,
		UpdatedAt:   sentAt,
	}
}

func (d *Dispatcher) fromName(owner *domain.User) string {
	if d.opts.FromName != "" {
		return d.opts.FromName
	}
	return owner.FirstName
}
