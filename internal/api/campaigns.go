package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nimbusmail/outreach/internal/domain"
	"github.com/nimbusmail/outreach/internal/pkg/httputil"
	"github.com/nimbusmail/outreach/internal/service/campaign"
)

// campaignResponse is a campaign plus its aggregates on detail reads.
type campaignResponse struct {
	*domain.Campaign
	Stats *domain.CampaignStats `json:"stats,omitempty"`
}

// ListCampaigns returns the user's campaigns, newest first.
func (h *Handlers) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	out, err := h.campaigns.List(r.Context(), h.userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if out == nil {
		out = []domain.Campaign{}
	}
	httputil.OK(w, out)
}

// CreateCampaign creates a draft campaign.
func (h *Handlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var input campaign.CreateInput
	if !httputil.Decode(w, r, &input) {
		return
	}
	c, err := h.campaigns.Create(r.Context(), h.userID(r), input)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.Created(w, c)
}

// GetCampaign returns one campaign with stats.
func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "campaignID")
	if !ok {
		return
	}
	c, stats, err := h.campaigns.Get(r.Context(), h.userID(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, campaignResponse{Campaign: c, Stats: stats})
}

// UpdateCampaign applies partial edits to a campaign.
func (h *Handlers) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "campaignID")
	if !ok {
		return
	}
	var input campaign.UpdateInput
	if !httputil.Decode(w, r, &input) {
		return
	}
	c, err := h.campaigns.Update(r.Context(), h.userID(r), id, input)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, c)
}

// DeleteCampaign removes a draft campaign.
func (h *Handlers) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "campaignID")
	if !ok {
		return
	}
	if err := h.campaigns.Delete(r.Context(), h.userID(r), id); err != nil {
		writeError(w, err)
		return
	}
	httputil.NoContent(w)
}

// LaunchCampaign activates a draft and schedules its step-1 sends.
func (h *Handlers) LaunchCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "campaignID")
	if !ok {
		return
	}
	var input struct {
		StartTime *time.Time `json:"start_time"`
	}
	if r.ContentLength > 0 && !httputil.Decode(w, r, &input) {
		return
	}
	n, err := h.campaigns.Launch(r.Context(), h.userID(r), id, input.StartTime)
	if err != nil {
		writeError(w, err)
		return
	}
	h.wake()
	httputil.OK(w, map[string]int{"jobs_created": n})
}

// PauseCampaign pauses an active campaign. Pending jobs are untouched.
func (h *Handlers) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "campaignID")
	if !ok {
		return
	}
	if err := h.campaigns.Pause(r.Context(), h.userID(r), id); err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"status": string(domain.CampaignStatusPaused)})
}

// ResumeCampaign reactivates a paused campaign; overdue jobs become
// eligible immediately.
func (h *Handlers) ResumeCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "campaignID")
	if !ok {
		return
	}
	if err := h.campaigns.Resume(r.Context(), h.userID(r), id); err != nil {
		writeError(w, err)
		return
	}
	h.wake()
	httputil.OK(w, map[string]string{"status": string(domain.CampaignStatusActive)})
}

// DuplicateCampaign copies a campaign's definition into a new draft.
func (h *Handlers) DuplicateCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "campaignID")
	if !ok {
		return
	}
	var input struct {
		Name string `json:"name"`
	}
	if !httputil.Decode(w, r, &input) {
		return
	}
	c, err := h.campaigns.Duplicate(r.Context(), h.userID(r), id, input.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.Created(w, c)
}

// AddTag adds a tag to the campaign.
func (h *Handlers) AddTag(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "campaignID")
	if !ok {
		return
	}
	var input struct {
		Tag string `json:"tag"`
	}
	if !httputil.Decode(w, r, &input) {
		return
	}
	if err := h.campaigns.AddTag(r.Context(), h.userID(r), id, input.Tag); err != nil {
		writeError(w, err)
		return
	}
	httputil.NoContent(w)
}

// RemoveTag removes a tag from the campaign.
func (h *Handlers) RemoveTag(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "campaignID")
	if !ok {
		return
	}
	if err := h.campaigns.RemoveTag(r.Context(), h.userID(r), id, chi.URLParam(r, "tag")); err != nil {
		writeError(w, err)
		return
	}
	httputil.NoContent(w)
}

// NextSend returns the campaign's earliest pending job.
func (h *Handlers) NextSend(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "campaignID")
	if !ok {
		return
	}
	job, err := h.campaigns.NextSend(r.Context(), h.userID(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, job)
}

// SendNow pulls the earliest pending job forward to now.
func (h *Handlers) SendNow(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "campaignID")
	if !ok {
		return
	}
	job, err := h.campaigns.SendNow(r.Context(), h.userID(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	h.wake()
	httputil.OK(w, job)
}

// StepSummary returns per-step job aggregates.
func (h *Handlers) StepSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "campaignID")
	if !ok {
		return
	}
	out, err := h.campaigns.StepSummary(r.Context(), h.userID(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if out == nil {
		out = []domain.StepSummary{}
	}
	httputil.OK(w, out)
}

// RetryJob resets one failed job to pending, due now.
func (h *Handlers) RetryJob(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := pathUUID(w, r, "campaignID")
	if !ok {
		return
	}
	jobID, ok := pathUUID(w, r, "jobID")
	if !ok {
		return
	}
	if err := h.campaigns.RetryJob(r.Context(), h.userID(r), campaignID, jobID); err != nil {
		writeError(w, err)
		return
	}
	h.wake()
	httputil.NoContent(w)
}

// RetryAllFailed resets every failed job in the campaign.
func (h *Handlers) RetryAllFailed(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "campaignID")
	if !ok {
		return
	}
	n, err := h.campaigns.RetryAllFailed(r.Context(), h.userID(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	h.wake()
	httputil.OK(w, map[string]int{"jobs_reset": n})
}
