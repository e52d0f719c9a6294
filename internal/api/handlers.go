package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/eventstreamhq/engine/internal/consent"
	"github.com/eventstreamhq/engine/internal/domain"
	"github.com/eventstreamhq/engine/internal/phone"
	"github.com/eventstreamhq/engine/internal/pkg/httputil"
	"github.com/eventstreamhq/engine/internal/pkg/logger"
	"github.com/eventstreamhq/engine/internal/storage"
	"github.com/eventstreamhq/engine/internal/worker"
)

// Handlers carries the dependencies of the API endpoints.
type Handlers struct {
	store       *storage.Store
	queue       worker.JobQueue
	redisClient *redis.Client
	startTime   time.Time
	now         func() time.Time
}

// NewHandlers creates the handler set. redisClient may be nil; health
// then reports the cache as not configured.
func NewHandlers(store *storage.Store, queue worker.JobQueue, redisClient *redis.Client) *Handlers {
	return &Handlers{
		store:       store,
		queue:       queue,
		redisClient: redisClient,
		startTime:   time.Now(),
		now:         time.Now,
	}
}

type triggerRequest struct {
	SegmentID *string `json:"segment_id"`
	Immediate *bool   `json:"immediate"`
	DryRun    bool    `json:"dry_run"`
}

// TriggerCampaign starts (or resumes) a campaign out of band. A dry
// run previews recipients and rendering without materializing or
// dispatching anything, and leaves campaign status untouched.
func (h *Handlers) TriggerCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req triggerRequest
	if r.ContentLength > 0 && !httputil.Decode(w, r, &req) {
		return
	}

	campaign, err := h.store.GetCampaign(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httputil.NotFound(w, "campaign not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}

	if req.SegmentID != nil {
		if _, err := h.store.GetSegment(r.Context(), *req.SegmentID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httputil.BadRequest(w, "unknown segment")
				return
			}
			httputil.InternalError(w, err)
			return
		}
	}

	if req.DryRun {
		if campaign.IsTerminal() {
			httputil.Conflict(w, "campaign is in a terminal state")
			return
		}
		job := worker.NewCampaignJob(campaign.ID, true, req.SegmentID)
		if err := h.queue.Enqueue(r.Context(), job); err != nil {
			httputil.InternalError(w, err)
			return
		}
		httputil.Accepted(w, map[string]any{"job_id": job.JobID, "dry_run": true})
		return
	}

	// immediate defaults to true; immediate=false leaves a READY
	// campaign for the scheduler sweep.
	if req.Immediate != nil && !*req.Immediate {
		if campaign.Status != domain.CampaignReady {
			httputil.Conflict(w, "campaign is not READY")
			return
		}
		httputil.Accepted(w, map[string]any{"campaign_id": campaign.ID, "status": "scheduled"})
		return
	}

	var from domain.CampaignStatus
	switch campaign.Status {
	case domain.CampaignReady:
		from = domain.CampaignReady
	case domain.CampaignPaused:
		from = domain.CampaignPaused
	default:
		httputil.Conflict(w, "campaign cannot start from "+string(campaign.Status))
		return
	}
	if err := h.store.TransitionCampaign(r.Context(), campaign.ID, from, domain.CampaignRunning); err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrConflict) {
			httputil.Conflict(w, "campaign status changed concurrently")
			return
		}
		httputil.InternalError(w, err)
		return
	}

	job := worker.NewCampaignJob(campaign.ID, false, req.SegmentID)
	if err := h.queue.Enqueue(r.Context(), job); err != nil {
		logger.Error("trigger enqueue failed", "campaign_id", campaign.ID, "error", err)
		if terr := h.store.TransitionCampaign(r.Context(), campaign.ID, domain.CampaignRunning, domain.CampaignFailed); terr != nil {
			logger.Error("failed to park campaign", "campaign_id", campaign.ID, "error", terr)
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.Accepted(w, map[string]any{"job_id": job.JobID, "campaign_id": campaign.ID})
}

// PauseCampaign suspends a RUNNING campaign; in-flight orchestrator
// loops observe the status within one pause-check window.
func (h *Handlers) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, domain.CampaignRunning, domain.CampaignPaused)
}

// ResetCampaign is the operator retry path: FAILED back to READY.
func (h *Handlers) ResetCampaign(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, domain.CampaignFailed, domain.CampaignReady)
}

func (h *Handlers) transition(w http.ResponseWriter, r *http.Request, from, to domain.CampaignStatus) {
	id := chi.URLParam(r, "id")
	if _, err := h.store.GetCampaign(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httputil.NotFound(w, "campaign not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	if err := h.store.TransitionCampaign(r.Context(), id, from, to); err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrConflict) {
			httputil.Conflict(w, "campaign is not "+string(from))
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"campaign_id": id, "status": string(to)})
}

type campaignSummary struct {
	Campaign      *domain.Campaign         `json:"campaign"`
	StatusCounts  map[string]int           `json:"status_counts"`
	DeliveryRate  float64                  `json:"delivery_rate"`
	TopErrorCodes []storage.ErrorCodeCount `json:"top_error_codes"`
	RecentRuns    []*domain.CampaignRun    `json:"recent_runs"`
}

// CampaignSummary reports per-campaign delivery totals, the failure
// breakdown, and the recent run history.
func (h *Handlers) CampaignSummary(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	campaign, err := h.store.GetCampaign(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httputil.NotFound(w, "campaign not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}

	counts, err := h.store.CountMessagesByCampaign(r.Context(), id)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	topErrors, err := h.store.TopErrorCodes(r.Context(), id, []string{"FAILED", "UNDELIVERED"}, 5)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	runs, err := h.store.ListCampaignRuns(r.Context(), id, 5)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	byStatus := make(map[string]int, len(counts))
	for status, n := range counts {
		byStatus[string(status)] = n
	}
	dispatched := counts[domain.MessageSent] + counts[domain.MessageDelivered] + counts[domain.MessageRead]
	delivered := counts[domain.MessageDelivered] + counts[domain.MessageRead]
	var rate float64
	if dispatched > 0 {
		rate = float64(delivered) / float64(dispatched)
	}

	httputil.OK(w, campaignSummary{
		Campaign:      campaign,
		StatusCounts:  byStatus,
		DeliveryRate:  rate,
		TopErrorCodes: topErrors,
		RecentRuns:    runs,
	})
}

// MonitoringDashboard is the operator overview: active campaigns,
// opt-outs, 24h volume, and the newest failures.
func (h *Handlers) MonitoringDashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetDashboardStats(r.Context(), h.now().UTC())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	failures, err := h.store.ListRecentFailures(r.Context(), 10)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{
		"stats":           stats,
		"recent_failures": failures,
	})
}

type inboundView struct {
	ID         string    `json:"id"`
	Phone      string    `json:"phone"`
	Channel    string    `json:"channel"`
	Body       string    `json:"body"`
	Country    string    `json:"country"`
	IsStop     bool      `json:"is_stop_command"`
	ReceivedAt time.Time `json:"received_at"`
}

// RecentInbound lists the newest inbound messages with masked sender
// phones and STOP classification.
func (h *Handlers) RecentInbound(w http.ResponseWriter, r *http.Request) {
	events, err := h.store.ListRecentInbound(r.Context(), 50)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	out := make([]inboundView, 0, len(events))
	for _, ev := range events {
		out = append(out, inboundView{
			ID:         ev.ID,
			Phone:      phone.Mask(ev.FromPhone),
			Channel:    ev.Channel,
			Body:       ev.Body,
			Country:    ev.Country,
			IsStop:     consent.DetectIntent(ev.Body) == consent.IntentStop,
			ReceivedAt: ev.ReceivedAt,
		})
	}
	httputil.OK(w, map[string]any{"inbound": out})
}

// HealthCheck pings the database and Redis.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{}
	status := "healthy"

	if err := h.store.DB().PingContext(ctx); err != nil {
		checks["database"] = "down"
		status = "unhealthy"
	} else {
		checks["database"] = "up"
	}

	if h.redisClient == nil {
		checks["redis"] = "not_configured"
	} else if err := h.redisClient.Ping(ctx).Err(); err != nil {
		checks["redis"] = "down"
		if status == "healthy" {
			status = "degraded"
		}
	} else {
		checks["redis"] = "up"
	}

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	httputil.JSON(w, code, map[string]any{
		"status": status,
		"uptime": time.Since(h.startTime).Round(time.Second).String(),
		"checks": checks,
	})
}
