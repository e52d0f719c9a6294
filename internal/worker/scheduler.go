package worker

import (
	"context"
	"errors"
	"time"

	"github.com/eventstreamhq/engine/internal/domain"
	"github.com/eventstreamhq/engine/internal/pkg/logger"
	"github.com/eventstreamhq/engine/internal/storage"
)

// DefaultSweepInterval is how often the scheduler looks for due
// campaigns.
const DefaultSweepInterval = 30 * time.Second

// Scheduler promotes READY campaigns whose schedule time has arrived
// and hands them to the job queue. The promotion is a conditional
// status update, so replicas can sweep concurrently and each campaign
// starts exactly once.
type Scheduler struct {
	store    *storage.Store
	queue    JobQueue
	interval time.Duration
	now      func() time.Time
}

// NewScheduler creates a Scheduler. interval <= 0 falls back to
// DefaultSweepInterval.
func NewScheduler(store *storage.Store, queue JobQueue, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Scheduler{
		store:    store,
		queue:    queue,
		interval: interval,
		now:      time.Now,
	}
}

// Start runs the sweep loop until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logger.Info("scheduler started", "interval", s.interval.String())
	for {
		select {
		case <-ctx.Done():
			logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				logger.Error("scheduler sweep failed", "error", err)
			}
		}
	}
}

// Sweep starts every due campaign once and returns how many it
// started. A campaign another replica claimed first is skipped
// silently.
func (s *Scheduler) Sweep(ctx context.Context) (started int, err error) {
	due, err := s.store.ListDueCampaigns(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}
	for _, c := range due {
		if err := s.store.TransitionCampaign(ctx, c.ID, domain.CampaignReady, domain.CampaignRunning); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				// Lost the claim race, or the campaign changed under us.
				continue
			}
			logger.Error("campaign promotion failed", "campaign_id", c.ID, "error", err)
			continue
		}

		job := NewCampaignJob(c.ID, false, nil)
		if err := s.queue.Enqueue(ctx, job); err != nil {
			// The campaign is RUNNING but nothing will pick it up.
			// Park it in FAILED so an operator reset can retry.
			logger.Error("enqueue failed after promotion", "campaign_id", c.ID, "error", err)
			if terr := s.store.TransitionCampaign(ctx, c.ID, domain.CampaignRunning, domain.CampaignFailed); terr != nil {
				logger.Error("failed to park campaign", "campaign_id", c.ID, "error", terr)
			}
			continue
		}
		logger.Info("campaign started", "campaign_id", c.ID, "job_id", job.JobID)
		started++
	}
	return started, nil
}
