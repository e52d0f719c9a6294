// Package worker runs the dispatch side of the engine: a scheduler
// that promotes due campaigns, a Redis-backed job queue, and an
// orchestrator pool that walks each campaign's audience through the
// compliance gates and out to the gateway.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/eventstreamhq/engine/internal/domain"
	"github.com/eventstreamhq/engine/internal/phone"
	"github.com/eventstreamhq/engine/internal/pkg/distlock"
	"github.com/eventstreamhq/engine/internal/pkg/logger"
	"github.com/eventstreamhq/engine/internal/provider"
	"github.com/eventstreamhq/engine/internal/ratelimit"
	"github.com/eventstreamhq/engine/internal/render"
	"github.com/eventstreamhq/engine/internal/segments"
	"github.com/eventstreamhq/engine/internal/storage"
)

const (
	// dequeueTimeout bounds each blocking pop so shutdown is prompt.
	dequeueTimeout = 5 * time.Second

	// pauseCheckEvery is how many recipients are processed between
	// campaign status re-reads.
	pauseCheckEvery = 25

	// campaignLockTTL bounds how long a crashed worker can hold a
	// campaign.
	campaignLockTTL = 10 * time.Minute
)

// Orchestrator consumes campaign jobs and executes the per-recipient
// pipeline: consent, quiet hours, rate limit, render, materialize,
// dispatch. One campaign runs on one worker at a time via a
// distributed lock; everything else is per-recipient and fail-soft.
type Orchestrator struct {
	store       *storage.Store
	eval        *segments.Evaluator
	sender      provider.Sender
	limiter     *ratelimit.Limiter
	queue       JobQueue
	redisClient *redis.Client
	concurrency int

	now   func() time.Time
	sleep func(time.Duration)

	wg sync.WaitGroup
}

// NewOrchestrator wires an orchestrator pool. redisClient may be nil;
// campaign locks then fall back to Postgres advisory locks and rate
// limiting is skipped (fail-open).
func NewOrchestrator(store *storage.Store, sender provider.Sender, queue JobQueue, redisClient *redis.Client, concurrency int) *Orchestrator {
	if concurrency <= 0 {
		concurrency = 4
	}
	var limiter *ratelimit.Limiter
	if redisClient != nil {
		limiter = ratelimit.New(redisClient)
	}
	return &Orchestrator{
		store:       store,
		eval:        segments.NewEvaluator(store.DB()),
		sender:      sender,
		limiter:     limiter,
		queue:       queue,
		redisClient: redisClient,
		concurrency: concurrency,
		now:         time.Now,
		sleep:       time.Sleep,
	}
}

// Run starts the worker pool and blocks until the context is
// cancelled and all in-flight jobs have drained.
func (o *Orchestrator) Run(ctx context.Context) {
	logger.Info("orchestrator started", "concurrency", o.concurrency)
	for i := 0; i < o.concurrency; i++ {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.consumeLoop(ctx)
		}()
	}
	o.wg.Wait()
	logger.Info("orchestrator stopped")
}

func (o *Orchestrator) consumeLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := o.queue.Dequeue(ctx, dequeueTimeout)
		if err != nil {
			if errors.Is(err, ErrQueueEmpty) || ctx.Err() != nil {
				continue
			}
			logger.Error("dequeue failed", "error", err)
			o.sleep(time.Second)
			continue
		}
		o.Process(ctx, job)
	}
}

// Process executes one campaign job end to end. It never returns an
// error: every failure mode resolves into campaign state plus a run
// record, because the job is consumed either way.
func (o *Orchestrator) Process(ctx context.Context, job *CampaignJob) {
	campaign, err := o.store.GetCampaign(ctx, job.CampaignID)
	if err != nil {
		logger.Error("job references unknown campaign", "job_id", job.JobID, "campaign_id", job.CampaignID, "error", err)
		return
	}
	if job.DryRun {
		// Dry runs preview any non-terminal campaign and never touch
		// its status.
		if campaign.IsTerminal() {
			logger.Warn("dry run dropped: campaign terminal", "campaign_id", campaign.ID, "status", string(campaign.Status))
			return
		}
	} else if campaign.Status != domain.CampaignRunning {
		logger.Warn("job dropped: campaign not running", "campaign_id", campaign.ID, "status", string(campaign.Status))
		return
	}

	lock := distlock.NewLock(o.redisClient, o.store.DB(), "campaign:"+campaign.ID, campaignLockTTL)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		logger.Error("campaign lock error", "campaign_id", campaign.ID, "error", err)
		return
	}
	if !acquired {
		// Another worker holds this campaign; put the job back and
		// yield.
		o.sleep(time.Second)
		if err := o.queue.Enqueue(ctx, job); err != nil {
			logger.Error("requeue failed", "job_id", job.JobID, "error", err)
		}
		return
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("campaign lock release failed", "campaign_id", campaign.ID, "error", err)
		}
	}()

	o.execute(ctx, campaign, job)
}

func (o *Orchestrator) execute(ctx context.Context, campaign *domain.Campaign, job *CampaignJob) {
	run := &domain.CampaignRun{
		ID:         uuid.NewString(),
		CampaignID: campaign.ID,
		JobID:      job.JobID,
		DryRun:     job.DryRun,
		StartedAt:  o.now().UTC(),
	}
	if err := o.store.InsertCampaignRun(ctx, run); err != nil {
		logger.Error("run record insert failed", "campaign_id", campaign.ID, "error", err)
		o.fail(ctx, campaign, nil)
		return
	}

	tmpl, err := o.store.GetTemplate(ctx, campaign.TemplateID)
	if err != nil {
		logger.Error("template load failed", "campaign_id", campaign.ID, "template_id", campaign.TemplateID, "error", err)
		o.fail(ctx, campaign, run)
		return
	}

	pred, err := o.resolvePredicate(ctx, campaign, job)
	if err != nil {
		logger.Error("segment load failed", "campaign_id", campaign.ID, "error", err)
		o.fail(ctx, campaign, run)
		return
	}

	cursor, err := o.eval.Stream(ctx, pred, campaign.Topic)
	if err != nil {
		logger.Error("audience stream failed", "campaign_id", campaign.ID, "error", err)
		o.fail(ctx, campaign, run)
		return
	}
	defer cursor.Close()

	paused := false
	for cursor.Next() {
		if !job.DryRun && run.TotalRecipients > 0 && run.TotalRecipients%pauseCheckEvery == 0 {
			if stop := o.pausedOrStopped(ctx, campaign.ID); stop {
				paused = true
				break
			}
		}
		run.TotalRecipients++
		o.processRecipient(ctx, campaign, tmpl, cursor.User(), run, job.DryRun)
	}
	if err := cursor.Err(); err != nil {
		logger.Error("audience stream aborted", "campaign_id", campaign.ID, "error", err)
		o.fail(ctx, campaign, run)
		return
	}

	o.finishRun(ctx, run)
	if paused {
		logger.Info("campaign run suspended", "campaign_id", campaign.ID, "sent", run.Sent)
		return
	}

	if !job.DryRun {
		if err := o.store.TransitionCampaign(ctx, campaign.ID, domain.CampaignRunning, domain.CampaignCompleted); err != nil {
			// A concurrent pause or fail won the status; the run
			// record still stands.
			logger.Warn("completion transition refused", "campaign_id", campaign.ID, "error", err)
		}
	}
	logger.Info("campaign run finished",
		"campaign_id", campaign.ID,
		"job_id", job.JobID,
		"recipients", run.TotalRecipients,
		"sent", run.Sent,
		"failed", run.Failed,
		"dry_run", job.DryRun)
}

// resolvePredicate picks the audience: the job's segment override, the
// campaign's segment, or nil for all opted-in users.
func (o *Orchestrator) resolvePredicate(ctx context.Context, campaign *domain.Campaign, job *CampaignJob) (*segments.Predicate, error) {
	segmentID := campaign.SegmentID
	if job.SegmentID != nil {
		segmentID = job.SegmentID
	}
	if segmentID == nil {
		return nil, nil
	}
	seg, err := o.store.GetSegment(ctx, *segmentID)
	if err != nil {
		return nil, err
	}
	return segments.Parse(seg.PredicateJSON)
}

// processRecipient walks one user through the gates. Gate order is a
// compliance property: consent and quiet hours must be decided before
// any rate-limit token is consumed or any message row exists.
func (o *Orchestrator) processRecipient(ctx context.Context, campaign *domain.Campaign, tmpl *domain.Template, user *domain.User, run *domain.CampaignRun, dryRun bool) {
	if user.ConsentState != domain.ConsentOptIn {
		run.SkippedOptOut++
		return
	}
	if !phone.IsE164(user.PhoneE164) {
		run.SkippedPhone++
		return
	}
	if inQuietHours(campaign, user, o.now()) {
		run.SkippedQuiet++
		return
	}
	// Dry runs consume no admission tokens; a preview must not throttle
	// a concurrent live run.
	if !dryRun && !o.admit(ctx, campaign) {
		run.SkippedRate++
		return
	}

	content, err := render.Render(tmpl.Content, user.Attributes)
	if err != nil {
		var missing *render.MissingAttributeError
		if errors.As(err, &missing) {
			logger.Debug("recipient skipped: missing attributes", "campaign_id", campaign.ID, "phone", user.PhoneE164, "attributes", missing.Names)
			run.SkippedRender++
		} else {
			logger.Error("render failed", "campaign_id", campaign.ID, "phone", user.PhoneE164, "error", err)
			run.Errors++
		}
		return
	}

	if dryRun {
		run.Sent++
		return
	}

	msg := &domain.Message{
		ID:             uuid.NewString(),
		CampaignID:     campaign.ID,
		RecipientPhone: user.PhoneE164,
		TemplateID:     tmpl.ID,
		Content:        content,
		Channel:        tmpl.Channel,
		Status:         domain.MessageQueued,
	}
	var created bool
	draft := msg
	err = storage.Retry(ctx, func() error {
		res, c, rerr := o.store.CreateMessageIfAbsent(ctx, draft)
		if rerr != nil {
			return rerr
		}
		msg, created = res, c
		return nil
	})
	if err != nil {
		logger.Error("message materialization failed", "campaign_id", campaign.ID, "phone", user.PhoneE164, "error", err)
		run.Errors++
		return
	}
	if !created {
		// Replayed job or overlapping trigger; the first run owns
		// this recipient.
		run.SkippedDup++
		return
	}

	o.dispatch(ctx, campaign, msg, run)
}

// dispatch hands the materialized message to the gateway and records
// the outcome. A gateway rejection is a terminal FAILED message, not a
// run error.
func (o *Orchestrator) dispatch(ctx context.Context, campaign *domain.Campaign, msg *domain.Message, run *domain.CampaignRun) {
	result, err := o.sender.Send(ctx, msg.RecipientPhone, msg.Content, msg.Channel)
	if err != nil {
		logger.Error("send transport error", "campaign_id", campaign.ID, "message_id", msg.ID, "error", err)
		o.markFailed(ctx, msg.ID, provider.ErrCodeTransport, err.Error(), run)
		return
	}
	if !result.Success {
		o.markFailed(ctx, msg.ID, result.ErrorCode, result.ErrorMessage, run)
		return
	}
	if err := storage.Retry(ctx, func() error {
		return o.store.MarkMessageSent(ctx, msg.ID, result.ProviderSID)
	}); err != nil {
		// The gateway has the message; the receipt reconciler will
		// converge the row later.
		logger.Error("sent-state persist failed", "message_id", msg.ID, "provider_sid", result.ProviderSID, "error", err)
		run.Errors++
		return
	}
	run.Sent++
}

func (o *Orchestrator) markFailed(ctx context.Context, msgID, code, detail string, run *domain.CampaignRun) {
	if err := storage.Retry(ctx, func() error {
		return o.store.MarkMessageFailed(ctx, msgID, code, detail)
	}); err != nil {
		logger.Error("failed-state persist failed", "message_id", msgID, "error", err)
		run.Errors++
		return
	}
	run.Failed++
}

// admit consumes one rate-limit token. A denial backs off to the next
// second boundary and retries exactly once; a second denial skips the
// recipient. No limiter configured means unthrottled.
func (o *Orchestrator) admit(ctx context.Context, campaign *domain.Campaign) bool {
	if o.limiter == nil || campaign.RateLimitPerSecond <= 0 {
		return true
	}
	res := o.limiter.TryAdmit(ctx, campaign.ID, campaign.RateLimitPerSecond)
	if res.Err != nil {
		logger.Warn("rate limiter degraded", "campaign_id", campaign.ID, "error", res.Err)
	}
	if res.Admitted {
		return true
	}
	o.sleep(untilNextSecond(o.now()))
	res = o.limiter.TryAdmit(ctx, campaign.ID, campaign.RateLimitPerSecond)
	if res.Err != nil {
		logger.Warn("rate limiter degraded", "campaign_id", campaign.ID, "error", res.Err)
	}
	return res.Admitted
}

// pausedOrStopped re-reads campaign status mid-run.
func (o *Orchestrator) pausedOrStopped(ctx context.Context, campaignID string) bool {
	current, err := o.store.GetCampaign(ctx, campaignID)
	if err != nil {
		logger.Warn("mid-run status check failed", "campaign_id", campaignID, "error", err)
		return false
	}
	return current.Status != domain.CampaignRunning
}

// fail parks the campaign in FAILED and closes the run record if one
// was opened.
func (o *Orchestrator) fail(ctx context.Context, campaign *domain.Campaign, run *domain.CampaignRun) {
	if err := o.store.TransitionCampaign(ctx, campaign.ID, domain.CampaignRunning, domain.CampaignFailed); err != nil {
		logger.Error("failure transition refused", "campaign_id", campaign.ID, "error", err)
	}
	if run != nil {
		run.Errors++
		o.finishRun(ctx, run)
	}
}

func (o *Orchestrator) finishRun(ctx context.Context, run *domain.CampaignRun) {
	finished := o.now().UTC()
	run.FinishedAt = &finished
	if err := o.store.FinishCampaignRun(ctx, run); err != nil {
		logger.Error("run record update failed", "run_id", run.ID, "error", err)
	}
}

func untilNextSecond(now time.Time) time.Duration {
	return now.Truncate(time.Second).Add(time.Second).Sub(now)
}
