package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultQueueKey is the Redis list campaign jobs travel on.
const DefaultQueueKey = "jobs:campaigns"

// CampaignJob is one unit of dispatch work. Delivery is at-least-once;
// the orchestrator tolerates replays because materialization is
// idempotent and a campaign-level lock serializes concurrent runs.
type CampaignJob struct {
	JobID      string  `json:"job_id"`
	CampaignID string  `json:"campaign_id"`
	DryRun     bool    `json:"dry_run,omitempty"`
	SegmentID  *string `json:"segment_id,omitempty"`
}

// NewCampaignJob builds a job with a fresh id.
func NewCampaignJob(campaignID string, dryRun bool, segmentID *string) *CampaignJob {
	return &CampaignJob{
		JobID:      uuid.NewString(),
		CampaignID: campaignID,
		DryRun:     dryRun,
		SegmentID:  segmentID,
	}
}

// JobQueue moves campaign jobs between the API/scheduler and the
// orchestrator pool.
type JobQueue interface {
	Enqueue(ctx context.Context, job *CampaignJob) error
	Dequeue(ctx context.Context, timeout time.Duration) (*CampaignJob, error)
}

// ErrQueueEmpty reports that the blocking pop timed out with nothing
// to do.
var ErrQueueEmpty = errors.New("job queue empty")

// RedisJobQueue is a Redis list used as a FIFO: producers LPUSH,
// consumers BRPOP.
type RedisJobQueue struct {
	client *redis.Client
	key    string
}

// NewRedisJobQueue creates a queue on the given list key; empty key
// falls back to DefaultQueueKey.
func NewRedisJobQueue(client *redis.Client, key string) *RedisJobQueue {
	if key == "" {
		key = DefaultQueueKey
	}
	return &RedisJobQueue{client: client, key: key}
}

// Enqueue pushes a job onto the head of the list.
func (q *RedisJobQueue) Enqueue(ctx context.Context, job *CampaignJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("enqueue job %s: %w", job.JobID, err)
	}
	return nil
}

// Dequeue blocks up to timeout for the next job. Returns ErrQueueEmpty
// on timeout so pollers can loop without treating it as a failure.
func (q *RedisJobQueue) Dequeue(ctx context.Context, timeout time.Duration) (*CampaignJob, error) {
	res, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrQueueEmpty
		}
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	// BRPOP returns [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("dequeue: unexpected reply length %d", len(res))
	}
	var job CampaignJob
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &job, nil
}

// Depth returns the number of queued jobs.
func (q *RedisJobQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
