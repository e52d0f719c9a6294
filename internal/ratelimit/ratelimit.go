// Package ratelimit provides per-campaign, per-second admission
// control backed by a shared Redis counter.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyTTLSeconds keeps counter keys alive just past their window so
// they self-evict; no background sweeper is needed.
const keyTTLSeconds = 2

// admitScript atomically increments the window counter and stamps the
// TTL on first touch. Returns the post-increment count.
var admitScript = redis.NewScript(`
	local count = redis.call("INCR", KEYS[1])
	if count == 1 then
		redis.call("EXPIRE", KEYS[1], ARGV[1])
	end
	return count
`)

// Result reports one admission decision. Err is set when the counter
// store failed and the decision was taken in degraded (fail-open)
// mode; callers log it but proceed.
type Result struct {
	Admitted  bool
	Count     int64
	Remaining int64
	Err       error
}

// Limiter admits at most N sends per campaign per wall-clock second.
type Limiter struct {
	client *redis.Client
	now    func() time.Time
}

// New creates a Limiter on the given Redis client.
func New(client *redis.Client) *Limiter {
	return &Limiter{client: client, now: time.Now}
}

func (l *Limiter) key(campaignID string, sec int64) string {
	return fmt.Sprintf("campaign:%s:rate_limit:%d", campaignID, sec)
}

// TryAdmit increments the current one-second window counter for the
// campaign and admits iff the post-increment count is within limit.
//
// When Redis is unreachable the limiter fails open: the send is
// admitted and Result.Err carries the store error. Losing throttling
// for a window beats silently dropping compliant traffic.
func (l *Limiter) TryAdmit(ctx context.Context, campaignID string, limit int) Result {
	sec := l.now().Unix()
	count, err := admitScript.Run(ctx, l.client, []string{l.key(campaignID, sec)}, keyTTLSeconds).Int64()
	if err != nil {
		return Result{Admitted: true, Err: fmt.Errorf("rate limiter degraded: %w", err)}
	}
	remaining := int64(limit) - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Admitted:  count <= int64(limit),
		Count:     count,
		Remaining: remaining,
	}
}

// CurrentCount reads the counter for the current window without
// incrementing it. Used by reporting; a missing key reads as zero.
func (l *Limiter) CurrentCount(ctx context.Context, campaignID string) (int64, error) {
	sec := l.now().Unix()
	n, err := l.client.Get(ctx, l.key(campaignID, sec)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}
