package worker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupQueue(t *testing.T) *RedisJobQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisJobQueue(client, "")
}

func TestQueueRoundTrip(t *testing.T) {
	q := setupQueue(t)
	ctx := context.Background()

	seg := "s1"
	first := NewCampaignJob("c1", false, nil)
	second := NewCampaignJob("c2", true, &seg)
	require.NoError(t, q.Enqueue(ctx, first))
	require.NoError(t, q.Enqueue(ctx, second))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), depth)

	got, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, first.JobID, got.JobID)
	assert.Equal(t, "c1", got.CampaignID)
	assert.False(t, got.DryRun)
	assert.Nil(t, got.SegmentID)

	got, err = q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "c2", got.CampaignID)
	assert.True(t, got.DryRun)
	require.NotNil(t, got.SegmentID)
	assert.Equal(t, "s1", *got.SegmentID)
}

func TestQueueEmptyTimeout(t *testing.T) {
	q := setupQueue(t)
	_, err := q.Dequeue(context.Background(), 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrQueueEmpty)
}
