package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T) (*miniredis.Miniredis, *Limiter) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, New(client)
}

func TestTryAdmitWithinLimit(t *testing.T) {
	_, l := newTestLimiter(t)
	frozen := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return frozen }
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		res := l.TryAdmit(ctx, "c1", 3)
		require.NoError(t, res.Err)
		assert.True(t, res.Admitted, "send %d", i)
		assert.EqualValues(t, i, res.Count)
		assert.EqualValues(t, 3-i, res.Remaining)
	}

	res := l.TryAdmit(ctx, "c1", 3)
	require.NoError(t, res.Err)
	assert.False(t, res.Admitted)
	assert.EqualValues(t, 4, res.Count)
	assert.EqualValues(t, 0, res.Remaining)
}

func TestTryAdmitNewWindowResets(t *testing.T) {
	_, l := newTestLimiter(t)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	res := l.TryAdmit(ctx, "c1", 1)
	assert.True(t, res.Admitted)
	res = l.TryAdmit(ctx, "c1", 1)
	assert.False(t, res.Admitted)

	now = now.Add(time.Second)
	res = l.TryAdmit(ctx, "c1", 1)
	assert.True(t, res.Admitted)
	assert.EqualValues(t, 1, res.Count)
}

func TestTryAdmitCampaignsIsolated(t *testing.T) {
	_, l := newTestLimiter(t)
	frozen := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return frozen }
	ctx := context.Background()

	res := l.TryAdmit(ctx, "c1", 1)
	assert.True(t, res.Admitted)
	res = l.TryAdmit(ctx, "c2", 1)
	assert.True(t, res.Admitted)
	res = l.TryAdmit(ctx, "c1", 1)
	assert.False(t, res.Admitted)
}

func TestKeysExpire(t *testing.T) {
	mr, l := newTestLimiter(t)
	frozen := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return frozen }
	ctx := context.Background()

	l.TryAdmit(ctx, "c1", 5)
	key := l.key("c1", frozen.Unix())
	require.True(t, mr.Exists(key))

	mr.FastForward(3 * time.Second)
	assert.False(t, mr.Exists(key))
}

func TestTryAdmitFailsOpen(t *testing.T) {
	mr, l := newTestLimiter(t)
	mr.Close()

	res := l.TryAdmit(context.Background(), "c1", 1)
	assert.True(t, res.Admitted)
	assert.Error(t, res.Err)
}

func TestCurrentCount(t *testing.T) {
	_, l := newTestLimiter(t)
	frozen := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return frozen }
	ctx := context.Background()

	n, err := l.CurrentCount(ctx, "c1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	l.TryAdmit(ctx, "c1", 5)
	l.TryAdmit(ctx, "c1", 5)
	n, err = l.CurrentCount(ctx, "c1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}
