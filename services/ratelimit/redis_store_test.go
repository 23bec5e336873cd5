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

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisStore_Increment(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisStore(client, "")
	ctx := context.Background()
	now := time.Now()

	c, err := store.Increment(ctx, "tenant:t1:ip:1.2.3.4", time.Minute, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.Count)
	assert.WithinDuration(t, now.Add(time.Minute), c.ResetAt, time.Second)

	c, err = store.Increment(ctx, "tenant:t1:ip:1.2.3.4", time.Minute, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), c.Count)

	assert.True(t, mr.Exists("tenantguard:ratelimit:tenant:t1:ip:1.2.3.4"))
	assert.Greater(t, mr.TTL("tenantguard:ratelimit:tenant:t1:ip:1.2.3.4"), time.Duration(0))

	mr.FastForward(61 * time.Second)

	c, err = store.Increment(ctx, "tenant:t1:ip:1.2.3.4", time.Minute, now.Add(61*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.Count, "window restarts after expiry")
}

func TestRedisStore_GovernorEndToEnd(t *testing.T) {
	_, client := newTestRedis(t)
	g := NewGovernor(NewRedisStore(client, "test:"), StaticLimit(2), nil)
	ctx := context.Background()

	assert.True(t, g.Allow(ctx, "1.2.3.4", "t1").Allowed)
	assert.True(t, g.Allow(ctx, "1.2.3.4", "t1").Allowed)

	d := g.Allow(ctx, "1.2.3.4", "t1")
	assert.False(t, d.Allowed)
	assert.LessOrEqual(t, d.RetryAfter, 60)
}

func TestRedisStore_Unavailable(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisStore(client, "")
	mr.Close()

	_, err := store.Increment(context.Background(), "k", time.Minute, time.Now())
	assert.Error(t, err)

	g := NewGovernor(store, StaticLimit(1), nil)
	assert.True(t, g.Allow(context.Background(), "1.2.3.4", "t1").Allowed)
}
