package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrementScript bumps the counter and starts the window on first hit.
// A key that somehow lost its TTL is given one so it cannot live forever.
var incrementScript = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
if current == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisStore shares counters between instances
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a Redis-backed counter store
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "tenantguard:ratelimit:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Increment implements CounterStore
func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration, now time.Time) (Counter, error) {
	res, err := incrementScript.Run(ctx, s.client, []string{s.prefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Counter{}, fmt.Errorf("failed to increment rate counter: %w", err)
	}
	if len(res) != 2 {
		return Counter{}, fmt.Errorf("unexpected rate counter reply: %v", res)
	}
	return Counter{
		Count:   res[0],
		ResetAt: now.Add(time.Duration(res[1]) * time.Millisecond),
	}, nil
}
