package token

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RevocationList is a deny-list keyed by token id. Entries only need to live
// until the token would have expired on its own.
type RevocationList interface {
	Revoke(ctx context.Context, tokenID string, until time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
	// RevokeIfNew revokes tokenID and reports whether this call did it.
	// Exactly one of several concurrent callers for the same id gets true.
	RevokeIfNew(ctx context.Context, tokenID string, until time.Time) (bool, error)
}

// MemoryRevocationList keeps revoked ids in process. Suitable for a single instance.
type MemoryRevocationList struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryRevocationList creates an empty in-process deny-list
func NewMemoryRevocationList() *MemoryRevocationList {
	return &MemoryRevocationList{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Revoke implements RevocationList
func (m *MemoryRevocationList) Revoke(_ context.Context, tokenID string, until time.Time) error {
	if tokenID == "" || !until.After(m.now()) {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[tokenID] = until
	return nil
}

// RevokeIfNew implements RevocationList
func (m *MemoryRevocationList) RevokeIfNew(_ context.Context, tokenID string, until time.Time) (bool, error) {
	now := m.now()
	if tokenID == "" || !until.After(now) {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.entries[tokenID]; ok && now.Before(existing) {
		return false, nil
	}
	m.entries[tokenID] = until
	return true, nil
}

// IsRevoked implements RevocationList
func (m *MemoryRevocationList) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	until, ok := m.entries[tokenID]
	return ok && m.now().Before(until), nil
}

// Cleanup drops entries whose tokens have expired anyway
func (m *MemoryRevocationList) Cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for id, until := range m.entries {
		if !now.Before(until) {
			delete(m.entries, id)
			removed++
		}
	}
	return removed
}

// StartCleanupWorker runs Cleanup every interval until ctx is done
func (m *MemoryRevocationList) StartCleanupWorker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Cleanup()
		}
	}
}

// RedisRevocationList shares the deny-list between instances. Keys expire with the token.
type RedisRevocationList struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisRevocationList creates a Redis-backed deny-list
func NewRedisRevocationList(client redis.UniversalClient, prefix string) *RedisRevocationList {
	if prefix == "" {
		prefix = "tenantguard:revoked:"
	}
	return &RedisRevocationList{client: client, prefix: prefix, now: time.Now}
}

// Revoke implements RevocationList
func (r *RedisRevocationList) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	ttl := until.Sub(r.now())
	if tokenID == "" || ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, r.prefix+tokenID, "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// RevokeIfNew implements RevocationList with SET NX
func (r *RedisRevocationList) RevokeIfNew(ctx context.Context, tokenID string, until time.Time) (bool, error) {
	ttl := until.Sub(r.now())
	if tokenID == "" || ttl <= 0 {
		return false, nil
	}
	ok, err := r.client.SetNX(ctx, r.prefix+tokenID, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to revoke token: %w", err)
	}
	return ok, nil
}

// IsRevoked implements RevocationList
func (r *RedisRevocationList) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := r.client.Exists(ctx, r.prefix+tokenID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check revocation: %w", err)
	}
	return n > 0, nil
}
