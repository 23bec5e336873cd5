package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryStore keeps counters in process. Suitable for single-instance deployments.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*Counter
	logger   *zap.Logger
}

// NewMemoryStore creates an empty in-process counter store
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		counters: make(map[string]*Counter),
		logger:   logger,
	}
}

// Increment implements CounterStore. Read and write happen under one lock.
func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration, now time.Time) (Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok || !now.Before(c.ResetAt) {
		c = &Counter{ResetAt: now.Add(window)}
		s.counters[key] = c
	}
	c.Count++
	return *c, nil
}

// Len returns the number of tracked keys, including expired ones not yet swept
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}

// CleanupExpired removes counters whose window has elapsed
func (s *MemoryStore) CleanupExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, c := range s.counters {
		if !now.Before(c.ResetAt) {
			delete(s.counters, key)
			removed++
		}
	}
	return removed
}

// StartCleanupWorker starts a background worker to periodically drop expired counters
func (s *MemoryStore) StartCleanupWorker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("started rate limit cleanup worker", zap.Duration("interval", interval))

	for {
		select {
		case <-ticker.C:
			if removed := s.CleanupExpired(time.Now()); removed > 0 {
				s.logger.Debug("cleaned up expired rate counters", zap.Int("removed", removed))
			}
		case <-ctx.Done():
			s.logger.Info("stopping rate limit cleanup worker")
			return
		}
	}
}
