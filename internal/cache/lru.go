// Package cache provides a small in-process LRU cache with per-entry TTL.
package cache

import (
	"container/list"
	"sync"
	"time"
)

type entry[K comparable, V any] struct {
	key        K
	value      V
	insertedAt time.Time
}

// LRU is a thread-safe least-recently-used cache whose entries also expire after a TTL
type LRU[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*list.Element
	lruList *list.List // front = most recently used
	maxSize int
	ttl     time.Duration
	now     func() time.Time
	hits    uint64
	misses  uint64
}

// Stats represents cache statistics
type Stats struct {
	Size    int
	MaxSize int
	Hits    uint64
	Misses  uint64
	HitRate float64
}

// New creates an LRU holding at most maxSize entries for ttl each
func New[K comparable, V any](maxSize int, ttl time.Duration) *LRU[K, V] {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &LRU[K, V]{
		entries: make(map[K]*list.Element),
		lruList: list.New(),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (c *LRU[K, V]) WithClock(now func() time.Time) *LRU[K, V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	return c
}

// Get returns the cached value. Expired entries are removed and reported as misses.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return zero, false
	}
	e := el.Value.(*entry[K, V])
	if c.expired(e) {
		c.removeElement(el)
		c.misses++
		return zero, false
	}

	c.lruList.MoveToFront(el)
	c.hits++
	return e.value, true
}

// Set stores value under key, evicting the least recently used entry when full
func (c *LRU[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		e := el.Value.(*entry[K, V])
		e.value = value
		e.insertedAt = c.now()
		c.lruList.MoveToFront(el)
		return
	}

	if c.lruList.Len() >= c.maxSize {
		if back := c.lruList.Back(); back != nil {
			c.removeElement(back)
		}
	}

	el := c.lruList.PushFront(&entry[K, V]{key: key, value: value, insertedAt: c.now()})
	c.entries[key] = el
}

// Invalidate removes a single key
func (c *LRU[K, V]) Invalidate(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.removeElement(el)
	}
}

// InvalidateFunc removes every entry for which match returns true
func (c *LRU[K, V]) InvalidateFunc(match func(K, V) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, el := range c.entries {
		e := el.Value.(*entry[K, V])
		if match(e.key, e.value) {
			c.removeElement(el)
			removed++
		}
	}
	return removed
}

// Clear removes all entries from the cache
func (c *LRU[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[K]*list.Element)
	c.lruList.Init()
}

// Len returns the number of stored entries, including ones not yet swept
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lruList.Len()
}

// Stats returns cache statistics
func (c *LRU[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var rate float64
	if total := c.hits + c.misses; total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return Stats{
		Size:    c.lruList.Len(),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
		HitRate: rate,
	}
}

// CleanupExpired removes all expired entries and returns how many were dropped
func (c *LRU[K, V]) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, el := range c.entries {
		if c.expired(el.Value.(*entry[K, V])) {
			c.removeElement(el)
			removed++
		}
	}
	return removed
}

// StartCleanupWorker sweeps expired entries every interval until stopCh closes
func (c *LRU[K, V]) StartCleanupWorker(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.CleanupExpired()
		case <-stopCh:
			return
		}
	}
}

// must be called with lock held
func (c *LRU[K, V]) expired(e *entry[K, V]) bool {
	return c.ttl > 0 && c.now().Sub(e.insertedAt) > c.ttl
}

// must be called with lock held
func (c *LRU[K, V]) removeElement(el *list.Element) {
	e := el.Value.(*entry[K, V])
	c.lruList.Remove(el)
	delete(c.entries, e.key)
}
