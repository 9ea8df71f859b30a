// Package cache provides a small in-process TTL cache.
package cache

import (
	"sync"
	"time"
)

// Cache holds values for a fixed time. When full, expired entries are
// dropped first and otherwise the oldest entry is evicted.
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	data    map[K]entry[V]
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
	createdAt time.Time
}

// New creates a cache. maxSize <= 0 means unbounded.
func New[K comparable, V any](ttl time.Duration, maxSize int) *Cache[K, V] {
	return &Cache[K, V]{
		data:    make(map[K]entry[V]),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Set stores value under key for the cache TTL
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.data[key]; !exists && c.maxSize > 0 && len(c.data) >= c.maxSize {
		if c.removeExpired(now) == 0 {
			c.evictOldest()
		}
	}
	c.data[key] = entry[V]{value: value, expiresAt: now.Add(c.ttl), createdAt: now}
}

// Get returns the value under key unless it is missing or expired
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.data[key]
	if !ok {
		var zero V
		return zero, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.data, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Delete removes key
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.data, key)
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired ones included
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

func (c *Cache[K, V]) evictOldest() {
	var (
		oldestKey K
		oldest    time.Time
		found     bool
	)
	for key, e := range c.data {
		if !found || e.createdAt.Before(oldest) {
			oldestKey, oldest, found = key, e.createdAt, true
		}
	}
	if found {
		delete(c.data, oldestKey)
	}
}

// Cleanup drops expired entries and returns how many were removed
func (c *Cache[K, V]) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeExpired(c.now())
}

func (c *Cache[K, V]) removeExpired(now time.Time) int {
	removed := 0
	for key, e := range c.data {
		if !now.Before(e.expiresAt) {
			delete(c.data, key)
			removed++
		}
	}
	return removed
}
