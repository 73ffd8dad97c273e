// Package cache provides the process-wide TTL read cache used to avoid
// redundant reads against the ledger service. Any successful mutation clears
// the whole cache; readers tolerate at-most-TTL staleness.
package cache

import (
	"sync"
	"time"
)

const DefaultTTL = 5 * time.Minute

type entry struct {
	storedAt time.Time
	value    any
}

// Cache is a TTL key-value cache safe for concurrent use.
type Cache struct {
	mu    sync.RWMutex
	ttl   time.Duration
	store map[string]entry
	now   func() time.Time
}

func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		ttl:   ttl,
		store: make(map[string]entry),
		now:   time.Now,
	}
}

// Get returns the cached value for key, or nil if absent or expired.
func (c *Cache) Get(key string) any {
	c.mu.RLock()
	e, ok := c.store[key]
	c.mu.RUnlock()
	if !ok {
		return nil
	}
	if c.now().Sub(e.storedAt) >= c.ttl {
		c.mu.Lock()
		delete(c.store, key)
		c.mu.Unlock()
		return nil
	}
	return e.value
}

func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store[key] = entry{storedAt: c.now(), value: value}
}

// Clear drops every entry. Invalidation is all-or-nothing: writers never
// partially invalidate.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store = make(map[string]entry)
}
