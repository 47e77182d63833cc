package cache

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryItem struct {
	entry     *Entry
	expiresAt time.Time
}

// MemoryCache keeps entries in process memory. Expired entries are removed
// lazily on access and by a sweep on every Set.
type MemoryCache struct {
	mu    sync.Mutex
	items map[string]memoryItem
	ttl   time.Duration
	now   func() time.Time
}

// NewMemoryCache creates an empty cache. A non-positive ttl uses DefaultTTL.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryCache{
		items: make(map[string]memoryItem),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Get returns a copy of the entry stored under key.
func (c *MemoryCache) Get(_ context.Context, key string) (*Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[key]
	if !ok {
		return nil, nil
	}
	if !c.now().Before(item.expiresAt) {
		delete(c.items, key)
		return nil, nil
	}
	return cloneEntry(item.entry), nil
}

// Set stores a copy of entry.
func (c *MemoryCache) Set(_ context.Context, key string, entry *Entry) error {
	if key == "" {
		return fmt.Errorf("cache key is required")
	}
	if entry == nil {
		return fmt.Errorf("cache entry is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, item := range c.items {
		if !now.Before(item.expiresAt) {
			delete(c.items, k)
		}
	}
	c.items[key] = memoryItem{entry: cloneEntry(entry), expiresAt: now.Add(c.ttl)}
	return nil
}

// Len reports the number of unexpired entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for _, item := range c.items {
		if now.Before(item.expiresAt) {
			n++
		}
	}
	return n
}

// Close is a no-op for the memory cache.
func (c *MemoryCache) Close() error {
	return nil
}
