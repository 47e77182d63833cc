// Package cache stores completed relay replies under a client idempotency
// key so a retried upload is answered without contacting the upstream again.
// Supports an in-process backend and Redis for multi-instance deployments.
package cache

import (
	"context"
	"fmt"
	"time"

	"formpost/config"
)

// Entry is one cached upstream reply.
type Entry struct {
	StatusCode  int       `json:"status_code"`
	ContentType string    `json:"content_type,omitempty"`
	Body        []byte    `json:"body"`
	RecordID    string    `json:"record_id,omitempty"`
	StoredAt    time.Time `json:"stored_at"`
}

// Cache defines the interface for reply storage.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns nil, nil when key is absent or expired.
	Get(ctx context.Context, key string) (*Entry, error)

	// Set stores entry under key for the cache's TTL.
	Set(ctx context.Context, key string, entry *Entry) error

	// Close releases any resources held by the cache.
	Close() error
}

// DefaultTTL is how long replies are kept when no TTL is configured.
const DefaultTTL = 24 * time.Hour

// New builds the backend named by cfg.Type.
func New(cfg config.CacheConfig) (Cache, error) {
	switch cfg.Type {
	case "", config.CacheMemory:
		return NewMemoryCache(cfg.TTL), nil
	case config.CacheRedis:
		return NewRedisCache(RedisConfig{
			URL:    cfg.Redis.URL,
			Prefix: cfg.Redis.Prefix,
			TTL:    cfg.TTL,
		})
	default:
		return nil, fmt.Errorf("unknown cache type: %s (valid: memory, redis)", cfg.Type)
	}
}

func cloneEntry(e *Entry) *Entry {
	c := *e
	c.Body = append([]byte(nil), e.Body...)
	return &c
}
