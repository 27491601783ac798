package opendata

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// ResponseCache is a redis-backed TTL cache for raw upstream payloads.
// Every method tolerates a nil cache and redis outages: a cache problem is
// treated as a miss so the caller falls through to a direct fetch.
type ResponseCache struct {
	client *redis.Client
}

// NewResponseCache creates a cache over an existing redis client.
// A nil client yields a cache that always misses.
func NewResponseCache(client *redis.Client) *ResponseCache {
	return &ResponseCache{client: client}
}

const cacheKeyPrefix = "opendata:"

// Get returns the cached payload for the URL, if present.
func (c *ResponseCache) Get(ctx context.Context, url string) ([]byte, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	data, err := c.client.Get(ctx, cacheKeyPrefix+url).Bytes()
	if err != nil {
		return nil, false
	}
	return data, true
}

// Set stores the payload with the given TTL. Failures are ignored.
func (c *ResponseCache) Set(ctx context.Context, url string, data []byte, ttl time.Duration) {
	if c == nil || c.client == nil {
		return
	}
	c.client.Set(ctx, cacheKeyPrefix+url, data, ttl)
}
