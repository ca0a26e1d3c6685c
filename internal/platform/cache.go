package platform

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// responseCache stores ETag-validated GET responses keyed by URL (status
// lists by a per-commit "statuses:owner/repo@sha" key), mirroring
// the original system's `cachecontrol.CacheControl(session, cache=redis.Redis())`
// wrapper: every GET carries `Cache-Control: no-cache` so the platform may
// answer "not modified", which costs no rate budget, and the adapter serves
// the cached body in that case.
type responseCache interface {
	// Get returns the cached (etag, body) for a key, if any.
	Get(ctx context.Context, key string) (etag string, body []byte, ok bool)
	// Set stores (etag, body) for a key.
	Set(ctx context.Context, key, etag string, body []byte)
	// Evict removes a key, used on writes that invalidate a cached list
	// (spec.md §4.5's cache-invalidation-on-write contract).
	Evict(ctx context.Context, key string)
}

// redisCache is a responseCache backed by redis/go-redis; it requires a
// non-nil *redis.Client. When config.Redis.Addr is empty no redisCache is
// built and New falls back to inProcessCache — the adapter never runs
// without some cache, only without a shared one.
type redisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func newRedisCache(client *redis.Client, ttl time.Duration) *redisCache {
	return &redisCache{client: client, ttl: ttl}
}

func (c *redisCache) Get(ctx context.Context, key string) (string, []byte, bool) {
	etag, err := c.client.HGet(ctx, key, "etag").Result()
	if err != nil {
		return "", nil, false
	}
	body, err := c.client.HGet(ctx, key, "body").Bytes()
	if err != nil {
		return "", nil, false
	}
	return etag, body, true
}

func (c *redisCache) Set(ctx context.Context, key, etag string, body []byte) {
	pipe := c.client.Pipeline()
	pipe.HSet(ctx, key, "etag", etag, "body", body)
	pipe.Expire(ctx, key, c.ttl)
	_, _ = pipe.Exec(ctx)
}

func (c *redisCache) Evict(ctx context.Context, key string) {
	c.client.Del(ctx, key)
}

// inProcessCache is the fallback responseCache when no redis.Addr is
// configured. The adapter is shared across concurrently-running Executors
// (spec.md §5), so its plain map is guarded by a mutex rather than assuming
// single-goroutine access.
type inProcessCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	etag string
	body []byte
}

func newInProcessCache() *inProcessCache {
	return &inProcessCache{entries: make(map[string]cacheEntry)}
}

func (c *inProcessCache) Get(ctx context.Context, key string) (string, []byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return "", nil, false
	}
	return e.etag, e.body, true
}

func (c *inProcessCache) Set(ctx context.Context, key, etag string, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{etag: etag, body: body}
}

func (c *inProcessCache) Evict(ctx context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}
