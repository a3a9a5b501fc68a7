package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisEntry is the wire form a CacheEntry is stored in.
type redisEntry struct {
	Body       []byte      `json:"body"`
	StatusCode int         `json:"statusCode"`
	Header     http.Header `json:"header"`
	ExpiresAt  time.Time   `json:"expiresAt"`
}

// RedisCache is a PersistentCache backed by redis, used to memoize GET
// responses across processes. Entries expire server-side via the key TTL and
// client-side via ExpiresAt, whichever comes first.
//
// The Cache interface carries no context, so operations after Init run
// against a background context bounded by opTimeout.
type RedisCache struct {
	client    *redis.Client
	prefix    string
	opTimeout time.Duration
}

// NewRedisCache builds a cache store around the given connection options.
// Nothing is contacted until Init.
func NewRedisCache(opts *redis.Options, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "platform:response:"
	}
	return &RedisCache{
		client:    redis.NewClient(opts),
		prefix:    prefix,
		opTimeout: 2 * time.Second,
	}
}

// Init verifies the server is reachable. The client factory treats a failure
// here as non-fatal and falls back to the direct clients.
func (c *RedisCache) Init(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return err
	}
	return nil
}

// Close releases the underlying connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.opTimeout)
}

func (c *RedisCache) Get(key string) (*CacheEntry, bool) {
	ctx, cancel := c.opContext()
	defer cancel()

	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		return nil, false
	}

	var stored redisEntry
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, false
	}
	if time.Now().After(stored.ExpiresAt) {
		c.Delete(key)
		return nil, false
	}

	return &CacheEntry{
		Body:       stored.Body,
		StatusCode: stored.StatusCode,
		Header:     stored.Header,
		ExpiresAt:  stored.ExpiresAt,
	}, true
}

func (c *RedisCache) Set(key string, entry *CacheEntry, ttl time.Duration) {
	entry.ExpiresAt = time.Now().Add(ttl)

	raw, err := json.Marshal(redisEntry{
		Body:       entry.Body,
		StatusCode: entry.StatusCode,
		Header:     entry.Header,
		ExpiresAt:  entry.ExpiresAt,
	})
	if err != nil {
		return
	}

	ctx, cancel := c.opContext()
	defer cancel()
	c.client.Set(ctx, c.prefix+key, raw, ttl)
}

func (c *RedisCache) Delete(key string) {
	ctx, cancel := c.opContext()
	defer cancel()
	c.client.Del(ctx, c.prefix+key)
}

func (c *RedisCache) Clear() {
	ctx, cancel := c.opContext()
	defer cancel()

	iter := c.client.Scan(ctx, 0, c.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		c.client.Del(ctx, iter.Val())
	}
}
