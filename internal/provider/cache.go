package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// kv is the minimal cache surface the read-through layer needs. Satisfied by
// redisKV in production and by a map fake in tests.
type kv interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

type redisKV struct {
	rdb *redis.Client
}

func (r redisKV) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (r redisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.rdb.Set(ctx, key, value, ttl).Err()
}

// CachedClient wraps a Client with a read-through cache over the catalog
// listings. Purchase, Status and Cancel pass through untouched; caching any
// of those would hand out stale money-affecting answers.
type CachedClient struct {
	Client

	store kv
	ttl   time.Duration
	log   *slog.Logger
}

func NewCachedClient(inner Client, rdb *redis.Client, ttl time.Duration, log *slog.Logger) *CachedClient {
	return &CachedClient{
		Client: inner,
		store:  redisKV{rdb: rdb},
		ttl:    ttl,
		log:    log,
	}
}

func (c *CachedClient) ListServices(ctx context.Context) ([]string, error) {
	return c.cachedList(ctx, c.cacheKey("services"), func(ctx context.Context) ([]string, error) {
		return c.Client.ListServices(ctx)
	})
}

func (c *CachedClient) ListCountries(ctx context.Context, service string) ([]string, error) {
	return c.cachedList(ctx, c.cacheKey("countries:"+service), func(ctx context.Context) ([]string, error) {
		return c.Client.ListCountries(ctx, service)
	})
}

func (c *CachedClient) cacheKey(suffix string) string {
	return fmt.Sprintf("provider:%s:%s", c.Client.Name(), suffix)
}

// cachedList serves from cache when possible. Cache failures degrade to a
// direct provider call; a cache outage must not break listings.
func (c *CachedClient) cachedList(ctx context.Context, key string, fetch func(context.Context) ([]string, error)) ([]string, error) {
	if raw, ok, err := c.store.Get(ctx, key); err != nil {
		c.log.WarnContext(ctx, "provider cache read failed", "key", key, "error", err)
	} else if ok {
		var cached []string
		if err := json.Unmarshal([]byte(raw), &cached); err == nil {
			return cached, nil
		}
		c.log.WarnContext(ctx, "provider cache entry corrupt", "key", key)
	}

	fresh, err := fetch(ctx)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(fresh); err == nil {
		if err := c.store.Set(ctx, key, string(raw), c.ttl); err != nil {
			c.log.WarnContext(ctx, "provider cache write failed", "key", key, "error", err)
		}
	}
	return fresh, nil
}
