package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig controls redis client behavior.
// Keep it config-driven; defaults should be safe and conservative.
type RedisConfig struct {
	Addr string

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	PoolSize        int
	MinIdleConns    int
	PoolTimeout     time.Duration
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration

	PingTimeout time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 2 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 2 * time.Second
	}
	if out.PoolSize <= 0 {
		out.PoolSize = 20
	}
	if out.MinIdleConns < 0 {
		out.MinIdleConns = 0
	}
	if out.PoolTimeout <= 0 {
		out.PoolTimeout = 4 * time.Second
	}
	if out.ConnMaxIdleTime <= 0 {
		out.ConnMaxIdleTime = 5 * time.Minute
	}
	if out.ConnMaxLifetime <= 0 {
		out.ConnMaxLifetime = 30 * time.Minute
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// OpenRedis initializes a Redis client and validates connectivity via PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		PoolTimeout:     cfg.PoolTimeout,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

var mutexReleaseScript = redis.NewScript(`
-- KEYS[1] = lock key
-- ARGV[1] = owner token
-- Delete only if we still own the lock; a lock that expired and was re-acquired
-- by another process must not be released from here.
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// Mutex is a best-effort cross-process lock backed by redis SET NX.
// Intended for coordinating singleton background work (e.g. the expiry sweep)
// across multiple instances, not for correctness-critical exclusion: money
// operations stay safe without it via ledger idempotency keys.
type Mutex struct {
	rdb   *redis.Client
	key   string
	owner string
	ttl   time.Duration
}

// NewMutex creates a mutex for key. owner must be unique per holder
// (a process/instance id); ttl bounds how long a crashed holder can block others.
func NewMutex(rdb *redis.Client, key, owner string, ttl time.Duration) (*Mutex, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	if key == "" || owner == "" {
		return nil, fmt.Errorf("key and owner are required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("ttl must be > 0")
	}
	return &Mutex{rdb: rdb, key: key, owner: owner, ttl: ttl}, nil
}

// TryLock attempts a non-blocking acquire. Returns false when another holder
// currently owns the lock.
func (m *Mutex) TryLock(ctx context.Context) (bool, error) {
	ok, err := m.rdb.SetNX(ctx, m.key, m.owner, m.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mutex acquire failed: %w", err)
	}
	return ok, nil
}

// Unlock releases the lock if this mutex still owns it.
func (m *Mutex) Unlock(ctx context.Context) error {
	_, err := mutexReleaseScript.Run(ctx, m.rdb, []string{m.key}, m.owner).Result()
	if err != nil {
		return fmt.Errorf("mutex release failed: %w", err)
	}
	return nil
}
