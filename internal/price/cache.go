package price

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Cache stores prices for a short time.
type Cache interface {
	Get(ctx context.Context, key string) (decimal.Decimal, bool)
	Set(ctx context.Context, key string, v decimal.Decimal)
}

// RedisCache keeps prices in Redis so every replica shares one view.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string) (decimal.Decimal, bool) {
	s, err := c.rdb.Get(ctx, priceKey(key)).Result()
	if err != nil {
		return decimal.Zero, false
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return v, true
}

func (c *RedisCache) Set(ctx context.Context, key string, v decimal.Decimal) {
	c.rdb.Set(ctx, priceKey(key), v.String(), c.ttl)
}

func priceKey(key string) string { return "price:" + key }

// MemoryCache is a process-local cache for deployments without Redis.
type MemoryCache struct {
	mu  sync.RWMutex
	ttl time.Duration
	m   map[string]memEntry
	now func() time.Time
}

type memEntry struct {
	v       decimal.Decimal
	expires time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, m: make(map[string]memEntry), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, key string) (decimal.Decimal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.m[key]
	if !ok || !c.now().Before(e.expires) {
		return decimal.Zero, false
	}
	return e.v, true
}

func (c *MemoryCache) Set(_ context.Context, key string, v decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = memEntry{v: v, expires: c.now().Add(c.ttl)}
}
