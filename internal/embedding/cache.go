package embedding

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Cache stores vectors by key.
type Cache interface {
	Get(ctx context.Context, key string) ([]float64, bool)
	Set(ctx context.Context, key string, vec []float64)
}

// TieredCache keeps vectors in memory (L1) and optionally in Redis (L2) so
// they survive restarts and are shared between processes.
type TieredCache struct {
	l1         sync.Map // key -> *cacheEntry
	size       atomic.Int64
	rdb        *redis.Client // nil when Redis is unavailable
	ttl        time.Duration
	maxEntries int
	logger     *zap.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

type cacheEntry struct {
	vec       []float64
	expiresAt time.Time
}

// NewTieredCache sets up the cache. redisURL may be empty to disable L2.
// An unreachable Redis disables L2 with a warning.
func NewTieredCache(ctx context.Context, redisURL string, ttl time.Duration, maxEntries int, logger *zap.Logger) *TieredCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	c := &TieredCache{ttl: ttl, maxEntries: maxEntries, logger: logger}

	if redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			logger.Warn("embedding cache: invalid redis URL, L2 disabled", zap.Error(err))
		} else {
			rdb := redis.NewClient(opts)
			pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if err := rdb.Ping(pingCtx).Err(); err != nil {
				logger.Warn("embedding cache: redis unreachable, L2 disabled", zap.Error(err))
				_ = rdb.Close()
			} else {
				c.rdb = rdb
				logger.Info("embedding cache: L2 redis connected", zap.String("addr", opts.Addr))
			}
		}
	}
	return c
}

// Get tries L1, then L2. An L2 hit repopulates L1.
func (c *TieredCache) Get(ctx context.Context, key string) ([]float64, bool) {
	if val, ok := c.l1.Load(key); ok {
		entry := val.(*cacheEntry)
		if time.Now().Before(entry.expiresAt) {
			c.hits.Add(1)
			return append([]float64(nil), entry.vec...), true
		}
		if _, loaded := c.l1.LoadAndDelete(key); loaded {
			c.size.Add(-1)
		}
	}

	if c.rdb != nil {
		data, err := c.rdb.Get(ctx, key).Bytes()
		if err == nil {
			var vec []float64
			if json.Unmarshal(data, &vec) == nil && len(vec) > 0 {
				c.hits.Add(1)
				c.storeL1(key, vec)
				return vec, true
			}
		} else if err != redis.Nil {
			c.logger.Debug("embedding cache: L2 get failed", zap.Error(err))
		}
	}

	c.misses.Add(1)
	return nil, false
}

// Set stores vec in both tiers.
func (c *TieredCache) Set(ctx context.Context, key string, vec []float64) {
	c.storeL1(key, vec)

	if c.rdb == nil {
		return
	}
	data, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Debug("embedding cache: L2 set failed", zap.Error(err))
	}
}

// Stats returns hit and miss counters.
func (c *TieredCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Close releases the Redis connection.
func (c *TieredCache) Close() error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

func (c *TieredCache) storeL1(key string, vec []float64) {
	if c.maxEntries > 0 && int(c.size.Load()) >= c.maxEntries {
		c.evictExpired()
		if int(c.size.Load()) >= c.maxEntries {
			return
		}
	}
	entry := &cacheEntry{vec: append([]float64(nil), vec...), expiresAt: time.Now().Add(c.ttl)}
	if _, loaded := c.l1.Swap(key, entry); !loaded {
		c.size.Add(1)
	}
}

func (c *TieredCache) evictExpired() {
	now := time.Now()
	c.l1.Range(func(key, val any) bool {
		if entry, ok := val.(*cacheEntry); ok && now.After(entry.expiresAt) {
			if _, loaded := c.l1.LoadAndDelete(key); loaded {
				c.size.Add(-1)
			}
		}
		return true
	})
}

var _ Cache = (*TieredCache)(nil)
