package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fraudshield/fraudshield/internal/domain"
)

// New builds the cache named by cfg.Type: an in-process LRU for
// "memory", Redis for "redis", or Redis fronted by an LRU when two-phase
// caching is enabled.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewSizedLRUCache(cfg.LocalMaxSize, cfg.LocalMaxBytes), nil

	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// TwoPhaseCache reads through a local LRU (L1) to a shared store (L2).
// L2 is authoritative: writes land there first, and L1 entries are kept
// short so a model published by another replica becomes visible.
// Velocity counters live in L2 and fall back to L1 while L2 is down.
type TwoPhaseCache struct {
	local    *LRUCache
	remote   domain.Cache
	l1TTL    time.Duration
	degraded atomic.Bool
}

// NewTwoPhaseCache creates a two-phase cache with LRU + Redis.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}
	return newTwoPhase(NewSizedLRUCache(cfg.LocalMaxSize, cfg.LocalMaxBytes), remote, cfg.LocalTTL), nil
}

func newTwoPhase(local *LRUCache, remote domain.Cache, l1TTL time.Duration) *TwoPhaseCache {
	if l1TTL <= 0 {
		l1TTL = 5 * time.Minute
	}
	return &TwoPhaseCache{local: local, remote: remote, l1TTL: l1TTL}
}

// Get serves L1 hits locally and fills L1 from L2 on a miss.
func (c *TwoPhaseCache) Get(ctx context.Context, key string) ([]byte, error) {
	if val, _ := c.local.Get(ctx, key); val != nil {
		return val, nil
	}

	val, err := c.remote.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("l2 get %s: %w", key, err)
	}
	if val != nil {
		c.fillLocal(ctx, key, val, 0)
	}
	return val, nil
}

// Set writes L2 and, only once that succeeds, L1. A failed shared write
// never leaves a value only this replica can see.
func (c *TwoPhaseCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.remote.Set(ctx, key, value, ttl); err != nil {
		_ = c.local.Delete(ctx, key)
		return fmt.Errorf("l2 set %s: %w", key, err)
	}
	c.fillLocal(ctx, key, value, ttl)
	return nil
}

// Delete removes key from both tiers. L1 is always cleared.
func (c *TwoPhaseCache) Delete(ctx context.Context, key string) error {
	_ = c.local.Delete(ctx, key)
	if err := c.remote.Delete(ctx, key); err != nil {
		return fmt.Errorf("l2 delete %s: %w", key, err)
	}
	return nil
}

// IncrementCounter counts in L2 so every replica sees the same window.
// While L2 is failing, counts come from L1 and are replica-local.
func (c *TwoPhaseCache) IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error) {
	n, err := c.remote.IncrementCounter(ctx, key, window)
	if err == nil {
		if c.degraded.Swap(false) {
			slog.Info("shared counters recovered")
		}
		return n, nil
	}
	if !c.degraded.Swap(true) {
		slog.Warn("shared counters unavailable, counting locally", "error", err)
	}
	return c.local.IncrementCounter(ctx, key, window)
}

// Degraded reports whether counters are currently served from L1.
func (c *TwoPhaseCache) Degraded() bool {
	return c.degraded.Load()
}

// Ping reports L2 health; L1 cannot fail.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("l2 ping: %w", err)
	}
	return nil
}

// Close closes both tiers.
func (c *TwoPhaseCache) Close() error {
	return errors.Join(c.local.Close(), c.remote.Close())
}

// Stats returns L1 cache statistics.
func (c *TwoPhaseCache) Stats() (size int, capacity int) {
	return c.local.Stats()
}

// fillLocal caches val in L1 for at most l1TTL. Values over the L1 byte
// budget stay in L2 only.
func (c *TwoPhaseCache) fillLocal(ctx context.Context, key string, val []byte, ttl time.Duration) {
	l1TTL := c.l1TTL
	if ttl > 0 && ttl < l1TTL {
		l1TTL = ttl
	}
	if err := c.local.Set(ctx, key, val, l1TTL); errors.Is(err, ErrEntryTooLarge) {
		slog.Debug("value kept in l2 only", "key", key, "bytes", len(val))
	}
}
