package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fraudshield/fraudshield/internal/domain"
)

// fakeClock lets tests move LRU time forward without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClockedCache(size int) (*LRUCache, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	c := NewLRUCache(size)
	c.now = clock.Now
	return c, clock
}

func TestLRUCache(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		err := cache.Set(ctx, "key1", []byte("value1"), time.Minute)
		if err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := cache.Get(ctx, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}

		if string(val) != "value1" {
			t.Errorf("expected 'value1', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, "key2", []byte("value2"), time.Minute)

		err := cache.Delete(ctx, "key2")
		if err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		val, _ := cache.Get(ctx, "key2")
		if val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		c, clock := newClockedCache(10)
		_ = c.Set(ctx, "expiring", []byte("temp"), 10*time.Second)

		// Should be available immediately
		val, _ := c.Get(ctx, "expiring")
		if val == nil {
			t.Error("expected value before expiration")
		}

		clock.Advance(11 * time.Second)

		val, _ = c.Get(ctx, "expiring")
		if val != nil {
			t.Error("expected nil after expiration")
		}
	})

	t.Run("ZeroTTLNeverExpires", func(t *testing.T) {
		c, clock := newClockedCache(10)
		_ = c.Set(ctx, "model", []byte("blob"), 0)

		clock.Advance(365 * 24 * time.Hour)

		val, _ := c.Get(ctx, "model")
		if string(val) != "blob" {
			t.Errorf("expected entry without ttl to persist, got %q", val)
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		smallCache := NewLRUCache(3)

		_ = smallCache.Set(ctx, "a", []byte("1"), time.Minute)
		_ = smallCache.Set(ctx, "b", []byte("2"), time.Minute)
		_ = smallCache.Set(ctx, "c", []byte("3"), time.Minute)

		// Access 'a' to make it recently used
		_, _ = smallCache.Get(ctx, "a")

		// Add 'd' - should evict 'b' (oldest accessed)
		_ = smallCache.Set(ctx, "d", []byte("4"), time.Minute)

		// 'b' should be evicted
		val, _ := smallCache.Get(ctx, "b")
		if val != nil {
			t.Error("expected 'b' to be evicted")
		}

		// 'a' should still be there
		val, _ = smallCache.Get(ctx, "a")
		if val == nil {
			t.Error("expected 'a' to still exist")
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		_ = cache.Set(ctx, "ow", []byte("old"), time.Minute)
		_ = cache.Set(ctx, "ow", []byte("new"), time.Minute)

		val, _ := cache.Get(ctx, "ow")
		if string(val) != "new" {
			t.Errorf("expected 'new', got '%s'", string(val))
		}
	})

	t.Run("IncrementCounter", func(t *testing.T) {
		c, clock := newClockedCache(10)
		window := 24 * time.Hour

		count1, err := c.IncrementCounter(ctx, "customer:c-1", window)
		if err != nil {
			t.Fatalf("IncrementCounter failed: %v", err)
		}
		if count1 != 1 {
			t.Errorf("expected count 1, got %d", count1)
		}

		count2, _ := c.IncrementCounter(ctx, "customer:c-1", window)
		if count2 != 2 {
			t.Errorf("expected count 2, got %d", count2)
		}

		// Wait for window to expire
		clock.Advance(window + time.Second)

		count3, _ := c.IncrementCounter(ctx, "customer:c-1", window)
		if count3 != 1 {
			t.Errorf("expected count 1 after window reset, got %d", count3)
		}
	})

	t.Run("ConcurrentIncrement", func(t *testing.T) {
		c := NewLRUCache(10)
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = c.IncrementCounter(ctx, "hot", time.Hour)
			}()
		}
		wg.Wait()

		n, _ := c.IncrementCounter(ctx, "hot", time.Hour)
		if n != 51 {
			t.Errorf("expected 51 after concurrent increments, got %d", n)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		statsCache := NewLRUCache(50)
		_ = statsCache.Set(ctx, "k1", []byte("v1"), time.Minute)
		_ = statsCache.Set(ctx, "k2", []byte("v2"), time.Minute)

		size, capacity := statsCache.Stats()
		if size != 2 {
			t.Errorf("expected size 2, got %d", size)
		}
		if capacity != 50 {
			t.Errorf("expected capacity 50, got %d", capacity)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := cache.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("Close", func(t *testing.T) {
		testCache := NewLRUCache(10)
		_ = testCache.Set(ctx, "k", []byte("v"), time.Minute)

		err := testCache.Close()
		if err != nil {
			t.Errorf("Close failed: %v", err)
		}

		// Cache should be empty after close
		val, _ := testCache.Get(ctx, "k")
		if val != nil {
			t.Error("expected cache to be cleared after close")
		}
	})
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		cfg := domain.CacheConfig{
			Type:         "memory",
			LocalMaxSize: 100,
		}

		cache, err := New(cfg)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer cache.Close()

		lru, ok := cache.(*LRUCache)
		if !ok {
			t.Fatal("expected LRUCache for memory type")
		}
		if lru.maxBytes != 0 {
			t.Errorf("expected no byte budget, got %d", lru.maxBytes)
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		cfg := domain.CacheConfig{
			Type: "memcached",
		}

		_, err := New(cfg)
		if err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

func TestLRUByteBudget(t *testing.T) {
	ctx := context.Background()

	t.Run("EvictsUntilUnderBudget", func(t *testing.T) {
		c := NewSizedLRUCache(100, 10)
		_ = c.Set(ctx, "a", []byte("aaaa"), 0)
		_ = c.Set(ctx, "b", []byte("bbbb"), 0)
		_ = c.Set(ctx, "c", []byte("cccc"), 0)

		if val, _ := c.Get(ctx, "a"); val != nil {
			t.Error("expected oldest entry evicted by byte budget")
		}
		if got := c.Bytes(); got != 8 {
			t.Errorf("expected 8 bytes held, got %d", got)
		}
	})

	t.Run("OverwriteAdjustsBytes", func(t *testing.T) {
		c := NewSizedLRUCache(100, 100)
		_ = c.Set(ctx, "k", []byte("123456"), 0)
		_ = c.Set(ctx, "k", []byte("12"), 0)
		if got := c.Bytes(); got != 2 {
			t.Errorf("expected 2 bytes after overwrite, got %d", got)
		}
		_ = c.Delete(ctx, "k")
		if got := c.Bytes(); got != 0 {
			t.Errorf("expected 0 bytes after delete, got %d", got)
		}
	})

	t.Run("RejectsOversizedValue", func(t *testing.T) {
		c := NewSizedLRUCache(100, 4)
		_ = c.Set(ctx, "model", []byte("old"), 0)

		err := c.Set(ctx, "model", []byte("too large"), 0)
		if !errors.Is(err, ErrEntryTooLarge) {
			t.Fatalf("expected ErrEntryTooLarge, got %v", err)
		}
		if val, _ := c.Get(ctx, "model"); val != nil {
			t.Errorf("expected stale value dropped, got %q", val)
		}
	})

	t.Run("ValuesAreCopied", func(t *testing.T) {
		c := NewLRUCache(10)
		buf := []byte("state")
		_ = c.Set(ctx, "k", buf, 0)
		buf[0] = 'X'

		got, _ := c.Get(ctx, "k")
		got[1] = 'Y'
		again, _ := c.Get(ctx, "k")
		if string(again) != "state" {
			t.Errorf("cached value was aliased, got %q", again)
		}
	})
}

func TestLRUCounterSweep(t *testing.T) {
	ctx := context.Background()
	c, clock := newClockedCache(3)

	for _, id := range []string{"c-1", "c-2", "c-3"} {
		_, _ = c.IncrementCounter(ctx, "freq:"+id, time.Minute)
	}
	clock.Advance(2 * time.Minute)

	_, _ = c.IncrementCounter(ctx, "freq:c-4", time.Minute)
	if got := c.Counters(); got != 1 {
		t.Errorf("expected expired counters swept, %d remain", got)
	}
}

// flakyRemote stands in for Redis. When failing, every call errors.
type flakyRemote struct {
	*LRUCache
	mu      sync.Mutex
	failing bool
}

var errRemoteDown = errors.New("connection refused")

func (r *flakyRemote) setFailing(v bool) {
	r.mu.Lock()
	r.failing = v
	r.mu.Unlock()
}

func (r *flakyRemote) down() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failing
}

func (r *flakyRemote) Get(ctx context.Context, key string) ([]byte, error) {
	if r.down() {
		return nil, errRemoteDown
	}
	return r.LRUCache.Get(ctx, key)
}

func (r *flakyRemote) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if r.down() {
		return errRemoteDown
	}
	return r.LRUCache.Set(ctx, key, value, ttl)
}

func (r *flakyRemote) Delete(ctx context.Context, key string) error {
	if r.down() {
		return errRemoteDown
	}
	return r.LRUCache.Delete(ctx, key)
}

func (r *flakyRemote) IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error) {
	if r.down() {
		return 0, errRemoteDown
	}
	return r.LRUCache.IncrementCounter(ctx, key, window)
}

func (r *flakyRemote) Ping(ctx context.Context) error {
	if r.down() {
		return errRemoteDown
	}
	return nil
}

func TestTwoPhaseCache(t *testing.T) {
	ctx := context.Background()
	newPair := func() (*TwoPhaseCache, *flakyRemote) {
		remote := &flakyRemote{LRUCache: NewLRUCache(100)}
		return newTwoPhase(NewSizedLRUCache(100, 8), remote, time.Minute), remote
	}

	t.Run("ReadThroughFillsL1", func(t *testing.T) {
		c, remote := newPair()
		_ = remote.LRUCache.Set(ctx, "model:v1", []byte("blob"), 0)

		val, err := c.Get(ctx, "model:v1")
		if err != nil || string(val) != "blob" {
			t.Fatalf("expected L2 hit, got %q, %v", val, err)
		}
		remote.setFailing(true)
		if val, err := c.Get(ctx, "model:v1"); err != nil || string(val) != "blob" {
			t.Errorf("expected L1 hit while L2 is down, got %q, %v", val, err)
		}
	})

	t.Run("FailedSharedWriteSkipsL1", func(t *testing.T) {
		c, remote := newPair()
		remote.setFailing(true)

		if err := c.Set(ctx, "model:v2", []byte("blob"), 0); !errors.Is(err, errRemoteDown) {
			t.Fatalf("expected wrapped remote error, got %v", err)
		}
		if val, _ := c.local.Get(ctx, "model:v2"); val != nil {
			t.Error("expected no L1 entry after failed L2 write")
		}
	})

	t.Run("LargeValuesStayInL2", func(t *testing.T) {
		c, remote := newPair()
		if err := c.Set(ctx, "model:big", []byte("much larger than eight"), 0); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		if val, _ := c.local.Get(ctx, "model:big"); val != nil {
			t.Error("expected oversized value kept out of L1")
		}
		if val, _ := remote.LRUCache.Get(ctx, "model:big"); val == nil {
			t.Error("expected oversized value in L2")
		}
	})

	t.Run("DeleteClearsL1EvenWhenL2Fails", func(t *testing.T) {
		c, remote := newPair()
		_ = c.Set(ctx, "k", []byte("v"), 0)
		remote.setFailing(true)

		if err := c.Delete(ctx, "k"); err == nil {
			t.Error("expected L2 delete error")
		}
		if val, _ := c.local.Get(ctx, "k"); val != nil {
			t.Error("expected L1 entry removed")
		}
	})

	t.Run("CountersFallBackToL1", func(t *testing.T) {
		c, remote := newPair()
		if n, _ := c.IncrementCounter(ctx, "freq:c-1", time.Hour); n != 1 {
			t.Fatalf("expected shared count 1, got %d", n)
		}

		remote.setFailing(true)
		n, err := c.IncrementCounter(ctx, "freq:c-1", time.Hour)
		if err != nil {
			t.Fatalf("expected local fallback, got %v", err)
		}
		if n != 1 || !c.Degraded() {
			t.Errorf("expected degraded local count 1, got %d degraded=%v", n, c.Degraded())
		}
		if err := c.Ping(ctx); err == nil {
			t.Error("expected ping to surface L2 failure")
		}

		remote.setFailing(false)
		if n, _ := c.IncrementCounter(ctx, "freq:c-1", time.Hour); n != 2 {
			t.Errorf("expected shared count 2 after recovery, got %d", n)
		}
		if c.Degraded() {
			t.Error("expected degraded flag cleared")
		}
	})
}
