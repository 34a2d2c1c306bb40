// Package cache provides caching implementations for FraudShield.
package cache

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"
)

// ErrEntryTooLarge is returned when a single value exceeds the byte budget.
var ErrEntryTooLarge = errors.New("cache entry exceeds byte budget")

// LRUCache is an in-process cache bounded by entry count and, optionally,
// by total value bytes. Model artifacts and velocity counters share it, so
// both bounds matter: a few large blobs or many small counters.
type LRUCache struct {
	mu       sync.RWMutex
	maxSize  int
	maxBytes int64
	bytes    int64
	items    map[string]*list.Element
	order    *list.List
	counters map[string]*counterEntry
	now      func() time.Time
}

type cacheEntry struct {
	key       string
	value     []byte
	expiresAt time.Time // zero means no expiry
}

type counterEntry struct {
	count     int64
	expiresAt time.Time
}

// NewLRUCache creates a cache holding at most maxSize entries.
func NewLRUCache(maxSize int) *LRUCache {
	return NewSizedLRUCache(maxSize, 0)
}

// NewSizedLRUCache creates a cache holding at most maxSize entries and
// maxBytes of values. maxBytes <= 0 disables the byte budget.
func NewSizedLRUCache(maxSize int, maxBytes int64) *LRUCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	if maxBytes < 0 {
		maxBytes = 0
	}
	return &LRUCache{
		maxSize:  maxSize,
		maxBytes: maxBytes,
		items:    make(map[string]*list.Element),
		order:    list.New(),
		counters: make(map[string]*counterEntry),
		now:      time.Now,
	}
}

// Get returns a copy of the value stored under key, or nil on a miss.
func (c *LRUCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, nil
	}
	entry := elem.Value.(*cacheEntry)
	if c.expired(entry.expiresAt) {
		c.removeElement(elem)
		return nil, nil
	}
	c.order.MoveToFront(elem)
	return clone(entry.value), nil
}

// Set stores a copy of value. A ttl <= 0 never expires. A value larger
// than the byte budget is rejected and any older value under key dropped.
func (c *LRUCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := int64(len(value))
	if c.maxBytes > 0 && size > c.maxBytes {
		if elem, ok := c.items[key]; ok {
			c.removeElement(elem)
		}
		return ErrEntryTooLarge
	}

	expiresAt := c.deadline(ttl)
	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*cacheEntry)
		c.bytes += size - int64(len(entry.value))
		entry.value = clone(value)
		entry.expiresAt = expiresAt
		c.order.MoveToFront(elem)
	} else {
		c.items[key] = c.order.PushFront(&cacheEntry{key: key, value: clone(value), expiresAt: expiresAt})
		c.bytes += size
	}

	for c.order.Len() > c.maxSize || (c.maxBytes > 0 && c.bytes > c.maxBytes) {
		c.removeElement(c.order.Back())
	}
	return nil
}

// Delete removes a value from cache.
func (c *LRUCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
	return nil
}

// IncrementCounter bumps a fixed-window counter; the window starts with
// the first increment. Expired counters are swept once the counter table
// outgrows the entry limit, so one-off customers do not accumulate.
func (c *LRUCache) IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.counters[key]; ok && !c.expired(entry.expiresAt) {
		entry.count++
		return entry.count, nil
	}

	if len(c.counters) >= c.maxSize {
		c.sweepCounters()
	}
	c.counters[key] = &counterEntry{count: 1, expiresAt: c.deadline(window)}
	return 1, nil
}

// Ping checks cache health.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close drops every entry and counter.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order = list.New()
	c.counters = make(map[string]*counterEntry)
	c.bytes = 0
	return nil
}

// Stats returns the entry count and entry limit.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.order.Len(), c.maxSize
}

// Bytes returns the total size of stored values.
func (c *LRUCache) Bytes() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bytes
}

// Counters returns the number of live counter windows.
func (c *LRUCache) Counters() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.counters)
}

func (c *LRUCache) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return c.now().Add(ttl)
}

func (c *LRUCache) expired(at time.Time) bool {
	return !at.IsZero() && c.now().After(at)
}

func (c *LRUCache) sweepCounters() {
	for key, entry := range c.counters {
		if c.expired(entry.expiresAt) {
			delete(c.counters, key)
		}
	}
}

func (c *LRUCache) removeElement(elem *list.Element) {
	entry := c.order.Remove(elem).(*cacheEntry)
	c.bytes -= int64(len(entry.value))
	delete(c.items, entry.key)
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append(make([]byte, 0, len(b)), b...)
}
