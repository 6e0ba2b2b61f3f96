package lru

import (
	"sync"
	"time"

	hlru "github.com/hashicorp/golang-lru/v2"
)

type Eviction[K comparable, V any] struct {
	Key   K
	Value V
}

// Cache is a size-bounded recency cache whose entries also expire after
// sitting idle for longer than the grace period. Access refreshes both.
type Cache[K comparable, V any] struct {
	mu    sync.Mutex
	inner *hlru.Cache[K, *cacheEntry[V]]
	grace time.Duration
	now   func() time.Time

	// EvictionChannel receives capacity and idle evictions. Sends never
	// block; notifications are dropped when the channel is full.
	EvictionChannel chan<- Eviction[K, V]
}

type cacheEntry[V any] struct {
	value      V
	lastAccess time.Time
}

// New returns a cache bounded to cap entries. A grace of zero disables
// idle expiry.
func New[K comparable, V any](cap int, grace time.Duration) *Cache[K, V] {
	if cap <= 0 {
		cap = 1 << 30
	}
	c := &Cache[K, V]{
		grace: grace,
		now:   time.Now,
	}
	// only fails on non-positive size
	c.inner, _ = hlru.NewWithEvict[K, *cacheEntry[V]](cap, c.onEvict)
	return c
}

// SetClock replaces time.Now for idle tracking.
func (c *Cache[K, V]) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

func (c *Cache[K, V]) onEvict(key K, e *cacheEntry[V]) {
	if c.EvictionChannel == nil {
		return
	}
	select {
	case c.EvictionChannel <- Eviction[K, V]{Key: key, Value: e.value}:
	default:
	}
}

func (c *Cache[K, V]) expired(e *cacheEntry[V], now time.Time) bool {
	return c.grace > 0 && now.Sub(e.lastAccess) > c.grace
}

// Has checks if the cache contains a live entry for key, without touching it.
func (c *Cache[K, V]) Has(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.inner.Peek(key)
	return ok && !c.expired(e, c.now())
}

// Get retrieves the key's value and marks it recently used.
// It returns nil if there is no live value for the given key.
func (c *Cache[K, V]) Get(key K) *V {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.inner.Get(key)
	if !ok {
		return nil
	}
	now := c.now()
	if c.expired(e, now) {
		c.inner.Remove(key)
		return nil
	}
	e.lastAccess = now
	v := e.value
	return &v
}

// Peek returns the value without updating recency or access time.
func (c *Cache[K, V]) Peek(key K) *V {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.inner.Peek(key)
	if !ok || c.expired(e, c.now()) {
		return nil
	}
	v := e.value
	return &v
}

// Set stores value under key, evicting the least recently used entry
// when over capacity.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Add(key, &cacheEntry[V]{value: value, lastAccess: c.now()})
}

// Remove deletes key, reporting whether it was present.
func (c *Cache[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inner.Remove(key)
}

// Purge drops every entry.
func (c *Cache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Purge()
}

// Len returns the number of stored entries, including idle ones not yet
// collected.
func (c *Cache[K, V]) Len() int {
	return c.inner.Len()
}

// Keys returns the keys from oldest to newest.
func (c *Cache[K, V]) Keys() []K {
	return c.inner.Keys()
}

// Expire drops entries idle for longer than the grace period.
func (c *Cache[K, V]) Expire() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	var n int
	for _, key := range c.inner.Keys() {
		if e, ok := c.inner.Peek(key); ok && c.expired(e, now) {
			c.inner.Remove(key)
			n++
		}
	}
	return n
}

// Evict removes up to count of the least recently used entries.
func (c *Cache[K, V]) Evict(count int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var evicted int
	for evicted < count {
		if _, _, ok := c.inner.RemoveOldest(); !ok {
			break
		}
		evicted++
	}
	return evicted
}
