// Package cache provides a size-bounded LRU cache whose entries expire
// after a TTL.
package cache

import (
	"sync"
	"time"

	"github.com/golang/groupcache/lru"

	"github.com/banshee-data/demetra.report/internal/timeutil"
)

type entry[V any] struct {
	value   V
	expires time.Time
}

// Cache is safe for concurrent use. A zero TTL keeps entries until they are
// evicted by size.
type Cache[V any] struct {
	mu      sync.Mutex
	lru     *lru.Cache
	ttl     time.Duration
	clock   timeutil.Clock
	onEvict func(key string, value V)
}

// Option configures a Cache.
type Option[V any] func(*Cache[V])

// WithClock sets the clock used for expiry.
func WithClock[V any](c timeutil.Clock) Option[V] {
	return func(cc *Cache[V]) { cc.clock = c }
}

// WithEvict registers fn to run whenever an entry leaves the cache, whether
// by size, expiry, removal or replacement.
func WithEvict[V any](fn func(key string, value V)) Option[V] {
	return func(cc *Cache[V]) { cc.onEvict = fn }
}

// New creates a cache holding at most maxEntries items (0 means unbounded).
func New[V any](maxEntries int, ttl time.Duration, opts ...Option[V]) *Cache[V] {
	c := &Cache[V]{
		lru:   lru.New(maxEntries),
		ttl:   ttl,
		clock: timeutil.RealClock{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.lru.OnEvicted = func(key lru.Key, value interface{}) {
		if c.onEvict != nil {
			c.onEvict(key.(string), value.(entry[V]).value)
		}
	}
	return c
}

// Get returns the value for key if present and not expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero V
	v, ok := c.lru.Get(key)
	if !ok {
		return zero, false
	}
	e := v.(entry[V])
	if !e.expires.IsZero() && !c.clock.Now().Before(e.expires) {
		c.lru.Remove(key)
		return zero, false
	}
	return e.value, true
}

// Set stores value under key, replacing any previous entry.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := entry[V]{value: value}
	if c.ttl > 0 {
		e.expires = c.clock.Now().Add(c.ttl)
	}
	// lru.Add overwrites in place without calling OnEvicted.
	if old, ok := c.lru.Get(key); ok && c.onEvict != nil {
		c.onEvict(key, old.(entry[V]).value)
	}
	c.lru.Add(key, e)
}

// Delete removes key.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

// Len returns the number of entries, including expired ones not yet
// collected.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Clear removes every entry.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Clear()
}

// GetOrLoad returns the cached value for key, calling load on a miss and
// caching its result when it succeeds.
func (c *Cache[V]) GetOrLoad(key string, load func() (V, error)) (V, bool, error) {
	if v, ok := c.Get(key); ok {
		return v, true, nil
	}
	v, err := load()
	if err != nil {
		return v, false, err
	}
	c.Set(key, v)
	return v, false, nil
}
