// Package memo provides a bounded, time-expiring, single-flight memoization
// cache.
//
// A Cache remembers the outcome of a computation per key, failures
// included, until the entry's TTL runs out. Concurrent callers asking for the
// same missing key share one computation. When the cache is full the entry
// inserted first is evicted; reads do not refresh an entry's position.
package memo

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"

	"github.com/relaypoint/mirrorpoint/internal/metrics"
)

// Func computes the value for a key on a cache miss.
type Func[V any] func(ctx context.Context) (V, error)

type entry[V any] struct {
	value   V
	err     error
	expires time.Time
}

type Cache[K comparable, V any] struct {
	name    string
	ttl     time.Duration
	now     func() time.Time
	metrics *metrics.Metrics

	mu      sync.Mutex
	entries *lru.Cache // K -> *entry[V]; only Peek/Add/Remove so order stays insertion order
	flight  singleflight.Group
}

type Option func(*options)

type options struct {
	now     func() time.Time
	metrics *metrics.Metrics
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithMetrics reports lookups, evictions and size under the cache name.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// New creates a cache holding at most capacity entries for ttl each.
func New[K comparable, V any](name string, capacity int, ttl time.Duration, opts ...Option) (*Cache[K, V], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("memo %s: capacity must be positive, got %d", name, capacity)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("memo %s: ttl must be positive, got %s", name, ttl)
	}

	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	entries, err := lru.New(capacity)
	if err != nil {
		return nil, fmt.Errorf("memo %s: %w", name, err)
	}

	return &Cache[K, V]{
		name:    name,
		ttl:     ttl,
		now:     o.now,
		metrics: o.metrics,
		entries: entries,
	}, nil
}

// Get returns the memoized outcome for key, running compute on a miss.
//
// compute runs detached from ctx's cancellation so that other callers waiting
// on the same key still get a result. If ctx ends first, Get returns ctx.Err()
// and the computation carries on and populates the cache.
func (c *Cache[K, V]) Get(ctx context.Context, key K, compute Func[V]) (V, error) {
	if e, ok := c.lookup(key); ok {
		c.metrics.RecordCacheLookup(c.name, metrics.LookupHit)
		return e.value, e.err
	}

	ch := c.flight.DoChan(flightKey(key), func() (any, error) {
		// A flight that finished between our lookup and DoChan has already stored its entry.
		if e, ok := c.lookup(key); ok {
			c.metrics.RecordCacheLookup(c.name, metrics.LookupHit)
			return e, nil
		}
		c.metrics.RecordCacheLookup(c.name, metrics.LookupMiss)

		e := c.run(context.WithoutCancel(ctx), compute)
		c.store(key, e)
		return e, nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.metrics.RecordCacheLookup(c.name, metrics.LookupShared)
		}
		e := res.Val.(*entry[V])
		return e.value, e.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

func (c *Cache[K, V]) run(ctx context.Context, compute Func[V]) (e *entry[V]) {
	defer func() {
		if r := recover(); r != nil {
			e = &entry[V]{err: fmt.Errorf("memo %s: computation panicked: %v", c.name, r), expires: c.now().Add(c.ttl)}
		}
	}()
	v, err := compute(ctx)
	return &entry[V]{value: v, err: err, expires: c.now().Add(c.ttl)}
}

// lookup returns a live entry, dropping it if it has expired.
func (c *Cache[K, V]) lookup(key K) (*entry[V], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, ok := c.entries.Peek(key)
	if !ok {
		return nil, false
	}
	e := raw.(*entry[V])
	if !c.now().Before(e.expires) {
		c.entries.Remove(key)
		c.metrics.SetCacheEntries(c.name, c.entries.Len())
		return nil, false
	}
	return e, true
}

func (c *Cache[K, V]) store(key K, e *entry[V]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Re-adding a key would move it to the newest position; drop it first.
	c.entries.Remove(key)
	if evicted := c.entries.Add(key, e); evicted {
		c.metrics.RecordCacheEviction(c.name)
	}
	c.metrics.SetCacheEntries(c.name, c.entries.Len())
}

// Len reports the number of stored entries, expired ones included.
func (c *Cache[K, V]) Len() int {
	return c.entries.Len()
}

// Contains reports whether key holds a live entry.
func (c *Cache[K, V]) Contains(key K) bool {
	_, ok := c.lookup(key)
	return ok
}

// Purge drops every entry. In-flight computations still store their result.
func (c *Cache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
	c.metrics.SetCacheEntries(c.name, 0)
}

func flightKey[K comparable](key K) string {
	return fmt.Sprintf("%#v", key)
}
