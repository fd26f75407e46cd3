package cache

import (
	"context"
	"sync"
	"time"
)

type ttlEntry[V any] struct {
	value     V
	expiresAt time.Time
}

func (e *ttlEntry[V]) expired() bool {
	return time.Now().After(e.expiresAt)
}

// TTL is a time-bounded cache. Entries expire after their TTL (the
// per-call value, or the cache default when the call passes zero) and
// are swept by a background goroutine tied to the constructor context.
type TTL[V any] struct {
	mu         sync.RWMutex
	defaultTTL time.Duration
	items      map[string]*ttlEntry[V]
	metrics    *cacheMetrics

	stop chan struct{}
	once sync.Once
}

// NewTTL creates a TTL cache. cleanupInterval controls how often the
// background sweep runs; the sweep stops when ctx is canceled or Close
// is called.
func NewTTL[V any](ctx context.Context, defaultTTL, cleanupInterval time.Duration, opts ...Option) (*TTL[V], error) {
	o := buildOptions(opts)
	var metrics *cacheMetrics
	if o.metricsReg != nil && o.metricsPrefix != "" {
		var err error
		metrics, err = newCacheMetrics(o.metricsReg, o.metricsPrefix)
		if err != nil {
			return nil, err
		}
	}
	c := &TTL[V]{
		defaultTTL: defaultTTL,
		items:      make(map[string]*ttlEntry[V]),
		metrics:    metrics,
		stop:       make(chan struct{}),
	}
	go c.sweep(ctx, cleanupInterval)
	return c, nil
}

// Get retrieves a value, treating expired entries as absent.
func (c *TTL[V]) Get(_ context.Context, key string) (V, bool, error) {
	c.mu.RLock()
	entry, ok := c.items[key]
	c.mu.RUnlock()

	if !ok || entry.expired() {
		if ok {
			c.mu.Lock()
			if current, still := c.items[key]; still && current.expired() {
				delete(c.items, key)
				c.metrics.evict()
			}
			c.mu.Unlock()
		}
		var zero V
		c.metrics.miss()
		return zero, false, nil
	}
	c.metrics.hit()
	return entry.value, true, nil
}

// Set stores a value with the given ttl (zero selects the default).
func (c *TTL[V]) Set(_ context.Context, key string, value V, ttl time.Duration) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	entry := &ttlEntry[V]{value: value, expiresAt: time.Now().Add(ttl)}

	c.mu.Lock()
	c.items[key] = entry
	c.mu.Unlock()
	c.metrics.set()
	return nil
}

// Delete removes key, reporting whether a live entry was present.
func (c *TTL[V]) Delete(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.items[key]
	if !ok {
		return false, nil
	}
	delete(c.items, key)
	return !entry.expired(), nil
}

// Close stops the background sweep.
func (c *TTL[V]) Close() {
	c.once.Do(func() { close(c.stop) })
}

func (c *TTL[V]) sweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			for key, entry := range c.items {
				if entry.expired() {
					delete(c.items, key)
					c.metrics.evict()
				}
			}
			c.mu.Unlock()
		}
	}
}
