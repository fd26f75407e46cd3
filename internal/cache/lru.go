package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type lruEntry[V any] struct {
	key       string
	value     V
	expiresAt time.Time // zero means no expiry
}

func (e *lruEntry[V]) expired() bool {
	return !e.expiresAt.IsZero() && time.Now().After(e.expiresAt)
}

// LRU is a size-bounded cache evicting the least recently used entry
// once maxSize is exceeded. Per-entry TTLs are honored on read.
type LRU[V any] struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element
	order   *list.List
	metrics *cacheMetrics
}

// NewLRU creates an LRU cache holding at most maxSize entries.
func NewLRU[V any](maxSize int, opts ...Option) (*LRU[V], error) {
	o := buildOptions(opts)
	var metrics *cacheMetrics
	if o.metricsReg != nil && o.metricsPrefix != "" {
		var err error
		metrics, err = newCacheMetrics(o.metricsReg, o.metricsPrefix)
		if err != nil {
			return nil, err
		}
	}
	return &LRU[V]{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
		metrics: metrics,
	}, nil
}

// Get retrieves a value and marks it as recently used.
func (c *LRU[V]) Get(_ context.Context, key string) (V, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.items[key]
	if !ok {
		var zero V
		c.metrics.miss()
		return zero, false, nil
	}
	entry := element.Value.(*lruEntry[V])
	if entry.expired() {
		c.removeLocked(element, entry)
		c.metrics.evict()
		c.metrics.miss()
		var zero V
		return zero, false, nil
	}
	c.order.MoveToFront(element)
	c.metrics.hit()
	return entry.value, true, nil
}

// Set stores a value and marks it as recently used.
func (c *LRU[V]) Set(_ context.Context, key string, value V, ttl time.Duration) error {
	if err := validateKey(key); err != nil {
		return err
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if element, ok := c.items[key]; ok {
		entry := element.Value.(*lruEntry[V])
		entry.value = value
		entry.expiresAt = expiresAt
		c.order.MoveToFront(element)
		c.metrics.set()
		return nil
	}
	entry := &lruEntry[V]{key: key, value: value, expiresAt: expiresAt}
	c.items[key] = c.order.PushFront(entry)
	c.metrics.set()
	if c.maxSize > 0 && len(c.items) > c.maxSize {
		if oldest := c.order.Back(); oldest != nil {
			c.removeLocked(oldest, oldest.Value.(*lruEntry[V]))
			c.metrics.evict()
		}
	}
	return nil
}

// Delete removes key, reporting whether it was present.
func (c *LRU[V]) Delete(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.items[key]
	if !ok {
		return false, nil
	}
	c.removeLocked(element, element.Value.(*lruEntry[V]))
	return true, nil
}

// Len reports the current number of entries, expired ones included.
func (c *LRU[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *LRU[V]) removeLocked(element *list.Element, entry *lruEntry[V]) {
	c.order.Remove(element)
	delete(c.items, entry.key)
}
