package cache

import (
	"sync"
	"time"
)

// entry is a cached value with expiration.
type entry[V any] struct {
	value      V
	expiration time.Time
}

func (e *entry[V]) expired(now time.Time) bool {
	return !now.Before(e.expiration)
}

// MemoryCache is a small in-memory TTL cache. A zero TTL disables caching:
// Set is a no-op and Get always misses.
type MemoryCache[V any] struct {
	items map[string]*entry[V]
	mutex sync.RWMutex
	ttl   time.Duration
	now   func() time.Time
	stop  chan struct{}
	once  sync.Once
}

// NewMemoryCache creates a cache and starts its background sweeper.
func NewMemoryCache[V any](ttl time.Duration) *MemoryCache[V] {
	c := &MemoryCache[V]{
		items: make(map[string]*entry[V]),
		ttl:   ttl,
		now:   time.Now,
		stop:  make(chan struct{}),
	}

	if ttl > 0 {
		go c.cleanupExpired(sweepInterval(ttl))
	}

	return c
}

func sweepInterval(ttl time.Duration) time.Duration {
	interval := 10 * ttl
	if interval < time.Second {
		interval = time.Second
	}
	if interval > 5*time.Minute {
		interval = 5 * time.Minute
	}
	return interval
}

// Set stores a value.
func (c *MemoryCache[V]) Set(key string, value V) {
	if c.ttl <= 0 {
		return
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.items[key] = &entry[V]{
		value:      value,
		expiration: c.now().Add(c.ttl),
	}
}

// Get retrieves a live value.
func (c *MemoryCache[V]) Get(key string) (V, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	e, ok := c.items[key]
	if !ok || e.expired(c.now()) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Delete removes a value.
func (c *MemoryCache[V]) Delete(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	delete(c.items, key)
}

// Size returns the number of stored entries, expired ones included.
func (c *MemoryCache[V]) Size() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return len(c.items)
}

// Close stops the background sweeper.
func (c *MemoryCache[V]) Close() {
	c.once.Do(func() { close(c.stop) })
}

func (c *MemoryCache[V]) cleanupExpired(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *MemoryCache[V]) sweep() {
	now := c.now()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	for key, e := range c.items {
		if e.expired(now) {
			delete(c.items, key)
		}
	}
}
