package cache

import "sync"

// Cache is a thread-safe LRU cache holding at most Capacity entries.
// Cache must not be copied after creation.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	entries  map[K]*node[K, V]
	order    recency[K, V]
	capacity int
	stats    Stats
}

// Stats counts cache activity.
type Stats struct {
	Len       int
	Capacity  int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// New creates a cache holding at most capacity entries. A capacity of 0
// or less means unlimited.
func New[K comparable, V any](capacity int) *Cache[K, V] {
	return &Cache[K, V]{
		entries:  make(map[K]*node[K, V]),
		capacity: capacity,
	}
}

// Get returns the value stored under key and marks it recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	nd, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		var zero V
		return zero, false
	}
	c.stats.Hits++
	c.order.touch(nd)
	return nd.value, true
}

// Set stores value under key, evicting the least recently used entry when
// the cache is full.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if nd, ok := c.entries[key]; ok {
		nd.value = value
		c.order.touch(nd)
		return
	}
	nd := &node[K, V]{key: key, value: value}
	c.entries[key] = nd
	c.order.pushFront(nd)
	for c.capacity > 0 && c.order.n > c.capacity {
		old := c.order.popBack()
		delete(c.entries, old.key)
		c.stats.Evictions++
	}
}

// GetOrCreate returns the cached value for key, or calls create and caches
// its result when it succeeds. create runs without the lock held, so two
// concurrent misses may both create; the later Set wins.
func (c *Cache[K, V]) GetOrCreate(key K, create func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := create()
	if err != nil {
		return v, err
	}
	c.Set(key, v)
	return v, nil
}

// Delete removes key and reports whether it was present.
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	nd, ok := c.entries[key]
	if ok {
		c.order.unlink(nd)
		delete(c.entries, key)
	}
	return ok
}

// Clear removes every entry. Counters are kept.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[K]*node[K, V])
	c.order = recency[K, V]{}
}

// Len returns the number of entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the counters.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Len = len(c.entries)
	s.Capacity = c.capacity
	return s
}
