package engine

import (
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"
)

// CacheStats counts lookups.
type CacheStats struct {
	Hits   int64
	Misses int64
	Size   int
}

// Cache memoizes aggregate results by query. Values must not be mutated once
// stored. When the cache is full it is cleared before the next insert.
type Cache struct {
	mu      sync.RWMutex
	entries map[uint64]any
	max     int
	hits    int64
	misses  int64
	group   singleflight.Group
}

// NewCache returns a cache holding up to max entries; max <= 0 disables it.
func NewCache(max int) *Cache {
	return &Cache{entries: make(map[uint64]any), max: max}
}

// Get returns the cached value for q, computing it with fn on a miss.
// Concurrent misses for the same key run fn once.
func (c *Cache) Get(q Query, fn func() (any, error)) (any, bool, error) {
	if c == nil || c.max <= 0 {
		v, err := fn()
		return v, false, err
	}
	key := q.Key()

	c.mu.RLock()
	v, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		c.mu.Lock()
		c.hits++
		c.mu.Unlock()
		return v, true, nil
	}

	v, err, _ := c.group.Do(strconv.FormatUint(key, 16), func() (any, error) {
		v, err := fn()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if len(c.entries) >= c.max {
			c.entries = make(map[uint64]any)
		}
		c.entries[key] = v
		c.mu.Unlock()
		return v, nil
	})
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
	return v, false, err
}

// Reset drops every entry.
func (c *Cache) Reset() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.entries = make(map[uint64]any)
	c.mu.Unlock()
}

func (c *Cache) Stats() CacheStats {
	if c == nil {
		return CacheStats{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CacheStats{Hits: c.hits, Misses: c.misses, Size: len(c.entries)}
}
