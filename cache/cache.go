// Package cache is an in-memory, TTL-bounded key/value store. The live reading loop
// writes the latest reading here so that web requests never touch the hardware.
package cache

import (
	"errors"
	"sync"
	"time"
)

// ErrCacheMiss is returned by Get for absent or expired keys.
var ErrCacheMiss = errors.New("cache: miss")

type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]
	now     func() time.Time
}

type entry[V any] struct {
	value V
	exp   time.Time
}

func New[V any]() *Cache[V] {
	return &Cache[V]{
		entries: make(map[string]entry[V]),
		now:     time.Now,
	}
}

func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry[V]{
		value: value,
		exp:   c.now().Add(ttl),
	}
}

// Get returns the value for key, or ErrCacheMiss if it's absent or expired.
func (c *Cache[V]) Get(key string) (V, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V

	e, ok := c.entries[key]
	if !ok {
		return zero, ErrCacheMiss
	}

	// Present and unexpired
	if c.now().Before(e.exp) {
		return e.value, nil
	}

	// Expired
	delete(c.entries, key)
	return zero, ErrCacheMiss
}

// Clean removes all expired entries and returns how many were removed.
func (c *Cache[V]) Clean() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	now := c.now()
	for k, e := range c.entries {
		if !now.Before(e.exp) {
			delete(c.entries, k)
			n++
		}
	}

	return n
}

// Len returns the number of entries, expired or not.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
