// Package probe memoizes expensive per-file audio analysis and remote
// metadata lookups.
package probe

import (
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// ErrNoMatch is returned by a compute function when the provider has no
// answer. It is cached in the negative key space; any other error is not
// cached at all.
var ErrNoMatch = errors.New("no match")

// Stats reports cache effectiveness
type Stats struct {
	Hits         int64
	NegativeHits int64
	Computes     int64
	Entries      int
	Negatives    int
}

// Cache maps a content-identity key to a computed value. At most one
// computation per key runs at a time; concurrent callers share its result.
type Cache[V any] struct {
	mu       sync.RWMutex
	values   map[string]V
	negative map[string]struct{}
	group    singleflight.Group

	hits         atomic.Int64
	negativeHits atomic.Int64
	computes     atomic.Int64
}

// NewCache creates an empty cache
func NewCache[V any]() *Cache[V] {
	return &Cache[V]{
		values:   make(map[string]V),
		negative: make(map[string]struct{}),
	}
}

// GetOrCompute returns the cached value for key, computing it if absent.
// A cached negative result returns ErrNoMatch without calling compute.
func (c *Cache[V]) GetOrCompute(key string, compute func() (V, error)) (V, error) {
	if v, ok, neg := c.lookup(key); ok {
		return v, nil
	} else if neg {
		var zero V
		return zero, ErrNoMatch
	}

	res, err, _ := c.group.Do(key, func() (interface{}, error) {
		// Another flight may have finished between lookup and Do
		if v, ok, neg := c.lookup(key); ok {
			return v, nil
		} else if neg {
			return nil, ErrNoMatch
		}

		c.computes.Add(1)
		v, err := compute()
		if err != nil {
			if errors.Is(err, ErrNoMatch) {
				c.mu.Lock()
				c.negative[key] = struct{}{}
				c.mu.Unlock()
			}
			return nil, err
		}

		c.mu.Lock()
		c.values[key] = v
		c.mu.Unlock()
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	v, _ := res.(V)
	return v, nil
}

func (c *Cache[V]) lookup(key string) (v V, ok bool, negative bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok = c.values[key]; ok {
		c.hits.Add(1)
		return v, true, false
	}
	if _, negative = c.negative[key]; negative {
		c.negativeHits.Add(1)
	}
	return v, false, negative
}

// Invalidate drops key from both the positive and negative key spaces
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.values, key)
	delete(c.negative, key)
	c.mu.Unlock()
	c.group.Forget(key)
}

// Stats returns a snapshot of cache counters
func (c *Cache[V]) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Hits:         c.hits.Load(),
		NegativeHits: c.negativeHits.Load(),
		Computes:     c.computes.Load(),
		Entries:      len(c.values),
		Negatives:    len(c.negative),
	}
}
