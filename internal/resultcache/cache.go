// Package resultcache provides a strict-LRU cache for execution results,
// keyed by normalized SQL and connection identity.
package resultcache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"askdb/internal/domain"
)

// DefaultCapacity bounds the cache when no capacity is configured.
const DefaultCapacity = 100

// Key identifies one cached result. Identical SQL against different
// connections never collides.
type Key struct {
	ConnectionID string
	SQLHash      string
}

// NewKey builds a cache key from the connection identity and normalized SQL.
func NewKey(connectionID, normalizedSQL string) Key {
	sum := sha256.Sum256([]byte(normalizedSQL))
	return Key{ConnectionID: connectionID, SQLHash: hex.EncodeToString(sum[:])}
}

type entry struct {
	result     *domain.ExecutionResult
	insertedAt time.Time
}

// Cache is a capacity-bounded LRU of execution results. Entries are stored
// and served by value (deep copy) so concurrent requests never share row
// slices. Safe for concurrent use.
type Cache struct {
	mu  sync.Mutex
	lru *lru.Cache[Key, entry]
	now func() time.Time

	hits   int64
	misses int64
}

// New creates a Cache with the given capacity (DefaultCapacity when <= 0).
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	inner, err := lru.New[Key, entry](capacity)
	if err != nil {
		// lru.New only fails for non-positive sizes, which are normalized above.
		panic(err)
	}
	return &Cache{lru: inner, now: time.Now}
}

// Get returns a copy of the cached result for key, or nil when absent.
// A hit refreshes the entry's recency.
func (c *Cache) Get(key Key) *domain.ExecutionResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(key)
	if !ok {
		c.misses++
		return nil
	}
	c.hits++
	return e.result.Clone()
}

// Put stores a copy of the result under key, evicting the least-recently-used
// entry when the cache is full.
func (c *Cache) Put(key Key, result *domain.ExecutionResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, entry{result: result.Clone(), insertedAt: c.now()})
}

// Invalidate removes every entry for the given connection. Called when the
// schema cache invalidates that connection: a schema change implies cached
// results may be stale.
func (c *Cache) Invalidate(connectionID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, key := range c.lru.Keys() {
		if key.ConnectionID == connectionID {
			c.lru.Remove(key)
			removed++
		}
	}
	return removed
}

// Len returns the current number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats reports cumulative hit and miss counts.
func (c *Cache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
