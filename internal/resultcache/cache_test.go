package resultcache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"askdb/internal/domain"
)

func sampleResult(n int) *domain.ExecutionResult {
	return &domain.ExecutionResult{
		Columns:  []string{"id"},
		Rows:     [][]interface{}{{n}},
		RowCount: 1,
	}
}

// === Get / Put ===

func TestCache_PutThenGet(t *testing.T) {
	t.Parallel()

	c := New(10)
	key := NewKey("conn-1", "SELECT 1")

	c.Put(key, sampleResult(1))

	got := c.Get(key)
	require.NotNil(t, got)
	assert.Equal(t, 1, got.RowCount)
	assert.Equal(t, [][]interface{}{{1}}, got.Rows)
}

func TestCache_GetMissingReturnsNil(t *testing.T) {
	t.Parallel()

	c := New(10)
	assert.Nil(t, c.Get(NewKey("conn-1", "SELECT 1")))
}

func TestCache_KeysAreConnectionScoped(t *testing.T) {
	t.Parallel()

	c := New(10)
	c.Put(NewKey("conn-a", "SELECT 1"), sampleResult(1))

	assert.NotNil(t, c.Get(NewKey("conn-a", "SELECT 1")))
	assert.Nil(t, c.Get(NewKey("conn-b", "SELECT 1")), "same SQL on another connection must not collide")
}

// === Copy semantics ===

func TestCache_CopyOnRead(t *testing.T) {
	t.Parallel()

	c := New(10)
	key := NewKey("conn-1", "SELECT 1")
	c.Put(key, sampleResult(1))

	first := c.Get(key)
	require.NotNil(t, first)
	first.Rows[0][0] = 999

	second := c.Get(key)
	require.NotNil(t, second)
	assert.Equal(t, 1, second.Rows[0][0], "mutating a returned result must not affect the cached value")
}

func TestCache_CopyOnWrite(t *testing.T) {
	t.Parallel()

	c := New(10)
	key := NewKey("conn-1", "SELECT 1")
	original := sampleResult(1)
	c.Put(key, original)

	original.Rows[0][0] = 999

	got := c.Get(key)
	require.NotNil(t, got)
	assert.Equal(t, 1, got.Rows[0][0], "mutating the stored value after Put must not affect the cache")
}

// === LRU eviction ===

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	c := New(10)
	for i := 0; i < 11; i++ {
		c.Put(NewKey("conn-1", fmt.Sprintf("SELECT %d", i)), sampleResult(i))
	}

	assert.Equal(t, 10, c.Len())
	assert.Nil(t, c.Get(NewKey("conn-1", "SELECT 0")), "first-inserted key should be evicted")
	assert.NotNil(t, c.Get(NewKey("conn-1", "SELECT 10")))
}

func TestCache_GetRefreshesRecency(t *testing.T) {
	t.Parallel()

	c := New(2)
	k0 := NewKey("conn-1", "SELECT 0")
	k1 := NewKey("conn-1", "SELECT 1")
	k2 := NewKey("conn-1", "SELECT 2")

	c.Put(k0, sampleResult(0))
	c.Put(k1, sampleResult(1))

	// Touch k0 so k1 becomes least recently used.
	require.NotNil(t, c.Get(k0))
	c.Put(k2, sampleResult(2))

	assert.NotNil(t, c.Get(k0))
	assert.Nil(t, c.Get(k1))
	assert.NotNil(t, c.Get(k2))
}

// === Invalidation ===

func TestCache_InvalidateClearsConnection(t *testing.T) {
	t.Parallel()

	c := New(10)
	c.Put(NewKey("conn-a", "SELECT 1"), sampleResult(1))
	c.Put(NewKey("conn-a", "SELECT 2"), sampleResult(2))
	c.Put(NewKey("conn-b", "SELECT 1"), sampleResult(3))

	removed := c.Invalidate("conn-a")
	assert.Equal(t, 2, removed)

	assert.Nil(t, c.Get(NewKey("conn-a", "SELECT 1")))
	assert.Nil(t, c.Get(NewKey("conn-a", "SELECT 2")))
	assert.NotNil(t, c.Get(NewKey("conn-b", "SELECT 1")), "other connections keep their entries")
}

// === Concurrency ===

func TestCache_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	c := New(16)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := NewKey("conn-1", fmt.Sprintf("SELECT %d", i%32))
				if i%3 == 0 {
					c.Put(key, sampleResult(i))
				} else {
					c.Get(key)
				}
			}
		}(g)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 16, "capacity bound must hold under concurrent load")
}
