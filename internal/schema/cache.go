// Package schema introspects and caches table metadata per target connection.
package schema

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/singleflight"

	"askdb/internal/domain"
)

// Cache defaults.
const (
	DefaultTTL          = 10 * time.Minute
	DefaultProbeTimeout = 5 * time.Second
)

// Cache serves immutable schema snapshots with a TTL. Snapshots are replaced
// atomically on refresh; concurrent misses for the same connection collapse
// into a single introspection call.
type Cache struct {
	introspector domain.Introspector
	ttl          time.Duration
	probeTimeout time.Duration
	logger       *slog.Logger

	group singleflight.Group

	mu        sync.RWMutex
	snapshots map[string]*domain.SchemaSnapshot

	invalidateMu sync.Mutex
	onInvalidate []func(connectionID string)

	now func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides the snapshot TTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithProbeTimeout bounds each introspection attempt.
func WithProbeTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.probeTimeout = d
		}
	}
}

// WithLogger sets the cache logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// WithClock overrides the time source. Tests only.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// NewCache creates a Cache over the given introspector.
func NewCache(introspector domain.Introspector, opts ...Option) *Cache {
	c := &Cache{
		introspector: introspector,
		ttl:          DefaultTTL,
		probeTimeout: DefaultProbeTimeout,
		logger:       slog.Default(),
		snapshots:    make(map[string]*domain.SchemaSnapshot),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached snapshot for the connection, introspecting on miss
// or after TTL expiry. Returns SchemaUnavailableError when the target cannot
// be reached within the probe budget.
func (c *Cache) Get(ctx context.Context, connectionID string) (*domain.SchemaSnapshot, error) {
	if snap, ok := c.fresh(connectionID); ok {
		return snap, nil
	}

	// Collapse concurrent misses into one in-flight build. DoChan rather
	// than Do so a cancelled caller stops waiting without aborting the
	// shared build for everyone else.
	ch := c.group.DoChan(connectionID, func() (interface{}, error) {
		// Re-check under the flight: another caller may have refreshed.
		if snap, ok := c.fresh(connectionID); ok {
			return snap, nil
		}
		return c.build(connectionID)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*domain.SchemaSnapshot), nil
	}
}

// fresh returns the snapshot if present and within TTL.
func (c *Cache) fresh(connectionID string) (*domain.SchemaSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.snapshots[connectionID]
	if !ok {
		return nil, false
	}
	if c.now().Sub(snap.CapturedAt) > c.ttl {
		return nil, false
	}
	return snap, true
}

// build runs the introspection with bounded retries and stores the result.
func (c *Cache) build(connectionID string) (*domain.SchemaSnapshot, error) {
	var snap *domain.SchemaSnapshot

	backoff := retry.WithMaxRetries(2, retry.NewExponential(200*time.Millisecond))
	err := retry.Do(context.Background(), backoff, func(ctx context.Context) error {
		probeCtx, cancel := context.WithTimeout(ctx, c.probeTimeout)
		defer cancel()

		got, err := c.introspector.Introspect(probeCtx, connectionID)
		if err != nil {
			return retry.RetryableError(err)
		}
		snap = got
		return nil
	})
	if err != nil {
		c.logger.Warn("schema introspection failed", "connection_id", connectionID, "error", err)
		return nil, domain.ErrSchemaUnavailable(connectionID, "cannot inspect database %q: %v", connectionID, err)
	}

	if snap.CapturedAt.IsZero() {
		snap.CapturedAt = c.now()
	}
	if snap.Hash == "" {
		snap.Hash = domain.ComputeHash(snap.Tables)
	}

	c.mu.Lock()
	prev := c.snapshots[connectionID]
	c.snapshots[connectionID] = snap
	c.mu.Unlock()

	if prev != nil && prev.Hash != snap.Hash {
		c.logger.Info("schema drift detected", "connection_id", connectionID,
			"old_hash", prev.Hash[:12], "new_hash", snap.Hash[:12])
		c.notifyInvalidate(connectionID)
	}
	return snap, nil
}

// Invalidate drops the cached snapshot for a connection and notifies
// subscribers (the result cache clears its entries for the connection).
func (c *Cache) Invalidate(connectionID string) {
	c.mu.Lock()
	delete(c.snapshots, connectionID)
	c.mu.Unlock()
	c.notifyInvalidate(connectionID)
}

// OnInvalidate registers a callback fired whenever a connection's snapshot is
// invalidated or observed to have drifted.
func (c *Cache) OnInvalidate(fn func(connectionID string)) {
	c.invalidateMu.Lock()
	defer c.invalidateMu.Unlock()
	c.onInvalidate = append(c.onInvalidate, fn)
}

func (c *Cache) notifyInvalidate(connectionID string) {
	c.invalidateMu.Lock()
	subs := make([]func(string), len(c.onInvalidate))
	copy(subs, c.onInvalidate)
	c.invalidateMu.Unlock()
	for _, fn := range subs {
		fn(connectionID)
	}
}

// SweepExpired removes snapshots past their TTL. Run periodically by the
// maintenance scheduler; expired entries are also refreshed lazily on Get.
func (c *Cache) SweepExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for id, snap := range c.snapshots {
		if c.now().Sub(snap.CapturedAt) > c.ttl {
			delete(c.snapshots, id)
			removed++
		}
	}
	return removed
}
