package catalog

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"
)

const (
	// DefaultTTL bounds how stale a cached lookup may be
	DefaultTTL = 60 * time.Second
	// DefaultCacheSize is the maximum number of keys held in memory
	DefaultCacheSize = 4096
)

// Cache holds per-key lookup results. Implementations must be safe for
// concurrent use. A failed Get is a miss.
type Cache interface {
	Get(ctx context.Context, key string) (exists bool, ok bool)
	Set(ctx context.Context, key string, exists bool)
	Invalidate(ctx context.Context, key string)
	Purge(ctx context.Context)
}

type cacheEntry struct {
	exists    bool
	expiresAt time.Time
}

// MemoryCache is a bounded in-process cache with per-entry expiry
type MemoryCache struct {
	entries *lru.Cache[string, cacheEntry]
	clock   clockwork.Clock
	ttl     time.Duration
}

// NewMemoryCache creates an in-process cache. size <= 0 uses
// DefaultCacheSize and ttl <= 0 uses DefaultTTL.
func NewMemoryCache(clock clockwork.Clock, size int, ttl time.Duration) *MemoryCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	entries, err := lru.New[string, cacheEntry](size)
	if err != nil {
		// only returned for a non-positive size
		panic(fmt.Sprintf("catalog: lru init: %v", err))
	}

	return &MemoryCache{entries: entries, clock: clock, ttl: ttl}
}

// Get returns the cached result for key if it has not expired
func (c *MemoryCache) Get(_ context.Context, key string) (bool, bool) {
	entry, ok := c.entries.Get(key)
	if !ok {
		return false, false
	}
	if !c.clock.Now().Before(entry.expiresAt) {
		c.entries.Remove(key)
		return false, false
	}
	return entry.exists, true
}

// Set caches a lookup result for the configured TTL
func (c *MemoryCache) Set(_ context.Context, key string, exists bool) {
	c.entries.Add(key, cacheEntry{exists: exists, expiresAt: c.clock.Now().Add(c.ttl)})
}

// Invalidate drops a single key
func (c *MemoryCache) Invalidate(_ context.Context, key string) {
	c.entries.Remove(key)
}

// Purge drops every key
func (c *MemoryCache) Purge(_ context.Context) {
	c.entries.Purge()
}

// Len returns the number of cached keys, including expired ones not yet evicted
func (c *MemoryCache) Len() int {
	return c.entries.Len()
}
