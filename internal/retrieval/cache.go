package retrieval

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/propscope/comp-engine/internal/model"
)

// Result is one completed retrieval: the merged property set plus the cost
// of producing it. Cached hits return the same Result; callers must treat
// it as read-only.
type Result struct {
	Fingerprint  string
	Properties   []model.PropertyRecord
	NetworkCalls int
	Retries      int
	FetchedAt    time.Time
}

// CacheStats is a point-in-time snapshot of cache effectiveness.
type CacheStats struct {
	Hits   int64
	Misses int64
}

// HitRatio is hits over total lookups, zero when the cache is cold.
func (s CacheStats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type cacheEntry struct {
	result    *Result
	expiresAt time.Time
}

// Cache is a TTL response cache with in-flight coalescing. Concurrent
// lookups for the same fingerprint share one upstream fetch; a caller whose
// context is cancelled stops waiting without aborting the shared fetch.
// Failed fetches are never stored, so the next lookup retries upstream.
type Cache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]cacheEntry

	group  singleflight.Group
	hits   atomic.Int64
	misses atomic.Int64
}

// NewCache creates a cache whose entries expire after ttl.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

// GetOrFetch returns the cached result for key, or runs fetch and stores
// its result for the TTL. The second return reports whether the value was
// served from the store without any fetch.
func (c *Cache) GetOrFetch(ctx context.Context, key string, fetch func(context.Context) (*Result, error)) (*Result, bool, error) {
	if cached := c.lookup(key); cached != nil {
		c.hits.Add(1)
		zap.L().Debug("cache hit", zap.String("fingerprint", key))
		return cached, true, nil
	}
	c.misses.Add(1)

	// The fetch runs detached from any single caller so that one caller
	// cancelling does not abort the flight other callers are waiting on.
	ch := c.group.DoChan(key, func() (any, error) {
		res, err := fetch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.store(key, res)
		return res, nil
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case out := <-ch:
		if out.Err != nil {
			return nil, false, out.Err
		}
		return out.Val.(*Result), false, nil
	}
}

// Stats returns cumulative hit and miss counts.
func (c *Cache) Stats() CacheStats {
	return CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// Invalidate drops the entry for key, if present.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *Cache) lookup(key string) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil
	}
	return e.result
}

func (c *Cache) store(key string, res *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{result: res, expiresAt: time.Now().Add(c.ttl)}
}
