package extractor

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Lezhik/SpringTwin/internal/scanner"
)

// cacheEntry is the last result seen for one unit path.
type cacheEntry struct {
	hash   string
	result *UnitResult
}

// CacheStats counts cache lookups.
type CacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Size   int   `json:"size"`
}

// Cache wraps an Extractor and reuses the previous result of a unit whose
// source hash has not changed. Only the latest result per path is kept.
type Cache struct {
	next Extractor

	mu      sync.RWMutex
	entries map[string]cacheEntry

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCache wraps next.
func NewCache(next Extractor) *Cache {
	return &Cache{next: next, entries: make(map[string]cacheEntry)}
}

// Extract implements Extractor. Failures are not cached.
func (c *Cache) Extract(ctx context.Context, unit scanner.Unit, src []byte) (*UnitResult, error) {
	hash := HashSource(src)

	c.mu.RLock()
	e, ok := c.entries[unit.Path]
	c.mu.RUnlock()
	if ok && e.hash == hash && e.result.RelPath == unit.RelPath {
		c.hits.Add(1)
		return e.result, nil
	}

	c.misses.Add(1)
	res, err := c.next.Extract(ctx, unit, src)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.entries[unit.Path] = cacheEntry{hash: hash, result: res}
	c.mu.Unlock()
	return res, nil
}

// Forget drops every entry under root, for example when a project is deleted.
func (c *Cache) Forget(root string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for p := range c.entries {
		if p == root || strings.HasPrefix(p, strings.TrimSuffix(root, "/")+"/") {
			delete(c.entries, p)
		}
	}
}

// Stats returns lookup counters.
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	size := len(c.entries)
	c.mu.RUnlock()
	return CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load(), Size: size}
}
