package exploits

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/solsentry/solsentry/internal/metrics"
)

// CacheStats reports result-cache occupancy and hit counters for the
// health endpoint.
type CacheStats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

type cacheEntry struct {
	records   []Record
	expiresAt time.Time
}

// resultCache absorbs bursty traffic per request shape (protocol|chain key).
// Entries are replaced wholesale on refresh, never merged.
type resultCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

func newResultCache(ttl time.Duration) *resultCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &resultCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
	}
}

func (c *resultCache) get(key string) ([]Record, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || time.Now().After(e.expiresAt) {
		c.misses.Add(1)
		metrics.CacheOpsTotal.WithLabelValues("exploits", "miss").Inc()
		return nil, false
	}
	c.hits.Add(1)
	metrics.CacheOpsTotal.WithLabelValues("exploits", "hit").Inc()
	return e.records, true
}

// previous returns the last cached records for key even if expired,
// for diffing freshly fetched results against.
func (c *resultCache) previous(key string) []Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[key].records
}

func (c *resultCache) put(key string, records []Record) {
	now := time.Now()
	c.mu.Lock()
	c.entries[key] = cacheEntry{records: records, expiresAt: now.Add(c.ttl)}
	for k, e := range c.entries {
		if now.After(e.expiresAt) && k != key {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}

func (c *resultCache) stats() CacheStats {
	c.mu.RLock()
	entries := len(c.entries)
	c.mu.RUnlock()
	return CacheStats{
		Entries: entries,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
}
