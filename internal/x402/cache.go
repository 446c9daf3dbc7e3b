package x402

import (
	"sync"
	"time"

	"github.com/solsentry/solsentry/internal/metrics"
)

// VerificationRecord remembers that a signature was verified for a resource.
type VerificationRecord struct {
	Resource  string
	ExpiresAt time.Time
}

// VerificationCache is the process-wide store of verified payment signatures.
// A cached signature lets repeat requests for the same priced resource skip
// the chain lookup until the record expires. This is deliberately not a
// replay-prevention mechanism: one signature may authorize many calls to the
// resource it was verified against within the TTL window.
type VerificationCache struct {
	mu      sync.RWMutex
	entries map[string]VerificationRecord // signature → record
	ttl     time.Duration
}

// NewVerificationCache creates a cache whose records live for ttl.
func NewVerificationCache(ttl time.Duration) *VerificationCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &VerificationCache{
		entries: make(map[string]VerificationRecord),
		ttl:     ttl,
	}
}

// Check reports whether signature holds an unexpired verification for
// resource. An expired record is dropped and requires a fresh chain lookup.
func (c *VerificationCache) Check(signature, resource string) bool {
	c.mu.Lock()
	rec, ok := c.entries[signature]
	if ok && time.Now().After(rec.ExpiresAt) {
		delete(c.entries, signature)
		ok = false
	}
	c.mu.Unlock()

	if !ok || rec.Resource != resource {
		metrics.CacheOpsTotal.WithLabelValues("verification", "miss").Inc()
		return false
	}
	metrics.CacheOpsTotal.WithLabelValues("verification", "hit").Inc()
	return true
}

// Put records a successful verification. Last write wins, so concurrent
// duplicate verifications of the same signature are merely redundant.
func (c *VerificationCache) Put(signature, resource string) {
	now := time.Now()
	c.mu.Lock()
	c.entries[signature] = VerificationRecord{
		Resource:  resource,
		ExpiresAt: now.Add(c.ttl),
	}
	// Opportunistic purge of expired records.
	for sig, rec := range c.entries {
		if now.After(rec.ExpiresAt) {
			delete(c.entries, sig)
		}
	}
	c.mu.Unlock()
}

// Len returns the number of live cached records, for health reporting.
// Expired records are purged first so quiet periods do not inflate the count.
func (c *VerificationCache) Len() int {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for sig, rec := range c.entries {
		if now.After(rec.ExpiresAt) {
			delete(c.entries, sig)
		}
	}
	return len(c.entries)
}
