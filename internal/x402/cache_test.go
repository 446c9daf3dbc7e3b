package x402

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestVerificationCache_HitAndResourceMismatch(t *testing.T) {
	cache := NewVerificationCache(time.Hour)
	cache.Put("sig1", "/api/v1/exploits")

	assert.True(t, cache.Check("sig1", "/api/v1/exploits"))
	assert.False(t, cache.Check("sig1", "/api/v1/risk-score/{protocol}"))
	assert.False(t, cache.Check("sig2", "/api/v1/exploits"))
}

func TestVerificationCache_ExpiredRecordsLeaveTheCache(t *testing.T) {
	cache := NewVerificationCache(10 * time.Millisecond)
	cache.Put("sig1", "/api/v1/exploits")
	cache.Put("sig2", "/api/v1/exploits")
	assert.Equal(t, 2, cache.Len())

	time.Sleep(20 * time.Millisecond)

	// With no further writes, a health read must still not report dead
	// records, and a check on an expired signature drops it.
	assert.False(t, cache.Check("sig1", "/api/v1/exploits"))
	assert.Equal(t, 0, cache.Len())
}

func TestVerificationCache_PutRefreshesExpiry(t *testing.T) {
	cache := NewVerificationCache(30 * time.Millisecond)
	cache.Put("sig1", "/api/v1/exploits")

	time.Sleep(20 * time.Millisecond)
	cache.Put("sig1", "/api/v1/exploits")
	time.Sleep(20 * time.Millisecond)

	assert.True(t, cache.Check("sig1", "/api/v1/exploits"),
		"rewrite extends the record lifetime")
	assert.Equal(t, 1, cache.Len())
}
