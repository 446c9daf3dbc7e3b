// Package syncutil provides keyed locking primitives.
package syncutil

import (
	"context"
	"hash/fnv"
)

const keyedMutexShards = 64

// KeyedMutex is a fixed pool of context-aware mutexes keyed by string. It
// uses bounded memory regardless of how many keys are seen, at the cost of
// occasional false sharing between keys that hash to the same shard. Callers
// waiting on a lock can bail out when their context is cancelled.
type KeyedMutex struct {
	shards [keyedMutexShards]chan struct{}
}

// NewKeyedMutex creates a keyed mutex pool with every shard unlocked.
func NewKeyedMutex() *KeyedMutex {
	m := &KeyedMutex{}
	for i := range m.shards {
		m.shards[i] = make(chan struct{}, 1)
		m.shards[i] <- struct{}{}
	}
	return m
}

// Lock acquires the mutex for key, respecting context cancellation. On
// success it returns an unlock function which the caller MUST invoke. On
// cancellation it returns nil and the context error.
func (m *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	shard := m.shards[shardIdx(key)]

	select {
	case <-shard:
		return func() { shard <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func shardIdx(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % keyedMutexShards
}
