package receipts

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory receipt store for development mode.
type MemoryStore struct {
	receipts map[string]*Receipt
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory receipt store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		receipts: make(map[string]*Receipt),
	}
}

func (m *MemoryStore) Create(_ context.Context, r *Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receipts[r.ID] = r
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.receipts[id]
	if !ok {
		return nil, ErrReceiptNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) ListByPayer(_ context.Context, payer string, limit int) ([]*Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Receipt
	for _, r := range m.receipts {
		if r.Payer == payer {
			cp := *r
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) ListBySignature(_ context.Context, txSignature string) ([]*Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Receipt
	for _, r := range m.receipts {
		if r.TxSignature == txSignature {
			cp := *r
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return result, nil
}

var _ Store = (*MemoryStore)(nil)
