package repository

import (
	"context"
	"sync"
	"time"
)

const DefaultDedupTTL = 24 * time.Hour

// MemoryDedupStore implements domain.DedupStore in process memory.
type MemoryDedupStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	store map[string]time.Time
}

func NewMemoryDedupStore(ttl time.Duration) *MemoryDedupStore {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &MemoryDedupStore{
		ttl:   ttl,
		now:   time.Now,
		store: make(map[string]time.Time),
	}
}

func (m *MemoryDedupStore) key(instance, externalID string) string {
	return instance + "|" + externalID
}

func (m *MemoryDedupStore) Seen(ctx context.Context, instance, externalID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	k := m.key(instance, externalID)
	if exp, ok := m.store[k]; ok && now.Before(exp) {
		return true, nil
	}
	m.store[k] = now.Add(m.ttl)

	// opportunistic sweep keeps the map bounded
	if len(m.store) > 10000 {
		for key, exp := range m.store {
			if !now.Before(exp) {
				delete(m.store, key)
			}
		}
	}
	return false, nil
}

func (m *MemoryDedupStore) Forget(ctx context.Context, instance, externalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.store, m.key(instance, externalID))
	return nil
}
