package webhook

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu        sync.Mutex
	processed map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{processed: make(map[string]time.Time)}
}

func (m *MemoryStore) Claim(ctx context.Context, eventID string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, seen := m.processed[eventID]; seen {
		return false, nil
	}
	m.processed[eventID] = now
	return true, nil
}
