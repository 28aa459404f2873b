package reward

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu         sync.RWMutex
	rewards    map[string]*RouterReward
	byReferred map[string]string // referred user id -> reward id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rewards:    make(map[string]*RouterReward),
		byReferred: make(map[string]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context, r *RouterReward) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byReferred[r.ReferredUserID]; exists {
		return ErrDuplicateReferral
	}
	cp := *r
	m.rewards[r.ID] = &cp
	m.byReferred[r.ReferredUserID] = r.ID
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*RouterReward, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rewards[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) ListPending(ctx context.Context, limit int) ([]*RouterReward, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*RouterReward
	for _, r := range m.rewards {
		if r.Status == StatusPending {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) MarkPaid(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rewards[id]
	if !ok {
		return false, ErrNotFound
	}
	if r.Status != StatusPending {
		return false, nil
	}
	r.Status = StatusPaid
	r.UpdatedAt = time.Now()
	return true, nil
}
