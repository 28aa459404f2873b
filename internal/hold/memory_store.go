package hold

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	holds map[string]*JobHold
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{holds: make(map[string]*JobHold)}
}

func (m *MemoryStore) Create(ctx context.Context, h *JobHold) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *h
	m.holds[h.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*JobHold, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.holds[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *h
	return &cp, nil
}

func (m *MemoryStore) ListByJob(ctx context.Context, jobID string) ([]*JobHold, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*JobHold
	for _, h := range m.holds {
		if h.JobID == jobID {
			cp := *h
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) Release(ctx context.Context, id, actorID, note string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holds[id]
	if !ok {
		return false, ErrNotFound
	}
	if h.Status != StatusActive {
		return false, nil
	}
	h.Status = StatusReleased
	h.ReleasedBy = actorID
	h.ReleasedAt = &at
	if note != "" {
		h.Note = note
	}
	return true, nil
}

func (m *MemoryStore) HasActive(ctx context.Context, jobID string, reason Reason) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, h := range m.holds {
		if h.JobID == jobID && h.Reason == reason && h.Status == StatusActive {
			return true, nil
		}
	}
	return false, nil
}
