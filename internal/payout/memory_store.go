package payout

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	recs map[string]map[Role]*TransferRecord // job id -> role -> record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]map[Role]*TransferRecord)}
}

func (m *MemoryStore) ListByJob(ctx context.Context, jobID string) ([]*TransferRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*TransferRecord
	for _, role := range releaseOrder {
		if rec, ok := m.recs[jobID][role]; ok {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) Upsert(ctx context.Context, rec *TransferRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byRole, ok := m.recs[rec.JobID]
	if !ok {
		byRole = make(map[Role]*TransferRecord)
		m.recs[rec.JobID] = byRole
	}
	cp := *rec
	cp.UpdatedAt = time.Now()
	if prior, ok := byRole[rec.Role]; ok {
		cp.CreatedAt = prior.CreatedAt
	}
	byRole[rec.Role] = &cp
	return nil
}

// Seed inserts a record untouched (for tests building prior state).
func (m *MemoryStore) Seed(rec *TransferRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byRole, ok := m.recs[rec.JobID]
	if !ok {
		byRole = make(map[Role]*TransferRecord)
		m.recs[rec.JobID] = byRole
	}
	cp := *rec
	byRole[rec.Role] = &cp
}
