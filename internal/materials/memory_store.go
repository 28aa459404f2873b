package materials

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	reqs map[string]*Request
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{reqs: make(map[string]*Request)}
}

func (m *MemoryStore) Create(ctx context.Context, r *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.reqs[r.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reqs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := copyRequest(r)
	return cp, nil
}

func (m *MemoryStore) GetByJob(ctx context.Context, jobID string) (*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.reqs {
		if r.JobID == jobID {
			return copyRequest(r), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) SetReceiptTotal(ctx context.Context, id string, totalCents int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reqs[id]
	if !ok {
		return ErrNotFound
	}
	r.ReceiptTotalCents = &totalCents
	r.Status = StatusReceiptsSubmitted
	r.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, id string, from, to Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reqs[id]
	if !ok {
		return false, ErrNotFound
	}
	if r.Status != from {
		return false, nil
	}
	r.Status = to
	r.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) SetRefundFlagged(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reqs[id]
	if !ok {
		return ErrNotFound
	}
	r.RefundFlagged = true
	r.UpdatedAt = time.Now()
	return nil
}

func copyRequest(r *Request) *Request {
	cp := *r
	if r.ReceiptTotalCents != nil {
		v := *r.ReceiptTotalCents
		cp.ReceiptTotalCents = &v
	}
	return &cp
}
