package job

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	jobs     map[string]*Job
	payments map[string]*PaymentRecord // keyed by job id
	accounts map[string]*PayoutAccount // keyed by user id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:     make(map[string]*Job),
		payments: make(map[string]*PaymentRecord),
		accounts: make(map[string]*PayoutAccount),
	}
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *MemoryStore) Put(ctx context.Context, j *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *j
	m.jobs[j.ID] = &cp
	return nil
}

func (m *MemoryStore) Payment(ctx context.Context, jobID string) (*PaymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payments[jobID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) PaymentByIntent(ctx context.Context, intentRef string) (*PaymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.payments {
		if p.IntentRef == intentRef {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPaymentNotFound
}

func (m *MemoryStore) PutPayment(ctx context.Context, p *PaymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.PayoutStatus == "" {
		p.PayoutStatus = PayoutNone
	}
	cp := *p
	m.payments[p.JobID] = &cp
	return nil
}

func (m *MemoryStore) SetPayoutStatus(ctx context.Context, jobID string, to PayoutStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[jobID]
	if !ok {
		return ErrPaymentNotFound
	}
	p.PayoutStatus = to
	p.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) MarkRefunded(ctx context.Context, intentRef string) (*PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.IntentRef == intentRef {
			p.Status = PaymentRefunded
			p.RefundInitiated = true
			p.UpdatedAt = time.Now()
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPaymentNotFound
}

func (m *MemoryStore) PayoutAccount(ctx context.Context, userID string) (*PayoutAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[userID]
	if !ok {
		return nil, ErrNoPayoutAccount
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) PutPayoutAccount(ctx context.Context, a *PayoutAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.accounts[a.UserID] = &cp
	return nil
}
