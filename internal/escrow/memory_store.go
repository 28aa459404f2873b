package escrow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/crewpay/crewpay/internal/idgen"
	"github.com/crewpay/crewpay/internal/ledger"
)

// MemoryStore is an in-memory escrow store for demo/development mode.
// It shares a ledger store so the funding operation can write the HELD
// credit under the same lock that flips the escrow status.
type MemoryStore struct {
	escrows map[string]*Escrow
	books   ledger.Store
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory escrow store.
func NewMemoryStore(books ledger.Store) *MemoryStore {
	return &MemoryStore{
		escrows: make(map[string]*Escrow),
		books:   books,
	}
}

func (m *MemoryStore) Create(_ context.Context, e *Escrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *e
	m.escrows[e.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.escrows[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) GetByJob(_ context.Context, jobID string, kind Kind) (*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.escrows {
		if e.JobID == jobID && e.Kind == kind {
			cp := *e
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) GetByPaymentRef(_ context.Context, ref string) (*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.escrows {
		if e.ExternalPaymentRef == ref {
			cp := *e
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) Fund(ctx context.Context, id, externalPaymentRef string) (*FundOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.escrows[id]
	if !ok {
		return nil, ErrNotFound
	}

	switch e.Status {
	case StatusFunded, StatusReleased, StatusRefunded:
		cp := *e
		return &FundOutcome{AlreadyProcessed: true, Escrow: &cp}, nil
	case StatusPending:
		// fall through to fund
	default:
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, StatusFunded)
	}

	if err := m.books.Append(ctx, &ledger.Entry{
		ID:          idgen.WithPrefix("led_"),
		UserID:      e.PayerUserID,
		JobID:       e.JobID,
		EscrowID:    e.ID,
		Type:        ledger.TypeEscrowFunding,
		Direction:   ledger.Credit,
		Bucket:      ledger.BucketHeld,
		AmountCents: e.AmountCents,
		Currency:    e.Currency,
		ExternalRef: externalPaymentRef,
		CreatedAt:   time.Now(),
	}); err != nil {
		return nil, err
	}

	net, err := m.books.JobNet(ctx, e.JobID)
	if err != nil {
		return nil, err
	}
	if net < 0 {
		return nil, fmt.Errorf("%w: job %s net %d", ledger.ErrIntegrity, e.JobID, net)
	}

	now := time.Now()
	e.Status = StatusFunded
	e.ExternalPaymentRef = externalPaymentRef
	e.WebhookProcessedAt = &now
	e.UpdatedAt = now

	cp := *e
	return &FundOutcome{AlreadyProcessed: false, Escrow: &cp}, nil
}

func (m *MemoryStore) Transition(_ context.Context, id string, from, to Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.escrows[id]
	if !ok {
		return false, ErrNotFound
	}
	if e.Status != from {
		return false, nil
	}
	e.Status = to
	e.UpdatedAt = time.Now()
	return true, nil
}
