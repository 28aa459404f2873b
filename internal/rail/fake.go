package rail

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-process Rail for development and tests. It honors
// idempotency keys the way a real provider does: the same key always maps to
// the same transfer, and a key is counted as one send no matter how often it
// is replayed.
type Fake struct {
	mu       sync.Mutex
	byKey    map[string]*Transfer
	calls    []TransferRequest
	nextID   int
	failWith map[string]error // destination account -> forced error
}

func NewFake() *Fake {
	return &Fake{
		byKey:    make(map[string]*Transfer),
		failWith: make(map[string]error),
	}
}

// FailDestination makes transfers to the account fail with err until cleared.
func (f *Fake) FailDestination(account string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failWith, account)
		return
	}
	f.failWith[account] = err
}

func (f *Fake) CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, req)

	if err, ok := f.failWith[req.DestinationAccount]; ok {
		return nil, err
	}
	if tr, ok := f.byKey[req.IdempotencyKey]; ok {
		cp := *tr
		return &cp, nil
	}

	f.nextID++
	tr := &Transfer{ID: fmt.Sprintf("ftr_%06d", f.nextID), Status: "SENT"}
	f.byKey[req.IdempotencyKey] = tr
	cp := *tr
	return &cp, nil
}

// Calls returns every request seen, in order.
func (f *Fake) Calls() []TransferRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]TransferRequest, len(f.calls))
	copy(out, f.calls)
	return out
}

// SendCount returns how many distinct transfers were actually created.
func (f *Fake) SendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byKey)
}
