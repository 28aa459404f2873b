package ledger

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory ledger store for demo/development mode.
type MemoryStore struct {
	entries []*Entry
	keys    map[string]bool // "user|type|ref" -> written
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make([]*Entry, 0),
		keys:    make(map[string]bool),
	}
}

func idemKey(userID string, typ EntryType, ref string) string {
	return userID + "|" + string(typ) + "|" + ref
}

func (m *MemoryStore) Append(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *e
	if cp.ExternalRef != "" {
		key := idemKey(cp.UserID, cp.Type, cp.ExternalRef)
		// Mirrors the database unique index: a keyed duplicate is dropped,
		// so racing AppendOnce callers cannot double-write.
		if m.keys[key] {
			return nil
		}
		m.keys[key] = true
	}
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *MemoryStore) Exists(_ context.Context, userID string, typ EntryType, externalRef string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.keys[idemKey(userID, typ, externalRef)], nil
}

func (m *MemoryStore) SumBucket(_ context.Context, userID string, bucket Bucket) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sum int64
	for _, e := range m.entries {
		if e.UserID == userID && e.Bucket == bucket {
			sum += e.Signed()
		}
	}
	return sum, nil
}

func (m *MemoryStore) JobNet(_ context.Context, jobID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sum int64
	for _, e := range m.entries {
		if e.JobID == jobID {
			sum += e.Signed()
		}
	}
	return sum, nil
}

func (m *MemoryStore) WalletTotals(_ context.Context, userID string) (*WalletTotals, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t := &WalletTotals{}
	for _, e := range m.entries {
		if e.UserID != userID {
			continue
		}
		switch e.Bucket {
		case BucketPending:
			t.Pending += e.Signed()
		case BucketAvailable:
			t.Available += e.Signed()
		case BucketPaid:
			t.Paid += e.Signed()
		case BucketHeld:
			t.Held += e.Signed()
		}
	}
	return t, nil
}

func (m *MemoryStore) History(_ context.Context, userID string, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Entry
	// Newest first
	for i := len(m.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if m.entries[i].UserID != userID {
			continue
		}
		cp := *m.entries[i]
		result = append(result, &cp)
	}
	return result, nil
}

// EntriesByJob returns all entries tagged with a job (for testing).
func (m *MemoryStore) EntriesByJob(jobID string) []*Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Entry
	for _, e := range m.entries {
		if e.JobID == jobID {
			cp := *e
			result = append(result, &cp)
		}
	}
	return result
}
