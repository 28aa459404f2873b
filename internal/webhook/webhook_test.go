package webhook

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewpay/crewpay/internal/escrow"
	"github.com/crewpay/crewpay/internal/job"
	"github.com/crewpay/crewpay/internal/ledger"
)

type fixture struct {
	processor *Processor
	escrows   *escrow.Service
	jobs      *job.MemoryStore
	entries   *ledger.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	entries := ledger.NewMemoryStore()
	escrows := escrow.NewService(escrow.NewMemoryStore(entries), nil)
	jobs := job.NewMemoryStore()
	processor := NewProcessor(NewMemoryStore(), escrows, jobs, nil)
	return &fixture{processor: processor, escrows: escrows, jobs: jobs, entries: entries}
}

func (f *fixture) pendingEscrow(t *testing.T, jobID, intent string, amount int64) *escrow.Escrow {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.jobs.PutPayment(ctx, &job.PaymentRecord{
		JobID:       jobID,
		PayerUserID: "payer-1",
		Status:      job.PaymentRequiresPayment,
		AmountCents: amount,
		Currency:    "usd",
		IntentRef:   intent,
	}))
	esc, err := f.escrows.Create(ctx, jobID, escrow.KindJob, "payer-1", amount, "usd", intent)
	require.NoError(t, err)
	return esc
}

func TestProcess_PaymentSucceededFundsEscrow(t *testing.T) {
	f := newFixture(t)
	esc := f.pendingEscrow(t, "job-1", "pi_1", 10_000)
	ctx := context.Background()

	outcome, err := f.processor.Process(ctx, "evt_1", EventPaymentSucceeded, "pi_1")
	require.NoError(t, err)
	assert.True(t, outcome.Funded)

	got, err := f.escrows.Get(ctx, esc.ID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusFunded, got.Status)

	pay, err := f.jobs.Payment(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, job.PaymentCaptured, pay.Status)

	assert.Len(t, f.entries.EntriesByJob("job-1"), 1)
}

func TestProcess_DuplicateEventID(t *testing.T) {
	f := newFixture(t)
	f.pendingEscrow(t, "job-1", "pi_1", 10_000)
	ctx := context.Background()

	first, err := f.processor.Process(ctx, "evt_1", EventPaymentSucceeded, "pi_1")
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := f.processor.Process(ctx, "evt_1", EventPaymentSucceeded, "pi_1")
	require.NoError(t, err)
	assert.True(t, second.Duplicate)

	assert.Len(t, f.entries.EntriesByJob("job-1"), 1, "replayed event writes nothing")
}

func TestProcess_RedeliveryWithNewEventID(t *testing.T) {
	f := newFixture(t)
	f.pendingEscrow(t, "job-1", "pi_1", 10_000)
	ctx := context.Background()

	_, err := f.processor.Process(ctx, "evt_1", EventPaymentSucceeded, "pi_1")
	require.NoError(t, err)

	// Same payment under a fresh event id: the escrow's own idempotency
	// catches it.
	outcome, err := f.processor.Process(ctx, "evt_2", EventPaymentSucceeded, "pi_1")
	require.NoError(t, err)
	assert.False(t, outcome.Funded)
	assert.Len(t, f.entries.EntriesByJob("job-1"), 1)
}

func TestProcess_ConcurrentDeliveries(t *testing.T) {
	f := newFixture(t)
	f.pendingEscrow(t, "job-1", "pi_1", 10_000)

	var wg sync.WaitGroup
	var mu sync.Mutex
	duplicates := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := f.processor.Process(context.Background(), "evt_1", EventPaymentSucceeded, "pi_1")
			if err != nil {
				return
			}
			if outcome.Duplicate {
				mu.Lock()
				duplicates++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 9, duplicates, "exactly one delivery wins the claim")
	assert.Len(t, f.entries.EntriesByJob("job-1"), 1)
}

func TestProcess_RefundMarksPayment(t *testing.T) {
	f := newFixture(t)
	f.pendingEscrow(t, "job-1", "pi_1", 10_000)
	ctx := context.Background()

	outcome, err := f.processor.Process(ctx, "evt_r", EventChargeRefunded, "pi_1")
	require.NoError(t, err)
	assert.True(t, outcome.Refunded)

	pay, err := f.jobs.Payment(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, job.PaymentRefunded, pay.Status)
	assert.True(t, pay.RefundInitiated)
}

func TestProcess_UnknownEventType(t *testing.T) {
	f := newFixture(t)

	outcome, err := f.processor.Process(context.Background(), "evt_x", "customer.created", "")
	require.NoError(t, err)
	assert.True(t, outcome.Ignored)
}

func TestMemoryStore_Claim(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	claimed, err := s.Claim(ctx, "evt_1", now)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = s.Claim(ctx, "evt_1", now)
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestIntentRef(t *testing.T) {
	assert.Equal(t, "pi_1", intentRef(EventPaymentSucceeded, map[string]any{"id": "pi_1"}))
	assert.Equal(t, "pi_2", intentRef(EventChargeRefunded, map[string]any{"id": "ch_1", "payment_intent": "pi_2"}))
	assert.Empty(t, intentRef("customer.created", map[string]any{"id": "cus_1"}))
}
