package payout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewpay/crewpay/internal/escrow"
	"github.com/crewpay/crewpay/internal/hold"
	"github.com/crewpay/crewpay/internal/job"
	"github.com/crewpay/crewpay/internal/ledger"
	"github.com/crewpay/crewpay/internal/rail"
)

const (
	testPlatform   = "platform"
	testContractor = "contractor-1"
	testRouter     = "router-1"
	testPayer      = "payer-1"
)

type fixture struct {
	svc     *Service
	store   *MemoryStore
	jobs    *job.MemoryStore
	escrows *escrow.Service
	holds   *hold.Service
	books   *ledger.Ledger
	entries *ledger.MemoryStore
	rail    *rail.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	entries := ledger.NewMemoryStore()
	books := ledger.New(entries)
	escrows := escrow.NewService(escrow.NewMemoryStore(entries), nil)
	jobs := job.NewMemoryStore()
	holds := hold.NewService(hold.NewMemoryStore(), nil)
	f := rail.NewFake()
	store := NewMemoryStore()
	svc := NewService(store, jobs, escrows, holds, books, f, testPlatform, "test", nil)
	return &fixture{
		svc: svc, store: store, jobs: jobs, escrows: escrows,
		holds: holds, books: books, entries: entries, rail: f,
	}
}

// fundedJob seeds a completion-ready job with a captured payment and a
// funded escrow for the given total.
func (f *fixture) fundedJob(t *testing.T, jobID string, total int64) *escrow.Escrow {
	t.Helper()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, f.jobs.Put(ctx, &job.Job{
		ID:               jobID,
		Status:           job.StatusCompleted,
		ContractorUserID: testContractor,
		RouterUserID:     testRouter,
		CompletedAt:      &now,
		ApprovedAt:       &now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}))
	require.NoError(t, f.jobs.PutPayment(ctx, &job.PaymentRecord{
		JobID:       jobID,
		PayerUserID: testPayer,
		Status:      job.PaymentCaptured,
		AmountCents: total,
		Currency:    "usd",
		IntentRef:   "pi_" + jobID,
	}))
	require.NoError(t, f.jobs.PutPayoutAccount(ctx, &job.PayoutAccount{
		UserID: testContractor, RailAccountID: "acct_contractor", Method: "stripe",
	}))
	require.NoError(t, f.jobs.PutPayoutAccount(ctx, &job.PayoutAccount{
		UserID: testRouter, RailAccountID: "acct_router", Method: "stripe",
	}))

	esc, err := f.escrows.Create(ctx, jobID, escrow.KindJob, testPayer, total, "usd", "pi_"+jobID)
	require.NoError(t, err)
	_, err = f.escrows.Fund(ctx, esc.ID, "pi_"+jobID, escrow.KindJob)
	require.NoError(t, err)
	return esc
}

func TestRelease_HappyPath(t *testing.T) {
	f := newFixture(t)
	esc := f.fundedJob(t, "job-1", 10_000)
	ctx := context.Background()

	result, err := f.svc.ReleaseJobFunds(ctx, "job-1", "admin-1")
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.False(t, result.AlreadyReleased)
	require.Len(t, result.Legs, 3)
	for _, leg := range result.Legs {
		assert.Equal(t, TransferSent, leg.Status, "leg %s", leg.Role)
	}

	// 10,000 splits into 7,500 / 1,500 / 1,000.
	byRole := map[Role]*TransferRecord{}
	for _, leg := range result.Legs {
		byRole[leg.Role] = leg
	}
	assert.Equal(t, int64(7_500), byRole[RoleContractor].AmountCents)
	assert.Equal(t, int64(1_500), byRole[RoleRouter].AmountCents)
	assert.Equal(t, int64(1_000), byRole[RolePlatform].AmountCents)
	assert.NotEmpty(t, byRole[RoleContractor].ExternalTransferID)
	assert.NotEmpty(t, byRole[RoleRouter].ExternalTransferID)
	assert.Empty(t, byRole[RolePlatform].ExternalTransferID, "platform is retained in-account")
	assert.Equal(t, "internal", byRole[RolePlatform].Method)

	// Escrow released, payout status flipped.
	got, err := f.escrows.Get(ctx, esc.ID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusReleased, got.Status)
	pay, err := f.jobs.Payment(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, job.PayoutReleased, pay.PayoutStatus)

	// Wallets: payees credited, payer's held funds closed out.
	paid, err := f.books.SumBucket(ctx, testContractor, ledger.BucketPaid)
	require.NoError(t, err)
	assert.Equal(t, int64(7_500), paid)
	paid, err = f.books.SumBucket(ctx, testRouter, ledger.BucketPaid)
	require.NoError(t, err)
	assert.Equal(t, int64(1_500), paid)
	avail, err := f.books.SumBucket(ctx, testPlatform, ledger.BucketAvailable)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000), avail)
	heldNow, err := f.books.SumBucket(ctx, testPayer, ledger.BucketHeld)
	require.NoError(t, err)
	assert.Equal(t, int64(0), heldNow)

	require.NoError(t, f.books.CheckJobIntegrity(ctx, "job-1"))
}

func TestRelease_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.fundedJob(t, "job-1", 10_000)
	ctx := context.Background()

	first, err := f.svc.ReleaseJobFunds(ctx, "job-1", "admin-1")
	require.NoError(t, err)
	require.True(t, first.OK)
	sends := f.rail.SendCount()
	rows := len(f.entries.EntriesByJob("job-1"))

	second, err := f.svc.ReleaseJobFunds(ctx, "job-1", "admin-1")
	require.NoError(t, err)
	assert.True(t, second.OK)
	assert.True(t, second.AlreadyReleased)
	assert.Len(t, second.Legs, 3)

	assert.Equal(t, sends, f.rail.SendCount(), "no new transfers on replay")
	assert.Len(t, f.entries.EntriesByJob("job-1"), rows, "no new ledger rows on replay")
}

func TestRelease_PartialFailureResume(t *testing.T) {
	f := newFixture(t)
	f.fundedJob(t, "job-1", 10_000)
	ctx := context.Background()

	f.rail.FailDestination("acct_router", errors.New("provider unavailable"))

	first, err := f.svc.ReleaseJobFunds(ctx, "job-1", "admin-1")
	require.NoError(t, err)
	assert.False(t, first.OK)
	assert.Equal(t, CodeTransferFailed, first.Code)

	byRole := map[Role]*TransferRecord{}
	for _, leg := range first.Legs {
		byRole[leg.Role] = leg
	}
	assert.Equal(t, TransferSent, byRole[RoleContractor].Status)
	assert.Equal(t, TransferFailed, byRole[RoleRouter].Status)
	assert.Contains(t, byRole[RoleRouter].FailureReason, "provider unavailable")

	pay, err := f.jobs.Payment(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, job.PayoutFailed, pay.PayoutStatus)

	// No finalization while a leg is down.
	heldNow, err := f.books.SumBucket(ctx, testPayer, ledger.BucketHeld)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), heldNow)

	// Provider recovers; the resume sends only the router leg.
	f.rail.FailDestination("acct_router", nil)
	contractorCallsBefore := countCalls(f.rail, "acct_contractor")

	second, err := f.svc.ReleaseJobFunds(ctx, "job-1", "admin-1")
	require.NoError(t, err)
	assert.True(t, second.OK)
	assert.False(t, second.AlreadyReleased)

	assert.Equal(t, contractorCallsBefore, countCalls(f.rail, "acct_contractor"),
		"sent contractor leg must not be re-sent")

	pay, err = f.jobs.Payment(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, job.PayoutReleased, pay.PayoutStatus)
}

func TestRelease_DisputeHoldBlocks(t *testing.T) {
	f := newFixture(t)
	f.fundedJob(t, "job-1", 10_000)
	ctx := context.Background()

	_, err := f.holds.Place(ctx, "job-1", hold.ReasonDispute, "admin-1", "chargeback")
	require.NoError(t, err)

	result, err := f.svc.ReleaseJobFunds(ctx, "job-1", "admin-1")
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Equal(t, CodeDisputeHold, result.Code)

	legs, err := f.store.ListByJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Empty(t, legs, "no transfer records while held")
	assert.Equal(t, 0, f.rail.SendCount())
}

func TestRelease_RefundInitiatedBlocks(t *testing.T) {
	f := newFixture(t)
	f.fundedJob(t, "job-1", 10_000)
	ctx := context.Background()

	_, err := f.jobs.MarkRefunded(ctx, "pi_job-1")
	require.NoError(t, err)

	result, err := f.svc.ReleaseJobFunds(ctx, "job-1", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, CodeRefundInitiated, result.Code)
	assert.Equal(t, 0, f.rail.SendCount())
}

func TestRelease_PreconditionCodes(t *testing.T) {
	tests := []struct {
		name string
		prep func(t *testing.T, f *fixture)
		want Code
	}{
		{
			name: "missing job",
			prep: func(t *testing.T, f *fixture) {},
			want: CodeNotFound,
		},
		{
			name: "archived",
			prep: func(t *testing.T, f *fixture) {
				f.fundedJob(t, "job-1", 1_000)
				j, _ := f.jobs.Get(context.Background(), "job-1")
				j.Archived = true
				require.NoError(t, f.jobs.Put(context.Background(), j))
			},
			want: CodeJobArchived,
		},
		{
			name: "mock job",
			prep: func(t *testing.T, f *fixture) {
				f.fundedJob(t, "job-1", 1_000)
				j, _ := f.jobs.Get(context.Background(), "job-1")
				j.Mock = true
				require.NoError(t, f.jobs.Put(context.Background(), j))
			},
			want: CodeJobArchived,
		},
		{
			name: "disputed",
			prep: func(t *testing.T, f *fixture) {
				f.fundedJob(t, "job-1", 1_000)
				j, _ := f.jobs.Get(context.Background(), "job-1")
				j.Status = job.StatusDisputed
				require.NoError(t, f.jobs.Put(context.Background(), j))
			},
			want: CodeJobDisputed,
		},
		{
			name: "completion flagged",
			prep: func(t *testing.T, f *fixture) {
				f.fundedJob(t, "job-1", 1_000)
				j, _ := f.jobs.Get(context.Background(), "job-1")
				j.Status = job.StatusCompletionFlagged
				require.NoError(t, f.jobs.Put(context.Background(), j))
			},
			want: CodeJobFlagged,
		},
		{
			name: "payment not captured",
			prep: func(t *testing.T, f *fixture) {
				f.fundedJob(t, "job-1", 1_000)
				require.NoError(t, f.jobs.PutPayment(context.Background(), &job.PaymentRecord{
					JobID: "job-1", PayerUserID: testPayer,
					Status: job.PaymentRequiresPayment, AmountCents: 1_000, Currency: "usd",
				}))
			},
			want: CodeNotFunded,
		},
		{
			name: "not completion-ready",
			prep: func(t *testing.T, f *fixture) {
				f.fundedJob(t, "job-1", 1_000)
				j, _ := f.jobs.Get(context.Background(), "job-1")
				j.ApprovedAt = nil
				require.NoError(t, f.jobs.Put(context.Background(), j))
			},
			want: CodeNotReady,
		},
		{
			name: "no router",
			prep: func(t *testing.T, f *fixture) {
				f.fundedJob(t, "job-1", 1_000)
				j, _ := f.jobs.Get(context.Background(), "job-1")
				j.RouterUserID = ""
				require.NoError(t, f.jobs.Put(context.Background(), j))
			},
			want: CodeNoRouter,
		},
		{
			name: "no contractor",
			prep: func(t *testing.T, f *fixture) {
				f.fundedJob(t, "job-1", 1_000)
				j, _ := f.jobs.Get(context.Background(), "job-1")
				j.ContractorUserID = ""
				require.NoError(t, f.jobs.Put(context.Background(), j))
			},
			want: CodeNoContractor,
		},
		{
			name: "escrow never funded",
			prep: func(t *testing.T, f *fixture) {
				f.fundedJob(t, "job-1", 1_000)
				esc, err := f.escrows.GetByJob(context.Background(), "job-1", escrow.KindJob)
				require.NoError(t, err)
				_, err = f.escrows.Transition(context.Background(), esc.ID, escrow.StatusFunded, escrow.StatusRefunded)
				require.NoError(t, err)
			},
			want: CodeNotFunded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.prep(t, f)
			result, err := f.svc.ReleaseJobFunds(context.Background(), "job-1", "admin-1")
			require.NoError(t, err)
			assert.False(t, result.OK)
			assert.Equal(t, tt.want, result.Code)
			assert.Equal(t, 0, f.rail.SendCount())
		})
	}
}

func TestRelease_BadTransferState(t *testing.T) {
	tests := []struct {
		name string
		seed TransferRecord
	}{
		{
			name: "reversed leg",
			seed: TransferRecord{
				JobID: "job-1", Role: RoleContractor, UserID: testContractor,
				AmountCents: 7_500, Currency: "usd", Status: TransferReversed,
			},
		},
		{
			name: "amount mismatch",
			seed: TransferRecord{
				JobID: "job-1", Role: RoleContractor, UserID: testContractor,
				AmountCents: 9_999, Currency: "usd", Status: TransferSent,
			},
		},
		{
			name: "currency mismatch",
			seed: TransferRecord{
				JobID: "job-1", Role: RoleRouter, UserID: testRouter,
				AmountCents: 1_500, Currency: "eur", Status: TransferSent,
			},
		},
		{
			name: "unknown role",
			seed: TransferRecord{
				JobID: "job-1", Role: Role("ARBITER"), UserID: "x",
				AmountCents: 1, Currency: "usd", Status: TransferSent,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.fundedJob(t, "job-1", 10_000)
			f.store.Seed(&tt.seed)

			result, err := f.svc.ReleaseJobFunds(context.Background(), "job-1", "admin-1")
			require.NoError(t, err)
			assert.False(t, result.OK)
			assert.Equal(t, CodeBadTransferState, result.Code)
			assert.Equal(t, 0, f.rail.SendCount(), "corruption aborts before any transfer")
		})
	}
}

func TestRelease_FailedLegIsRetriable(t *testing.T) {
	f := newFixture(t)
	f.fundedJob(t, "job-1", 10_000)
	f.store.Seed(&TransferRecord{
		JobID: "job-1", Role: RoleRouter, UserID: testRouter,
		AmountCents: 1_500, Currency: "usd", Status: TransferFailed,
		FailureReason: "provider unavailable",
	})

	result, err := f.svc.ReleaseJobFunds(context.Background(), "job-1", "admin-1")
	require.NoError(t, err)
	assert.True(t, result.OK, "a prior FAILED leg resumes instead of aborting")
}

func TestRelease_MissingPayoutAccountFailsLeg(t *testing.T) {
	f := newFixture(t)
	f.fundedJob(t, "job-1", 10_000)
	ctx := context.Background()

	// Router never onboarded a payout account.
	f2 := job.NewMemoryStore()
	j, _ := f.jobs.Get(ctx, "job-1")
	require.NoError(t, f2.Put(ctx, j))
	pay, _ := f.jobs.Payment(ctx, "job-1")
	require.NoError(t, f2.PutPayment(ctx, pay))
	acct, _ := f.jobs.PayoutAccount(ctx, testContractor)
	require.NoError(t, f2.PutPayoutAccount(ctx, acct))
	f.svc.jobs = f2

	result, err := f.svc.ReleaseJobFunds(ctx, "job-1", "admin-1")
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Equal(t, CodeTransferFailed, result.Code)

	byRole := map[Role]*TransferRecord{}
	for _, leg := range result.Legs {
		byRole[leg.Role] = leg
	}
	assert.Equal(t, TransferSent, byRole[RoleContractor].Status)
	assert.Equal(t, TransferFailed, byRole[RoleRouter].Status)
	assert.Contains(t, byRole[RoleRouter].FailureReason, "payout account")
}

func countCalls(f *rail.Fake, destination string) int {
	n := 0
	for _, c := range f.Calls() {
		if c.DestinationAccount == destination {
			n++
		}
	}
	return n
}
