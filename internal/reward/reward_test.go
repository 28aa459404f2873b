package reward

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewpay/crewpay/internal/job"
	"github.com/crewpay/crewpay/internal/ledger"
)

const platformUser = "platform"

type fixture struct {
	svc   *Service
	jobs  *job.MemoryStore
	books *ledger.Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	books := ledger.New(ledger.NewMemoryStore())
	jobs := job.NewMemoryStore()
	svc := NewService(NewMemoryStore(), jobs, books, platformUser, nil)
	return &fixture{svc: svc, jobs: jobs, books: books}
}

// platformBalance seeds the platform's AVAILABLE bucket.
func (f *fixture) platformBalance(t *testing.T, cents int64) {
	t.Helper()
	require.NoError(t, f.books.Append(context.Background(), &ledger.Entry{
		UserID:      platformUser,
		Type:        ledger.TypePlatformFee,
		Direction:   ledger.Credit,
		Bucket:      ledger.BucketAvailable,
		AmountCents: cents,
		Currency:    "usd",
	}))
}

// releasedJob seeds a payment record whose payout already released.
func (f *fixture) releasedJob(t *testing.T, jobID string) {
	t.Helper()
	require.NoError(t, f.jobs.PutPayment(context.Background(), &job.PaymentRecord{
		JobID:        jobID,
		PayerUserID:  "payer-1",
		Status:       job.PaymentCaptured,
		PayoutStatus: job.PayoutReleased,
		AmountCents:  10_000,
		Currency:     "usd",
	}))
}

func TestTrySettle_Success(t *testing.T) {
	f := newFixture(t)
	f.releasedJob(t, "job-1")
	f.platformBalance(t, 1_000)
	ctx := context.Background()

	r, err := f.svc.Grant(ctx, "router-1", "referred-1", "job-1", 500, "usd")
	require.NoError(t, err)

	settled, reason, err := f.svc.TrySettle(ctx, r)
	require.NoError(t, err)
	assert.True(t, settled)
	assert.Empty(t, reason)

	got, err := f.svc.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, got.Status)

	routerAvail, err := f.books.SumBucket(ctx, "router-1", ledger.BucketAvailable)
	require.NoError(t, err)
	assert.Equal(t, int64(500), routerAvail)
	platformAvail, err := f.books.SumBucket(ctx, platformUser, ledger.BucketAvailable)
	require.NoError(t, err)
	assert.Equal(t, int64(500), platformAvail, "debited from platform")
}

func TestTrySettle_DeferReasons(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, f *fixture)
		want  string
	}{
		{
			name:  "payment missing",
			setup: func(t *testing.T, f *fixture) { f.platformBalance(t, 1_000) },
			want:  "payment_missing",
		},
		{
			name: "payout not released",
			setup: func(t *testing.T, f *fixture) {
				f.platformBalance(t, 1_000)
				require.NoError(t, f.jobs.PutPayment(context.Background(), &job.PaymentRecord{
					JobID: "job-1", PayerUserID: "payer-1",
					Status: job.PaymentCaptured, AmountCents: 10_000, Currency: "usd",
				}))
			},
			want: "payout_not_released",
		},
		{
			name: "payment refunded",
			setup: func(t *testing.T, f *fixture) {
				f.platformBalance(t, 1_000)
				require.NoError(t, f.jobs.PutPayment(context.Background(), &job.PaymentRecord{
					JobID: "job-1", PayerUserID: "payer-1",
					Status: job.PaymentRefunded, PayoutStatus: job.PayoutReleased,
					AmountCents: 10_000, Currency: "usd",
				}))
			},
			want: "payment_refunded",
		},
		{
			name:  "insufficient platform balance",
			setup: func(t *testing.T, f *fixture) { f.releasedJob(t, "job-1") },
			want:  "insufficient_platform_balance",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(t, f)
			r, err := f.svc.Grant(context.Background(), "router-1", "referred-1", "job-1", 500, "usd")
			require.NoError(t, err)

			settled, reason, err := f.svc.TrySettle(context.Background(), r)
			require.NoError(t, err)
			assert.False(t, settled)
			assert.Equal(t, tt.want, reason)

			got, err := f.svc.Get(context.Background(), r.ID)
			require.NoError(t, err)
			assert.Equal(t, StatusPending, got.Status, "deferred, not failed")
		})
	}
}

func TestTrySettle_ConcurrentSettlesOnce(t *testing.T) {
	f := newFixture(t)
	f.releasedJob(t, "job-1")
	f.platformBalance(t, 10_000)
	ctx := context.Background()

	r, err := f.svc.Grant(ctx, "router-1", "referred-1", "job-1", 500, "usd")
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			settled, _, err := f.svc.TrySettle(ctx, r)
			if err != nil {
				return
			}
			if settled {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins, "exactly one attempt wins the flip")
	routerAvail, err := f.books.SumBucket(ctx, "router-1", ledger.BucketAvailable)
	require.NoError(t, err)
	assert.Equal(t, int64(500), routerAvail, "ledger pair written exactly once")
}

func TestGrant_DuplicateReferral(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Grant(ctx, "router-1", "referred-1", "job-1", 500, "usd")
	require.NoError(t, err)

	_, err = f.svc.Grant(ctx, "router-2", "referred-1", "job-2", 500, "usd")
	assert.ErrorIs(t, err, ErrDuplicateReferral)
}

func TestSettlePending_SweepsEligible(t *testing.T) {
	f := newFixture(t)
	f.releasedJob(t, "job-1")
	f.platformBalance(t, 600)
	ctx := context.Background()

	// Two rewards, only 600 cents of platform balance: the first settles,
	// the second defers until more fees accrue.
	_, err := f.svc.Grant(ctx, "router-1", "referred-1", "job-1", 500, "usd")
	require.NoError(t, err)
	_, err = f.svc.Grant(ctx, "router-2", "referred-2", "job-1", 500, "usd")
	require.NoError(t, err)

	settled, err := f.svc.SettlePending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, settled)

	f.platformBalance(t, 500)
	settled, err = f.svc.SettlePending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, settled)
}
