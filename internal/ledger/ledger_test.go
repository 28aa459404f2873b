package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(userID, jobID string, dir Direction, bucket Bucket, cents int64, typ EntryType, ref string) *Entry {
	return &Entry{
		UserID:      userID,
		JobID:       jobID,
		Type:        typ,
		Direction:   dir,
		Bucket:      bucket,
		AmountCents: cents,
		Currency:    "usd",
		ExternalRef: ref,
	}
}

func TestAppend_Validation(t *testing.T) {
	l := New(NewMemoryStore())
	ctx := context.Background()

	tests := []struct {
		name string
		e    *Entry
	}{
		{"missing user", entry("", "job-1", Credit, BucketHeld, 100, TypeEscrowFunding, "")},
		{"zero amount", entry("u1", "job-1", Credit, BucketHeld, 0, TypeEscrowFunding, "")},
		{"negative amount", entry("u1", "job-1", Credit, BucketHeld, -5, TypeEscrowFunding, "")},
		{"bad direction", &Entry{UserID: "u1", Type: TypeEscrowFunding, Direction: "SIDEWAYS", Bucket: BucketHeld, AmountCents: 100, Currency: "usd"}},
		{"bad bucket", &Entry{UserID: "u1", Type: TypeEscrowFunding, Direction: Credit, Bucket: "SAVINGS", AmountCents: 100, Currency: "usd"}},
		{"missing currency", &Entry{UserID: "u1", Type: TypeEscrowFunding, Direction: Credit, Bucket: BucketHeld, AmountCents: 100}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := l.Append(ctx, tt.e)
			assert.ErrorIs(t, err, ErrInvalidEntry)
		})
	}
}

func TestAppend_AssignsIDAndTimestamp(t *testing.T) {
	l := New(NewMemoryStore())
	ctx := context.Background()

	e := entry("u1", "job-1", Credit, BucketHeld, 1000, TypeEscrowFunding, "pi_123")
	require.NoError(t, l.Append(ctx, e))

	assert.NotEmpty(t, e.ID)
	assert.False(t, e.CreatedAt.IsZero())
}

func TestWalletTotals_SignedSums(t *testing.T) {
	l := New(NewMemoryStore())
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, entry("u1", "job-1", Credit, BucketHeld, 10_000, TypeEscrowFunding, "pi_1")))
	require.NoError(t, l.Append(ctx, entry("u1", "job-1", Debit, BucketHeld, 10_000, TypeEscrowCloseout, "close:job-1")))
	require.NoError(t, l.Append(ctx, entry("u1", "", Credit, BucketAvailable, 250, TypeMaterialsRemainder, "mat_1:remainder")))
	require.NoError(t, l.Append(ctx, entry("u2", "job-1", Credit, BucketPaid, 7_500, TypePayoutEarning, "payout:job-1:CONTRACTOR")))

	t1, err := l.WalletTotals(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), t1.Held)
	assert.Equal(t, int64(250), t1.Available)
	assert.Equal(t, int64(0), t1.Paid)

	t2, err := l.WalletTotals(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, int64(7_500), t2.Paid)
}

func TestAppendOnce_Idempotent(t *testing.T) {
	store := NewMemoryStore()
	l := New(store)
	ctx := context.Background()

	inserted, err := l.AppendOnce(ctx, entry("u1", "job-1", Credit, BucketHeld, 5_000, TypeEscrowFunding, "pi_777"))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = l.AppendOnce(ctx, entry("u1", "job-1", Credit, BucketHeld, 5_000, TypeEscrowFunding, "pi_777"))
	require.NoError(t, err)
	assert.False(t, inserted, "second write with same key must be a no-op")

	assert.Len(t, store.EntriesByJob("job-1"), 1)

	totals, err := l.WalletTotals(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(5_000), totals.Held)
}

func TestAppendOnce_RequiresExternalRef(t *testing.T) {
	l := New(NewMemoryStore())

	_, err := l.AppendOnce(context.Background(), entry("u1", "job-1", Credit, BucketHeld, 100, TypeEscrowFunding, ""))
	assert.ErrorIs(t, err, ErrInvalidEntry)
}

func TestCheckJobIntegrity(t *testing.T) {
	l := New(NewMemoryStore())
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, entry("u1", "job-1", Credit, BucketHeld, 1_000, TypeEscrowFunding, "pi_1")))
	assert.NoError(t, l.CheckJobIntegrity(ctx, "job-1"))

	require.NoError(t, l.Append(ctx, entry("u1", "job-1", Debit, BucketHeld, 2_000, TypeEscrowCloseout, "close:job-1")))
	err := l.CheckJobIntegrity(ctx, "job-1")
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestHistory_NewestFirst(t *testing.T) {
	l := New(NewMemoryStore())
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, entry("u1", "job-1", Credit, BucketHeld, 100, TypeEscrowFunding, "pi_a")))
	require.NoError(t, l.Append(ctx, entry("u1", "job-2", Credit, BucketHeld, 200, TypeEscrowFunding, "pi_b")))
	require.NoError(t, l.Append(ctx, entry("u2", "job-3", Credit, BucketHeld, 300, TypeEscrowFunding, "pi_c")))

	entries, err := l.History(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "job-2", entries[0].JobID)
	assert.Equal(t, "job-1", entries[1].JobID)
}

func TestAppend_WritesAudit(t *testing.T) {
	audit := NewMemoryAuditLogger()
	l := New(NewMemoryStore()).WithAudit(audit)

	ctx := WithActor(context.Background(), "admin", "ops-1")
	require.NoError(t, l.Append(ctx, entry("u1", "job-1", Credit, BucketHeld, 1_000, TypeEscrowFunding, "pi_9")))

	entries := audit.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "ledger.append", entries[0].Action)
	assert.Equal(t, "admin", entries[0].ActorType)
	assert.Equal(t, "ops-1", entries[0].ActorID)
	assert.Equal(t, "job-1", entries[0].Metadata["jobId"])
}
