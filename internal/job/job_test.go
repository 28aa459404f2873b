package job

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompletionReady(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name string
		job  Job
		want bool
	}{
		{"completed and approved", Job{Status: StatusCompleted, ApprovedAt: &now}, true},
		{"completed but unapproved", Job{Status: StatusCompleted}, false},
		{"approved but in progress", Job{Status: StatusInProgress, ApprovedAt: &now}, false},
		{"disputed", Job{Status: StatusDisputed, ApprovedAt: &now}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CompletionReady(&tt.job))
		})
	}
}

func TestMemoryStore_MarkRefunded(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.PutPayment(ctx, &PaymentRecord{
		JobID:       "job-1",
		PayerUserID: "payer-1",
		Status:      PaymentCaptured,
		AmountCents: 10_000,
		Currency:    "usd",
		IntentRef:   "pi_1",
	}))

	rec, err := s.MarkRefunded(ctx, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, PaymentRefunded, rec.Status)
	assert.True(t, rec.RefundInitiated)

	_, err = s.MarkRefunded(ctx, "pi_missing")
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestMemoryStore_PayoutStatusDefaults(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.PutPayment(ctx, &PaymentRecord{JobID: "job-1", Status: PaymentCaptured, AmountCents: 100, Currency: "usd"}))

	rec, err := s.Payment(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, PayoutNone, rec.PayoutStatus)

	require.NoError(t, s.SetPayoutStatus(ctx, "job-1", PayoutReleased))
	rec, err = s.Payment(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, PayoutReleased, rec.PayoutStatus)
}
