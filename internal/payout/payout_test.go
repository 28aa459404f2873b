package payout

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeSplit(t *testing.T) {
	tests := []struct {
		total      int64
		contractor int64
		router     int64
		platform   int64
	}{
		{10_000, 7_500, 1_500, 1_000},
		{100, 75, 15, 10},
		{1, 0, 0, 1},
		{7, 5, 1, 1},
		{99, 74, 14, 11},
		{333, 249, 49, 35},
	}
	for _, tt := range tests {
		got := ComputeSplit(tt.total)
		assert.Equal(t, tt.contractor, got.Contractor, "total=%d", tt.total)
		assert.Equal(t, tt.router, got.Router, "total=%d", tt.total)
		assert.Equal(t, tt.platform, got.Platform, "total=%d", tt.total)
	}
}

func TestComputeSplit_Invariant(t *testing.T) {
	// Parts are non-negative and sum exactly to the total for any amount.
	for total := int64(1); total <= 50_000; total += 7 {
		s := ComputeSplit(total)
		assert.GreaterOrEqual(t, s.Contractor, int64(0))
		assert.GreaterOrEqual(t, s.Router, int64(0))
		assert.GreaterOrEqual(t, s.Platform, int64(0))
		assert.Equal(t, total, s.Contractor+s.Router+s.Platform, "total=%d", total)
	}
}

func TestIdempotencyKey_Deterministic(t *testing.T) {
	k1 := IdempotencyKey("job-1", RoleContractor, 7_500, "usd", "test")
	k2 := IdempotencyKey("job-1", RoleContractor, 7_500, "usd", "test")
	assert.Equal(t, k1, k2)

	assert.NotEqual(t, k1, IdempotencyKey("job-1", RoleRouter, 7_500, "usd", "test"))
	assert.NotEqual(t, k1, IdempotencyKey("job-1", RoleContractor, 7_501, "usd", "test"))
	assert.NotEqual(t, k1, IdempotencyKey("job-1", RoleContractor, 7_500, "usd", "live"))
}
