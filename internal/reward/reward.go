// Package reward settles referral rewards: a router who referred a user
// earns a one-time reward once the referred user's first job pays out. The
// reward is funded from the platform's own available balance, so settlement
// defers until the platform can cover it.
package reward

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/crewpay/crewpay/internal/idgen"
	"github.com/crewpay/crewpay/internal/job"
	"github.com/crewpay/crewpay/internal/ledger"
)

// Status of a reward.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusPaid    Status = "PAID"
)

// RouterReward is one referral reward. ReferredUserID is unique: a user's
// signup can earn at most one reward no matter how many jobs follow.
type RouterReward struct {
	ID             string    `json:"id"`
	RouterUserID   string    `json:"routerUserId"`
	ReferredUserID string    `json:"referredUserId"`
	JobID          string    `json:"jobId"`
	AmountCents    int64     `json:"amountCents"`
	Currency       string    `json:"currency"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

var (
	ErrNotFound          = errors.New("reward not found")
	ErrDuplicateReferral = errors.New("referred user already has a reward")
)

// Store persists router rewards.
type Store interface {
	// Create inserts the reward. A second reward for the same referred user
	// fails with ErrDuplicateReferral.
	Create(ctx context.Context, r *RouterReward) error
	Get(ctx context.Context, id string) (*RouterReward, error)
	ListPending(ctx context.Context, limit int) ([]*RouterReward, error)

	// MarkPaid flips PENDING -> PAID conditionally. Returns false when the
	// reward was no longer PENDING.
	MarkPaid(ctx context.Context, id string) (bool, error)
}

// Payments reads the referred job's payment record.
type Payments interface {
	Payment(ctx context.Context, jobID string) (*job.PaymentRecord, error)
}

// Books is the slice of the ledger this flow uses.
type Books interface {
	AppendOnce(ctx context.Context, e *ledger.Entry) (bool, error)
	SumBucket(ctx context.Context, userID string, bucket ledger.Bucket) (int64, error)
}

// Service implements reward settlement.
type Service struct {
	store    Store
	payments Payments
	books    Books

	platformUserID string
	logger         *slog.Logger
}

// NewService creates the reward service.
func NewService(store Store, payments Payments, books Books, platformUserID string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:          store,
		payments:       payments,
		books:          books,
		platformUserID: platformUserID,
		logger:         logger,
	}
}

// Grant records a PENDING reward for a referral.
func (s *Service) Grant(ctx context.Context, routerUserID, referredUserID, jobID string, amountCents int64, currency string) (*RouterReward, error) {
	if amountCents <= 0 {
		return nil, fmt.Errorf("reward: amount must be positive, got %d", amountCents)
	}
	now := time.Now()
	r := &RouterReward{
		ID:             idgen.WithPrefix("rwd_"),
		RouterUserID:   routerUserID,
		ReferredUserID: referredUserID,
		JobID:          jobID,
		AmountCents:    amountCents,
		Currency:       currency,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.Create(ctx, r); err != nil {
		return nil, err
	}
	s.logger.Info("reward granted",
		"rewardId", r.ID, "router", routerUserID, "referred", referredUserID, "amountCents", amountCents)
	return r, nil
}

// TrySettle attempts to pay out one reward. It returns settled=false with a
// reason when the reward is not yet payable; deferral is not an error. The
// ledger pair is keyed on the reward id, and the PENDING->PAID flip is a
// conditional update, so concurrent attempts settle exactly once.
func (s *Service) TrySettle(ctx context.Context, r *RouterReward) (bool, string, error) {
	if r.Status == StatusPaid {
		return false, "already_paid", nil
	}

	pay, err := s.payments.Payment(ctx, r.JobID)
	if errors.Is(err, job.ErrPaymentNotFound) {
		return false, "payment_missing", nil
	}
	if err != nil {
		return false, "", err
	}
	if pay.Status == job.PaymentRefunded {
		return false, "payment_refunded", nil
	}
	if pay.PayoutStatus != job.PayoutReleased {
		return false, "payout_not_released", nil
	}

	available, err := s.books.SumBucket(ctx, s.platformUserID, ledger.BucketAvailable)
	if err != nil {
		return false, "", err
	}
	if available < r.AmountCents {
		return false, "insufficient_platform_balance", nil
	}

	if _, err := s.books.AppendOnce(ctx, &ledger.Entry{
		UserID:      s.platformUserID,
		JobID:       r.JobID,
		Type:        ledger.TypeRewardDebit,
		Direction:   ledger.Debit,
		Bucket:      ledger.BucketAvailable,
		AmountCents: r.AmountCents,
		Currency:    r.Currency,
		ExternalRef: "reward:" + r.ID + ":debit",
		Memo:        "referral reward funding",
	}); err != nil {
		return false, "", err
	}
	if _, err := s.books.AppendOnce(ctx, &ledger.Entry{
		UserID:      r.RouterUserID,
		JobID:       r.JobID,
		Type:        ledger.TypeRewardCredit,
		Direction:   ledger.Credit,
		Bucket:      ledger.BucketAvailable,
		AmountCents: r.AmountCents,
		Currency:    r.Currency,
		ExternalRef: "reward:" + r.ID + ":credit",
		Memo:        "referral reward",
	}); err != nil {
		return false, "", err
	}

	won, err := s.store.MarkPaid(ctx, r.ID)
	if err != nil {
		return false, "", err
	}
	if !won {
		// A concurrent attempt flipped it first; the ledger pair above was
		// deduped by its refs, so nothing double-paid.
		return false, "already_paid", nil
	}

	s.logger.Info("reward settled",
		"rewardId", r.ID, "router", r.RouterUserID, "amountCents", r.AmountCents)
	return true, "", nil
}

// Get returns a reward by ID.
func (s *Service) Get(ctx context.Context, id string) (*RouterReward, error) {
	return s.store.Get(ctx, id)
}

// SettlePending attempts settlement for up to limit pending rewards and
// returns how many settled.
func (s *Service) SettlePending(ctx context.Context, limit int) (int, error) {
	pending, err := s.store.ListPending(ctx, limit)
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, r := range pending {
		ok, reason, err := s.TrySettle(ctx, r)
		if err != nil {
			s.logger.Error("reward settlement error", "rewardId", r.ID, "error", err)
			continue
		}
		if ok {
			settled++
		} else if reason != "already_paid" {
			s.logger.Debug("reward deferred", "rewardId", r.ID, "reason", reason)
		}
	}
	return settled, nil
}
