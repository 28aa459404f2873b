// Package job is the settlement engine's boundary to the job lifecycle. The
// engine never manages jobs; it reads the few fields that gate a release
// (status, archival, payee identities, approval timestamps) and flips the
// payment record's payout status when a release finishes.
package job

import (
	"context"
	"errors"
	"time"
)

// Status is the job lifecycle state as published by the job domain.
type Status string

const (
	StatusOpen              Status = "OPEN"
	StatusAssigned          Status = "ASSIGNED"
	StatusInProgress        Status = "IN_PROGRESS"
	StatusCompleted         Status = "COMPLETED"
	StatusDisputed          Status = "DISPUTED"
	StatusCompletionFlagged Status = "COMPLETION_FLAGGED"
	StatusClosed            Status = "CLOSED"
)

// Job carries the slice of the job aggregate the engine reads.
type Job struct {
	ID               string     `json:"id"`
	Status           Status     `json:"status"`
	Archived         bool       `json:"archived"`
	Mock             bool       `json:"mock"`
	ContractorUserID string     `json:"contractorUserId,omitempty"`
	RouterUserID     string     `json:"routerUserId,omitempty"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
	ApprovedAt       *time.Time `json:"approvedAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// PaymentStatus tracks the inbound customer payment.
type PaymentStatus string

const (
	PaymentRequiresPayment PaymentStatus = "REQUIRES_PAYMENT"
	PaymentCaptured        PaymentStatus = "CAPTURED"
	PaymentRefunded        PaymentStatus = "REFUNDED"
)

// PayoutStatus tracks the outbound side, owned by the release engine.
type PayoutStatus string

const (
	PayoutNone     PayoutStatus = "NONE"
	PayoutPending  PayoutStatus = "PENDING"
	PayoutReleased PayoutStatus = "RELEASED"
	PayoutFailed   PayoutStatus = "FAILED"
)

// PaymentRecord is one row per job describing the customer payment and the
// payout progress against it.
type PaymentRecord struct {
	JobID           string        `json:"jobId"`
	PayerUserID     string        `json:"payerUserId"`
	Status          PaymentStatus `json:"status"`
	PayoutStatus    PayoutStatus  `json:"payoutStatus"`
	RefundInitiated bool          `json:"refundInitiated"`
	AmountCents     int64         `json:"amountCents"`
	Currency        string        `json:"currency"`
	IntentRef       string        `json:"intentRef,omitempty"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// PayoutAccount resolves a user to a destination on the transfer rail.
type PayoutAccount struct {
	UserID        string `json:"userId"`
	RailAccountID string `json:"railAccountId"`
	Method        string `json:"method"`
}

var (
	ErrNotFound        = errors.New("job not found")
	ErrPaymentNotFound = errors.New("payment record not found")
	ErrNoPayoutAccount = errors.New("no payout account for user")
)

// CompletionReady reports whether a job may have its funds released: the
// work is COMPLETED and the payer has approved it.
func CompletionReady(j *Job) bool {
	return j.Status == StatusCompleted && j.ApprovedAt != nil
}

// Store provides read access to jobs and payment records plus the two
// writes the engine owns: payout status and refund marking.
type Store interface {
	Get(ctx context.Context, id string) (*Job, error)
	Put(ctx context.Context, j *Job) error

	Payment(ctx context.Context, jobID string) (*PaymentRecord, error)
	PaymentByIntent(ctx context.Context, intentRef string) (*PaymentRecord, error)
	PutPayment(ctx context.Context, p *PaymentRecord) error

	// SetPayoutStatus writes the release engine's verdict for a job.
	SetPayoutStatus(ctx context.Context, jobID string, to PayoutStatus) error

	// MarkRefunded flips the payment found by intent ref to REFUNDED and
	// sets the refund-initiated flag. Returns the updated record.
	MarkRefunded(ctx context.Context, intentRef string) (*PaymentRecord, error)

	PayoutAccount(ctx context.Context, userID string) (*PayoutAccount, error)
	PutPayoutAccount(ctx context.Context, a *PayoutAccount) error
}
