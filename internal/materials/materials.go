// Package materials implements the materials escrow flow: a payer escrows a
// materials budget up front, the contractor submits receipts, and the
// reimbursement is capped by both the receipt total and the escrowed amount.
// Any unspent remainder flows back to the payer.
package materials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/crewpay/crewpay/internal/escrow"
	"github.com/crewpay/crewpay/internal/idgen"
	"github.com/crewpay/crewpay/internal/job"
	"github.com/crewpay/crewpay/internal/ledger"
	"github.com/crewpay/crewpay/internal/syncutil"
)

// Status is the materials request lifecycle state.
type Status string

const (
	StatusPendingApproval   Status = "PENDING_APPROVAL"
	StatusApproved          Status = "APPROVED"
	StatusReceiptsSubmitted Status = "RECEIPTS_SUBMITTED"
	StatusReimbursed        Status = "REIMBURSED"
	StatusCancelled         Status = "CANCELLED"
)

// Request is one materials budget agreed between payer and contractor.
type Request struct {
	ID                string    `json:"id"`
	JobID             string    `json:"jobId"`
	PayerUserID       string    `json:"payerUserId"`
	ContractorUserID  string    `json:"contractorUserId"`
	Status            Status    `json:"status"`
	EscrowID          string    `json:"escrowId,omitempty"`
	ReceiptTotalCents *int64    `json:"receiptTotalCents,omitempty"`
	RefundFlagged     bool      `json:"refundFlagged"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

var ErrNotFound = errors.New("materials request not found")

// ResultKind classifies the outcome of a reimbursement attempt. Refusals
// are values, not errors.
type ResultKind string

const (
	ResultOK          ResultKind = "ok"
	ResultAlready     ResultKind = "already"
	ResultNotFound    ResultKind = "not_found"
	ResultForbidden   ResultKind = "forbidden"
	ResultNotReady    ResultKind = "not_ready"
	ResultNoEscrow    ResultKind = "no_escrow"
	ResultNoReceipts  ResultKind = "no_receipts"
	ResultNotCaptured ResultKind = "not_captured"
)

// Result is the structured outcome of ReleaseReimbursement.
type Result struct {
	Kind            ResultKind `json:"kind"`
	ReimbursedCents int64      `json:"reimbursedCents,omitempty"`
	RemainderCents  int64      `json:"remainderCents,omitempty"`
	OverageCents    int64      `json:"overageCents,omitempty"`
	RefundFlagged   bool       `json:"refundFlagged,omitempty"`
}

// Store persists materials requests.
type Store interface {
	Create(ctx context.Context, r *Request) error
	Get(ctx context.Context, id string) (*Request, error)
	GetByJob(ctx context.Context, jobID string) (*Request, error)

	// SetReceiptTotal records the submitted receipt total and moves the
	// request to RECEIPTS_SUBMITTED.
	SetReceiptTotal(ctx context.Context, id string, totalCents int64) error

	// UpdateStatus flips from -> to conditionally. Returns false when the
	// request was no longer in the from status.
	UpdateStatus(ctx context.Context, id string, from, to Status) (bool, error)

	SetRefundFlagged(ctx context.Context, id string) error
}

// Escrows is the slice of the escrow service this flow consumes.
type Escrows interface {
	Create(ctx context.Context, jobID string, kind escrow.Kind, payerUserID string, amountCents int64, currency, externalPaymentRef string) (*escrow.Escrow, error)
	Get(ctx context.Context, id string) (*escrow.Escrow, error)
	Transition(ctx context.Context, id string, from, to escrow.Status) (bool, error)
}

// Payments reads the underlying customer payment for a job.
type Payments interface {
	Payment(ctx context.Context, jobID string) (*job.PaymentRecord, error)
}

// Books is the slice of the ledger this flow writes through.
type Books interface {
	AppendOnce(ctx context.Context, e *ledger.Entry) (bool, error)
}

// Service implements the materials reimbursement flow.
type Service struct {
	store    Store
	escrows  Escrows
	payments Payments
	books    Books

	// Remainders at or under this many cents are auto-credited back to the
	// payer; larger ones are flagged for an out-of-band refund.
	smallRemainderCents int64

	locks  syncutil.ShardedMutex
	audit  ledger.AuditLogger
	logger *slog.Logger
}

// NewService creates the materials service.
func NewService(store Store, escrows Escrows, payments Payments, books Books, smallRemainderCents int64, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:               store,
		escrows:             escrows,
		payments:            payments,
		books:               books,
		smallRemainderCents: smallRemainderCents,
		logger:              logger,
	}
}

// WithAudit attaches an audit logger.
func (s *Service) WithAudit(a ledger.AuditLogger) *Service {
	s.audit = a
	return s
}

// Open creates a materials request together with its PENDING escrow.
func (s *Service) Open(ctx context.Context, jobID, payerUserID, contractorUserID string, budgetCents int64, currency, paymentRef string) (*Request, error) {
	if budgetCents <= 0 {
		return nil, fmt.Errorf("materials: budget must be positive, got %d", budgetCents)
	}

	esc, err := s.escrows.Create(ctx, jobID, escrow.KindMaterials, payerUserID, budgetCents, currency, paymentRef)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	r := &Request{
		ID:               idgen.WithPrefix("mat_"),
		JobID:            jobID,
		PayerUserID:      payerUserID,
		ContractorUserID: contractorUserID,
		Status:           StatusApproved,
		EscrowID:         esc.ID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.Create(ctx, r); err != nil {
		return nil, fmt.Errorf("failed to create materials request: %w", err)
	}

	s.logger.Info("materials request opened",
		"requestId", r.ID, "jobId", jobID, "budgetCents", budgetCents)
	return r, nil
}

// SubmitReceipts records the contractor's receipt total.
func (s *Service) SubmitReceipts(ctx context.Context, requestID, actorID string, totalCents int64) (*Request, error) {
	if totalCents <= 0 {
		return nil, fmt.Errorf("materials: receipt total must be positive, got %d", totalCents)
	}
	r, err := s.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if r.ContractorUserID != actorID {
		return nil, fmt.Errorf("materials: user %s is not the contractor on request %s", actorID, requestID)
	}
	if err := s.store.SetReceiptTotal(ctx, requestID, totalCents); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, requestID)
}

// Get returns a materials request by ID.
func (s *Service) Get(ctx context.Context, id string) (*Request, error) {
	return s.store.Get(ctx, id)
}

// ReleaseReimbursement settles a materials request: it credits the
// contractor's pending earnings up to the escrowed amount, closes out the
// held funds, and returns any remainder to the payer. Safe under retries
// and concurrent invocations; each ledger effect is individually keyed.
func (s *Service) ReleaseReimbursement(ctx context.Context, requestID, actorID string) (*Result, error) {
	unlock := s.locks.Lock(requestID)
	defer unlock()

	r, err := s.store.Get(ctx, requestID)
	if errors.Is(err, ErrNotFound) {
		return &Result{Kind: ResultNotFound}, nil
	}
	if err != nil {
		return nil, err
	}

	if r.ContractorUserID != actorID {
		return &Result{Kind: ResultForbidden}, nil
	}
	if r.Status == StatusReimbursed {
		return &Result{Kind: ResultAlready}, nil
	}
	if r.Status != StatusReceiptsSubmitted {
		return &Result{Kind: ResultNotReady}, nil
	}

	if r.EscrowID == "" {
		return &Result{Kind: ResultNoEscrow}, nil
	}
	esc, err := s.escrows.Get(ctx, r.EscrowID)
	if errors.Is(err, escrow.ErrNotFound) {
		return &Result{Kind: ResultNoEscrow}, nil
	}
	if err != nil {
		return nil, err
	}
	switch esc.Status {
	case escrow.StatusFunded:
	case escrow.StatusReleased:
		return &Result{Kind: ResultAlready}, nil
	default:
		return &Result{Kind: ResultNoEscrow}, nil
	}

	if r.ReceiptTotalCents == nil || *r.ReceiptTotalCents <= 0 {
		return &Result{Kind: ResultNoReceipts}, nil
	}

	pay, err := s.payments.Payment(ctx, r.JobID)
	if err != nil || pay.Status != job.PaymentCaptured {
		return &Result{Kind: ResultNotCaptured}, nil
	}

	receiptTotal := *r.ReceiptTotalCents
	reimbursed := receiptTotal
	if reimbursed > esc.AmountCents {
		reimbursed = esc.AmountCents
	}
	remainder := esc.AmountCents - reimbursed
	overage := receiptTotal - esc.AmountCents
	if overage < 0 {
		overage = 0
	}

	if _, err := s.books.AppendOnce(ctx, &ledger.Entry{
		UserID:      r.ContractorUserID,
		JobID:       r.JobID,
		EscrowID:    esc.ID,
		Type:        ledger.TypeMaterialsEarning,
		Direction:   ledger.Credit,
		Bucket:      ledger.BucketPending,
		AmountCents: reimbursed,
		Currency:    esc.Currency,
		ExternalRef: "materials:" + r.ID + ":earning",
		Memo:        "materials reimbursement",
	}); err != nil {
		return nil, err
	}

	if _, err := s.books.AppendOnce(ctx, &ledger.Entry{
		UserID:      r.PayerUserID,
		JobID:       r.JobID,
		EscrowID:    esc.ID,
		Type:        ledger.TypeMaterialsCloseout,
		Direction:   ledger.Debit,
		Bucket:      ledger.BucketHeld,
		AmountCents: esc.AmountCents,
		Currency:    esc.Currency,
		ExternalRef: "materials:" + r.ID + ":closeout",
		Memo:        "materials escrow close-out",
	}); err != nil {
		return nil, err
	}

	refundFlagged := false
	if remainder > 0 {
		if remainder <= s.smallRemainderCents {
			if _, err := s.books.AppendOnce(ctx, &ledger.Entry{
				UserID:      r.PayerUserID,
				JobID:       r.JobID,
				EscrowID:    esc.ID,
				Type:        ledger.TypeMaterialsRemainder,
				Direction:   ledger.Credit,
				Bucket:      ledger.BucketAvailable,
				AmountCents: remainder,
				Currency:    esc.Currency,
				ExternalRef: "materials:" + r.ID + ":remainder",
				Memo:        "unspent materials budget",
			}); err != nil {
				return nil, err
			}
		} else {
			refundFlagged = true
			if err := s.store.SetRefundFlagged(ctx, r.ID); err != nil {
				return nil, err
			}
		}
	}

	if _, err := s.escrows.Transition(ctx, esc.ID, escrow.StatusFunded, escrow.StatusReleased); err != nil {
		return nil, err
	}
	if _, err := s.store.UpdateStatus(ctx, r.ID, StatusReceiptsSubmitted, StatusReimbursed); err != nil {
		return nil, err
	}

	s.logger.Info("materials reimbursement released",
		"requestId", r.ID,
		"jobId", r.JobID,
		"reimbursedCents", reimbursed,
		"remainderCents", remainder,
		"overageCents", overage,
		"refundFlagged", refundFlagged,
	)
	s.logAudit(ctx, "materials.reimbursed", r.ID, map[string]any{
		"jobId":           r.JobID,
		"reimbursedCents": reimbursed,
		"remainderCents":  remainder,
		"actor":           actorID,
	})

	return &Result{
		Kind:            ResultOK,
		ReimbursedCents: reimbursed,
		RemainderCents:  remainder,
		OverageCents:    overage,
		RefundFlagged:   refundFlagged,
	}, nil
}

func (s *Service) logAudit(ctx context.Context, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.LogAudit(ctx, &ledger.AuditEntry{
		Action:   action,
		Entity:   "materials_request",
		EntityID: entityID,
		Metadata: meta,
	})
}
