// Package escrow tracks per-job escrow records: funds captured from a payer
// but not yet distributed to payees.
//
// Flow:
//  1. A payment intent is created for a job -> escrow created PENDING
//  2. Provider confirms the payment -> Fund moves it to FUNDED exactly once
//     and writes the matching HELD ledger credit
//  3. The release engine (or materials reimbursement) closes it out
//     FUNDED -> RELEASED
//
// RELEASED, REFUNDED, and FAILED are terminal. RELEASED and REFUNDED are
// mutually exclusive: once funds have been split out to payees there is no
// refund path.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/crewpay/crewpay/internal/idgen"
	"github.com/crewpay/crewpay/internal/ledger"
)

var (
	ErrNotFound          = errors.New("escrow: not found")
	ErrInvalidTransition = errors.New("escrow: invalid status transition")
	ErrKindMismatch      = errors.New("escrow: kind mismatch")
)

// Kind distinguishes the main job escrow from the materials side-escrow.
type Kind string

const (
	KindJob       Kind = "JOB_ESCROW"
	KindMaterials Kind = "MATERIALS"
)

// Status is the escrow lifecycle state.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusFunded   Status = "FUNDED"
	StatusReleased Status = "RELEASED"
	StatusRefunded Status = "REFUNDED"
	StatusFailed   Status = "FAILED"
)

// Escrow is one per-job escrow record.
type Escrow struct {
	ID                 string     `json:"id"`
	JobID              string     `json:"jobId"`
	Kind               Kind       `json:"kind"`
	PayerUserID        string     `json:"payerUserId"`
	AmountCents        int64      `json:"amountCents"`
	Currency           string     `json:"currency"`
	Status             Status     `json:"status"`
	ExternalPaymentRef string     `json:"externalPaymentRef,omitempty"`
	WebhookProcessedAt *time.Time `json:"webhookProcessedAt,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// IsTerminal returns true if the escrow is in a final state.
func (e *Escrow) IsTerminal() bool {
	switch e.Status {
	case StatusReleased, StatusRefunded, StatusFailed:
		return true
	}
	return false
}

// FundOutcome is the result of the idempotent funding operation.
type FundOutcome struct {
	AlreadyProcessed bool    `json:"alreadyProcessed"`
	Escrow           *Escrow `json:"escrow"`
}

// Store persists escrow records.
//
// Fund is the whole idempotent funding operation pushed down to the store so
// implementations can make it atomic: lock the escrow row, branch on status,
// write the HELD ledger credit, run the per-job integrity check, and flip the
// status to FUNDED in one transaction.
type Store interface {
	Create(ctx context.Context, e *Escrow) error
	Get(ctx context.Context, id string) (*Escrow, error)
	GetByJob(ctx context.Context, jobID string, kind Kind) (*Escrow, error)
	GetByPaymentRef(ctx context.Context, externalPaymentRef string) (*Escrow, error)
	Fund(ctx context.Context, id, externalPaymentRef string) (*FundOutcome, error)
	// Transition flips status from -> to only if the current status matches
	// from. Returns whether the row was updated.
	Transition(ctx context.Context, id string, from, to Status) (bool, error)
}

// Service implements escrow business logic.
type Service struct {
	store  Store
	audit  ledger.AuditLogger
	logger *slog.Logger
}

// NewService creates a new escrow service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// WithAudit attaches an audit logger for state transitions.
func (s *Service) WithAudit(a ledger.AuditLogger) *Service {
	s.audit = a
	return s
}

// Create opens a new PENDING escrow for a payment intent.
func (s *Service) Create(ctx context.Context, jobID string, kind Kind, payerUserID string, amountCents int64, currency, externalPaymentRef string) (*Escrow, error) {
	if amountCents <= 0 {
		return nil, fmt.Errorf("escrow: amount must be positive, got %d", amountCents)
	}
	if jobID == "" || payerUserID == "" {
		return nil, errors.New("escrow: job id and payer are required")
	}

	now := time.Now()
	e := &Escrow{
		ID:                 idgen.WithPrefix("esc_"),
		JobID:              jobID,
		Kind:               kind,
		PayerUserID:        payerUserID,
		AmountCents:        amountCents,
		Currency:           currency,
		Status:             StatusPending,
		ExternalPaymentRef: externalPaymentRef,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.store.Create(ctx, e); err != nil {
		return nil, fmt.Errorf("failed to create escrow: %w", err)
	}

	s.logAudit(ctx, "escrow.create", e.ID, map[string]any{
		"jobId":       jobID,
		"kind":        string(kind),
		"amountCents": amountCents,
	})
	return e, nil
}

// Fund transitions an escrow to FUNDED exactly once per external payment
// confirmation and writes the matching HELD ledger credit.
//
// The idempotency contract: if the escrow is already FUNDED, RELEASED, or
// REFUNDED, Fund reports AlreadyProcessed with no side effects. Webhook
// replays and concurrent handlers both land here.
func (s *Service) Fund(ctx context.Context, escrowID, externalPaymentRef string, kind Kind) (*FundOutcome, error) {
	e, err := s.store.Get(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if e.Kind != kind {
		return nil, fmt.Errorf("%w: escrow %s is %s, not %s", ErrKindMismatch, escrowID, e.Kind, kind)
	}

	outcome, err := s.store.Fund(ctx, escrowID, externalPaymentRef)
	if err != nil {
		return nil, err
	}

	if outcome.AlreadyProcessed {
		s.logger.Debug("escrow funding replayed",
			"escrowId", escrowID, "paymentRef", externalPaymentRef, "status", outcome.Escrow.Status)
		return outcome, nil
	}

	FundedTotal.Inc()
	s.logger.Info("escrow funded",
		"escrowId", escrowID,
		"jobId", outcome.Escrow.JobID,
		"amountCents", outcome.Escrow.AmountCents,
		"paymentRef", externalPaymentRef,
	)
	s.logAudit(ctx, "escrow.fund", escrowID, map[string]any{
		"jobId":      outcome.Escrow.JobID,
		"paymentRef": externalPaymentRef,
	})
	return outcome, nil
}

// Get returns an escrow by ID.
func (s *Service) Get(ctx context.Context, id string) (*Escrow, error) {
	return s.store.Get(ctx, id)
}

// GetByJob returns the escrow of the given kind for a job.
func (s *Service) GetByJob(ctx context.Context, jobID string, kind Kind) (*Escrow, error) {
	return s.store.GetByJob(ctx, jobID, kind)
}

// GetByPaymentRef resolves an escrow from the provider's payment intent id.
func (s *Service) GetByPaymentRef(ctx context.Context, ref string) (*Escrow, error) {
	return s.store.GetByPaymentRef(ctx, ref)
}

// Transition flips the escrow status with a compare-and-swap. Used by the
// release engine (FUNDED -> RELEASED) and refund handling.
func (s *Service) Transition(ctx context.Context, id string, from, to Status) (bool, error) {
	if !legalTransition(from, to) {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	updated, err := s.store.Transition(ctx, id, from, to)
	if err != nil {
		return false, err
	}
	if updated {
		s.logAudit(ctx, "escrow.transition", id, map[string]any{
			"from": string(from),
			"to":   string(to),
		})
	}
	return updated, nil
}

func legalTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusFunded || to == StatusRefunded || to == StatusFailed
	case StatusFunded:
		return to == StatusReleased || to == StatusRefunded
	}
	return false
}

func (s *Service) logAudit(ctx context.Context, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.LogAudit(ctx, &ledger.AuditEntry{
		Action:   action,
		Entity:   "escrow",
		EntityID: entityID,
		Metadata: meta,
	})
}
