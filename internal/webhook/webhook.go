// Package webhook ingests payment-provider events. Every event is claimed
// exactly once via its provider event id before any settlement logic runs,
// so redelivered and concurrently delivered events are no-ops.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/crewpay/crewpay/internal/escrow"
	"github.com/crewpay/crewpay/internal/job"
)

// Event types this processor understands.
const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	EventChargeRefunded   = "charge.refunded"
)

// Store persists seen event ids with their claim state.
type Store interface {
	// Claim records the event id if unseen and atomically sets its
	// processed timestamp only if currently unset. Exactly one concurrent
	// caller per event id gets true.
	Claim(ctx context.Context, eventID string, now time.Time) (bool, error)
}

// Escrows is the slice of the escrow service funding flows through.
type Escrows interface {
	GetByPaymentRef(ctx context.Context, ref string) (*escrow.Escrow, error)
	Fund(ctx context.Context, escrowID, externalPaymentRef string, kind escrow.Kind) (*escrow.FundOutcome, error)
}

// Payments is the slice of the job store the processor updates.
type Payments interface {
	PaymentByIntent(ctx context.Context, intentRef string) (*job.PaymentRecord, error)
	PutPayment(ctx context.Context, p *job.PaymentRecord) error
	MarkRefunded(ctx context.Context, intentRef string) (*job.PaymentRecord, error)
}

// Outcome describes what a delivery did.
type Outcome struct {
	Duplicate bool `json:"duplicate"`
	Ignored   bool `json:"ignored"`
	Funded    bool `json:"funded"`
	Refunded  bool `json:"refunded"`
}

// Processor routes claimed events into the settlement engine.
type Processor struct {
	store    Store
	escrows  Escrows
	payments Payments
	logger   *slog.Logger
}

// NewProcessor creates a webhook processor.
func NewProcessor(store Store, escrows Escrows, payments Payments, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{store: store, escrows: escrows, payments: payments, logger: logger}
}

// Process handles one delivery. The claim happens first; a delivery that
// loses the claim returns Duplicate without touching anything else.
func (p *Processor) Process(ctx context.Context, eventID, eventType, intentRef string) (*Outcome, error) {
	if eventID == "" {
		return nil, errors.New("webhook: missing event id")
	}

	claimed, err := p.store.Claim(ctx, eventID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to claim event %s: %w", eventID, err)
	}
	if !claimed {
		p.logger.Debug("duplicate webhook delivery", "eventId", eventID, "type", eventType)
		return &Outcome{Duplicate: true}, nil
	}

	switch eventType {
	case EventPaymentSucceeded:
		return p.handleSucceeded(ctx, eventID, intentRef)
	case EventChargeRefunded:
		return p.handleRefunded(ctx, eventID, intentRef)
	default:
		p.logger.Debug("ignoring webhook event", "eventId", eventID, "type", eventType)
		return &Outcome{Ignored: true}, nil
	}
}

func (p *Processor) handleSucceeded(ctx context.Context, eventID, intentRef string) (*Outcome, error) {
	if intentRef == "" {
		return nil, fmt.Errorf("webhook: event %s has no payment intent", eventID)
	}

	if rec, err := p.payments.PaymentByIntent(ctx, intentRef); err == nil && rec.Status == job.PaymentRequiresPayment {
		rec.Status = job.PaymentCaptured
		if err := p.payments.PutPayment(ctx, rec); err != nil {
			return nil, err
		}
	}

	esc, err := p.escrows.GetByPaymentRef(ctx, intentRef)
	if errors.Is(err, escrow.ErrNotFound) {
		// Payment with no escrow attached; nothing for the engine to do.
		p.logger.Warn("payment succeeded with no matching escrow", "eventId", eventID, "intentRef", intentRef)
		return &Outcome{Ignored: true}, nil
	}
	if err != nil {
		return nil, err
	}

	outcome, err := p.escrows.Fund(ctx, esc.ID, intentRef, esc.Kind)
	if err != nil {
		return nil, err
	}

	p.logger.Info("webhook funded escrow",
		"eventId", eventID,
		"escrowId", esc.ID,
		"jobId", esc.JobID,
		"replayed", outcome.AlreadyProcessed,
	)
	return &Outcome{Funded: !outcome.AlreadyProcessed}, nil
}

func (p *Processor) handleRefunded(ctx context.Context, eventID, intentRef string) (*Outcome, error) {
	if intentRef == "" {
		return nil, fmt.Errorf("webhook: event %s has no payment intent", eventID)
	}

	rec, err := p.payments.MarkRefunded(ctx, intentRef)
	if errors.Is(err, job.ErrPaymentNotFound) {
		p.logger.Warn("refund for unknown payment", "eventId", eventID, "intentRef", intentRef)
		return &Outcome{Ignored: true}, nil
	}
	if err != nil {
		return nil, err
	}

	p.logger.Info("webhook marked payment refunded",
		"eventId", eventID, "jobId", rec.JobID, "intentRef", intentRef)
	return &Outcome{Refunded: true}, nil
}
