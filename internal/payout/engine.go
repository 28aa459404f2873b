package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/crewpay/crewpay/internal/escrow"
	"github.com/crewpay/crewpay/internal/job"
	"github.com/crewpay/crewpay/internal/ledger"
	"github.com/crewpay/crewpay/internal/rail"
	"github.com/crewpay/crewpay/internal/syncutil"
	"github.com/crewpay/crewpay/internal/traces"
)

// Jobs is the slice of the job directory the engine consumes.
type Jobs interface {
	Get(ctx context.Context, id string) (*job.Job, error)
	Payment(ctx context.Context, jobID string) (*job.PaymentRecord, error)
	SetPayoutStatus(ctx context.Context, jobID string, to job.PayoutStatus) error
	PayoutAccount(ctx context.Context, userID string) (*job.PayoutAccount, error)
}

// Escrows is the slice of the escrow service the engine consumes.
type Escrows interface {
	GetByJob(ctx context.Context, jobID string, kind escrow.Kind) (*escrow.Escrow, error)
	Transition(ctx context.Context, id string, from, to escrow.Status) (bool, error)
}

// HoldGate answers whether a job is blocked by an active dispute hold.
type HoldGate interface {
	ActiveDisputeHold(ctx context.Context, jobID string) (bool, error)
}

// Books is the slice of the ledger the engine writes through.
type Books interface {
	AppendOnce(ctx context.Context, e *ledger.Entry) (bool, error)
}

// Service is the release engine.
type Service struct {
	store   Store
	jobs    Jobs
	escrows Escrows
	holds   HoldGate
	books   Books
	rail    rail.Rail

	platformUserID string
	mode           string // transfer mode, part of the idempotency key

	locks  syncutil.ShardedMutex
	audit  ledger.AuditLogger
	logger *slog.Logger
}

// NewService creates the release engine.
func NewService(store Store, jobs Jobs, escrows Escrows, holds HoldGate, books Books, r rail.Rail, platformUserID, mode string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:          store,
		jobs:           jobs,
		escrows:        escrows,
		holds:          holds,
		books:          books,
		rail:           r,
		platformUserID: platformUserID,
		mode:           mode,
		logger:         logger,
	}
}

// WithAudit attaches an audit logger for release outcomes.
func (s *Service) WithAudit(a ledger.AuditLogger) *Service {
	s.audit = a
	return s
}

// ErrBadTransferState signals existing transfer rows that contradict the
// expected split. It is a data-corruption diagnostic, not a business
// outcome; the operation aborts before any money moves.
var ErrBadTransferState = errors.New("transfer records inconsistent with expected split")

// ReleaseJobFunds runs the whole release for a job: precondition gates,
// existing-record validation, one rail call per still-pending external leg,
// and ledger finalization once every leg is SENT. Safe to re-invoke; SENT
// legs are never re-sent and finalization entries are idempotent.
//
// Rail calls happen while holding only the in-process per-job lock, never
// inside an open database transaction.
func (s *Service) ReleaseJobFunds(ctx context.Context, jobID, actorID string) (*ReleaseResult, error) {
	unlock := s.locks.Lock(jobID)
	defer unlock()

	ctx, span := traces.StartSpan(ctx, "payout.release", traces.JobID(jobID), traces.UserID(actorID))
	defer span.End()

	result, err := s.release(ctx, jobID, actorID)
	if err != nil {
		ReleasesTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	switch {
	case result.AlreadyReleased:
		ReleasesTotal.WithLabelValues("already_released").Inc()
	case result.OK:
		ReleasesTotal.WithLabelValues("released").Inc()
	default:
		ReleasesTotal.WithLabelValues(string(result.Code)).Inc()
	}
	return result, nil
}

func (s *Service) release(ctx context.Context, jobID, actorID string) (*ReleaseResult, error) {
	j, err := s.jobs.Get(ctx, jobID)
	if errors.Is(err, job.ErrNotFound) {
		return refused(CodeNotFound), nil
	}
	if err != nil {
		return nil, err
	}

	if j.Archived || j.Mock {
		return refused(CodeJobArchived), nil
	}
	switch j.Status {
	case job.StatusDisputed:
		return refused(CodeJobDisputed), nil
	case job.StatusCompletionFlagged:
		return refused(CodeJobFlagged), nil
	}

	// The hold gate is authoritative regardless of job status.
	held, err := s.holds.ActiveDisputeHold(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if held {
		s.logger.Warn("release blocked by dispute hold", "jobId", jobID, "actor", actorID)
		return refused(CodeDisputeHold), nil
	}

	pay, err := s.jobs.Payment(ctx, jobID)
	if errors.Is(err, job.ErrPaymentNotFound) {
		return refused(CodeNotFunded), nil
	}
	if err != nil {
		return nil, err
	}

	if pay.PayoutStatus == job.PayoutReleased {
		legs, err := s.store.ListByJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		return &ReleaseResult{OK: true, AlreadyReleased: true, Legs: legs}, nil
	}

	if pay.RefundInitiated || pay.Status == job.PaymentRefunded {
		return refused(CodeRefundInitiated), nil
	}
	if pay.Status != job.PaymentCaptured {
		return refused(CodeNotFunded), nil
	}
	if !job.CompletionReady(j) {
		return refused(CodeNotReady), nil
	}
	if j.RouterUserID == "" {
		return refused(CodeNoRouter), nil
	}
	if j.ContractorUserID == "" {
		return refused(CodeNoContractor), nil
	}

	esc, err := s.escrows.GetByJob(ctx, jobID, escrow.KindJob)
	if errors.Is(err, escrow.ErrNotFound) {
		return refused(CodeNotFunded), nil
	}
	if err != nil {
		return nil, err
	}
	if esc.Status != escrow.StatusFunded {
		if esc.Status == escrow.StatusReleased {
			legs, err := s.store.ListByJob(ctx, jobID)
			if err != nil {
				return nil, err
			}
			return &ReleaseResult{OK: true, AlreadyReleased: true, Legs: legs}, nil
		}
		return refused(CodeNotFunded), nil
	}

	total := esc.AmountCents
	split := ComputeSplit(total)
	payees := map[Role]string{
		RoleContractor: j.ContractorUserID,
		RoleRouter:     j.RouterUserID,
		RolePlatform:   s.platformUserID,
	}

	existing, err := s.store.ListByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	byRole, err := s.validateExisting(existing, split, esc.Currency)
	if err != nil {
		s.logger.Error("transfer state inconsistent, aborting release",
			"jobId", jobID, "error", err)
		return refused(CodeBadTransferState), nil
	}

	legs := make([]*TransferRecord, 0, len(releaseOrder))
	for _, role := range releaseOrder {
		rec := s.attemptLeg(ctx, jobID, role, payees[role], split.For(role), esc.Currency, byRole[role])
		if err := s.store.Upsert(ctx, rec); err != nil {
			return nil, fmt.Errorf("failed to persist %s leg: %w", role, err)
		}
		legs = append(legs, rec)
	}

	allSent := true
	for _, rec := range legs {
		if rec.Status != TransferSent {
			allSent = false
			break
		}
	}

	if !allSent {
		if err := s.jobs.SetPayoutStatus(ctx, jobID, job.PayoutFailed); err != nil {
			return nil, err
		}
		s.logAudit(ctx, "payout.release_failed", jobID, actorID, map[string]any{"legs": legStatuses(legs)})
		return &ReleaseResult{OK: false, Code: CodeTransferFailed, Legs: legs}, nil
	}

	if err := s.finalize(ctx, jobID, esc, payees, split); err != nil {
		return nil, err
	}
	if err := s.jobs.SetPayoutStatus(ctx, jobID, job.PayoutReleased); err != nil {
		return nil, err
	}

	s.logger.Info("job funds released",
		"jobId", jobID,
		"totalCents", total,
		"contractorCents", split.Contractor,
		"routerCents", split.Router,
		"platformCents", split.Platform,
		"actor", actorID,
	)
	s.logAudit(ctx, "payout.released", jobID, actorID, map[string]any{
		"totalCents": total,
		"escrowId":   esc.ID,
	})
	return &ReleaseResult{OK: true, Legs: legs}, nil
}

// validateExisting checks prior transfer rows against the expected split.
// FAILED rows are retriable and pass through; REVERSED rows, unknown or
// duplicate roles, and amount or currency mismatches abort.
func (s *Service) validateExisting(existing []*TransferRecord, split Split, currency string) (map[Role]*TransferRecord, error) {
	byRole := make(map[Role]*TransferRecord, len(existing))
	for _, rec := range existing {
		switch rec.Role {
		case RoleContractor, RoleRouter, RolePlatform:
		default:
			return nil, fmt.Errorf("%w: unknown role %q", ErrBadTransferState, rec.Role)
		}
		if _, dup := byRole[rec.Role]; dup {
			return nil, fmt.Errorf("%w: duplicate %s row", ErrBadTransferState, rec.Role)
		}
		if rec.AmountCents != split.For(rec.Role) || rec.Currency != currency {
			return nil, fmt.Errorf("%w: %s leg has %d %s, expected %d %s",
				ErrBadTransferState, rec.Role, rec.AmountCents, rec.Currency, split.For(rec.Role), currency)
		}
		if rec.Status == TransferReversed {
			return nil, fmt.Errorf("%w: %s leg is REVERSED", ErrBadTransferState, rec.Role)
		}
		byRole[rec.Role] = rec
	}
	return byRole, nil
}

// attemptLeg produces the up-to-date record for one leg, calling the rail
// only when the leg has not already been SENT.
func (s *Service) attemptLeg(ctx context.Context, jobID string, role Role, userID string, amount int64, currency string, prior *TransferRecord) *TransferRecord {
	now := time.Now()
	if prior != nil && prior.Status == TransferSent {
		// Already settled in a prior invocation. Never call the rail again.
		return prior
	}

	rec := &TransferRecord{
		JobID:       jobID,
		Role:        role,
		UserID:      userID,
		AmountCents: amount,
		Currency:    currency,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if prior != nil {
		rec.CreatedAt = prior.CreatedAt
	}

	// The platform leg is retained in-account, not an external transfer.
	if role == RolePlatform {
		rec.Method = "internal"
		rec.Status = TransferSent
		return rec
	}

	account, err := s.jobs.PayoutAccount(ctx, userID)
	if err != nil {
		rec.Status = TransferFailed
		rec.FailureReason = fmt.Sprintf("payout account: %v", err)
		LegFailuresTotal.WithLabelValues(string(role)).Inc()
		return rec
	}
	rec.Method = account.Method

	transfer, err := s.rail.CreateTransfer(ctx, rail.TransferRequest{
		AmountCents:        amount,
		Currency:           currency,
		DestinationAccount: account.RailAccountID,
		IdempotencyKey:     IdempotencyKey(jobID, role, amount, currency, s.mode),
		Metadata: map[string]string{
			"job_id": jobID,
			"role":   string(role),
		},
	})
	if err != nil {
		s.logger.Error("transfer leg failed",
			"jobId", jobID, "role", role, "amountCents", amount, "error", err)
		rec.Status = TransferFailed
		rec.FailureReason = err.Error()
		LegFailuresTotal.WithLabelValues(string(role)).Inc()
		return rec
	}

	rec.Status = TransferSent
	rec.ExternalTransferID = transfer.ID
	return rec
}

// finalize writes the closing ledger entries and flips the escrow. Every
// write is keyed so a replayed finalization inserts nothing new.
func (s *Service) finalize(ctx context.Context, jobID string, esc *escrow.Escrow, payees map[Role]string, split Split) error {
	entries := []*ledger.Entry{
		{
			UserID:      esc.PayerUserID,
			JobID:       jobID,
			EscrowID:    esc.ID,
			Type:        ledger.TypeEscrowCloseout,
			Direction:   ledger.Debit,
			Bucket:      ledger.BucketHeld,
			AmountCents: esc.AmountCents,
			Currency:    esc.Currency,
			ExternalRef: "closeout:" + jobID,
			Memo:        "escrow close-out on release",
		},
		{
			UserID:      payees[RoleContractor],
			JobID:       jobID,
			EscrowID:    esc.ID,
			Type:        ledger.TypePayoutEarning,
			Direction:   ledger.Credit,
			Bucket:      ledger.BucketPaid,
			AmountCents: split.Contractor,
			Currency:    esc.Currency,
			ExternalRef: "payout:" + jobID + ":" + string(RoleContractor),
			Memo:        "contractor share",
		},
		{
			UserID:      payees[RoleRouter],
			JobID:       jobID,
			EscrowID:    esc.ID,
			Type:        ledger.TypePayoutEarning,
			Direction:   ledger.Credit,
			Bucket:      ledger.BucketPaid,
			AmountCents: split.Router,
			Currency:    esc.Currency,
			ExternalRef: "payout:" + jobID + ":" + string(RoleRouter),
			Memo:        "router share",
		},
		{
			UserID:      payees[RolePlatform],
			JobID:       jobID,
			EscrowID:    esc.ID,
			Type:        ledger.TypePlatformFee,
			Direction:   ledger.Credit,
			Bucket:      ledger.BucketAvailable,
			AmountCents: split.Platform,
			Currency:    esc.Currency,
			ExternalRef: "payout:" + jobID + ":" + string(RolePlatform),
			Memo:        "platform fee",
		},
	}
	for _, e := range entries {
		if e.AmountCents == 0 {
			continue
		}
		if _, err := s.books.AppendOnce(ctx, e); err != nil {
			return fmt.Errorf("failed to write %s entry: %w", e.Type, err)
		}
	}

	if _, err := s.escrows.Transition(ctx, esc.ID, escrow.StatusFunded, escrow.StatusReleased); err != nil {
		return err
	}
	return nil
}

// ListByJob returns the transfer records for a job.
func (s *Service) ListByJob(ctx context.Context, jobID string) ([]*TransferRecord, error) {
	return s.store.ListByJob(ctx, jobID)
}

func legStatuses(legs []*TransferRecord) map[string]string {
	out := make(map[string]string, len(legs))
	for _, rec := range legs {
		out[string(rec.Role)] = string(rec.Status)
	}
	return out
}

func (s *Service) logAudit(ctx context.Context, action, jobID, actorID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["actor"] = actorID
	_ = s.audit.LogAudit(ctx, &ledger.AuditEntry{
		Action:   action,
		Entity:   "job_payout",
		EntityID: jobID,
		Metadata: meta,
	})
}
