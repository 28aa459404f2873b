// Package ledger is the append-only money-movement log for the settlement
// engine.
//
// Every fund movement is one signed row: a CREDIT adds to a user's bucket,
// a DEBIT subtracts from it. Balances are never stored or mutated in place;
// they are always derived by summing rows grouped by (user, bucket). Rows are
// immutable once written, which makes the store safe for concurrent writers.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/crewpay/crewpay/internal/idgen"
)

var (
	ErrInvalidEntry = errors.New("ledger: invalid entry")
	ErrIntegrity    = errors.New("ledger: job balance below zero")
)

// Direction is the sign of a ledger entry.
type Direction string

const (
	Credit Direction = "CREDIT"
	Debit  Direction = "DEBIT"
)

// Bucket is a per-user sub-account representing fund maturity.
type Bucket string

const (
	BucketPending   Bucket = "PENDING"
	BucketAvailable Bucket = "AVAILABLE"
	BucketPaid      Bucket = "PAID"
	BucketHeld      Bucket = "HELD"
)

// EntryType classifies what business event produced an entry.
type EntryType string

const (
	TypeEscrowFunding      EntryType = "escrow_funding"
	TypeEscrowCloseout     EntryType = "escrow_closeout"
	TypePayoutEarning      EntryType = "payout_earning"
	TypePlatformFee        EntryType = "platform_fee"
	TypeMaterialsEarning   EntryType = "materials_earning"
	TypeMaterialsCloseout  EntryType = "materials_closeout"
	TypeMaterialsRemainder EntryType = "materials_remainder"
	TypeRewardDebit        EntryType = "reward_debit"
	TypeRewardCredit       EntryType = "reward_credit"
)

// Entry is one immutable money movement.
type Entry struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"createdAt"`
	UserID      string    `json:"userId"`
	JobID       string    `json:"jobId,omitempty"`
	EscrowID    string    `json:"escrowId,omitempty"`
	Type        EntryType `json:"type"`
	Direction   Direction `json:"direction"`
	Bucket      Bucket    `json:"bucket"`
	AmountCents int64     `json:"amountCents"`
	Currency    string    `json:"currency"`
	ExternalRef string    `json:"externalRef,omitempty"`
	Memo        string    `json:"memo,omitempty"`
}

// Signed returns the entry amount with its direction applied.
func (e *Entry) Signed() int64 {
	if e.Direction == Debit {
		return -e.AmountCents
	}
	return e.AmountCents
}

// WalletTotals is the derived per-bucket balance for one user, in cents.
type WalletTotals struct {
	Pending   int64 `json:"PENDING"`
	Available int64 `json:"AVAILABLE"`
	Paid      int64 `json:"PAID"`
	Held      int64 `json:"HELD"`
}

// Store persists ledger entries. Implementations must treat entries as
// append-only: no update or delete operations exist.
type Store interface {
	Append(ctx context.Context, e *Entry) error
	// Exists reports whether an entry with the given (user, type, externalRef)
	// key was already written. It is the idempotency probe for retried writes.
	Exists(ctx context.Context, userID string, typ EntryType, externalRef string) (bool, error)
	SumBucket(ctx context.Context, userID string, bucket Bucket) (int64, error)
	// JobNet returns the running CREDIT-DEBIT total across all entries for a job.
	JobNet(ctx context.Context, jobID string) (int64, error)
	WalletTotals(ctx context.Context, userID string) (*WalletTotals, error)
	History(ctx context.Context, userID string, limit int) ([]*Entry, error)
}

// Ledger wraps a Store with validation, audit, and metrics.
type Ledger struct {
	store Store
	audit AuditLogger
}

// New creates a new ledger.
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// WithAudit attaches an audit logger. Every append is then also recorded as
// an audit row for compliance replay.
func (l *Ledger) WithAudit(a AuditLogger) *Ledger {
	l.audit = a
	return l
}

// Store exposes the underlying store for wiring into sibling services.
func (l *Ledger) Store() Store {
	return l.store
}

func validate(e *Entry) error {
	switch {
	case e == nil:
		return fmt.Errorf("%w: nil entry", ErrInvalidEntry)
	case e.UserID == "":
		return fmt.Errorf("%w: missing user id", ErrInvalidEntry)
	case e.AmountCents <= 0:
		return fmt.Errorf("%w: amount must be positive, got %d", ErrInvalidEntry, e.AmountCents)
	case e.Currency == "":
		return fmt.Errorf("%w: missing currency", ErrInvalidEntry)
	case e.Direction != Credit && e.Direction != Debit:
		return fmt.Errorf("%w: bad direction %q", ErrInvalidEntry, e.Direction)
	case e.Type == "":
		return fmt.Errorf("%w: missing type", ErrInvalidEntry)
	}
	switch e.Bucket {
	case BucketPending, BucketAvailable, BucketPaid, BucketHeld:
	default:
		return fmt.Errorf("%w: bad bucket %q", ErrInvalidEntry, e.Bucket)
	}
	return nil
}

// Append writes one validated entry.
func (l *Ledger) Append(ctx context.Context, e *Entry) error {
	if err := validate(e); err != nil {
		return err
	}
	if e.ID == "" {
		e.ID = idgen.WithPrefix("led_")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	done := observeOp(string(e.Type))
	defer done()

	if err := l.store.Append(ctx, e); err != nil {
		return err
	}

	l.logAudit(ctx, e)
	return nil
}

// AppendOnce writes the entry unless a row with the same
// (user, type, externalRef) key already exists. It returns whether the entry
// was inserted. ExternalRef must be set; it is the natural idempotency key
// that makes retried settlement steps safe.
func (l *Ledger) AppendOnce(ctx context.Context, e *Entry) (bool, error) {
	if err := validate(e); err != nil {
		return false, err
	}
	if e.ExternalRef == "" {
		return false, fmt.Errorf("%w: AppendOnce requires an external ref", ErrInvalidEntry)
	}

	exists, err := l.store.Exists(ctx, e.UserID, e.Type, e.ExternalRef)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	if err := l.Append(ctx, e); err != nil {
		return false, err
	}
	return true, nil
}

// WalletTotals returns the derived per-bucket balances for a user.
// Reads never lock; slightly stale results under concurrent writes are fine
// because the settlement services are the only mutation authority.
func (l *Ledger) WalletTotals(ctx context.Context, userID string) (*WalletTotals, error) {
	return l.store.WalletTotals(ctx, userID)
}

// SumBucket returns one bucket's signed total for a user.
func (l *Ledger) SumBucket(ctx context.Context, userID string, bucket Bucket) (int64, error) {
	return l.store.SumBucket(ctx, userID, bucket)
}

// CheckJobIntegrity verifies the running CREDIT-DEBIT total for a job is not
// negative. A violation means more money left the job than ever entered it;
// that is data corruption, not a business outcome, and is surfaced as
// ErrIntegrity for the enclosing transaction to abort on.
func (l *Ledger) CheckJobIntegrity(ctx context.Context, jobID string) error {
	net, err := l.store.JobNet(ctx, jobID)
	if err != nil {
		return err
	}
	if net < 0 {
		IntegrityViolationsTotal.Inc()
		return fmt.Errorf("%w: job %s net %d", ErrIntegrity, jobID, net)
	}
	return nil
}

// History returns recent entries for a user, newest first.
func (l *Ledger) History(ctx context.Context, userID string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.store.History(ctx, userID, limit)
}

func (l *Ledger) logAudit(ctx context.Context, e *Entry) {
	if l.audit == nil {
		return
	}
	actorType, actorID, ip, requestID := actorFromCtx(ctx)
	_ = l.audit.LogAudit(ctx, &AuditEntry{
		ActorType: actorType,
		ActorID:   actorID,
		Action:    "ledger.append",
		Entity:    "ledger_entry",
		EntityID:  e.ID,
		Metadata: map[string]any{
			"userId":      e.UserID,
			"jobId":       e.JobID,
			"type":        string(e.Type),
			"direction":   string(e.Direction),
			"bucket":      string(e.Bucket),
			"amountCents": e.AmountCents,
			"externalRef": e.ExternalRef,
		},
		RequestID: requestID,
		IPAddress: ip,
	})
}
