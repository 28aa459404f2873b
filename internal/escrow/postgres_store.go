package escrow

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/crewpay/crewpay/internal/idgen"
	"github.com/crewpay/crewpay/internal/ledger"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed escrow store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, e *Escrow) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO escrows (id, job_id, kind, payer_user_id, amount_cents, currency, status, external_payment_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10)
	`, e.ID, e.JobID, e.Kind, e.PayerUserID, e.AmountCents, e.Currency, e.Status,
		e.ExternalPaymentRef, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create escrow: %w", err)
	}
	return nil
}

const escrowColumns = `
	id, job_id, kind, payer_user_id, amount_cents, currency, status,
	COALESCE(external_payment_ref, ''), webhook_processed_at, created_at, updated_at`

func (p *PostgresStore) Get(ctx context.Context, id string) (*Escrow, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1`, id)
	return scanEscrow(row)
}

func (p *PostgresStore) GetByJob(ctx context.Context, jobID string, kind Kind) (*Escrow, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+escrowColumns+` FROM escrows WHERE job_id = $1 AND kind = $2
	`, jobID, kind)
	return scanEscrow(row)
}

func (p *PostgresStore) GetByPaymentRef(ctx context.Context, ref string) (*Escrow, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+escrowColumns+` FROM escrows WHERE external_payment_ref = $1
	`, ref)
	return scanEscrow(row)
}

// Fund runs the whole funding operation in one transaction: lock the escrow
// row, branch on status, write the HELD ledger credit, re-check the per-job
// running total, and flip the status. Either everything commits or nothing
// does.
func (p *PostgresStore) Fund(ctx context.Context, id, externalPaymentRef string) (*FundOutcome, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT `+escrowColumns+` FROM escrows WHERE id = $1 FOR UPDATE
	`, id)
	e, err := scanEscrow(row)
	if err != nil {
		return nil, err
	}

	switch e.Status {
	case StatusFunded, StatusReleased, StatusRefunded:
		// Idempotent replay: another handler won the race or the webhook was
		// redelivered. No side effects.
		return &FundOutcome{AlreadyProcessed: true, Escrow: e}, nil
	case StatusPending:
		// fall through to fund
	default:
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, StatusFunded)
	}

	now := time.Now()
	if err := ledger.InsertEntryTx(ctx, tx, &ledger.Entry{
		ID:          idgen.WithPrefix("led_"),
		UserID:      e.PayerUserID,
		JobID:       e.JobID,
		EscrowID:    e.ID,
		Type:        ledger.TypeEscrowFunding,
		Direction:   ledger.Credit,
		Bucket:      ledger.BucketHeld,
		AmountCents: e.AmountCents,
		Currency:    e.Currency,
		ExternalRef: externalPaymentRef,
		CreatedAt:   now,
	}); err != nil {
		return nil, err
	}

	net, err := ledger.JobNetTx(ctx, tx, e.JobID)
	if err != nil {
		return nil, err
	}
	if net < 0 {
		return nil, fmt.Errorf("%w: job %s net %d", ledger.ErrIntegrity, e.JobID, net)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE escrows SET status = $2, external_payment_ref = $3, webhook_processed_at = $4, updated_at = $4
		WHERE id = $1
	`, id, StatusFunded, externalPaymentRef, now); err != nil {
		return nil, fmt.Errorf("failed to mark escrow funded: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	e.Status = StatusFunded
	e.ExternalPaymentRef = externalPaymentRef
	e.WebhookProcessedAt = &now
	e.UpdatedAt = now
	return &FundOutcome{AlreadyProcessed: false, Escrow: e}, nil
}

func (p *PostgresStore) Transition(ctx context.Context, id string, from, to Status) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE escrows SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return false, fmt.Errorf("failed to transition escrow: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEscrow(row rowScanner) (*Escrow, error) {
	e := &Escrow{}
	var processedAt sql.NullTime
	err := row.Scan(&e.ID, &e.JobID, &e.Kind, &e.PayerUserID, &e.AmountCents, &e.Currency,
		&e.Status, &e.ExternalPaymentRef, &processedAt, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if processedAt.Valid {
		e.WebhookProcessedAt = &processedAt.Time
	}
	return e, nil
}
