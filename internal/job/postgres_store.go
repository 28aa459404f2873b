package job

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed job store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const jobColumns = `
	id, status, archived, mock, COALESCE(contractor_user_id, ''),
	COALESCE(router_user_id, ''), completed_at, approved_at, created_at, updated_at`

func (p *PostgresStore) Get(ctx context.Context, id string) (*Job, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	j := &Job{}
	var completedAt, approvedAt sql.NullTime
	err := row.Scan(&j.ID, &j.Status, &j.Archived, &j.Mock, &j.ContractorUserID,
		&j.RouterUserID, &completedAt, &approvedAt, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		j.CompletedAt = &completedAt.Time
	}
	if approvedAt.Valid {
		j.ApprovedAt = &approvedAt.Time
	}
	return j, nil
}

func (p *PostgresStore) Put(ctx context.Context, j *Job) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO jobs (id, status, archived, mock, contractor_user_id, router_user_id, completed_at, approved_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			archived = EXCLUDED.archived,
			mock = EXCLUDED.mock,
			contractor_user_id = EXCLUDED.contractor_user_id,
			router_user_id = EXCLUDED.router_user_id,
			completed_at = EXCLUDED.completed_at,
			approved_at = EXCLUDED.approved_at,
			updated_at = EXCLUDED.updated_at
	`, j.ID, j.Status, j.Archived, j.Mock, j.ContractorUserID, j.RouterUserID,
		j.CompletedAt, j.ApprovedAt, j.CreatedAt, j.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert job: %w", err)
	}
	return nil
}

const paymentColumns = `
	job_id, payer_user_id, status, payout_status, refund_initiated,
	amount_cents, currency, COALESCE(intent_ref, ''), updated_at`

func (p *PostgresStore) Payment(ctx context.Context, jobID string) (*PaymentRecord, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+paymentColumns+` FROM payment_records WHERE job_id = $1
	`, jobID)
	return scanPayment(row)
}

func (p *PostgresStore) PaymentByIntent(ctx context.Context, intentRef string) (*PaymentRecord, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+paymentColumns+` FROM payment_records WHERE intent_ref = $1
	`, intentRef)
	return scanPayment(row)
}

func (p *PostgresStore) PutPayment(ctx context.Context, rec *PaymentRecord) error {
	if rec.PayoutStatus == "" {
		rec.PayoutStatus = PayoutNone
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO payment_records (job_id, payer_user_id, status, payout_status, refund_initiated, amount_cents, currency, intent_ref, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NOW())
		ON CONFLICT (job_id) DO UPDATE SET
			payer_user_id = EXCLUDED.payer_user_id,
			status = EXCLUDED.status,
			payout_status = EXCLUDED.payout_status,
			refund_initiated = EXCLUDED.refund_initiated,
			amount_cents = EXCLUDED.amount_cents,
			currency = EXCLUDED.currency,
			intent_ref = EXCLUDED.intent_ref,
			updated_at = NOW()
	`, rec.JobID, rec.PayerUserID, rec.Status, rec.PayoutStatus, rec.RefundInitiated,
		rec.AmountCents, rec.Currency, rec.IntentRef)
	if err != nil {
		return fmt.Errorf("failed to upsert payment record: %w", err)
	}
	return nil
}

func (p *PostgresStore) SetPayoutStatus(ctx context.Context, jobID string, to PayoutStatus) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE payment_records SET payout_status = $2, updated_at = NOW() WHERE job_id = $1
	`, jobID, to)
	if err != nil {
		return fmt.Errorf("failed to set payout status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (p *PostgresStore) MarkRefunded(ctx context.Context, intentRef string) (*PaymentRecord, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE payment_records
		SET status = $2, refund_initiated = TRUE, updated_at = NOW()
		WHERE intent_ref = $1
		RETURNING `+paymentColumns+`
	`, intentRef, PaymentRefunded)
	return scanPayment(row)
}

func (p *PostgresStore) PayoutAccount(ctx context.Context, userID string) (*PayoutAccount, error) {
	a := &PayoutAccount{}
	err := p.db.QueryRowContext(ctx, `
		SELECT user_id, rail_account_id, method FROM payout_accounts WHERE user_id = $1
	`, userID).Scan(&a.UserID, &a.RailAccountID, &a.Method)
	if err == sql.ErrNoRows {
		return nil, ErrNoPayoutAccount
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (p *PostgresStore) PutPayoutAccount(ctx context.Context, a *PayoutAccount) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO payout_accounts (user_id, rail_account_id, method)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			rail_account_id = EXCLUDED.rail_account_id,
			method = EXCLUDED.method
	`, a.UserID, a.RailAccountID, a.Method)
	if err != nil {
		return fmt.Errorf("failed to upsert payout account: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*PaymentRecord, error) {
	rec := &PaymentRecord{}
	err := row.Scan(&rec.JobID, &rec.PayerUserID, &rec.Status, &rec.PayoutStatus,
		&rec.RefundInitiated, &rec.AmountCents, &rec.Currency, &rec.IntentRef, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}
