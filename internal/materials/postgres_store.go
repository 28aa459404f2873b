package materials

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed materials store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const requestColumns = `
	id, job_id, payer_user_id, contractor_user_id, status,
	COALESCE(escrow_id, ''), receipt_total_cents, refund_flagged, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, r *Request) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO materials_requests (id, job_id, payer_user_id, contractor_user_id, status, escrow_id, refund_flagged, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9)
	`, r.ID, r.JobID, r.PayerUserID, r.ContractorUserID, r.Status, r.EscrowID,
		r.RefundFlagged, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create materials request: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Request, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM materials_requests WHERE id = $1`, id)
	return scanRequest(row)
}

func (p *PostgresStore) GetByJob(ctx context.Context, jobID string) (*Request, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+requestColumns+` FROM materials_requests WHERE job_id = $1
	`, jobID)
	return scanRequest(row)
}

func (p *PostgresStore) SetReceiptTotal(ctx context.Context, id string, totalCents int64) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE materials_requests
		SET receipt_total_cents = $2, status = $3, updated_at = NOW()
		WHERE id = $1
	`, id, totalCents, StatusReceiptsSubmitted)
	if err != nil {
		return fmt.Errorf("failed to set receipt total: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) UpdateStatus(ctx context.Context, id string, from, to Status) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE materials_requests SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return false, fmt.Errorf("failed to update materials status: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (p *PostgresStore) SetRefundFlagged(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE materials_requests SET refund_flagged = TRUE, updated_at = NOW() WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to flag refund: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*Request, error) {
	r := &Request{}
	var receiptTotal sql.NullInt64
	err := row.Scan(&r.ID, &r.JobID, &r.PayerUserID, &r.ContractorUserID, &r.Status,
		&r.EscrowID, &receiptTotal, &r.RefundFlagged, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if receiptTotal.Valid {
		r.ReceiptTotalCents = &receiptTotal.Int64
	}
	return r, nil
}
