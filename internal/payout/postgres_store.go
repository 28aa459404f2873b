package payout

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed transfer record store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const transferColumns = `
	job_id, role, user_id, amount_cents, currency, COALESCE(method, ''),
	COALESCE(external_transfer_id, ''), status, COALESCE(failure_reason, ''),
	created_at, updated_at`

func (p *PostgresStore) ListByJob(ctx context.Context, jobID string) ([]*TransferRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+transferColumns+` FROM transfer_records WHERE job_id = $1 ORDER BY role
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*TransferRecord
	for rows.Next() {
		rec := &TransferRecord{}
		if err := rows.Scan(&rec.JobID, &rec.Role, &rec.UserID, &rec.AmountCents,
			&rec.Currency, &rec.Method, &rec.ExternalTransferID, &rec.Status,
			&rec.FailureReason, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Upsert(ctx context.Context, rec *TransferRecord) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO transfer_records (job_id, role, user_id, amount_cents, currency, method, external_transfer_id, status, failure_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, NULLIF($9, ''), NOW(), NOW())
		ON CONFLICT (job_id, role) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			amount_cents = EXCLUDED.amount_cents,
			currency = EXCLUDED.currency,
			method = EXCLUDED.method,
			external_transfer_id = EXCLUDED.external_transfer_id,
			status = EXCLUDED.status,
			failure_reason = EXCLUDED.failure_reason,
			updated_at = NOW()
	`, rec.JobID, rec.Role, rec.UserID, rec.AmountCents, rec.Currency,
		rec.Method, rec.ExternalTransferID, rec.Status, rec.FailureReason)
	if err != nil {
		return fmt.Errorf("failed to upsert transfer record: %w", err)
	}
	return nil
}
