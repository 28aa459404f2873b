package ledger

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore implements Store with PostgreSQL.
// The ledger_entries table carries a unique index on
// (user_id, type, external_ref) where external_ref is non-empty; that index is
// the database-level idempotency anchor behind Exists/AppendOnce.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Append(ctx context.Context, e *Entry) error {
	return insertEntry(ctx, p.db, e)
}

// InsertEntryTx writes one ledger entry inside an existing transaction.
// Sibling engine stores (escrow funding) use this so the ledger credit and
// the aggregate state change commit or roll back together.
func InsertEntryTx(ctx context.Context, tx *sql.Tx, e *Entry) error {
	return insertEntry(ctx, tx, e)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertEntry(ctx context.Context, db execer, e *Entry) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, user_id, job_id, escrow_id, type, direction, bucket, amount_cents, currency, external_ref, memo, created_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8, $9, NULLIF($10, ''), $11, $12)
		ON CONFLICT DO NOTHING
	`, e.ID, e.UserID, e.JobID, e.EscrowID, e.Type, e.Direction, e.Bucket,
		e.AmountCents, e.Currency, e.ExternalRef, e.Memo, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

func (p *PostgresStore) Exists(ctx context.Context, userID string, typ EntryType, externalRef string) (bool, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM ledger_entries
		WHERE user_id = $1 AND type = $2 AND external_ref = $3
	`, userID, typ, externalRef).Scan(&count)
	return count > 0, err
}

func (p *PostgresStore) SumBucket(ctx context.Context, userID string, bucket Bucket) (int64, error) {
	var sum int64
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE direction WHEN 'CREDIT' THEN amount_cents ELSE -amount_cents END), 0)
		FROM ledger_entries
		WHERE user_id = $1 AND bucket = $2
	`, userID, bucket).Scan(&sum)
	return sum, err
}

func (p *PostgresStore) JobNet(ctx context.Context, jobID string) (int64, error) {
	return jobNet(ctx, p.db, jobID)
}

// JobNetTx computes the running job total inside an existing transaction,
// so integrity checks see uncommitted rows written earlier in the same tx.
func JobNetTx(ctx context.Context, tx *sql.Tx, jobID string) (int64, error) {
	return jobNet(ctx, tx, jobID)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func jobNet(ctx context.Context, db querier, jobID string) (int64, error) {
	var sum int64
	err := db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE direction WHEN 'CREDIT' THEN amount_cents ELSE -amount_cents END), 0)
		FROM ledger_entries
		WHERE job_id = $1
	`, jobID).Scan(&sum)
	return sum, err
}

func (p *PostgresStore) WalletTotals(ctx context.Context, userID string) (*WalletTotals, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT bucket, COALESCE(SUM(CASE direction WHEN 'CREDIT' THEN amount_cents ELSE -amount_cents END), 0)
		FROM ledger_entries
		WHERE user_id = $1
		GROUP BY bucket
	`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	t := &WalletTotals{}
	for rows.Next() {
		var bucket Bucket
		var sum int64
		if err := rows.Scan(&bucket, &sum); err != nil {
			return nil, err
		}
		switch bucket {
		case BucketPending:
			t.Pending = sum
		case BucketAvailable:
			t.Available = sum
		case BucketPaid:
			t.Paid = sum
		case BucketHeld:
			t.Held = sum
		}
	}
	return t, rows.Err()
}

func (p *PostgresStore) History(ctx context.Context, userID string, limit int) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, COALESCE(job_id, ''), COALESCE(escrow_id, ''), type, direction, bucket,
			amount_cents, currency, COALESCE(external_ref, ''), COALESCE(memo, ''), created_at
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(&e.ID, &e.UserID, &e.JobID, &e.EscrowID, &e.Type, &e.Direction, &e.Bucket,
			&e.AmountCents, &e.Currency, &e.ExternalRef, &e.Memo, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
