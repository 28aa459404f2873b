package reward

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed reward store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const rewardColumns = `
	id, router_user_id, referred_user_id, job_id, amount_cents, currency,
	status, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, r *RouterReward) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO router_rewards (id, router_user_id, referred_user_id, job_id, amount_cents, currency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, r.ID, r.RouterUserID, r.ReferredUserID, r.JobID, r.AmountCents, r.Currency,
		r.Status, r.CreatedAt, r.UpdatedAt)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return ErrDuplicateReferral
	}
	if err != nil {
		return fmt.Errorf("failed to create reward: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*RouterReward, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+rewardColumns+` FROM router_rewards WHERE id = $1`, id)
	return scanReward(row)
}

func (p *PostgresStore) ListPending(ctx context.Context, limit int) ([]*RouterReward, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+rewardColumns+` FROM router_rewards
		WHERE status = $1 ORDER BY created_at ASC LIMIT $2
	`, StatusPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*RouterReward
	for rows.Next() {
		r, err := scanReward(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) MarkPaid(ctx context.Context, id string) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE router_rewards SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, id, StatusPaid, StatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to mark reward paid: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReward(row rowScanner) (*RouterReward, error) {
	r := &RouterReward{}
	err := row.Scan(&r.ID, &r.RouterUserID, &r.ReferredUserID, &r.JobID,
		&r.AmountCents, &r.Currency, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}
