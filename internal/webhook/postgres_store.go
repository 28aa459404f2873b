package webhook

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed webhook event store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Claim inserts the event row if unseen, then takes the claim with a single
// conditional update: processed_at is set only while it is NULL, so exactly
// one concurrent delivery wins.
func (p *PostgresStore) Claim(ctx context.Context, eventID string, now time.Time) (bool, error) {
	if _, err := p.db.ExecContext(ctx, `
		INSERT INTO webhook_events (id, received_at) VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
	`, eventID, now); err != nil {
		return false, fmt.Errorf("failed to record webhook event: %w", err)
	}

	result, err := p.db.ExecContext(ctx, `
		UPDATE webhook_events SET processed_at = $2
		WHERE id = $1 AND processed_at IS NULL
	`, eventID, now)
	if err != nil {
		return false, fmt.Errorf("failed to claim webhook event: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}
