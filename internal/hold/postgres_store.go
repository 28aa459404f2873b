package hold

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

// NewPostgresStore creates a new PostgreSQL-backed hold store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const holdColumns = `
	id, job_id, reason, status, created_by, COALESCE(released_by, ''),
	released_at, COALESCE(note, ''), created_at`

func (p *PostgresStore) Create(ctx context.Context, h *JobHold) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO job_holds (id, job_id, reason, status, created_by, note, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
	`, h.ID, h.JobID, h.Reason, h.Status, h.CreatedBy, h.Note, h.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create hold: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*JobHold, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+holdColumns+` FROM job_holds WHERE id = $1`, id)
	return scanHold(row)
}

func (p *PostgresStore) ListByJob(ctx context.Context, jobID string) ([]*JobHold, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+holdColumns+` FROM job_holds WHERE job_id = $1 ORDER BY created_at DESC
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*JobHold
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Release(ctx context.Context, id, actorID, note string, at time.Time) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE job_holds
		SET status = $2, released_by = $3, released_at = $4, note = COALESCE(NULLIF($5, ''), note)
		WHERE id = $1 AND status = $6
	`, id, StatusReleased, actorID, at, note, StatusActive)
	if err != nil {
		return false, fmt.Errorf("failed to release hold: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		// Distinguish missing from already-released.
		if _, err := p.Get(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (p *PostgresStore) HasActive(ctx context.Context, jobID string, reason Reason) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM job_holds WHERE job_id = $1 AND reason = $2 AND status = $3
		)
	`, jobID, reason, StatusActive).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHold(row rowScanner) (*JobHold, error) {
	h := &JobHold{}
	var releasedAt sql.NullTime
	err := row.Scan(&h.ID, &h.JobID, &h.Reason, &h.Status, &h.CreatedBy, &h.ReleasedBy,
		&releasedAt, &h.Note, &h.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if releasedAt.Valid {
		h.ReleasedAt = &releasedAt.Time
	}
	return h, nil
}
