package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SQLStore persists progress records in the admin_tasks table. Finished
// records older than the retention are deleted when a new record is created.
type SQLStore struct {
	db        *sql.DB
	retention time.Duration
}

// NewSQLStore creates a progress store over db
func NewSQLStore(db *sql.DB, retention time.Duration) *SQLStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &SQLStore{db: db, retention: retention}
}

const progressColumns = `id, name, status, partial, total, message, stop_requested,
		error, created_at, updated_at, finished_at`

// EnsureTable creates the admin_tasks table if missing
func (s *SQLStore) EnsureTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS admin_tasks (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			partial INTEGER NOT NULL DEFAULT 0,
			total INTEGER NOT NULL DEFAULT 0,
			message TEXT NOT NULL DEFAULT '',
			stop_requested BOOLEAN NOT NULL DEFAULT FALSE,
			error TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP
		)
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create admin_tasks: %w", err)
	}
	return nil
}

// Create stores a new progress record
func (s *SQLStore) Create(ctx context.Context, p *Progress) error {
	if err := s.prune(ctx, time.Now().UTC().Add(-s.retention)); err != nil {
		return err
	}

	query := `
		INSERT INTO admin_tasks (
			id, name, status, partial, total, message,
			stop_requested, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.db.ExecContext(ctx, query,
		p.ID.String(), p.Name, p.Status, p.Partial, p.Total, p.Message,
		p.StopRequested, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// prune deletes the records that finished before cutoff
func (s *SQLStore) prune(ctx context.Context, cutoff time.Time) error {
	query := `DELETE FROM admin_tasks WHERE finished_at IS NOT NULL AND finished_at < $1`

	if _, err := s.db.ExecContext(ctx, query, cutoff); err != nil {
		return fmt.Errorf("failed to prune tasks: %w", err)
	}
	return nil
}

// Get returns a progress record
func (s *SQLStore) Get(ctx context.Context, id uuid.UUID) (*Progress, error) {
	query := `SELECT ` + progressColumns + ` FROM admin_tasks WHERE id = $1`

	p, err := scanProgress(s.db.QueryRowContext(ctx, query, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return p, nil
}

// Update writes the progress fields; the stop flag is left untouched
func (s *SQLStore) Update(ctx context.Context, p *Progress) error {
	query := `
		UPDATE admin_tasks
		SET status = $1, partial = $2, total = $3, message = $4,
			error = $5, updated_at = $6, finished_at = $7
		WHERE id = $8
	`

	result, err := s.db.ExecContext(ctx, query,
		p.Status, p.Partial, p.Total, p.Message,
		p.Error, p.UpdatedAt, p.FinishedAt, p.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	return expectRow(result, p.ID)
}

// RequestStop sets the stop flag of a running task
// Status constants are passed as parameters, never interpolated
func (s *SQLStore) RequestStop(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE admin_tasks SET stop_requested = $1 WHERE id = $2 AND status = $3`

	result, err := s.db.ExecContext(ctx, query, true, id.String(), StatusRunning)
	if err != nil {
		return fmt.Errorf("failed to request stop: %w", err)
	}
	if err := expectRow(result, id); err != nil {
		// a finished task is not an error
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return getErr
		}
	}
	return nil
}

// List returns the most recent records first
func (s *SQLStore) List(ctx context.Context, limit int) ([]*Progress, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + progressColumns + ` FROM admin_tasks ORDER BY created_at DESC LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var out []*Progress
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProgress(row rowScanner) (*Progress, error) {
	var (
		p        Progress
		id       string
		errMsg   sql.NullString
		finished sql.NullTime
	)
	err := row.Scan(
		&id, &p.Name, &p.Status, &p.Partial, &p.Total, &p.Message, &p.StopRequested,
		&errMsg, &p.CreatedAt, &p.UpdatedAt, &finished,
	)
	if err != nil {
		return nil, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid task id %q: %w", id, err)
	}
	p.ID = parsed
	if errMsg.Valid {
		p.Error = &errMsg.String
	}
	if finished.Valid {
		t := finished.Time
		p.FinishedAt = &t
	}
	return &p, nil
}

func expectRow(result sql.Result, id uuid.UUID) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return nil
}

// compile-time checks
var (
	_ ProgressStore = (*MemoryStore)(nil)
	_ ProgressStore = (*SQLStore)(nil)
	_ ProgressStore = (*RedisStore)(nil)
)
