package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/coverbot/internal/domain"
)

// RunStore implements domain.RunStore using PostgreSQL.
type RunStore struct {
	pool *pgxpool.Pool
}

// NewRunStore creates a RunStore backed by the given pool.
func NewRunStore(pool *pgxpool.Pool) *RunStore {
	return &RunStore{pool: pool}
}

const runCols = `id, status, step, error, started_at, completed_at`

// Create inserts a new run row.
func (s *RunStore) Create(ctx context.Context, run domain.Run) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pipeline_runs (id, status, step, error, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, string(run.Status), run.Step, run.Error, run.StartedAt, run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create run %s: %w", run.ID, err)
	}
	return nil
}

// Complete transitions a run to a terminal status.
func (s *RunStore) Complete(ctx context.Context, id string, status domain.RunStatus, errMsg string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE pipeline_runs
		SET status = $2, error = $3, completed_at = NOW()
		WHERE id = $1`,
		id, string(status), errMsg,
	)
	if err != nil {
		return fmt.Errorf("postgres: complete run %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetStep records the step a run has reached.
func (s *RunStore) SetStep(ctx context.Context, id string, step string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pipeline_runs SET step = $2 WHERE id = $1`, id, step)
	if err != nil {
		return fmt.Errorf("postgres: set run step %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanRun(row pgx.Row) (domain.Run, error) {
	var r domain.Run
	var status string
	err := row.Scan(&r.ID, &status, &r.Step, &r.Error, &r.StartedAt, &r.CompletedAt)
	if err != nil {
		return domain.Run{}, err
	}
	r.Status = domain.RunStatus(status)
	return r, nil
}

// GetByID retrieves one run.
func (s *RunStore) GetByID(ctx context.Context, id string) (domain.Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runCols+` FROM pipeline_runs WHERE id = $1`, id)
	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Run{}, domain.ErrNotFound
		}
		return domain.Run{}, fmt.Errorf("postgres: get run %s: %w", id, err)
	}
	return r, nil
}

// ListRunning returns runs still marked running, oldest first.
func (s *RunStore) ListRunning(ctx context.Context) ([]domain.Run, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+runCols+` FROM pipeline_runs
		WHERE status = 'running' ORDER BY started_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list running runs: %w", err)
	}
	defer rows.Close()
	return drainRuns(rows)
}

// ListRecent returns the newest runs up to limit.
func (s *RunStore) ListRecent(ctx context.Context, limit int) ([]domain.Run, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+runCols+` FROM pipeline_runs
		ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent runs: %w", err)
	}
	defer rows.Close()
	return drainRuns(rows)
}

func drainRuns(rows pgx.Rows) ([]domain.Run, error) {
	var runs []domain.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: run rows: %w", err)
	}
	return runs, nil
}

// Compile-time interface check.
var _ domain.RunStore = (*RunStore)(nil)
