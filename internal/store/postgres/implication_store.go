package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/coverbot/internal/domain"
)

// ImplicationStore implements domain.ImplicationStore using PostgreSQL.
// Rows are insert-only: a judgment cached for a group id is reused by
// every later run, never overwritten.
type ImplicationStore struct {
	pool *pgxpool.Pool
}

// NewImplicationStore creates an ImplicationStore backed by the given pool.
func NewImplicationStore(pool *pgxpool.Pool) *ImplicationStore {
	return &ImplicationStore{pool: pool}
}

// coveredByJSON is the JSONB shape of one covering-group entry.
type coveredByJSON struct {
	GroupID     string  `json:"group_id"`
	Probability float64 `json:"probability"`
	Kind        string  `json:"kind,omitempty"`
}

func encodeCoveredBy(entries []domain.CoveredBy) ([]byte, error) {
	out := make([]coveredByJSON, len(entries))
	for i, e := range entries {
		out[i] = coveredByJSON(e)
	}
	return json.Marshal(out)
}

func decodeCoveredBy(data []byte) ([]domain.CoveredBy, error) {
	var raw []coveredByJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make([]domain.CoveredBy, len(raw))
	for i, e := range raw {
		out[i] = domain.CoveredBy(e)
	}
	return out, nil
}

// Insert stores a judgment. An existing row for the same group id is
// left untouched.
func (s *ImplicationStore) Insert(ctx context.Context, imp domain.Implication) error {
	yes, err := encodeCoveredBy(imp.YesCoveredBy)
	if err != nil {
		return fmt.Errorf("postgres: encode yes_covered_by %s: %w", imp.GroupID, err)
	}
	no, err := encodeCoveredBy(imp.NoCoveredBy)
	if err != nil {
		return fmt.Errorf("postgres: encode no_covered_by %s: %w", imp.GroupID, err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO implications (group_id, yes_covered_by, no_covered_by, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (group_id) DO NOTHING`,
		imp.GroupID, yes, no, imp.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert implication %s: %w", imp.GroupID, err)
	}
	return nil
}

// GetByGroup retrieves the cached judgment for one group.
func (s *ImplicationStore) GetByGroup(ctx context.Context, groupID string) (domain.Implication, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT group_id, yes_covered_by, no_covered_by, created_at
		FROM implications WHERE group_id = $1`, groupID)

	var imp domain.Implication
	var yes, no []byte
	if err := row.Scan(&imp.GroupID, &yes, &no, &imp.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Implication{}, domain.ErrNotFound
		}
		return domain.Implication{}, fmt.Errorf("postgres: get implication %s: %w", groupID, err)
	}

	var err error
	if imp.YesCoveredBy, err = decodeCoveredBy(yes); err != nil {
		return domain.Implication{}, fmt.Errorf("postgres: decode yes_covered_by %s: %w", groupID, err)
	}
	if imp.NoCoveredBy, err = decodeCoveredBy(no); err != nil {
		return domain.Implication{}, fmt.Errorf("postgres: decode no_covered_by %s: %w", groupID, err)
	}
	return imp, nil
}

// ListGroupIDs returns the group ids that already have a judgment.
func (s *ImplicationStore) ListGroupIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT group_id FROM implications ORDER BY group_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list implication group ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan implication group id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list implication group ids rows: %w", err)
	}
	return ids, nil
}

// Count returns the number of cached judgments.
func (s *ImplicationStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM implications`).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count implications: %w", err)
	}
	return count, nil
}

// Compile-time interface check.
var _ domain.ImplicationStore = (*ImplicationStore)(nil)
