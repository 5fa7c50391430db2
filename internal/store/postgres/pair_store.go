package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/coverbot/internal/domain"
)

// ValidatedPairStore implements domain.ValidatedPairStore using
// PostgreSQL. Insert-only, same caching discipline as implications.
type ValidatedPairStore struct {
	pool *pgxpool.Pool
}

// NewValidatedPairStore creates a ValidatedPairStore backed by the given pool.
func NewValidatedPairStore(pool *pgxpool.Pool) *ValidatedPairStore {
	return &ValidatedPairStore{pool: pool}
}

const pairCols = `pair_id, target_market_id, target_position,
	cover_market_id, cover_position, cover_probability,
	viability_score, is_valid, reason, created_at`

// Insert stores a judged pair. An existing row for the same pair id is
// left untouched.
func (s *ValidatedPairStore) Insert(ctx context.Context, pair domain.ValidatedPair) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO validated_pairs (
			pair_id, target_market_id, target_position,
			cover_market_id, cover_position, cover_probability,
			viability_score, is_valid, reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (pair_id) DO NOTHING`,
		pair.PairID, pair.TargetMarketID, string(pair.TargetPosition),
		pair.CoverMarketID, string(pair.CoverPosition), pair.CoverProbability,
		pair.ViabilityScore, pair.IsValid, pair.Reason, pair.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert validated pair %s: %w", pair.PairID, err)
	}
	return nil
}

func scanPair(row pgx.Row) (domain.ValidatedPair, error) {
	var p domain.ValidatedPair
	var targetPos, coverPos string
	err := row.Scan(
		&p.PairID, &p.TargetMarketID, &targetPos,
		&p.CoverMarketID, &coverPos, &p.CoverProbability,
		&p.ViabilityScore, &p.IsValid, &p.Reason, &p.CreatedAt,
	)
	if err != nil {
		return domain.ValidatedPair{}, err
	}
	p.TargetPosition = domain.Position(targetPos)
	p.CoverPosition = domain.Position(coverPos)
	return p, nil
}

// GetByID retrieves one judged pair.
func (s *ValidatedPairStore) GetByID(ctx context.Context, pairID string) (domain.ValidatedPair, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pairCols+` FROM validated_pairs WHERE pair_id = $1`, pairID)
	p, err := scanPair(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ValidatedPair{}, domain.ErrNotFound
		}
		return domain.ValidatedPair{}, fmt.Errorf("postgres: get validated pair %s: %w", pairID, err)
	}
	return p, nil
}

// ListViable returns pairs meeting the minimum viability score whose
// valid flag is true or was never set.
func (s *ValidatedPairStore) ListViable(ctx context.Context, minScore float64) ([]domain.ValidatedPair, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+pairCols+` FROM validated_pairs
		WHERE viability_score >= $1 AND (is_valid IS NULL OR is_valid)
		ORDER BY viability_score DESC`, minScore)
	if err != nil {
		return nil, fmt.Errorf("postgres: list viable pairs: %w", err)
	}
	defer rows.Close()

	var pairs []domain.ValidatedPair
	for rows.Next() {
		p, err := scanPair(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan viable pair: %w", err)
		}
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list viable pairs rows: %w", err)
	}
	return pairs, nil
}

// ListIDs returns every judged pair id.
func (s *ValidatedPairStore) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT pair_id FROM validated_pairs ORDER BY pair_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pair ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan pair id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list pair ids rows: %w", err)
	}
	return ids, nil
}

// Count returns the number of judged pairs.
func (s *ValidatedPairStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM validated_pairs`).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count validated pairs: %w", err)
	}
	return count, nil
}

// Compile-time interface check.
var _ domain.ValidatedPairStore = (*ValidatedPairStore)(nil)
