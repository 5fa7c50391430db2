package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/coverbot/internal/domain"
)

// PortfolioStore implements domain.PortfolioStore using PostgreSQL.
// The table mirrors the latest pipeline output and is replaced as a
// whole on every run.
type PortfolioStore struct {
	pool *pgxpool.Pool
}

// NewPortfolioStore creates a PortfolioStore backed by the given pool.
func NewPortfolioStore(pool *pgxpool.Pool) *PortfolioStore {
	return &PortfolioStore{pool: pool}
}

const portfolioCols = `pair_id, target_market_id, target_position, target_price,
	cover_market_id, cover_position, cover_price, cover_probability,
	total_cost, profit, coverage, expected_profit, loss_probability,
	tier, tier_label, updated_at`

// ReplaceAll swaps the entire table inside one transaction. Input
// records sharing a pair id are collapsed to the first occurrence; the
// number of dropped duplicates is returned.
func (s *PortfolioStore) ReplaceAll(ctx context.Context, portfolios []domain.Portfolio) (int, error) {
	unique := make([]domain.Portfolio, 0, len(portfolios))
	seen := make(map[string]struct{}, len(portfolios))
	for _, p := range portfolios {
		if _, ok := seen[p.PairID]; ok {
			continue
		}
		seen[p.PairID] = struct{}{}
		unique = append(unique, p)
	}
	deduped := len(portfolios) - len(unique)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: begin replace portfolios: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM portfolios`); err != nil {
		return 0, fmt.Errorf("postgres: clear portfolios: %w", err)
	}

	const query = `
		INSERT INTO portfolios (
			pair_id, target_market_id, target_position, target_price,
			cover_market_id, cover_position, cover_price, cover_probability,
			total_cost, profit, coverage, expected_profit, loss_probability,
			tier, tier_label, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW())`

	batch := &pgx.Batch{}
	for _, p := range unique {
		batch.Queue(query,
			p.PairID, p.TargetMarketID, string(p.TargetPosition), p.TargetPrice,
			p.CoverMarketID, string(p.CoverPosition), p.CoverPrice, p.CoverProbability,
			p.TotalCost, p.Profit, p.Coverage, p.ExpectedProfit, p.LossProbability,
			p.Tier, p.TierLabel,
		)
	}
	br := tx.SendBatch(ctx, batch)
	for i := range unique {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return 0, fmt.Errorf("postgres: insert portfolio %d: %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("postgres: close portfolio batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: commit replace portfolios: %w", err)
	}
	return deduped, nil
}

// List returns portfolios ordered best-first. A maxTier of 4 or more
// disables tier filtering.
func (s *PortfolioStore) List(ctx context.Context, maxTier int, profitableOnly bool, opts domain.ListOpts) ([]domain.Portfolio, error) {
	query := `SELECT ` + portfolioCols + ` FROM portfolios`
	args := []any{}
	argIdx := 1
	where := ""

	and := func(cond string) {
		if where == "" {
			where = " WHERE " + cond
		} else {
			where += " AND " + cond
		}
	}
	if maxTier >= 1 && maxTier < 4 {
		and(fmt.Sprintf("tier <= $%d", argIdx))
		args = append(args, maxTier)
		argIdx++
	}
	if profitableOnly {
		and("expected_profit > 0.001")
	}
	query += where + " ORDER BY tier ASC, coverage DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list portfolios: %w", err)
	}
	defer rows.Close()

	var portfolios []domain.Portfolio
	for rows.Next() {
		p, err := scanPortfolio(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan portfolio: %w", err)
		}
		portfolios = append(portfolios, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list portfolios rows: %w", err)
	}
	return portfolios, nil
}

func scanPortfolio(row pgx.Row) (domain.Portfolio, error) {
	var p domain.Portfolio
	var targetPos, coverPos string
	err := row.Scan(
		&p.PairID, &p.TargetMarketID, &targetPos, &p.TargetPrice,
		&p.CoverMarketID, &coverPos, &p.CoverPrice, &p.CoverProbability,
		&p.TotalCost, &p.Profit, &p.Coverage, &p.ExpectedProfit, &p.LossProbability,
		&p.Tier, &p.TierLabel, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Portfolio{}, domain.ErrNotFound
		}
		return domain.Portfolio{}, err
	}
	p.TargetPosition = domain.Position(targetPos)
	p.CoverPosition = domain.Position(coverPos)
	return p, nil
}

// Count returns the number of stored portfolios.
func (s *PortfolioStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM portfolios`).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count portfolios: %w", err)
	}
	return count, nil
}

// Compile-time interface check.
var _ domain.PortfolioStore = (*PortfolioStore)(nil)
