package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/coverbot/internal/domain"
)

// GroupStore implements domain.GroupStore using PostgreSQL. Groups are
// replaced wholesale whenever the grouping step reruns.
type GroupStore struct {
	pool *pgxpool.Pool
}

// NewGroupStore creates a GroupStore backed by the given pool.
func NewGroupStore(pool *pgxpool.Pool) *GroupStore {
	return &GroupStore{pool: pool}
}

// ReplaceAll swaps every group row inside one transaction. Member
// markets are persisted separately through the market store.
func (s *GroupStore) ReplaceAll(ctx context.Context, groups []domain.Group) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin replace groups: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM groups`); err != nil {
		return fmt.Errorf("postgres: clear groups: %w", err)
	}

	const query = `
		INSERT INTO groups (id, title, partition, normalized_text, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())`

	batch := &pgx.Batch{}
	for _, g := range groups {
		batch.Queue(query, g.ID, g.Title, g.Partition, g.NormalizedText, g.CreatedAt)
	}
	br := tx.SendBatch(ctx, batch)
	for i := range groups {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("postgres: insert group %d: %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("postgres: close group batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit replace groups: %w", err)
	}
	return nil
}

const groupCols = `id, title, partition, normalized_text, created_at, updated_at`

// GetByID retrieves one group with its member markets.
func (s *GroupStore) GetByID(ctx context.Context, id string) (domain.Group, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+groupCols+` FROM groups WHERE id = $1`, id)

	var g domain.Group
	err := row.Scan(&g.ID, &g.Title, &g.Partition, &g.NormalizedText, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Group{}, domain.ErrNotFound
		}
		return domain.Group{}, fmt.Errorf("postgres: get group %s: %w", id, err)
	}

	g.Markets, err = marketsForGroups(ctx, s.pool, []string{id})
	if err != nil {
		return domain.Group{}, fmt.Errorf("postgres: get group %s markets: %w", id, err)
	}
	return g, nil
}

// List returns every group, each with its member markets attached.
func (s *GroupStore) List(ctx context.Context) ([]domain.Group, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+groupCols+` FROM groups ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list groups: %w", err)
	}
	defer rows.Close()

	var groups []domain.Group
	var ids []string
	for rows.Next() {
		var g domain.Group
		if err := rows.Scan(&g.ID, &g.Title, &g.Partition, &g.NormalizedText, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan group: %w", err)
		}
		groups = append(groups, g)
		ids = append(ids, g.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list groups rows: %w", err)
	}
	if len(groups) == 0 {
		return groups, nil
	}

	markets, err := marketsForGroups(ctx, s.pool, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres: list group markets: %w", err)
	}
	byGroup := make(map[string][]domain.Market, len(groups))
	for _, m := range markets {
		byGroup[m.GroupID] = append(byGroup[m.GroupID], m)
	}
	for i := range groups {
		groups[i].Markets = byGroup[groups[i].ID]
	}
	return groups, nil
}

// Count returns the number of groups.
func (s *GroupStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM groups`).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count groups: %w", err)
	}
	return count, nil
}

// marketsForGroups loads the markets belonging to the given group ids.
func marketsForGroups(ctx context.Context, pool *pgxpool.Pool, groupIDs []string) ([]domain.Market, error) {
	rows, err := pool.Query(ctx,
		`SELECT `+marketCols+` FROM markets WHERE group_id = ANY($1) ORDER BY id`, groupIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMarkets(rows)
}

// Compile-time interface check.
var _ domain.GroupStore = (*GroupStore)(nil)
