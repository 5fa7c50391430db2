package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/coverbot/internal/domain"
)

// MetadataStore implements domain.MetadataStore as a durable key-value
// table for pipeline bookkeeping.
type MetadataStore struct {
	pool *pgxpool.Pool
}

// NewMetadataStore creates a MetadataStore backed by the given pool.
func NewMetadataStore(pool *pgxpool.Pool) *MetadataStore {
	return &MetadataStore{pool: pool}
}

// Set writes a key, overwriting any previous value.
func (s *MetadataStore) Set(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pipeline_metadata (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("postgres: set metadata %s: %w", key, err)
	}
	return nil
}

// Get reads a key. Returns domain.ErrNotFound for unknown keys.
func (s *MetadataStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM pipeline_metadata WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("postgres: get metadata %s: %w", key, err)
	}
	return value, nil
}

// SetTime writes a timestamp value in RFC 3339 form.
func (s *MetadataStore) SetTime(ctx context.Context, key string, t time.Time) error {
	return s.Set(ctx, key, t.UTC().Format(time.RFC3339Nano))
}

// GetTime reads a timestamp value written by SetTime.
func (s *MetadataStore) GetTime(ctx context.Context, key string) (time.Time, error) {
	value, err := s.Get(ctx, key)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("postgres: parse metadata time %s: %w", key, err)
	}
	return t, nil
}

// Compile-time interface check.
var _ domain.MetadataStore = (*MetadataStore)(nil)
