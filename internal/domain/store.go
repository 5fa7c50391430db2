package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// GroupStore persists market groups. Groups are replaced wholesale on
// reprocessing.
type GroupStore interface {
	ReplaceAll(ctx context.Context, groups []Group) error
	GetByID(ctx context.Context, id string) (Group, error)
	List(ctx context.Context) ([]Group, error)
	Count(ctx context.Context) (int64, error)
}

// MarketStore persists market rows and their live prices.
type MarketStore interface {
	UpsertBatch(ctx context.Context, markets []Market) error
	UpdatePrices(ctx context.Context, id string, yesPrice, noPrice float64) error
	GetByID(ctx context.Context, id string) (Market, error)
	ListByGroup(ctx context.Context, groupID string) ([]Market, error)
	List(ctx context.Context, opts ListOpts) ([]Market, error)
	Count(ctx context.Context) (int64, error)
}

// ImplicationStore is an insert-only cache of relationship judgments
// keyed by group id.
type ImplicationStore interface {
	Insert(ctx context.Context, imp Implication) error
	GetByGroup(ctx context.Context, groupID string) (Implication, error)
	ListGroupIDs(ctx context.Context) ([]string, error)
	Count(ctx context.Context) (int64, error)
}

// ValidatedPairStore is an insert-only cache of judged hedge
// candidates keyed by pair id. ListViable filters to pairs meeting the
// minimum viability score whose valid flag is true or unset.
type ValidatedPairStore interface {
	Insert(ctx context.Context, pair ValidatedPair) error
	GetByID(ctx context.Context, pairID string) (ValidatedPair, error)
	ListViable(ctx context.Context, minScore float64) ([]ValidatedPair, error)
	ListIDs(ctx context.Context) ([]string, error)
	Count(ctx context.Context) (int64, error)
}

// PortfolioStore persists the latest recomputed portfolio list.
// ReplaceAll swaps the whole table atomically and reports how many
// input records were dropped as pair-id duplicates.
type PortfolioStore interface {
	ReplaceAll(ctx context.Context, portfolios []Portfolio) (deduped int, err error)
	List(ctx context.Context, maxTier int, profitableOnly bool, opts ListOpts) ([]Portfolio, error)
	Count(ctx context.Context) (int64, error)
}

// RunStore persists pipeline run lifecycle.
type RunStore interface {
	Create(ctx context.Context, run Run) error
	Complete(ctx context.Context, id string, status RunStatus, errMsg string) error
	SetStep(ctx context.Context, id string, step string) error
	GetByID(ctx context.Context, id string) (Run, error)
	ListRunning(ctx context.Context) ([]Run, error)
	ListRecent(ctx context.Context, limit int) ([]Run, error)
}

// MetadataStore is a small durable key-value store for pipeline
// bookkeeping (watermarks, last-run info).
type MetadataStore interface {
	Set(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, error)
	SetTime(ctx context.Context, key string, t time.Time) error
	GetTime(ctx context.Context, key string) (time.Time, error)
}
