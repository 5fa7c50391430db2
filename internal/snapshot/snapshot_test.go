package snapshot

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/coverbot/internal/domain"
)

func TestWriteLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portfolios.json")

	records := []PortfolioRecord{
		{
			PairID:         "abc123",
			TargetMarketID: "m1",
			TargetPosition: "YES",
			TargetPrice:    0.40,
			CoverMarketID:  "m2",
			CoverPosition:  "NO",
			CoverPrice:     0.10,
			TotalCost:      0.50,
			Coverage:       0.97,
			Tier:           1,
			TierLabel:      "HIGH_COVERAGE",
		},
	}
	require.NoError(t, WritePortfolios(path, records, "run-1"))

	f, err := LoadPortfolios(path)
	require.NoError(t, err)
	assert.Equal(t, "run-1", f.Meta.RunID)
	assert.Equal(t, 1, f.Meta.Count)
	require.Len(t, f.Portfolios, 1)
	assert.Equal(t, records[0], f.Portfolios[0])
}

func TestLoadPortfoliosMissing(t *testing.T) {
	_, err := LoadPortfolios(filepath.Join(t.TempDir(), "absent.json"))
	assert.True(t, errors.Is(err, domain.ErrSnapshotMissing))
}

func TestLoadPortfoliosBareArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bare.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"pair_id":"p1","tier":2}]`), 0o644))

	f, err := LoadPortfolios(path)
	require.NoError(t, err)
	require.Len(t, f.Portfolios, 1)
	assert.Equal(t, "p1", f.Portfolios[0].PairID)
	assert.Equal(t, 2, f.Portfolios[0].Tier)
	assert.Equal(t, 1, f.Meta.Count)
}

func TestRecordDomainConversion(t *testing.T) {
	p := domain.Portfolio{
		PairID:           "p9",
		TargetMarketID:   "m1",
		TargetPosition:   domain.PositionYes,
		TargetPrice:      0.4,
		CoverMarketID:    "m2",
		CoverPosition:    domain.PositionNo,
		CoverPrice:       0.1,
		CoverProbability: 0.95,
		TotalCost:        0.5,
		Profit:           0.5,
		Coverage:         0.97,
		ExpectedProfit:   0.47,
		Tier:             1,
		TierLabel:        "HIGH_COVERAGE",
	}
	assert.Equal(t, p, FromDomain(p).ToDomain())
}

func TestModTime(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "portfolios.json")

	_, ok := ModTime(path)
	assert.False(t, ok)

	require.NoError(t, WritePortfolios(path, nil, ""))
	mtime, ok := ModTime(path)
	assert.True(t, ok)
	assert.False(t, mtime.IsZero())
}

func TestWriteIsAtomicReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "portfolios.json")
	require.NoError(t, WritePortfolios(path, []PortfolioRecord{{PairID: "old"}}, ""))
	require.NoError(t, WritePortfolios(path, []PortfolioRecord{{PairID: "new"}}, ""))

	f, err := LoadPortfolios(path)
	require.NoError(t, err)
	require.Len(t, f.Portfolios, 1)
	assert.Equal(t, "new", f.Portfolios[0].PairID)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files should not be left behind")
}
