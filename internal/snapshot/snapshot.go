// Package snapshot reads and writes the JSON files exchanged between the
// batch pipeline and the live services: the portfolio snapshot consumed by
// the portfolio cache and token resolver, and the seed file used to
// bootstrap a fresh store. Writes go through a temp file and rename so
// concurrent readers never observe a half-written snapshot.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/alanyoungcy/coverbot/internal/domain"
)

// Meta is the snapshot envelope header.
type Meta struct {
	GeneratedAt time.Time `json:"generated_at"`
	RunID       string    `json:"run_id,omitempty"`
	Count       int       `json:"count"`
}

// PortfolioFile is the persisted portfolio snapshot.
type PortfolioFile struct {
	Meta       Meta              `json:"_meta"`
	Portfolios []PortfolioRecord `json:"portfolios"`
}

// PortfolioRecord is the wire shape of one portfolio row.
type PortfolioRecord struct {
	PairID           string  `json:"pair_id"`
	TargetMarketID   string  `json:"target_market_id"`
	TargetPosition   string  `json:"target_position"`
	TargetPrice      float64 `json:"target_price"`
	CoverMarketID    string  `json:"cover_market_id"`
	CoverPosition    string  `json:"cover_position"`
	CoverPrice       float64 `json:"cover_price"`
	CoverProbability float64 `json:"cover_probability"`
	TotalCost        float64 `json:"total_cost"`
	Profit           float64 `json:"profit"`
	Coverage         float64 `json:"coverage"`
	ExpectedProfit   float64 `json:"expected_profit"`
	LossProbability  float64 `json:"loss_probability"`
	Tier             int     `json:"tier"`
	TierLabel        string  `json:"tier_label"`
}

// ToDomain converts a snapshot record to a domain portfolio.
func (r PortfolioRecord) ToDomain() domain.Portfolio {
	return domain.Portfolio{
		PairID:           r.PairID,
		TargetMarketID:   r.TargetMarketID,
		TargetPosition:   domain.Position(r.TargetPosition),
		TargetPrice:      r.TargetPrice,
		CoverMarketID:    r.CoverMarketID,
		CoverPosition:    domain.Position(r.CoverPosition),
		CoverPrice:       r.CoverPrice,
		CoverProbability: r.CoverProbability,
		TotalCost:        r.TotalCost,
		Profit:           r.Profit,
		Coverage:         r.Coverage,
		ExpectedProfit:   r.ExpectedProfit,
		LossProbability:  r.LossProbability,
		Tier:             r.Tier,
		TierLabel:        r.TierLabel,
	}
}

// FromDomain converts a domain portfolio to its snapshot record.
func FromDomain(p domain.Portfolio) PortfolioRecord {
	return PortfolioRecord{
		PairID:           p.PairID,
		TargetMarketID:   p.TargetMarketID,
		TargetPosition:   string(p.TargetPosition),
		TargetPrice:      p.TargetPrice,
		CoverMarketID:    p.CoverMarketID,
		CoverPosition:    string(p.CoverPosition),
		CoverPrice:       p.CoverPrice,
		CoverProbability: p.CoverProbability,
		TotalCost:        p.TotalCost,
		Profit:           p.Profit,
		Coverage:         p.Coverage,
		ExpectedProfit:   p.ExpectedProfit,
		LossProbability:  p.LossProbability,
		Tier:             p.Tier,
		TierLabel:        p.TierLabel,
	}
}

// LoadPortfolios reads the portfolio snapshot at path. A bare JSON array is
// accepted for compatibility with snapshots written before the envelope
// existed.
func LoadPortfolios(path string) (PortfolioFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return PortfolioFile{}, fmt.Errorf("snapshot: %w: %s", domain.ErrSnapshotMissing, path)
		}
		return PortfolioFile{}, fmt.Errorf("snapshot: read %s: %w", path, err)
	}

	var f PortfolioFile
	if err := json.Unmarshal(data, &f); err == nil && f.Portfolios != nil {
		return f, nil
	}

	var bare []PortfolioRecord
	if err := json.Unmarshal(data, &bare); err != nil {
		return PortfolioFile{}, fmt.Errorf("snapshot: decode %s: %w", path, err)
	}
	return PortfolioFile{Meta: Meta{Count: len(bare)}, Portfolios: bare}, nil
}

// WritePortfolios atomically replaces the snapshot at path.
func WritePortfolios(path string, records []PortfolioRecord, runID string) error {
	f := PortfolioFile{
		Meta: Meta{
			GeneratedAt: time.Now().UTC(),
			RunID:       runID,
			Count:       len(records),
		},
		Portfolios: records,
	}
	return writeAtomic(path, f)
}

// ModTime returns the snapshot's modification time, or ok=false when the
// file does not exist.
func ModTime(path string) (mtime time.Time, ok bool) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

// --------------------------------------------------------------------------
// Seed file
// --------------------------------------------------------------------------

// SeedFile bootstraps a fresh store with the permanently-cached reasoning
// results. Portfolios are deliberately absent: they are always recomputed.
type SeedFile struct {
	Meta           Meta                   `json:"_meta"`
	Groups         []domain.Group         `json:"groups"`
	Implications   []domain.Implication   `json:"implications"`
	ValidatedPairs []domain.ValidatedPair `json:"validated_pairs"`
}

// LoadSeed reads a seed file from path.
func LoadSeed(path string) (SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return SeedFile{}, fmt.Errorf("snapshot: %w: %s", domain.ErrSnapshotMissing, path)
		}
		return SeedFile{}, fmt.Errorf("snapshot: read seed %s: %w", path, err)
	}
	var f SeedFile
	if err := json.Unmarshal(data, &f); err != nil {
		return SeedFile{}, fmt.Errorf("snapshot: decode seed %s: %w", path, err)
	}
	return f, nil
}

// DecodeSeed parses seed content already in memory (e.g. fetched from
// object storage).
func DecodeSeed(data []byte) (SeedFile, error) {
	var f SeedFile
	if err := json.Unmarshal(data, &f); err != nil {
		return SeedFile{}, fmt.Errorf("snapshot: decode seed: %w", err)
	}
	return f, nil
}

// WriteSeed atomically writes a seed file to path.
func WriteSeed(path string, f SeedFile) error {
	f.Meta.GeneratedAt = time.Now().UTC()
	return writeAtomic(path, f)
}

// writeAtomic marshals v and renames a temp file over path.
func writeAtomic(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("snapshot: mkdir: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: marshal: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("snapshot: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("snapshot: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("snapshot: close temp: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("snapshot: replace %s: %w", path, err)
	}
	return nil
}
