package domain

import (
	"encoding/hex"
	"time"

	"golang.org/x/crypto/sha3"
)

// Position is the side of a binary market a record holds.
type Position string

const (
	PositionYes Position = "YES"
	PositionNo  Position = "NO"
)

// Opposite returns the other side.
func (p Position) Opposite() Position {
	if p == PositionYes {
		return PositionNo
	}
	return PositionYes
}

// PairID derives the deterministic identifier for a candidate hedge
// from (target market, cover market, target position). The same triple
// always yields the same id, so judgments cached under it are reusable
// across runs.
func PairID(targetMarketID, coverMarketID string, targetPos Position) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(targetMarketID))
	h.Write([]byte{0})
	h.Write([]byte(coverMarketID))
	h.Write([]byte{0})
	h.Write([]byte(targetPos))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// CandidatePair is a market-level hedge candidate produced by expanding
// group implications, before the reasoning service has judged it.
type CandidatePair struct {
	PairID           string
	TargetMarketID   string
	TargetPosition   Position
	CoverMarketID    string
	CoverPosition    Position
	CoverProbability float64
}

// ValidatedPair is a candidate plus the reasoning service's judgment.
// Immutable once written. IsValid is nil on legacy rows written before
// the explicit judgment existed; the read path treats nil as valid.
type ValidatedPair struct {
	PairID           string
	TargetMarketID   string
	TargetPosition   Position
	CoverMarketID    string
	CoverPosition    Position
	CoverProbability float64
	ViabilityScore   float64
	IsValid          *bool
	Reason           string
	CreatedAt        time.Time
}

// Viable reports whether the pair passes the read-path filter used when
// building portfolios.
func (p ValidatedPair) Viable(minScore float64) bool {
	if p.ViabilityScore < minScore {
		return false
	}
	return p.IsValid == nil || *p.IsValid
}
