package pipeline

import (
	"github.com/alanyoungcy/coverbot/internal/domain"
)

// ExpandPairs turns group-level implications into market-level hedge
// candidates. For every market in a group with a cached implication,
// each market of each covering group yields one candidate per covered
// side. Candidates whose pair id was already judged, or that pair a
// market with itself, are skipped. The result is capped at
// maxCandidates; zero means no cap.
func ExpandPairs(
	groups []domain.Group,
	implications map[string]domain.Implication,
	knownPairIDs map[string]struct{},
	maxCandidates int,
) []domain.CandidatePair {
	byID := make(map[string]domain.Group, len(groups))
	for _, g := range groups {
		byID[g.ID] = g
	}

	var out []domain.CandidatePair
	seen := make(map[string]struct{})

	add := func(target domain.Market, targetPos domain.Position, cover domain.Market, prob float64) bool {
		if target.ID == cover.ID {
			return true
		}
		id := domain.PairID(target.ID, cover.ID, targetPos)
		if _, dup := seen[id]; dup {
			return true
		}
		if _, judged := knownPairIDs[id]; judged {
			return true
		}
		seen[id] = struct{}{}
		out = append(out, domain.CandidatePair{
			PairID:           id,
			TargetMarketID:   target.ID,
			TargetPosition:   targetPos,
			CoverMarketID:    cover.ID,
			CoverPosition:    domain.PositionYes,
			CoverProbability: prob,
		})
		return maxCandidates <= 0 || len(out) < maxCandidates
	}

	expand := func(g domain.Group, targetPos domain.Position, coveredBy []domain.CoveredBy) bool {
		for _, cb := range coveredBy {
			coverGroup, ok := byID[cb.GroupID]
			if !ok {
				continue
			}
			for _, target := range g.Markets {
				for _, cover := range coverGroup.Markets {
					if !add(target, targetPos, cover, cb.Probability) {
						return false
					}
				}
			}
		}
		return true
	}

	for _, g := range groups {
		imp, ok := implications[g.ID]
		if !ok {
			continue
		}
		if !expand(g, domain.PositionYes, imp.YesCoveredBy) {
			break
		}
		if !expand(g, domain.PositionNo, imp.NoCoveredBy) {
			break
		}
	}
	return out
}
