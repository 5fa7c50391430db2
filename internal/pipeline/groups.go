// Package pipeline implements the batch run that turns raw exchange
// listings into covering portfolios: grouping, implication extraction,
// pair expansion, validation, and portfolio construction.
package pipeline

import (
	"strings"
	"time"
	"unicode"

	"github.com/alanyoungcy/coverbot/internal/domain"
)

// BuildGroups turns raw event listings into market groups. One event
// becomes one group; events without usable binary markets are dropped.
// Events whose normalized titles collide keep only the first
// occurrence.
func BuildGroups(events []domain.RawEvent, now time.Time) []domain.Group {
	groups := make([]domain.Group, 0, len(events))
	seen := make(map[string]struct{}, len(events))

	for _, ev := range events {
		if ev.ID == "" || len(ev.Markets) == 0 {
			continue
		}
		norm := normalizeText(ev.Title)
		if norm != "" {
			if _, dup := seen[norm]; dup {
				continue
			}
			seen[norm] = struct{}{}
		}

		g := domain.Group{
			ID:             ev.ID,
			Title:          ev.Title,
			Partition:      partitionFor(ev.Tags),
			NormalizedText: norm,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		for _, rm := range ev.Markets {
			if rm.ID == "" {
				continue
			}
			g.Markets = append(g.Markets, domain.Market{
				ID:             rm.ID,
				GroupID:        ev.ID,
				Question:       rm.Question,
				YesPrice:       rm.YesPrice,
				NoPrice:        rm.NoPrice,
				ResolutionDate: parseResolutionDate(rm.ResolutionDate),
				CreatedAt:      now,
				UpdatedAt:      now,
			})
		}
		if len(g.Markets) == 0 {
			continue
		}
		groups = append(groups, g)
	}
	return groups
}

// partitionFor picks the classification bucket from event tags. The
// first tag wins; untagged events land in "other".
func partitionFor(tags []string) string {
	for _, t := range tags {
		if t != "" {
			return strings.ToLower(t)
		}
	}
	return "other"
}

// normalizeText lowercases, strips punctuation, and collapses
// whitespace so near-identical titles compare equal.
func normalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case !lastSpace:
			b.WriteRune(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

// parseResolutionDate accepts the upstream date formats and returns
// nil when the field is absent or unparseable.
func parseResolutionDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
