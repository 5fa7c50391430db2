package domain

import "time"

// CoveredBy names a covering group with the reasoning service's
// probability estimate and relationship kind.
type CoveredBy struct {
	GroupID     string
	Probability float64
	Kind        string // e.g. "negation", "superset", "correlated"
}

// Implication is a cached relationship judgment for one group: which
// other groups cover its YES side and which cover its NO side.
// Immutable once written, only ever inserted for previously-unseen
// group ids.
type Implication struct {
	GroupID      string
	YesCoveredBy []CoveredBy
	NoCoveredBy  []CoveredBy
	CreatedAt    time.Time
}
