package domain

import "time"

// Group clusters semantically related markets produced by the batch
// grouping step. Groups are replaced wholesale on reprocessing, never
// patched in place.
type Group struct {
	ID             string
	Title          string
	Partition      string // classification bucket, e.g. "politics"
	NormalizedText string // comparison text used for dedup/matching
	Markets        []Market
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
