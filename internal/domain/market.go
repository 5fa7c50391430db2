package domain

import "time"

// Market represents one binary-outcome prediction market. Prices are
// refreshed on every feed tick; everything else is set once by the
// pipeline.
type Market struct {
	ID             string
	GroupID        string
	Question       string
	YesPrice       float64
	NoPrice        float64
	ResolutionDate *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
