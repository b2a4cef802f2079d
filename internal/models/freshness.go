package models

import "time"

// Freshness statuses
const (
	FreshnessFresh       = "fresh"
	FreshnessStale       = "stale"
	FreshnessUnavailable = "unavailable"
)

// DataFreshness describes how current the published vehicle list is
type DataFreshness struct {
	SnapshotID   string     `json:"snapshotId,omitempty"`
	QueryTime    *time.Time `json:"queryTime,omitempty"`
	ReplacedAt   *time.Time `json:"replacedAt,omitempty"`
	AgeSeconds   int        `json:"ageSeconds"`
	Status       string     `json:"status"` // "fresh", "stale", "unavailable"
	VehicleCount int        `json:"vehicleCount"`
}

// NewDataFreshness classifies data replaced at replacedAt. A zero replacedAt
// means nothing was published yet.
func NewDataFreshness(replacedAt, now time.Time, staleAfter time.Duration) DataFreshness {
	if replacedAt.IsZero() {
		return DataFreshness{Status: FreshnessUnavailable}
	}

	age := now.Sub(replacedAt)
	if age < 0 {
		age = 0
	}
	f := DataFreshness{
		ReplacedAt: &replacedAt,
		AgeSeconds: int(age.Seconds()),
		Status:     FreshnessFresh,
	}
	if staleAfter > 0 && age > staleAfter {
		f.Status = FreshnessStale
	}
	return f
}
