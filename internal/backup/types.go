// Package backup snapshots and restores the SQLite store. Snapshots are
// verified with an integrity check and pruned by a tiered retention policy.
package backup

import (
	"time"
)

// RetentionPolicy is how many snapshots to keep in each age tier:
// Hourly under a day, Daily under a week, Weekly under 30 days and Monthly
// under a year. Older snapshots are always pruned.
type RetentionPolicy struct {
	Hourly  int `json:"hourly"`
	Daily   int `json:"daily"`
	Weekly  int `json:"weekly"`
	Monthly int `json:"monthly"`
}

// DefaultRetention keeps a day of hourlies, a week of dailies, a month of
// weeklies and a year of monthlies.
func DefaultRetention() RetentionPolicy {
	return RetentionPolicy{Hourly: 24, Daily: 7, Weekly: 4, Monthly: 12}
}

// Info describes one snapshot file.
type Info struct {
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
	Size      int64     `json:"size"`
}

// Result is the outcome of a snapshot.
type Result struct {
	Info
	Duration time.Duration `json:"duration"`
	Pruned   int           `json:"pruned"`
}
