package types

import (
	"fmt"
	"strings"
	"time"
)

// MinutesPerDay is the length of the TimeOfDay circle.
const MinutesPerDay = 1440

// TimeOfDay is a number of minutes since local midnight in [0, 1440).
// It is circular: 1439 and 0 are adjacent.
type TimeOfDay int

// TimeOfDayOf returns the wall-clock minute of t in t's own location.
func TimeOfDayOf(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*60 + t.Minute())
}

// Normalize folds any integer minute count onto [0, 1440).
func (t TimeOfDay) Normalize() TimeOfDay {
	m := int(t) % MinutesPerDay
	if m < 0 {
		m += MinutesPerDay
	}
	return TimeOfDay(m)
}

// String formats the time as zero-padded "HH:MM".
func (t TimeOfDay) String() string {
	n := t.Normalize()
	return fmt.Sprintf("%02d:%02d", int(n)/60, int(n)%60)
}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parsed, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return TimeOfDayOf(parsed), nil
}

// RecurrenceForWeekday returns the day-specific recurrence class for d.
func RecurrenceForWeekday(d time.Weekday) RecurrenceClass {
	return RecurrenceClass(strings.ToLower(d.String()))
}

// IsWeekend reports whether d is Saturday or Sunday.
func IsWeekend(d time.Weekday) bool {
	return d == time.Saturday || d == time.Sunday
}

// SleepWakeLog is one recorded sleep/wake cycle. Logs are append-only.
type SleepWakeLog struct {
	ID              string    `json:"id"`
	OwnerID         string    `json:"owner_id"`
	SleepAt         time.Time `json:"sleep_at"`
	WakeAt          time.Time `json:"wake_at"`
	DurationMinutes int       `json:"duration_minutes"`  // WakeAt - SleepAt
	Quality         *float64  `json:"quality,omitempty"` // [0,1]
	Note            string    `json:"note,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// ActivityLog is one recorded occurrence of a tagged activity.
type ActivityLog struct {
	ID              string     `json:"id"`
	OwnerID         string     `json:"owner_id"`
	Tag             string     `json:"tag"`
	StartAt         time.Time  `json:"start_at"`
	EndAt           *time.Time `json:"end_at,omitempty"`
	DurationMinutes *int       `json:"duration_minutes,omitempty"` // nil when EndAt is nil
	Location        string     `json:"location,omitempty"`
	Intensity       Intensity  `json:"intensity,omitempty"`
	Note            string     `json:"note,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// SleepWakeInput is the caller-supplied part of a SleepWakeLog.
type SleepWakeInput struct {
	OwnerID string    `json:"owner_id"`
	SleepAt time.Time `json:"sleep_at"`
	WakeAt  time.Time `json:"wake_at"`
	Quality *float64  `json:"quality,omitempty"`
	Note    string    `json:"note,omitempty"`
}

// ActivityInput is the caller-supplied part of an ActivityLog.
type ActivityInput struct {
	OwnerID   string     `json:"owner_id"`
	Tag       string     `json:"tag"`
	StartAt   time.Time  `json:"start_at"`
	EndAt     *time.Time `json:"end_at,omitempty"`
	Location  string     `json:"location,omitempty"`
	Intensity Intensity  `json:"intensity,omitempty"`
	Note      string     `json:"note,omitempty"`
}

// DurationBetween returns whole minutes from start to end.
func DurationBetween(start, end time.Time) int {
	return int(end.Sub(start) / time.Minute)
}
