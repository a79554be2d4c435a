// Package types defines the core data structures for the Cadence behavioral
// context system: observations (sleep/wake cycles and activities), detected
// patterns, and the scored, decaying context items built from them.
package types

import (
	"fmt"
	"strings"
)

// PatternKind identifies the family of observations a Pattern was detected from.
type PatternKind string

// RecurrenceClass is the temporal scope a Pattern applies to.
type RecurrenceClass string

// Intensity is the self-reported intensity of an activity.
type Intensity string

// Category groups context items by what they describe.
type Category string

// Origin tags a ContextItem payload with the source signal it was built from.
type Origin string

// TimeWindow is a coarse recency bucket derived from elapsed time.
type TimeWindow string

// Pattern kind constants
const (
	// KindSleepWake covers patterns detected from sleep/wake cycles
	KindSleepWake PatternKind = "sleep_wake"

	// KindActivity covers patterns detected from tagged activity occurrences
	KindActivity PatternKind = "activity"
)

// Recurrence class constants. Day-specific activity patterns use the
// lowercase weekday name (see RecurrenceForWeekday).
const (
	RecurrenceDaily   RecurrenceClass = "daily"
	RecurrenceWeekday RecurrenceClass = "weekday"
	RecurrenceWeekend RecurrenceClass = "weekend"
)

// Intensity constants
const (
	IntensityLow    Intensity = "low"
	IntensityMedium Intensity = "medium"
	IntensityHigh   Intensity = "high"
)

// Context category constants. Other categories are accepted and receive the
// configured fallback expiry.
const (
	CategoryCurrentState   Category = "current_state"
	CategoryRecentActivity Category = "recent_activity"
	CategoryPatterns       Category = "patterns"
)

// Payload origin constants
const (
	OriginMemory  Origin = "memory"
	OriginPattern Origin = "pattern"
	OriginState   Origin = "state"
)

// Time window constants
const (
	WindowNow      TimeWindow = "now"
	WindowRecent   TimeWindow = "recent"
	WindowToday    TimeWindow = "today"
	WindowThisWeek TimeWindow = "this_week"
	WindowOlder    TimeWindow = "older"
)

var weekdayRecurrence = map[string]RecurrenceClass{
	"sunday":    "sunday",
	"monday":    "monday",
	"tuesday":   "tuesday",
	"wednesday": "wednesday",
	"thursday":  "thursday",
	"friday":    "friday",
	"saturday":  "saturday",
}

// IsValid reports whether k is a known pattern kind.
func (k PatternKind) IsValid() bool {
	return k == KindSleepWake || k == KindActivity
}

// IsValid reports whether r is daily, weekday, weekend or a weekday name.
func (r RecurrenceClass) IsValid() bool {
	switch r {
	case RecurrenceDaily, RecurrenceWeekday, RecurrenceWeekend:
		return true
	}
	_, ok := weekdayRecurrence[string(r)]
	return ok
}

// IsDaySpecific reports whether r names a single day of the week.
func (r RecurrenceClass) IsDaySpecific() bool {
	_, ok := weekdayRecurrence[string(r)]
	return ok
}

// IsValid reports whether i is one of low, medium or high.
func (i Intensity) IsValid() bool {
	return i == IntensityLow || i == IntensityMedium || i == IntensityHigh
}

// RelevanceLevel is the discretization of a relevance score. Levels are
// ordered: MINIMAL < LOW < MEDIUM < HIGH < CRITICAL.
type RelevanceLevel int

// Relevance level constants, in ascending order
const (
	LevelMinimal RelevanceLevel = iota
	LevelLow
	LevelMedium
	LevelHigh
	LevelCritical
)

var levelNames = [...]string{"minimal", "low", "medium", "high", "critical"}

// String returns the lowercase level name.
func (l RelevanceLevel) String() string {
	if l < LevelMinimal || l > LevelCritical {
		return fmt.Sprintf("RelevanceLevel(%d)", int(l))
	}
	return levelNames[l]
}

// MarshalText encodes the level by name.
func (l RelevanceLevel) MarshalText() ([]byte, error) {
	if l < LevelMinimal || l > LevelCritical {
		return nil, fmt.Errorf("invalid relevance level %d", int(l))
	}
	return []byte(levelNames[l]), nil
}

// UnmarshalText decodes a level name (case-insensitive).
func (l *RelevanceLevel) UnmarshalText(text []byte) error {
	parsed, err := ParseRelevanceLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseRelevanceLevel parses a level name such as "high" or "CRITICAL".
func ParseRelevanceLevel(s string) (RelevanceLevel, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range levelNames {
		if n == name {
			return RelevanceLevel(i), nil
		}
	}
	return LevelMinimal, fmt.Errorf("unknown relevance level %q", s)
}
