package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// PatternKey identifies at most one active Pattern.
// Subtype is the activity tag for activity patterns and empty otherwise.
type PatternKey struct {
	OwnerID    string          `json:"owner_id"`
	Kind       PatternKind     `json:"kind"`
	Recurrence RecurrenceClass `json:"recurrence"`
	Subtype    string          `json:"subtype,omitempty"`
}

// String renders the key for logs.
func (k PatternKey) String() string {
	if k.Subtype == "" {
		return fmt.Sprintf("%s/%s/%s", k.OwnerID, k.Kind, k.Recurrence)
	}
	return fmt.Sprintf("%s/%s/%s/%s", k.OwnerID, k.Kind, k.Recurrence, k.Subtype)
}

// Pattern is a detected recurring behavior. Re-detection updates the active
// row for the same key in place; patterns are only ever soft-deactivated.
type Pattern struct {
	ID             string          `json:"id"`
	OwnerID        string          `json:"owner_id"`
	Kind           PatternKind     `json:"kind"`
	Recurrence     RecurrenceClass `json:"recurrence"`
	Subtype        string          `json:"subtype,omitempty"`
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	Confidence     float64         `json:"confidence"`
	SampleCount    int             `json:"sample_count"`
	Metadata       PatternMetadata `json:"-"`
	Active         bool            `json:"active"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	LastObservedAt time.Time       `json:"last_observed_at"`
}

// Key returns the uniqueness key of the pattern.
func (p *Pattern) Key() PatternKey {
	return PatternKey{OwnerID: p.OwnerID, Kind: p.Kind, Recurrence: p.Recurrence, Subtype: p.Subtype}
}

// MarshalJSON includes the metadata variant inline under "metadata".
func (p Pattern) MarshalJSON() ([]byte, error) {
	type alias Pattern
	return json.Marshal(struct {
		alias
		Metadata PatternMetadata `json:"metadata,omitempty"`
	}{alias: alias(p), Metadata: p.Metadata})
}

// PatternMetadata is the kind-specific part of a Pattern. It is a closed
// set: SleepWakeMetadata or ActivityMetadata.
type PatternMetadata interface {
	PatternKind() PatternKind
}

// SleepWakeMetadata holds the statistics behind a sleep/wake pattern.
type SleepWakeMetadata struct {
	AverageSleepTime      string   `json:"average_sleep_time"` // HH:MM
	AverageWakeTime       string   `json:"average_wake_time"`  // HH:MM
	AverageSleepDuration  int      `json:"average_sleep_duration"`
	SleepVarianceMinutes  float64  `json:"sleep_variance_minutes"`
	DurationStdDevMinutes float64  `json:"duration_std_dev_minutes"`
	AverageQuality        *float64 `json:"average_quality,omitempty"`
}

// PatternKind implements PatternMetadata.
func (SleepWakeMetadata) PatternKind() PatternKind { return KindSleepWake }

// ActivityMetadata holds the statistics behind an activity pattern.
type ActivityMetadata struct {
	Tag                  string    `json:"tag"`
	AverageStartTime     string    `json:"average_start_time"` // HH:MM
	AverageDuration      *int      `json:"average_duration,omitempty"`
	StartVarianceMinutes float64   `json:"start_variance_minutes"`
	CommonLocation       string    `json:"common_location,omitempty"`
	CommonIntensity      Intensity `json:"common_intensity,omitempty"`
	DayOfWeek            string    `json:"day_of_week,omitempty"`
}

// PatternKind implements PatternMetadata.
func (ActivityMetadata) PatternKind() PatternKind { return KindActivity }

// EncodePatternMetadata serializes metadata for storage.
func EncodePatternMetadata(m PatternMetadata) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// DecodePatternMetadata restores the metadata variant selected by kind.
func DecodePatternMetadata(kind PatternKind, data []byte) (PatternMetadata, error) {
	if len(data) == 0 {
		return nil, nil
	}
	switch kind {
	case KindSleepWake:
		var m SleepWakeMetadata
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode sleep_wake metadata: %w", err)
		}
		return m, nil
	case KindActivity:
		var m ActivityMetadata
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode activity metadata: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown pattern kind %q", kind)
	}
}

// PatternPatch lists the fields an update may overwrite. Nil fields are kept.
type PatternPatch struct {
	Name           *string
	Description    *string
	Recurrence     *RecurrenceClass
	Confidence     *float64
	SampleCount    *int
	Metadata       PatternMetadata
	Active         *bool
	LastObservedAt *time.Time
}

// PatternStats summarizes an owner's patterns.
type PatternStats struct {
	Count             int                     `json:"count"`
	MeanConfidence    float64                 `json:"mean_confidence"`
	CountByKind       map[PatternKind]int     `json:"count_by_kind"`
	CountByRecurrence map[RecurrenceClass]int `json:"count_by_recurrence"`
	MostReliable      *Pattern                `json:"most_reliable,omitempty"`
	LeastReliable     *Pattern                `json:"least_reliable,omitempty"`
}
