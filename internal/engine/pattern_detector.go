package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/scrypster/cadence/internal/storage"
	"github.com/scrypster/cadence/internal/timestats"
	"github.com/scrypster/cadence/pkg/types"
)

// DetectionResult is the outcome of detecting one scope.
type DetectionResult struct {
	Pattern *types.Pattern `json:"pattern"`

	// IsNew is true when no active pattern existed for the key.
	IsNew bool `json:"is_new"`

	// ConfidenceChange is new minus previous confidence; nil when IsNew.
	ConfidenceChange *float64 `json:"confidence_change,omitempty"`

	Insights []string `json:"insights"`
}

// PatternDetector turns an owner's observation history into patterns.
//
// Each scope (daily, weekday, weekend for sleep; all occurrences and each
// weekday for activities) is evaluated independently. A scope with fewer
// than MinSamples observations yields nothing.
type PatternDetector struct {
	observations storage.ObservationStore
	patterns     storage.PatternStore
	cfg          DetectionConfig
	loc          *time.Location
	logger       logrus.FieldLogger
}

// NewPatternDetector creates a detector. An unresolvable timezone falls back
// to UTC.
func NewPatternDetector(observations storage.ObservationStore, patterns storage.PatternStore, cfg Config, logger logrus.FieldLogger) *PatternDetector {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	loc, err := cfg.Location()
	if err != nil {
		logger.WithError(err).Warnf("unknown timezone %q, using UTC", cfg.Timezone)
		loc = time.UTC
	}
	return &PatternDetector{
		observations: observations,
		patterns:     patterns,
		cfg:          cfg.Detection,
		loc:          loc,
		logger:       logger.WithField("component", "pattern_detector"),
	}
}

type sleepScope struct {
	recurrence types.RecurrenceClass
	name       string
	logs       []*types.SleepWakeLog
}

// DetectSleepWakePatterns evaluates the daily, weekday and weekend scopes of
// the owner's recent sleep/wake logs, in that order.
func (d *PatternDetector) DetectSleepWakePatterns(ctx context.Context, ownerID string) ([]*DetectionResult, error) {
	if err := validateOwner(ownerID); err != nil {
		return nil, err
	}

	logs, err := d.observations.RecentSleepWake(ctx, ownerID, d.cfg.HistoryLimit, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to read sleep/wake history: %w", err)
	}

	results := []*DetectionResult{}
	if len(logs) < d.cfg.MinSamples {
		d.logger.WithFields(logrus.Fields{"owner_id": ownerID, "samples": len(logs)}).
			Debug("insufficient sleep/wake data")
		return results, nil
	}

	var weekday, weekend []*types.SleepWakeLog
	for _, l := range logs {
		if types.IsWeekend(l.SleepAt.In(d.loc).Weekday()) {
			weekend = append(weekend, l)
		} else {
			weekday = append(weekday, l)
		}
	}

	scopes := []sleepScope{
		{types.RecurrenceDaily, "Daily sleep schedule", logs},
		{types.RecurrenceWeekday, "Weekday sleep schedule", weekday},
		{types.RecurrenceWeekend, "Weekend sleep schedule", weekend},
	}

	for _, scope := range scopes {
		if len(scope.logs) < d.cfg.MinSamples {
			d.logger.WithFields(logrus.Fields{
				"owner_id":   ownerID,
				"recurrence": scope.recurrence,
				"samples":    len(scope.logs),
			}).Debug("skipping sleep/wake scope")
			continue
		}

		pattern := d.sleepWakePattern(ownerID, scope)
		result, err := d.upsert(ctx, pattern)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}

	return results, nil
}

func (d *PatternDetector) sleepWakePattern(ownerID string, scope sleepScope) *types.Pattern {
	sleepTimes := make([]types.TimeOfDay, 0, len(scope.logs))
	wakeTimes := make([]types.TimeOfDay, 0, len(scope.logs))
	durations := make([]float64, 0, len(scope.logs))
	var qualities []float64
	var last time.Time

	for _, l := range scope.logs {
		sleepTimes = append(sleepTimes, types.TimeOfDayOf(l.SleepAt.In(d.loc)))
		wakeTimes = append(wakeTimes, types.TimeOfDayOf(l.WakeAt.In(d.loc)))
		durations = append(durations, float64(l.DurationMinutes))
		if l.Quality != nil {
			qualities = append(qualities, *l.Quality)
		}
		if l.WakeAt.After(last) {
			last = l.WakeAt
		}
	}

	meta := types.SleepWakeMetadata{
		AverageSleepTime:      timestats.CircularMean(sleepTimes).String(),
		AverageWakeTime:       timestats.CircularMean(wakeTimes).String(),
		AverageSleepDuration:  int(math.Round(timestats.Mean(durations))),
		SleepVarianceMinutes:  roundTenth(timestats.CircularStdDevMinutes(sleepTimes)),
		DurationStdDevMinutes: roundTenth(timestats.StdDev(durations)),
	}
	if len(qualities) > 0 {
		q := math.Round(timestats.Mean(qualities)*100) / 100
		meta.AverageQuality = &q
	}

	return &types.Pattern{
		OwnerID:    ownerID,
		Kind:       types.KindSleepWake,
		Recurrence: scope.recurrence,
		Name:       scope.name,
		Description: fmt.Sprintf("Sleeps around %s and wakes around %s (%s on average)",
			meta.AverageSleepTime, meta.AverageWakeTime, formatDuration(meta.AverageSleepDuration)),
		Confidence:     d.cfg.SleepWake.Score(meta.SleepVarianceMinutes, len(scope.logs)),
		SampleCount:    len(scope.logs),
		Metadata:       meta,
		Active:         true,
		LastObservedAt: last,
	}
}

type activityScope struct {
	recurrence types.RecurrenceClass
	dayOfWeek  string
	logs       []*types.ActivityLog
}

// DetectActivityPatterns evaluates all occurrences of tag and, when enabled,
// each weekday that has enough occurrences on its own.
func (d *PatternDetector) DetectActivityPatterns(ctx context.Context, ownerID, tag string) ([]*DetectionResult, error) {
	if err := validateOwner(ownerID); err != nil {
		return nil, err
	}
	tag = normalizeTag(tag)
	if tag == "" {
		return nil, invalid("tag", "must not be empty")
	}

	logs, err := d.observations.RecentActivities(ctx, ownerID, storage.ActivityFilter{Tag: tag}, d.cfg.HistoryLimit, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to read activity history: %w", err)
	}

	results := []*DetectionResult{}
	if len(logs) < d.cfg.MinSamples {
		d.logger.WithFields(logrus.Fields{"owner_id": ownerID, "tag": tag, "samples": len(logs)}).
			Debug("insufficient activity data")
		return results, nil
	}

	scopes := []activityScope{{recurrence: types.RecurrenceDaily, logs: logs}}

	if d.cfg.DaySpecific {
		byDay := make(map[time.Weekday][]*types.ActivityLog)
		for _, l := range logs {
			day := l.StartAt.In(d.loc).Weekday()
			byDay[day] = append(byDay[day], l)
		}
		for day := time.Sunday; day <= time.Saturday; day++ {
			if len(byDay[day]) < d.cfg.MinSamples {
				continue
			}
			scopes = append(scopes, activityScope{
				recurrence: types.RecurrenceForWeekday(day),
				dayOfWeek:  day.String(),
				logs:       byDay[day],
			})
		}
	}

	for _, scope := range scopes {
		pattern := d.activityPattern(ownerID, tag, scope)
		result, err := d.upsert(ctx, pattern)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}

	return results, nil
}

func (d *PatternDetector) activityPattern(ownerID, tag string, scope activityScope) *types.Pattern {
	starts := make([]types.TimeOfDay, 0, len(scope.logs))
	var durations []float64
	locations := make([]string, 0, len(scope.logs))
	intensities := make([]string, 0, len(scope.logs))
	var last time.Time

	// Logs arrive newest first, so mode ties favor the most recent value.
	for _, l := range scope.logs {
		starts = append(starts, types.TimeOfDayOf(l.StartAt.In(d.loc)))
		if l.DurationMinutes != nil {
			durations = append(durations, float64(*l.DurationMinutes))
		}
		locations = append(locations, l.Location)
		intensities = append(intensities, string(l.Intensity))
		if l.StartAt.After(last) {
			last = l.StartAt
		}
	}

	meta := types.ActivityMetadata{
		Tag:                  tag,
		AverageStartTime:     timestats.CircularMean(starts).String(),
		StartVarianceMinutes: roundTenth(timestats.CircularStdDevMinutes(starts)),
		CommonLocation:       timestats.Mode(locations),
		CommonIntensity:      types.Intensity(timestats.Mode(intensities)),
		DayOfWeek:            scope.dayOfWeek,
	}
	if len(durations) > 0 {
		avg := int(math.Round(timestats.Mean(durations)))
		meta.AverageDuration = &avg
	}

	name := fmt.Sprintf("%s routine", titleCase(tag))
	if scope.dayOfWeek != "" {
		name = fmt.Sprintf("%s %s routine", scope.dayOfWeek, tag)
	}

	description := fmt.Sprintf("Usually starts %s around %s", tag, meta.AverageStartTime)
	if meta.AverageDuration != nil {
		description += fmt.Sprintf(" for %s", formatDuration(*meta.AverageDuration))
	}

	return &types.Pattern{
		OwnerID:        ownerID,
		Kind:           types.KindActivity,
		Recurrence:     scope.recurrence,
		Subtype:        tag,
		Name:           name,
		Description:    description,
		Confidence:     d.cfg.Activity.Score(meta.StartVarianceMinutes, len(scope.logs)),
		SampleCount:    len(scope.logs),
		Metadata:       meta,
		Active:         true,
		LastObservedAt: last,
	}
}

// upsert writes pattern as the active pattern for its key and derives the
// result's trend and insights from the previous confidence.
func (d *PatternDetector) upsert(ctx context.Context, pattern *types.Pattern) (*DetectionResult, error) {
	res, err := d.patterns.UpsertPattern(ctx, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert pattern %s: %w", pattern.Key(), err)
	}

	result := &DetectionResult{Pattern: res.Pattern, IsNew: res.Created}
	if !res.Created {
		change := res.Pattern.Confidence - res.PreviousConfidence
		result.ConfidenceChange = &change
	}
	result.Insights = d.cfg.Insights.PatternInsights(res.Pattern, result.ConfidenceChange)

	entry := d.logger.WithFields(logrus.Fields{
		"owner_id":   pattern.OwnerID,
		"key":        pattern.Key().String(),
		"confidence": res.Pattern.Confidence,
		"samples":    res.Pattern.SampleCount,
	})
	if res.Created {
		entry.Info("pattern created")
	} else {
		entry.Debug("pattern updated")
	}

	return result, nil
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}
