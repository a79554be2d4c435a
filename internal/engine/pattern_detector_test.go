package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/cadence/internal/storage"
	"github.com/scrypster/cadence/internal/storage/sqlite"
	"github.com/scrypster/cadence/pkg/types"
)

func newTestDetector(t *testing.T) (*PatternDetector, *sqlite.Store) {
	t.Helper()
	store := newTestStore(t)
	return NewPatternDetector(store, store, DefaultConfig(), quietLogger()), store
}

func TestDetectSleepWake_TenConsistentNights(t *testing.T) {
	d, store := newTestDetector(t)
	ctx := context.Background()
	logNights(t, store, "u1", monday, 10, 8*time.Hour, ptr(0.85))

	results, err := d.DetectSleepWakePatterns(ctx, "u1")
	require.NoError(t, err)

	// Mar 2..11: eight weekday nights, two weekend nights.
	require.Len(t, results, 2)
	daily := results[0]
	assert.Equal(t, types.RecurrenceDaily, daily.Pattern.Recurrence)
	assert.Equal(t, "Daily sleep schedule", daily.Pattern.Name)
	assert.True(t, daily.IsNew)
	assert.Nil(t, daily.ConfidenceChange)
	assert.GreaterOrEqual(t, daily.Pattern.Confidence, 0.8)
	assert.Equal(t, 10, daily.Pattern.SampleCount)
	assert.True(t, daily.Pattern.LastObservedAt.Equal(monday.AddDate(0, 0, 9).Add(8*time.Hour)))

	meta, ok := daily.Pattern.Metadata.(types.SleepWakeMetadata)
	require.True(t, ok)
	assert.Equal(t, "23:00", meta.AverageSleepTime)
	assert.Equal(t, "07:00", meta.AverageWakeTime)
	assert.Equal(t, 480, meta.AverageSleepDuration)
	assert.Zero(t, meta.SleepVarianceMinutes)
	require.NotNil(t, meta.AverageQuality)
	assert.InDelta(t, 0.85, *meta.AverageQuality, 1e-9)

	assert.Contains(t, daily.Insights, "Your sleep schedule is very consistent.")
	assert.Contains(t, daily.Insights, "This pattern is detected with high confidence.")
	assert.Contains(t, daily.Insights, "Your sleep quality is good.")

	weekday := results[1]
	assert.Equal(t, types.RecurrenceWeekday, weekday.Pattern.Recurrence)
	assert.Equal(t, 8, weekday.Pattern.SampleCount)
}

func TestDetectSleepWake_InsufficientData(t *testing.T) {
	d, store := newTestDetector(t)
	logNights(t, store, "u1", monday, 2, 8*time.Hour, nil)

	results, err := d.DetectSleepWakePatterns(context.Background(), "u1")
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestDetectSleepWake_RedetectUpdatesInPlace(t *testing.T) {
	d, store := newTestDetector(t)
	ctx := context.Background()
	logNights(t, store, "u1", monday, 10, 8*time.Hour, nil)

	first, err := d.DetectSleepWakePatterns(ctx, "u1")
	require.NoError(t, err)
	second, err := d.DetectSleepWakePatterns(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, second, len(first))

	for i, r := range second {
		assert.False(t, r.IsNew)
		require.NotNil(t, r.ConfidenceChange)
		assert.Zero(t, *r.ConfidenceChange)
		assert.Equal(t, first[i].Pattern.ID, r.Pattern.ID)
	}

	active := true
	patterns, err := store.ListPatterns(ctx, storage.PatternQuery{OwnerID: "u1", Active: &active})
	require.NoError(t, err)
	assert.Len(t, patterns, 2)
}

func TestDetectSleepWake_MidnightWrap(t *testing.T) {
	d, store := newTestDetector(t)

	// 23:30, 00:30, 23:30, 00:30 average to midnight, not noon.
	for i := 0; i < 4; i++ {
		sleep := monday.AddDate(0, 0, i).Add(30 * time.Minute)
		if i%2 == 1 {
			sleep = sleep.Add(time.Hour)
		}
		logNights(t, store, "u1", sleep, 1, 7*time.Hour, nil)
	}

	results, err := d.DetectSleepWakePatterns(context.Background(), "u1")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	meta := results[0].Pattern.Metadata.(types.SleepWakeMetadata)
	assert.Contains(t, []string{"23:59", "00:00", "00:01"}, meta.AverageSleepTime)
	assert.InDelta(t, 30, meta.SleepVarianceMinutes, 1)
}

func TestDetectActivity_ModeTiesFavorMostRecent(t *testing.T) {
	d, store := newTestDetector(t)

	morning := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	for i, location := range []string{"gym", "gym", "park", "park"} {
		logActivity(t, store, "u1", "running", morning.AddDate(0, 0, i), 30*time.Minute, location)
	}

	results, err := d.DetectActivityPatterns(context.Background(), "u1", "running")
	require.NoError(t, err)
	require.NotEmpty(t, results)

	meta := results[0].Pattern.Metadata.(types.ActivityMetadata)
	assert.Equal(t, "park", meta.CommonLocation)
}

func TestDetectActivity_DaySpecificScopes(t *testing.T) {
	d, store := newTestDetector(t)

	morning := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC) // Monday
	for _, day := range []int{0, 7, 14, 1} {
		logActivity(t, store, "u1", "running", morning.AddDate(0, 0, day), 30*time.Minute, "park")
	}
	logActivity(t, store, "u1", "reading", morning, time.Hour, "home")

	results, err := d.DetectActivityPatterns(context.Background(), "u1", "  Running ")
	require.NoError(t, err)
	require.Len(t, results, 2)

	all := results[0]
	assert.Equal(t, types.RecurrenceDaily, all.Pattern.Recurrence)
	assert.Equal(t, "running", all.Pattern.Subtype)
	assert.Equal(t, "Running routine", all.Pattern.Name)
	assert.Equal(t, 4, all.Pattern.SampleCount)
	assert.InDelta(t, 0.9, all.Pattern.Confidence, 1e-9)

	meta := all.Pattern.Metadata.(types.ActivityMetadata)
	assert.Equal(t, "07:00", meta.AverageStartTime)
	require.NotNil(t, meta.AverageDuration)
	assert.Equal(t, 30, *meta.AverageDuration)
	assert.Equal(t, "park", meta.CommonLocation)
	assert.Equal(t, types.IntensityMedium, meta.CommonIntensity)

	mondays := results[1]
	assert.Equal(t, types.RecurrenceClass("monday"), mondays.Pattern.Recurrence)
	assert.Equal(t, "Monday running routine", mondays.Pattern.Name)
	assert.Equal(t, 3, mondays.Pattern.SampleCount)
	assert.Equal(t, "Monday", mondays.Pattern.Metadata.(types.ActivityMetadata).DayOfWeek)
}

func TestDetectActivity_DaySpecificDisabled(t *testing.T) {
	store := newTestStore(t)
	cfg := DefaultConfig()
	cfg.Detection.DaySpecific = false
	d := NewPatternDetector(store, store, cfg, quietLogger())

	morning := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	for _, day := range []int{0, 7, 14} {
		logActivity(t, store, "u1", "running", morning.AddDate(0, 0, day), 30*time.Minute, "")
	}

	results, err := d.DetectActivityPatterns(context.Background(), "u1", "running")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, types.RecurrenceDaily, results[0].Pattern.Recurrence)
}

func TestDetect_ValidatesInput(t *testing.T) {
	d, _ := newTestDetector(t)
	ctx := context.Background()

	_, err := d.DetectSleepWakePatterns(ctx, " ")
	assert.True(t, errors.Is(err, storage.ErrInvalidInput))

	_, err = d.DetectActivityPatterns(ctx, "u1", "   ")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "tag", verr.Field)
}

func TestDetector_TimezoneShiftsWeekday(t *testing.T) {
	store := newTestStore(t)
	cfg := DefaultConfig()
	cfg.Timezone = "America/New_York"
	d := NewPatternDetector(store, store, cfg, quietLogger())

	// 03:00 UTC on Saturdays is Friday evening in New York.
	saturday := time.Date(2026, 3, 7, 3, 0, 0, 0, time.UTC)
	logNights(t, store, "u1", saturday, 1, 8*time.Hour, nil)
	logNights(t, store, "u1", saturday.AddDate(0, 0, 7), 1, 8*time.Hour, nil)
	logNights(t, store, "u1", saturday.AddDate(0, 0, 14), 1, 8*time.Hour, nil)

	results, err := d.DetectSleepWakePatterns(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, types.RecurrenceWeekday, results[1].Pattern.Recurrence)
}
