package engine

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/cadence/internal/storage/sqlite"
	"github.com/scrypster/cadence/pkg/types"
)

// monday is 2026-03-02 23:00 UTC.
var monday = time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// fixedClock returns a clock that always reads now.
func fixedClock(now time.Time) func() time.Time {
	return func() time.Time { return now }
}

// logNights appends n sleep/wake cycles, one per day from start, each
// lasting d.
func logNights(t *testing.T, store *sqlite.Store, owner string, start time.Time, n int, d time.Duration, quality *float64) {
	t.Helper()
	for i := 0; i < n; i++ {
		sleep := start.AddDate(0, 0, i)
		require.NoError(t, store.AppendSleepWake(context.Background(), &types.SleepWakeLog{
			OwnerID:         owner,
			SleepAt:         sleep,
			WakeAt:          sleep.Add(d),
			DurationMinutes: int(d / time.Minute),
			Quality:         quality,
		}))
	}
}

func logActivity(t *testing.T, store *sqlite.Store, owner, tag string, start time.Time, d time.Duration, location string) {
	t.Helper()
	end := start.Add(d)
	minutes := int(d / time.Minute)
	require.NoError(t, store.AppendActivity(context.Background(), &types.ActivityLog{
		OwnerID:         owner,
		Tag:             tag,
		StartAt:         start,
		EndAt:           &end,
		DurationMinutes: &minutes,
		Location:        location,
		Intensity:       types.IntensityMedium,
	}))
}

func ptr[T any](v T) *T { return &v }
