package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/cadence/internal/storage"
	"github.com/scrypster/cadence/pkg/types"
)

// newTestStore creates an in-memory SQLite store for testing.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

var base = time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC)

func TestObservations_AppendAndRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	quality := 0.8
	for i := 0; i < 3; i++ {
		sleep := base.AddDate(0, 0, i)
		require.NoError(t, store.AppendSleepWake(ctx, &types.SleepWakeLog{
			OwnerID:         "u1",
			SleepAt:         sleep,
			WakeAt:          sleep.Add(8 * time.Hour),
			DurationMinutes: 480,
			Quality:         &quality,
		}))
	}
	require.NoError(t, store.AppendSleepWake(ctx, &types.SleepWakeLog{
		OwnerID: "u2", SleepAt: base, WakeAt: base.Add(time.Hour), DurationMinutes: 60,
	}))

	logs, err := store.RecentSleepWake(ctx, "u1", 10, 0)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.True(t, logs[0].SleepAt.Equal(base.AddDate(0, 0, 2)), "newest first")
	assert.Equal(t, 480, logs[0].DurationMinutes)
	require.NotNil(t, logs[0].Quality)
	assert.Equal(t, 0.8, *logs[0].Quality)
	assert.NotEmpty(t, logs[0].ID)

	page, err := store.RecentSleepWake(ctx, "u1", 2, 2)
	require.NoError(t, err)
	assert.Len(t, page, 1)
}

func TestObservations_ActivityTagFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	end := base.Add(45 * time.Minute)
	duration := 45
	require.NoError(t, store.AppendActivity(ctx, &types.ActivityLog{
		OwnerID: "u1", Tag: "running", StartAt: base, EndAt: &end, DurationMinutes: &duration,
		Location: "park", Intensity: types.IntensityHigh,
	}))
	require.NoError(t, store.AppendActivity(ctx, &types.ActivityLog{
		OwnerID: "u1", Tag: "reading", StartAt: base.Add(time.Hour),
	}))

	all, err := store.RecentActivities(ctx, "u1", storage.ActivityFilter{}, 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	running, err := store.RecentActivities(ctx, "u1", storage.ActivityFilter{Tag: "running"}, 10, 0)
	require.NoError(t, err)
	require.Len(t, running, 1)
	got := running[0]
	assert.Equal(t, "park", got.Location)
	assert.Equal(t, types.IntensityHigh, got.Intensity)
	require.NotNil(t, got.EndAt)
	assert.True(t, got.EndAt.Equal(end))
	require.NotNil(t, got.DurationMinutes)
	assert.Equal(t, 45, *got.DurationMinutes)

	reading, err := store.RecentActivities(ctx, "u1", storage.ActivityFilter{Tag: "reading"}, 10, 0)
	require.NoError(t, err)
	require.Len(t, reading, 1)
	assert.Nil(t, reading[0].EndAt)
	assert.Nil(t, reading[0].DurationMinutes)
}

func sleepPattern(owner string, recurrence types.RecurrenceClass, confidence float64) *types.Pattern {
	return &types.Pattern{
		OwnerID:     owner,
		Kind:        types.KindSleepWake,
		Recurrence:  recurrence,
		Name:        "Daily sleep schedule",
		Confidence:  confidence,
		SampleCount: 10,
		Metadata: types.SleepWakeMetadata{
			AverageSleepTime:     "23:00",
			AverageWakeTime:      "07:00",
			AverageSleepDuration: 480,
		},
		Active:         true,
		LastObservedAt: base,
	}
}

func TestPatterns_UpsertKeepsOneActivePerKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.UpsertPattern(ctx, sleepPattern("u1", types.RecurrenceDaily, 0.7))
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Zero(t, first.PreviousConfidence)

	second, err := store.UpsertPattern(ctx, sleepPattern("u1", types.RecurrenceDaily, 0.9))
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, 0.7, second.PreviousConfidence)
	assert.Equal(t, first.Pattern.ID, second.Pattern.ID)

	active := true
	patterns, err := store.ListPatterns(ctx, storage.PatternQuery{OwnerID: "u1", Active: &active})
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, 0.9, patterns[0].Confidence)

	meta, ok := patterns[0].Metadata.(types.SleepWakeMetadata)
	require.True(t, ok)
	assert.Equal(t, "23:00", meta.AverageSleepTime)
	assert.Equal(t, 480, meta.AverageSleepDuration)
}

func TestPatterns_InsertRejectsDuplicateActiveKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertPattern(ctx, sleepPattern("u1", types.RecurrenceDaily, 0.7)))
	assert.Error(t, store.InsertPattern(ctx, sleepPattern("u1", types.RecurrenceDaily, 0.8)))
}

func TestPatterns_UpdateAndDeactivate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	res, err := store.UpsertPattern(ctx, sleepPattern("u1", types.RecurrenceWeekend, 0.6))
	require.NoError(t, err)
	id := res.Pattern.ID

	name := "Weekend sleep schedule"
	confidence := 0.75
	updated, err := store.UpdatePattern(ctx, id, "u1", types.PatternPatch{Name: &name, Confidence: &confidence})
	require.NoError(t, err)
	assert.Equal(t, name, updated.Name)
	assert.Equal(t, 0.75, updated.Confidence)

	_, err = store.UpdatePattern(ctx, id, "someone-else", types.PatternPatch{Name: &name})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.DeactivatePattern(ctx, id, "u1"))
	assert.ErrorIs(t, store.DeactivatePattern(ctx, id, "u1"), storage.ErrNotFound)

	_, err = store.UpdatePattern(ctx, id, "u1", types.PatternPatch{Name: &name})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = store.FindActivePattern(ctx, types.PatternKey{OwnerID: "u1", Kind: types.KindSleepWake, Recurrence: types.RecurrenceWeekend})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// A new detection after deactivation starts a fresh pattern.
	again, err := store.UpsertPattern(ctx, sleepPattern("u1", types.RecurrenceWeekend, 0.6))
	require.NoError(t, err)
	assert.True(t, again.Created)
	assert.NotEqual(t, id, again.Pattern.ID)
}

func TestPatterns_ListFiltersAndStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.UpsertPattern(ctx, sleepPattern("u1", types.RecurrenceDaily, 0.9))
	require.NoError(t, err)
	_, err = store.UpsertPattern(ctx, sleepPattern("u1", types.RecurrenceWeekday, 0.6))
	require.NoError(t, err)
	_, err = store.UpsertPattern(ctx, &types.Pattern{
		OwnerID: "u1", Kind: types.KindActivity, Recurrence: types.RecurrenceDaily, Subtype: "running",
		Name: "Running routine", Confidence: 0.7, SampleCount: 4,
		Metadata: types.ActivityMetadata{Tag: "running", AverageStartTime: "07:00"},
	})
	require.NoError(t, err)

	tests := []struct {
		name  string
		query storage.PatternQuery
		want  int
	}{
		{"all", storage.PatternQuery{OwnerID: "u1"}, 3},
		{"kind", storage.PatternQuery{OwnerID: "u1", Kinds: []types.PatternKind{types.KindActivity}}, 1},
		{"recurrence", storage.PatternQuery{OwnerID: "u1", RecurrenceClasses: []types.RecurrenceClass{types.RecurrenceDaily}}, 2},
		{"min confidence", storage.PatternQuery{OwnerID: "u1", MinConfidence: 0.65}, 2},
		{"other owner", storage.PatternQuery{OwnerID: "u2"}, 0},
		{"limit", storage.PatternQuery{OwnerID: "u1", Limit: 1}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ListPatterns(ctx, tt.query)
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}

	all, err := store.ListPatterns(ctx, storage.PatternQuery{OwnerID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 0.9, all[0].Confidence, "highest confidence first")

	stats, err := store.PatternStats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Count)
	assert.InDelta(t, (0.9+0.6+0.7)/3, stats.MeanConfidence, 1e-9)
	assert.Equal(t, 2, stats.CountByKind[types.KindSleepWake])
	assert.Equal(t, 2, stats.CountByRecurrence[types.RecurrenceDaily])
	require.NotNil(t, stats.MostReliable)
	assert.Equal(t, 0.9, stats.MostReliable.Confidence)
	assert.Equal(t, 0.6, stats.LeastReliable.Confidence)
}

func TestMemories_Search(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, m := range []*types.Memory{
		{OwnerID: "u1", Content: "Planning a trip to Lisbon", Importance: 0.9, Tags: []string{"travel"}, CreatedAt: base},
		{OwnerID: "u1", Content: "Bought running shoes", Summary: "New gear", Importance: 0.4, CreatedAt: base.Add(time.Hour)},
		{OwnerID: "u1", Content: "Dentist 100% booked", Importance: 0.4, CreatedAt: base.Add(2 * time.Hour)},
		{OwnerID: "u2", Content: "Lisbon again", Importance: 1},
	} {
		require.NoError(t, store.PutMemory(ctx, m))
	}

	res, err := store.SearchMemories(ctx, "u1", storage.MemoryFilter{})
	require.NoError(t, err)
	require.Len(t, res.Items, 3)
	assert.Equal(t, 3, res.Total)
	assert.False(t, res.HasMore)
	assert.Equal(t, "Planning a trip to Lisbon", res.Items[0].Content)
	assert.Equal(t, "Dentist 100% booked", res.Items[1].Content, "equal importance: newest first")
	assert.Equal(t, []string{"travel"}, res.Items[0].Tags)

	tests := []struct {
		name   string
		filter storage.MemoryFilter
		want   int
	}{
		{"content match", storage.MemoryFilter{Query: "lisbon"}, 1},
		{"summary match", storage.MemoryFilter{Query: "GEAR"}, 1},
		{"tag match", storage.MemoryFilter{Query: "travel"}, 1},
		{"percent is literal", storage.MemoryFilter{Query: "100%"}, 1},
		{"since", storage.MemoryFilter{Since: base.Add(30 * time.Minute)}, 2},
		{"min importance", storage.MemoryFilter{MinImportance: 0.5}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.SearchMemories(ctx, "u1", tt.filter)
			require.NoError(t, err)
			assert.Len(t, got.Items, tt.want)
			assert.Equal(t, tt.want, got.Total)
		})
	}

	page, err := store.SearchMemories(ctx, "u1", storage.MemoryFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.True(t, page.HasMore)
}

func contextItem(owner string, category types.Category, expires time.Time) *types.ContextItem {
	return &types.ContextItem{
		OwnerID:    owner,
		Category:   category,
		Score:      0.8,
		Level:      types.LevelHigh,
		TimeWindow: types.WindowNow,
		Timestamp:  base,
		ExpiresAt:  &expires,
		Payload:    types.MemoryPayload{MemoryID: "m1", Content: "hello", Importance: 0.5, CreatedAt: base},
	}
}

func TestContextItems_InsertGetUpdate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	item := contextItem("u1", types.CategoryRecentActivity, base.Add(6*time.Hour))
	require.NoError(t, store.InsertContextItem(ctx, item))
	require.NotEmpty(t, item.ID)

	got, err := store.GetContextItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, types.CategoryRecentActivity, got.Category)
	assert.Equal(t, types.LevelHigh, got.Level)
	assert.Equal(t, types.OriginMemory, got.Origin())
	payload, ok := got.Payload.(types.MemoryPayload)
	require.True(t, ok)
	assert.Equal(t, "hello", payload.Content)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, got.ExpiresAt.Equal(base.Add(6*time.Hour)))

	got.Score = 0.2
	got.Payload = types.StatePayload{StateFields: types.StateFields{Activity: "coding"}}
	require.NoError(t, store.UpdateContextItem(ctx, got))

	again, err := store.GetContextItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.2, again.Score)
	assert.Equal(t, types.OriginState, again.Origin())

	_, err = store.GetContextItem(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	missing := contextItem("u1", types.CategoryPatterns, base)
	missing.ID = "missing"
	assert.ErrorIs(t, store.UpdateContextItem(ctx, missing), storage.ErrNotFound)
}

func TestContextItems_SourceKeyOverwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := contextItem("u1", types.CategoryRecentActivity, base.Add(time.Hour))
	first.SourceKey = "memory:m1"
	require.NoError(t, store.InsertContextItem(ctx, first))

	second := contextItem("u1", types.CategoryRecentActivity, base.Add(2*time.Hour))
	second.SourceKey = "memory:m1"
	second.Score = 0.3
	require.NoError(t, store.InsertContextItem(ctx, second))
	assert.Equal(t, first.ID, second.ID)

	other := contextItem("u2", types.CategoryRecentActivity, base.Add(time.Hour))
	other.SourceKey = "memory:m1"
	require.NoError(t, store.InsertContextItem(ctx, other))
	assert.NotEqual(t, first.ID, other.ID)

	items, err := store.ListContextItems(ctx, "u1", storage.ContextFilter{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 0.3, items[0].Score)
}

func TestContextItems_ExpiryAndCurrentState(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := base.Add(3 * time.Hour)

	live := contextItem("u1", types.CategoryPatterns, now.Add(time.Hour))
	expired := contextItem("u1", types.CategoryRecentActivity, now.Add(-time.Minute))
	boundary := contextItem("u1", types.CategoryRecentActivity, now)
	state := contextItem("u1", types.CategoryCurrentState, now.Add(time.Hour))
	otherOwner := contextItem("u2", types.CategoryRecentActivity, now.Add(-time.Minute))
	for _, item := range []*types.ContextItem{live, expired, boundary, state, otherOwner} {
		require.NoError(t, store.InsertContextItem(ctx, item))
	}

	items, err := store.ListContextItems(ctx, "u1", storage.ContextFilter{NotExpiredAt: now})
	require.NoError(t, err)
	assert.Len(t, items, 3, "expiring exactly now is still live")

	patterns, err := store.ListContextItems(ctx, "u1", storage.ContextFilter{Categories: []types.Category{types.CategoryPatterns}})
	require.NoError(t, err)
	assert.Len(t, patterns, 1)

	found, err := store.FindCurrentState(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, state.ID, found.ID)
	_, err = store.FindCurrentState(ctx, "u2")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	n, err := store.DeleteExpired(ctx, "u1", now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = store.DeleteExpired(ctx, "u1", now)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = store.PurgeExpired(ctx, now.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 4, n, "remaining u1 items and u2's expired item")
}

func TestDBPathFromDSN(t *testing.T) {
	tests := []struct {
		dsn  string
		want string
	}{
		{":memory:", ""},
		{"", ""},
		{"/var/lib/cadence/cadence.db", "/var/lib/cadence/cadence.db"},
		{"file:/tmp/cadence.db?mode=rwc", "/tmp/cadence.db"},
		{"file::memory:?cache=shared", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, dbPathFromDSN(tt.dsn), tt.dsn)
	}
}
