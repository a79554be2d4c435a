package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/cadence/internal/storage"
	"github.com/scrypster/cadence/internal/storage/sqlite"
	"github.com/scrypster/cadence/pkg/types"
)

var aggregationNow = time.Date(2026, 3, 12, 12, 0, 0, 0, time.UTC)

func newTestAggregator(t *testing.T) (*ContextAggregator, *sqlite.Store) {
	t.Helper()
	store := newTestStore(t)
	a := NewContextAggregator(store, store, store, DefaultConfig(), quietLogger())
	a.now = fixedClock(aggregationNow)
	return a, store
}

func putMemory(t *testing.T, store *sqlite.Store, owner, content, summary string, createdAt time.Time) {
	t.Helper()
	require.NoError(t, store.PutMemory(context.Background(), &types.Memory{
		OwnerID:    owner,
		Content:    content,
		Summary:    summary,
		Importance: 0.5,
		CreatedAt:  createdAt,
	}))
}

func putSleepPattern(t *testing.T, store *sqlite.Store, owner string, confidence float64, lastObserved time.Time) *types.Pattern {
	t.Helper()
	res, err := store.UpsertPattern(context.Background(), &types.Pattern{
		OwnerID:     owner,
		Kind:        types.KindSleepWake,
		Recurrence:  types.RecurrenceDaily,
		Name:        "Daily sleep schedule",
		Description: "Sleeps around 23:00 and wakes around 07:00 (8h on average)",
		Confidence:  confidence,
		SampleCount: 10,
		Metadata: types.SleepWakeMetadata{
			AverageSleepTime:     "23:00",
			AverageWakeTime:      "07:00",
			AverageSleepDuration: 480,
		},
		Active:         true,
		LastObservedAt: lastObserved,
	})
	require.NoError(t, err)
	return res.Pattern
}

func TestAggregateContext_WrapsMemoriesAndPatterns(t *testing.T) {
	a, store := newTestAggregator(t)
	ctx := context.Background()

	putMemory(t, store, "u1", "Finished the quarterly report", "Report is done", aggregationNow.Add(-time.Hour))
	putMemory(t, store, "u2", "Someone else's memory", "", aggregationNow)
	pattern := putSleepPattern(t, store, "u1", 1.0, aggregationNow.Add(-5*time.Hour))

	view, err := a.AggregateContext(ctx, "u1", AggregateOptions{IncludeMemories: true, IncludePatterns: true})
	require.NoError(t, err)
	require.Len(t, view.Items, 2)
	assert.Equal(t, "u1", view.OwnerID)
	assert.True(t, view.GeneratedAt.Equal(aggregationNow))

	for i := 1; i < len(view.Items); i++ {
		assert.GreaterOrEqual(t, view.Items[i-1].Score, view.Items[i].Score)
	}

	var memoryItem, patternItem *types.ContextItem
	for _, item := range view.Items {
		switch item.Origin() {
		case types.OriginMemory:
			memoryItem = item
		case types.OriginPattern:
			patternItem = item
		}
	}
	require.NotNil(t, memoryItem)
	require.NotNil(t, patternItem)

	assert.Equal(t, types.CategoryRecentActivity, memoryItem.Category)
	assert.Equal(t, types.WindowRecent, memoryItem.TimeWindow)
	assert.InDelta(t, RecencyScore(aggregationNow.Add(-time.Hour), aggregationNow, 24), memoryItem.Score, 1e-9)
	assert.Equal(t, types.LevelCritical, memoryItem.Level)
	require.NotNil(t, memoryItem.ExpiresAt)
	assert.True(t, memoryItem.ExpiresAt.Equal(aggregationNow.Add(6*time.Hour)))

	assert.Equal(t, types.CategoryPatterns, patternItem.Category)
	assert.Equal(t, patternSourcePrefix+pattern.ID, patternItem.SourceKey)
	assert.Equal(t, types.WindowRecent, patternItem.TimeWindow)
	want := (2*1.0 + RecencyScore(aggregationNow.Add(-5*time.Hour), aggregationNow, 24)) / 3
	assert.InDelta(t, want, patternItem.Score, 1e-9)

	assert.Equal(t, "Report is done", view.Summary.PrimaryActivity)
	assert.Equal(t, 1, view.Summary.ActiveGoalCount)
	assert.Contains(t, view.Summary.KeyInsights, "Report is done")
	assert.Contains(t, view.Summary.KeyInsights, "You typically go to sleep around 23:00 and wake up around 07:00.")
	assert.LessOrEqual(t, len(view.Summary.KeyInsights), 5)
}

func TestAggregateContext_ReaggregationDoesNotDuplicate(t *testing.T) {
	a, store := newTestAggregator(t)
	ctx := context.Background()

	putMemory(t, store, "u1", "Booked flights", "", aggregationNow.Add(-2*time.Hour))
	putSleepPattern(t, store, "u1", 0.8, aggregationNow.Add(-time.Hour))

	opts := AggregateOptions{IncludeMemories: true, IncludePatterns: true}
	first, err := a.AggregateContext(ctx, "u1", opts)
	require.NoError(t, err)
	second, err := a.AggregateContext(ctx, "u1", opts)
	require.NoError(t, err)
	assert.Len(t, second.Items, len(first.Items))

	stored, err := store.ListContextItems(ctx, "u1", storage.ContextFilter{})
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestAggregateContext_SourcesAreOptional(t *testing.T) {
	a, store := newTestAggregator(t)
	ctx := context.Background()

	putMemory(t, store, "u1", "Booked flights", "", aggregationNow)
	putSleepPattern(t, store, "u1", 0.8, aggregationNow)

	view, err := a.AggregateContext(ctx, "u1", AggregateOptions{})
	require.NoError(t, err)
	assert.Empty(t, view.Items)
	assert.NotNil(t, view.Summary.KeyInsights)

	view, err = a.AggregateContext(ctx, "u1", AggregateOptions{IncludePatterns: true})
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assert.Equal(t, types.OriginPattern, view.Items[0].Origin())
}

func TestAggregateContext_ExcludedSourcesAreNotReread(t *testing.T) {
	a, store := newTestAggregator(t)
	ctx := context.Background()

	putMemory(t, store, "u1", "Booked flights", "", aggregationNow.Add(-2*time.Hour))
	putSleepPattern(t, store, "u1", 0.8, aggregationNow.Add(-time.Hour))
	_, err := a.AggregateContext(ctx, "u1", AggregateOptions{IncludeMemories: true, IncludePatterns: true})
	require.NoError(t, err)

	tests := []struct {
		name string
		opts AggregateOptions
		want []types.Origin
	}{
		{"both", AggregateOptions{IncludeMemories: true, IncludePatterns: true}, []types.Origin{types.OriginMemory, types.OriginPattern}},
		{"memories only", AggregateOptions{IncludeMemories: true}, []types.Origin{types.OriginMemory}},
		{"patterns only", AggregateOptions{IncludePatterns: true}, []types.Origin{types.OriginPattern}},
		{"neither", AggregateOptions{}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			view, err := a.AggregateContext(ctx, "u1", tt.opts)
			require.NoError(t, err)
			var got []types.Origin
			for _, item := range view.Items {
				got = append(got, item.Origin())
			}
			assert.ElementsMatch(t, tt.want, got)
		})
	}
}

func TestAggregateContext_DeactivatedPatternLeavesView(t *testing.T) {
	a, store := newTestAggregator(t)
	ctx := context.Background()
	opts := AggregateOptions{IncludeMemories: true, IncludePatterns: true}

	p := putSleepPattern(t, store, "u1", 0.8, aggregationNow.Add(-time.Hour))
	view, err := a.AggregateContext(ctx, "u1", opts)
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assert.Equal(t, 1, view.Summary.ActiveGoalCount)
	assert.NotEmpty(t, view.Summary.KeyInsights)

	require.NoError(t, store.DeactivatePattern(ctx, p.ID, "u1"))

	view, err = a.AggregateContext(ctx, "u1", opts)
	require.NoError(t, err)
	assert.Empty(t, view.Items)
	assert.Equal(t, 0, view.Summary.ActiveGoalCount)
	assert.Empty(t, view.Summary.KeyInsights)

	q := NewContextQuery(a)
	matches, err := q.QueryContext(ctx, "u1", []string{"sleep"}, 0)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestAggregateContext_MinRelevance(t *testing.T) {
	a, store := newTestAggregator(t)
	ctx := context.Background()

	putMemory(t, store, "u1", "Fresh note", "", aggregationNow.Add(-30*time.Minute))
	putMemory(t, store, "u1", "Stale note", "", aggregationNow.Add(-72*time.Hour))

	high := types.LevelHigh
	view, err := a.AggregateContext(ctx, "u1", AggregateOptions{IncludeMemories: true, MinRelevance: &high})
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assert.Equal(t, "Fresh note", view.Items[0].Payload.Describe())
	for _, item := range view.Items {
		assert.GreaterOrEqual(t, item.Level, types.LevelHigh)
	}
}

func TestAggregateContext_DropsExpiredItems(t *testing.T) {
	a, store := newTestAggregator(t)
	ctx := context.Background()

	past := aggregationNow.Add(-time.Minute)
	expired, err := a.CreateContextItem(ctx, ContextItemInput{
		OwnerID:   "u1",
		Category:  "notes",
		Payload:   types.StatePayload{StateFields: types.StateFields{Focus: "taxes"}},
		ExpiresAt: &past,
	})
	require.NoError(t, err)

	live, err := a.CreateContextItem(ctx, ContextItemInput{
		OwnerID:  "u1",
		Category: "notes",
		Payload:  types.StatePayload{StateFields: types.StateFields{Focus: "garden"}},
	})
	require.NoError(t, err)

	view, err := a.AggregateContext(ctx, "u1", AggregateOptions{})
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assert.Equal(t, live.ID, view.Items[0].ID)

	_, err = store.GetContextItem(ctx, expired.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCleanupExpiredContext(t *testing.T) {
	a, _ := newTestAggregator(t)
	ctx := context.Background()

	past := aggregationNow.Add(-time.Hour)
	for i := 0; i < 2; i++ {
		_, err := a.CreateContextItem(ctx, ContextItemInput{OwnerID: "u1", Category: "notes", ExpiresAt: &past})
		require.NoError(t, err)
	}
	_, err := a.CreateContextItem(ctx, ContextItemInput{OwnerID: "u2", Category: "notes", ExpiresAt: &past})
	require.NoError(t, err)

	n, err := a.CleanupExpiredContext(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = a.CleanupExpiredContext(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpdateCurrentState_Singleton(t *testing.T) {
	a, store := newTestAggregator(t)
	ctx := context.Background()

	first, err := a.UpdateCurrentState(ctx, "u1", types.StateFields{Activity: "coding", Location: "office"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, first.Score)
	assert.Equal(t, types.LevelCritical, first.Level)
	assert.Equal(t, types.WindowNow, first.TimeWindow)
	require.NotNil(t, first.ExpiresAt)
	assert.True(t, first.ExpiresAt.Equal(aggregationNow.Add(time.Hour)))

	a.now = fixedClock(aggregationNow.Add(10 * time.Minute))
	second, err := a.UpdateCurrentState(ctx, "u1", types.StateFields{Activity: "lunch"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.ExpiresAt.Equal(aggregationNow.Add(70*time.Minute)))

	items, err := store.ListContextItems(ctx, "u1", storage.ContextFilter{Categories: []types.Category{types.CategoryCurrentState}})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "lunch", items[0].Payload.Describe())

	view, err := a.AggregateContext(ctx, "u1", AggregateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "lunch", view.Summary.PrimaryActivity)
}

func TestUpdateCurrentState_RejectsEmpty(t *testing.T) {
	a, _ := newTestAggregator(t)

	_, err := a.UpdateCurrentState(context.Background(), "u1", types.StateFields{})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestCreateContextItem(t *testing.T) {
	a, _ := newTestAggregator(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		input   ContextItemInput
		wantErr bool
		check   func(t *testing.T, item *types.ContextItem)
	}{
		{
			name:  "defaults to recency score and category expiry",
			input: ContextItemInput{OwnerID: "u1", Category: types.CategoryRecentActivity, Timestamp: aggregationNow.Add(-24 * time.Hour)},
			check: func(t *testing.T, item *types.ContextItem) {
				assert.InDelta(t, 0.3679, item.Score, 1e-4)
				assert.Equal(t, types.LevelLow, item.Level)
				assert.Equal(t, types.WindowThisWeek, item.TimeWindow)
				assert.True(t, item.ExpiresAt.Equal(aggregationNow.Add(6*time.Hour)))
			},
		},
		{
			name:  "explicit score",
			input: ContextItemInput{OwnerID: "u1", Category: "notes", Score: ptr(0.75)},
			check: func(t *testing.T, item *types.ContextItem) {
				assert.Equal(t, 0.75, item.Score)
				assert.Equal(t, types.LevelHigh, item.Level)
				assert.True(t, item.Timestamp.Equal(aggregationNow))
				assert.True(t, item.ExpiresAt.Equal(aggregationNow.Add(24*time.Hour)))
			},
		},
		{name: "missing owner", input: ContextItemInput{Category: "notes"}, wantErr: true},
		{name: "missing category", input: ContextItemInput{OwnerID: "u1"}, wantErr: true},
		{name: "score out of range", input: ContextItemInput{OwnerID: "u1", Category: "notes", Score: ptr(1.5)}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item, err := a.CreateContextItem(ctx, tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, storage.ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, item.ID)
			tt.check(t, item)
		})
	}
}

func TestGetContextItem(t *testing.T) {
	a, _ := newTestAggregator(t)
	ctx := context.Background()

	item, err := a.CreateContextItem(ctx, ContextItemInput{OwnerID: "u1", Category: "notes"})
	require.NoError(t, err)

	got, err := a.GetContextItem(ctx, "u1", item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.ID, got.ID)

	_, err = a.GetContextItem(ctx, "u2", item.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	a.now = fixedClock(aggregationNow.Add(25 * time.Hour))
	_, err = a.GetContextItem(ctx, "u1", item.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
