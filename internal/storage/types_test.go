package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/cadence/pkg/types"
)

func TestPatternQuery_Normalize(t *testing.T) {
	q := PatternQuery{Limit: 0, Offset: -4, MinConfidence: -1}
	q.Normalize()
	assert.Equal(t, DefaultLimit, q.Limit)
	assert.Equal(t, 0, q.Offset)
	assert.Equal(t, 0.0, q.MinConfidence)

	q = PatternQuery{Limit: 10_000}
	q.Normalize()
	assert.Equal(t, MaxLimit, q.Limit)
}

func TestComputePatternStats_Empty(t *testing.T) {
	stats := ComputePatternStats(nil)
	assert.Equal(t, 0, stats.Count)
	assert.Nil(t, stats.MostReliable)
	assert.Nil(t, stats.LeastReliable)
	assert.NotNil(t, stats.CountByKind)
}

func TestComputePatternStats(t *testing.T) {
	patterns := []*types.Pattern{
		{ID: "a", Kind: types.KindSleepWake, Recurrence: types.RecurrenceDaily, Confidence: 0.9, SampleCount: 10},
		{ID: "b", Kind: types.KindSleepWake, Recurrence: types.RecurrenceWeekend, Confidence: 0.6, SampleCount: 3},
		{ID: "c", Kind: types.KindActivity, Recurrence: types.RecurrenceDaily, Confidence: 0.9, SampleCount: 25},
	}

	stats := ComputePatternStats(patterns)

	assert.Equal(t, 3, stats.Count)
	assert.InDelta(t, 0.8, stats.MeanConfidence, 1e-9)
	assert.Equal(t, 2, stats.CountByKind[types.KindSleepWake])
	assert.Equal(t, 1, stats.CountByKind[types.KindActivity])
	assert.Equal(t, 2, stats.CountByRecurrence[types.RecurrenceDaily])
	require.NotNil(t, stats.MostReliable)
	assert.Equal(t, "c", stats.MostReliable.ID, "equal confidence breaks on sample count")
	assert.Equal(t, "b", stats.LeastReliable.ID)
	assert.Equal(t, "a", patterns[0].ID, "input order is untouched")
}
