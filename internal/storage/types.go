package storage

import (
	"errors"
	"sort"
	"time"

	"github.com/scrypster/cadence/pkg/types"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")
)

// Default and maximum page sizes shared by the backends.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// PaginatedResult represents a paginated result set with type safety using generics.
type PaginatedResult[T any] struct {
	// Items is the slice of results for the current page.
	Items []T `json:"items"`

	// Total is the total number of matching items across all pages.
	Total int `json:"total"`

	// HasMore indicates whether there are more items after this page.
	HasMore bool `json:"has_more"`
}

// ActivityFilter restricts activity reads.
type ActivityFilter struct {
	// Tag matches the activity tag exactly. Empty means any tag.
	Tag string
}

// PatternQuery selects patterns for ListPatterns.
type PatternQuery struct {
	OwnerID           string
	Kinds             []types.PatternKind
	RecurrenceClasses []types.RecurrenceClass
	MinConfidence     float64

	// Active filters by the active flag; nil returns both.
	Active *bool

	Limit  int
	Offset int
}

// Normalize applies defaults and bounds to the query.
func (q *PatternQuery) Normalize() {
	q.Limit = NormalizeLimit(q.Limit)
	if q.Offset < 0 {
		q.Offset = 0
	}
	if q.MinConfidence < 0 {
		q.MinConfidence = 0
	}
}

// UpsertResult reports the outcome of PatternStore.UpsertPattern.
type UpsertResult struct {
	Pattern *types.Pattern

	// Created is true when no active pattern existed for the key.
	Created bool

	// PreviousConfidence is the overwritten confidence; zero when Created.
	PreviousConfidence float64
}

// MemoryFilter selects memories for SearchMemories.
type MemoryFilter struct {
	// Query matches content, summary or tags as a case-insensitive substring.
	Query string

	// Since restricts to memories created at or after this time.
	Since time.Time

	MinImportance float64
	Limit         int
	Offset        int
}

// Normalize applies defaults and bounds to the filter.
func (f *MemoryFilter) Normalize() {
	f.Limit = NormalizeLimit(f.Limit)
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// ContextFilter selects context items for ListContextItems.
type ContextFilter struct {
	// Categories restricts to the given categories. Empty means all.
	Categories []types.Category

	// NotExpiredAt excludes items that are expired at this instant.
	// Zero value disables the check.
	NotExpiredAt time.Time

	Limit int
}

// Normalize applies defaults and bounds to the filter.
func (f *ContextFilter) Normalize() {
	f.Limit = NormalizeLimit(f.Limit)
}

// NormalizeLimit clamps limit to [1, MaxLimit], using DefaultLimit when unset.
func NormalizeLimit(limit int) int {
	if limit < 1 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// ComputePatternStats summarizes patterns. Ties for most/least reliable are
// broken by sample count, then by ID, so the result is deterministic.
func ComputePatternStats(patterns []*types.Pattern) *types.PatternStats {
	stats := &types.PatternStats{
		CountByKind:       make(map[types.PatternKind]int),
		CountByRecurrence: make(map[types.RecurrenceClass]int),
	}
	if len(patterns) == 0 {
		return stats
	}

	sorted := make([]*types.Pattern, len(patterns))
	copy(sorted, patterns)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Confidence != sorted[j].Confidence {
			return sorted[i].Confidence > sorted[j].Confidence
		}
		if sorted[i].SampleCount != sorted[j].SampleCount {
			return sorted[i].SampleCount > sorted[j].SampleCount
		}
		return sorted[i].ID < sorted[j].ID
	})

	var total float64
	for _, p := range sorted {
		stats.CountByKind[p.Kind]++
		stats.CountByRecurrence[p.Recurrence]++
		total += p.Confidence
	}

	stats.Count = len(sorted)
	stats.MeanConfidence = total / float64(len(sorted))
	stats.MostReliable = sorted[0]
	stats.LeastReliable = sorted[len(sorted)-1]

	return stats
}
