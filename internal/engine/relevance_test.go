package engine

import (
	"math"
	"testing"
	"time"

	"github.com/scrypster/cadence/pkg/types"
)

func TestRecencyScore(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	if got := RecencyScore(now, now, 24); got != 1 {
		t.Errorf("RecencyScore at Δ=0 = %f, want 1", got)
	}
	if got := RecencyScore(now.Add(-24*time.Hour), now, 24); math.Abs(got-math.Exp(-1)) > 1e-9 {
		t.Errorf("RecencyScore at Δ=24h = %f, want %f", got, math.Exp(-1))
	}
	if got := RecencyScore(now.Add(time.Hour), now, 24); got != 1 {
		t.Errorf("future timestamp should score 1, got %f", got)
	}
}

func TestRelevanceModel_Score(t *testing.T) {
	m := NewRelevanceModel(DefaultConfig().Relevance)

	if got := m.Score(Factors{}); got != 0 {
		t.Errorf("empty factors should score 0, got %f", got)
	}

	// Absent factors are excluded from the denominator.
	if got := m.Score(Factors{FactorRecency: 0.6}); math.Abs(got-0.6) > 1e-9 {
		t.Errorf("single factor score = %f, want 0.6", got)
	}

	// Confidence weighs 2 by default.
	got := m.Score(Factors{FactorConfidence: 0.9, FactorRecency: 0.3})
	want := (0.9*2 + 0.3) / 3
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("weighted score = %f, want %f", got, want)
	}

	if got := m.Score(Factors{FactorRecency: 1.7}); got != 1 {
		t.Errorf("out-of-range factor should clamp, got %f", got)
	}
}

func TestRelevanceModel_ZeroWeights(t *testing.T) {
	cfg := DefaultConfig().Relevance
	cfg.Weights = map[Factor]float64{FactorRecency: 0}
	m := NewRelevanceModel(cfg)

	if got := m.Score(Factors{FactorRecency: 0.8}); got != 0 {
		t.Errorf("zero total weight should score 0, got %f", got)
	}
}

func TestRelevanceModel_Level(t *testing.T) {
	m := NewRelevanceModel(DefaultConfig().Relevance)

	tests := []struct {
		score float64
		want  types.RelevanceLevel
	}{
		{1.0, types.LevelCritical},
		{0.9, types.LevelCritical},
		{0.89, types.LevelHigh},
		{0.7, types.LevelHigh},
		{0.5, types.LevelMedium},
		{0.3, types.LevelLow},
		{0.29, types.LevelMinimal},
		{0, types.LevelMinimal},
	}
	for _, tt := range tests {
		if got := m.Level(tt.score); got != tt.want {
			t.Errorf("Level(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestRelevanceModel_Window(t *testing.T) {
	m := NewRelevanceModel(DefaultConfig().Relevance)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		ago  time.Duration
		want types.TimeWindow
	}{
		{0, types.WindowNow},
		{59 * time.Minute, types.WindowNow},
		{time.Hour, types.WindowRecent},
		{6 * time.Hour, types.WindowToday},
		{24 * time.Hour, types.WindowThisWeek},
		{7 * 24 * time.Hour, types.WindowOlder},
	}
	for _, tt := range tests {
		if got := m.Window(now.Add(-tt.ago), now); got != tt.want {
			t.Errorf("Window(-%v) = %s, want %s", tt.ago, got, tt.want)
		}
	}
}

func TestRelevanceModel_Expiry(t *testing.T) {
	m := NewRelevanceModel(DefaultConfig().Relevance)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		category types.Category
		want     time.Duration
	}{
		{types.CategoryCurrentState, time.Hour},
		{types.CategoryRecentActivity, 6 * time.Hour},
		{types.CategoryPatterns, 30 * 24 * time.Hour},
		{"notes", 24 * time.Hour},
	}
	for _, tt := range tests {
		if got := m.Expiry(tt.category, now); !got.Equal(now.Add(tt.want)) {
			t.Errorf("Expiry(%s) = %v, want %v", tt.category, got, now.Add(tt.want))
		}
	}
}

func TestIsExpired(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	if IsExpired(&types.ContextItem{}, now) {
		t.Error("item without expiry should never expire")
	}
	if IsExpired(&types.ContextItem{ExpiresAt: &now}, now) {
		t.Error("expiry equal to now is still live")
	}
	past := now.Add(-time.Second)
	if !IsExpired(&types.ContextItem{ExpiresAt: &past}, now) {
		t.Error("expiry before now should be expired")
	}
}
