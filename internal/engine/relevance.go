package engine

import (
	"math"
	"sort"
	"time"

	"github.com/scrypster/cadence/pkg/types"
)

// Factor names one input to a relevance score.
type Factor string

// Relevance factors
const (
	FactorRecency    Factor = "recency"
	FactorSimilarity Factor = "similarity"
	FactorFrequency  Factor = "frequency"
	FactorConfidence Factor = "confidence"
	FactorImportance Factor = "importance"
	FactorTextMatch  Factor = "text_match"
	FactorStored     Factor = "stored_relevance"
)

// Factors maps each present factor to its value in [0,1]. Absent factors
// contribute to neither the numerator nor the denominator of the score.
type Factors map[Factor]float64

// Contribution is one factor's share of a relevance score.
type Contribution struct {
	Factor Factor  `json:"factor"`
	Value  float64 `json:"value"`
	Weight float64 `json:"weight"`
}

// RelevanceModel holds the pure scoring functions of the context system.
type RelevanceModel struct {
	cfg RelevanceConfig
}

// NewRelevanceModel creates a relevance model.
func NewRelevanceModel(cfg RelevanceConfig) *RelevanceModel {
	return &RelevanceModel{cfg: cfg}
}

// RecencyScore returns exp(-Δhours/halfLifeHours). Timestamps in the future
// score 1.
func RecencyScore(timestamp, now time.Time, halfLifeHours float64) float64 {
	hours := now.Sub(timestamp).Hours()
	if hours < 0 {
		hours = 0
	}
	return math.Exp(-hours / halfLifeHours)
}

// RecencyScore applies the configured half-life.
func (m *RelevanceModel) RecencyScore(timestamp, now time.Time) float64 {
	return RecencyScore(timestamp, now, m.cfg.HalfLifeHours)
}

// weight returns the configured weight for f, 1 when unset.
func (m *RelevanceModel) weight(f Factor) float64 {
	if w, ok := m.cfg.Weights[f]; ok {
		return w
	}
	return 1
}

// Contributions lists the factors in name order with their weights.
func (m *RelevanceModel) Contributions(factors Factors) []Contribution {
	out := make([]Contribution, 0, len(factors))
	for f, v := range factors {
		out = append(out, Contribution{Factor: f, Value: clamp01(v), Weight: m.weight(f)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Factor < out[j].Factor })
	return out
}

// Score is the weighted mean of the present factors, normalized by the sum of
// their weights. An empty factor set, or one whose weights sum to zero,
// scores 0.
func (m *RelevanceModel) Score(factors Factors) float64 {
	var num, den float64
	for _, c := range m.Contributions(factors) {
		num += c.Value * c.Weight
		den += c.Weight
	}
	if den == 0 {
		return 0
	}
	return clamp01(num / den)
}

// Level discretizes a score.
func (m *RelevanceModel) Level(score float64) types.RelevanceLevel {
	l := m.cfg.Levels
	switch {
	case score >= l.Critical:
		return types.LevelCritical
	case score >= l.High:
		return types.LevelHigh
	case score >= l.Medium:
		return types.LevelMedium
	case score >= l.Low:
		return types.LevelLow
	default:
		return types.LevelMinimal
	}
}

// Expiry returns when an item of category created at now should expire.
// Unrecognized categories use the configured fallback.
func (m *RelevanceModel) Expiry(category types.Category, now time.Time) time.Time {
	if d, ok := m.cfg.Expiry[category]; ok {
		return now.Add(d)
	}
	return now.Add(m.cfg.DefaultExpiry)
}

// Window buckets the time elapsed since timestamp. Lower bounds are
// inclusive: exactly one hour ago is RECENT, exactly seven days ago is OLDER.
func (m *RelevanceModel) Window(timestamp, now time.Time) types.TimeWindow {
	elapsed := now.Sub(timestamp)
	w := m.cfg.Windows
	switch {
	case elapsed < w.Now:
		return types.WindowNow
	case elapsed < w.Recent:
		return types.WindowRecent
	case elapsed < w.Today:
		return types.WindowToday
	case elapsed < w.ThisWeek:
		return types.WindowThisWeek
	default:
		return types.WindowOlder
	}
}

// IsExpired reports whether item has an expiry strictly before now.
func IsExpired(item *types.ContextItem, now time.Time) bool {
	return item.IsExpired(now)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
