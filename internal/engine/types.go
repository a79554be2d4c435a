// Package engine implements behavioral pattern detection and the context
// relevance model. It turns a user's sleep/wake and activity observations into
// confidence-scored patterns, and wraps patterns, memories and current state
// into time-decayed context items that can be aggregated and queried.
//
// All operations are request-scoped: every call recomputes from the storage
// collaborators and keeps no mutable state between calls.
package engine

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/scrypster/cadence/pkg/types"
)

// VarianceTier awards Bonus when the spread in minutes is strictly below Below.
type VarianceTier struct {
	Below float64 `yaml:"below"`
	Bonus float64 `yaml:"bonus"`
}

// SampleTier awards Bonus when at least AtLeast samples support a pattern.
type SampleTier struct {
	AtLeast int     `yaml:"at_least"`
	Bonus   float64 `yaml:"bonus"`
}

// ConfidenceTiers defines confidence = Base + varianceBonus + sampleBonus,
// clamped to [0,1]. Tiers are evaluated in order; the first match wins.
type ConfidenceTiers struct {
	Base     float64        `yaml:"base"`
	Variance []VarianceTier `yaml:"variance"`
	Samples  []SampleTier   `yaml:"samples"`
}

// DetectionConfig holds pattern detector thresholds.
type DetectionConfig struct {
	// MinSamples is the minimum number of observations in a scope (default: 3).
	MinSamples int `yaml:"min_samples"`

	// HistoryLimit is how many recent observations are read per detection (default: 90).
	HistoryLimit int `yaml:"history_limit"`

	// DaySpecific enables per-weekday activity patterns (default: true).
	DaySpecific bool `yaml:"day_specific"`

	SleepWake ConfidenceTiers `yaml:"sleep_wake"`
	Activity  ConfidenceTiers `yaml:"activity"`

	Insights InsightConfig `yaml:"insights"`
}

// InsightConfig holds the thresholds used by the insight rules.
type InsightConfig struct {
	VeryConsistentBelow   float64 `yaml:"very_consistent_below"`   // minutes (default: 30)
	FairlyConsistentBelow float64 `yaml:"fairly_consistent_below"` // minutes (default: 60)
	HighConfidence        float64 `yaml:"high_confidence"`         // default: 0.8
	MediumConfidence      float64 `yaml:"medium_confidence"`       // default: 0.6
	TrendThreshold        float64 `yaml:"trend_threshold"`         // default: 0.1
	GoodQualityAbove      float64 `yaml:"good_quality_above"`      // default: 0.8
	FairQualityAbove      float64 `yaml:"fair_quality_above"`      // default: 0.6

	// Activity start times are looser than bedtimes.
	ActivityVeryConsistentBelow   float64 `yaml:"activity_very_consistent_below"`   // minutes (default: 60)
	ActivityFairlyConsistentBelow float64 `yaml:"activity_fairly_consistent_below"` // minutes (default: 120)
}

// LevelThresholds are the lower bounds of each relevance level.
type LevelThresholds struct {
	Critical float64 `yaml:"critical"`
	High     float64 `yaml:"high"`
	Medium   float64 `yaml:"medium"`
	Low      float64 `yaml:"low"`
}

// WindowBounds are the upper bounds (exclusive) of each time window.
type WindowBounds struct {
	Now      time.Duration `yaml:"now"`
	Recent   time.Duration `yaml:"recent"`
	Today    time.Duration `yaml:"today"`
	ThisWeek time.Duration `yaml:"this_week"`
}

// RelevanceConfig holds the relevance model's parameters.
type RelevanceConfig struct {
	// HalfLifeHours is the recency decay constant (default: 24).
	HalfLifeHours float64 `yaml:"half_life_hours"`

	// Weights per factor; factors without an entry weigh 1.
	Weights map[Factor]float64 `yaml:"weights"`

	Levels  LevelThresholds `yaml:"levels"`
	Windows WindowBounds    `yaml:"windows"`

	// Expiry per category; categories without an entry use DefaultExpiry.
	Expiry        map[types.Category]time.Duration `yaml:"expiry"`
	DefaultExpiry time.Duration                    `yaml:"default_expiry"`
}

// AggregationConfig holds context aggregator limits.
type AggregationConfig struct {
	MemoryLimit  int `yaml:"memory_limit"`  // memories pulled per aggregation (default: 20)
	PatternLimit int `yaml:"pattern_limit"` // active patterns pulled per aggregation (default: 50)
	MaxInsights  int `yaml:"max_insights"`  // key insights in the summary (default: 5)
	ItemLimit    int `yaml:"item_limit"`    // stored items re-read per aggregation (default: 200)
}

// Config holds configuration for the detection and context engine.
type Config struct {
	// Timezone is the IANA zone used to derive times of day and weekdays
	// from stored instants (default: UTC).
	Timezone string `yaml:"timezone"`

	Detection   DetectionConfig   `yaml:"detection"`
	Relevance   RelevanceConfig   `yaml:"relevance"`
	Aggregation AggregationConfig `yaml:"aggregation"`
}

// DefaultConfig returns a Config with the documented thresholds.
func DefaultConfig() Config {
	return Config{
		Timezone: "UTC",
		Detection: DetectionConfig{
			MinSamples:   3,
			HistoryLimit: 90,
			DaySpecific:  true,
			SleepWake: ConfidenceTiers{
				Base: 0.5,
				Variance: []VarianceTier{
					{Below: 30, Bonus: 0.4},
					{Below: 60, Bonus: 0.3},
					{Below: 90, Bonus: 0.2},
					{Below: 120, Bonus: 0.1},
				},
				Samples: []SampleTier{
					{AtLeast: 30, Bonus: 0.3},
					{AtLeast: 14, Bonus: 0.2},
					{AtLeast: 7, Bonus: 0.1},
				},
			},
			Activity: ConfidenceTiers{
				Base: 0.5,
				Variance: []VarianceTier{
					{Below: 60, Bonus: 0.4},
					{Below: 120, Bonus: 0.3},
					{Below: 180, Bonus: 0.2},
					{Below: 240, Bonus: 0.1},
				},
				Samples: []SampleTier{
					{AtLeast: 20, Bonus: 0.3},
					{AtLeast: 10, Bonus: 0.2},
					{AtLeast: 5, Bonus: 0.1},
				},
			},
			Insights: InsightConfig{
				VeryConsistentBelow:   30,
				FairlyConsistentBelow: 60,
				HighConfidence:        0.8,
				MediumConfidence:      0.6,
				TrendThreshold:        0.1,
				GoodQualityAbove:      0.8,
				FairQualityAbove:      0.6,

				ActivityVeryConsistentBelow:   60,
				ActivityFairlyConsistentBelow: 120,
			},
		},
		Relevance: RelevanceConfig{
			HalfLifeHours: 24,
			Weights: map[Factor]float64{
				FactorConfidence: 2,
			},
			Levels: LevelThresholds{Critical: 0.9, High: 0.7, Medium: 0.5, Low: 0.3},
			Windows: WindowBounds{
				Now:      time.Hour,
				Recent:   6 * time.Hour,
				Today:    24 * time.Hour,
				ThisWeek: 7 * 24 * time.Hour,
			},
			Expiry: map[types.Category]time.Duration{
				types.CategoryCurrentState:   time.Hour,
				types.CategoryRecentActivity: 6 * time.Hour,
				types.CategoryPatterns:       30 * 24 * time.Hour,
			},
			DefaultExpiry: 24 * time.Hour,
		},
		Aggregation: AggregationConfig{
			MemoryLimit:  20,
			PatternLimit: 50,
			MaxInsights:  5,
			ItemLimit:    200,
		},
	}
}

// LoadConfigFile overlays the YAML file at path onto DefaultConfig.
// Keys absent from the file keep their defaults; a tier list in the file
// replaces the default list entirely.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read engine config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse engine config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid engine config %s: %w", path, err)
	}

	return cfg, nil
}

// Location resolves Timezone, falling back to UTC when it is empty.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("Timezone %q: %w", c.Timezone, err)
	}

	d := c.Detection
	if d.MinSamples < 1 {
		return fmt.Errorf("MinSamples must be >= 1, got %d", d.MinSamples)
	}
	if d.HistoryLimit < d.MinSamples {
		return fmt.Errorf("HistoryLimit must be >= MinSamples (%d), got %d", d.MinSamples, d.HistoryLimit)
	}
	if err := d.SleepWake.validate(); err != nil {
		return fmt.Errorf("sleep_wake tiers: %w", err)
	}
	if err := d.Activity.validate(); err != nil {
		return fmt.Errorf("activity tiers: %w", err)
	}

	r := c.Relevance
	if r.HalfLifeHours <= 0 {
		return fmt.Errorf("HalfLifeHours must be > 0, got %v", r.HalfLifeHours)
	}
	for f, w := range r.Weights {
		if w < 0 {
			return fmt.Errorf("weight for %s must be >= 0, got %v", f, w)
		}
	}
	l := r.Levels
	if !(l.Critical >= l.High && l.High >= l.Medium && l.Medium >= l.Low && l.Low >= 0 && l.Critical <= 1) {
		return fmt.Errorf("level thresholds must satisfy 1 >= critical >= high >= medium >= low >= 0, got %+v", l)
	}
	w := r.Windows
	if !(w.Now > 0 && w.Now <= w.Recent && w.Recent <= w.Today && w.Today <= w.ThisWeek) {
		return fmt.Errorf("time windows must be positive and ascending, got %+v", w)
	}
	if r.DefaultExpiry <= 0 {
		return fmt.Errorf("DefaultExpiry must be > 0, got %v", r.DefaultExpiry)
	}

	a := c.Aggregation
	if a.MemoryLimit < 0 || a.PatternLimit < 0 || a.MaxInsights < 0 || a.ItemLimit < 1 {
		return fmt.Errorf("aggregation limits must be >= 0 (item_limit >= 1), got %+v", a)
	}

	return nil
}

// validate requires tiers to be ordered so that a smaller spread or a larger
// sample never earns a smaller bonus.
func (t ConfidenceTiers) validate() error {
	if !sort.SliceIsSorted(t.Variance, func(i, j int) bool { return t.Variance[i].Below < t.Variance[j].Below }) {
		return fmt.Errorf("variance tiers must be ordered by ascending bound")
	}
	for i := 1; i < len(t.Variance); i++ {
		if t.Variance[i].Bonus > t.Variance[i-1].Bonus {
			return fmt.Errorf("variance tier %d bonus %.2f exceeds tighter tier bonus %.2f", i, t.Variance[i].Bonus, t.Variance[i-1].Bonus)
		}
	}
	if !sort.SliceIsSorted(t.Samples, func(i, j int) bool { return t.Samples[i].AtLeast > t.Samples[j].AtLeast }) {
		return fmt.Errorf("sample tiers must be ordered by descending count")
	}
	for i := 1; i < len(t.Samples); i++ {
		if t.Samples[i].Bonus > t.Samples[i-1].Bonus {
			return fmt.Errorf("sample tier %d bonus %.2f exceeds larger tier bonus %.2f", i, t.Samples[i].Bonus, t.Samples[i-1].Bonus)
		}
	}
	for _, v := range t.Variance {
		if v.Bonus < 0 {
			return fmt.Errorf("variance bonus must be >= 0, got %.2f", v.Bonus)
		}
	}
	for _, s := range t.Samples {
		if s.Bonus < 0 {
			return fmt.Errorf("sample bonus must be >= 0, got %.2f", s.Bonus)
		}
	}
	return nil
}
