package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfidenceTiers_Score(t *testing.T) {
	cfg := DefaultConfig().Detection

	tests := []struct {
		name     string
		tiers    ConfidenceTiers
		variance float64
		samples  int
		want     float64
	}{
		{"sleep tight and long history", cfg.SleepWake, 10, 30, 1.0},
		{"sleep tight ten nights", cfg.SleepWake, 0, 10, 1.0},
		{"sleep bound is exclusive", cfg.SleepWake, 30, 3, 0.8},
		{"sleep loose few samples", cfg.SleepWake, 100, 3, 0.6},
		{"sleep no variance tier", cfg.SleepWake, 200, 7, 0.6},
		{"activity tight few samples", cfg.Activity, 0, 4, 0.9},
		{"activity medium spread", cfg.Activity, 150, 10, 0.9},
		{"activity scattered", cfg.Activity, 300, 3, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.tiers.Score(tt.variance, tt.samples), 1e-9)
		})
	}
}

func TestConfidenceTiers_ScoreIsMonotonic(t *testing.T) {
	tiers := DefaultConfig().Detection.SleepWake

	for samples := 1; samples < 40; samples++ {
		assert.GreaterOrEqual(t, tiers.Score(45, samples+1), tiers.Score(45, samples))
	}
	for v := 0.0; v < 200; v += 5 {
		assert.GreaterOrEqual(t, tiers.Score(v, 10), tiers.Score(v+5, 10))
	}
}

func TestConfig_ValidateRejectsUnorderedTiers(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Detection.SleepWake.Variance = []VarianceTier{{Below: 60, Bonus: 0.3}, {Below: 30, Bonus: 0.4}}
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Detection.Activity.Samples = []SampleTier{{AtLeast: 20, Bonus: 0.1}, {AtLeast: 10, Bonus: 0.2}}
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Timezone = "Mars/Olympus_Mons"
	assert.Error(t, cfg.Validate())
}
