package engine

// Score computes Base + varianceBonus + sampleBonus, clamped to [0,1].
// The first variance tier whose bound exceeds the spread, and the first
// sample tier whose count is met, apply.
func (t ConfidenceTiers) Score(varianceMinutes float64, samples int) float64 {
	score := t.Base

	for _, tier := range t.Variance {
		if varianceMinutes < tier.Below {
			score += tier.Bonus
			break
		}
	}

	for _, tier := range t.Samples {
		if samples >= tier.AtLeast {
			score += tier.Bonus
			break
		}
	}

	return clamp01(score)
}
