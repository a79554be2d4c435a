package engine

import (
	"fmt"
	"math"
	"strings"

	"github.com/scrypster/cadence/pkg/types"
)

// formatDuration renders minutes as "8h", "7h 30m" or "45m".
func formatDuration(minutes int) string {
	if minutes < 0 {
		minutes = 0
	}
	h, m := minutes/60, minutes%60
	switch {
	case h == 0:
		return fmt.Sprintf("%dm", m)
	case m == 0:
		return fmt.Sprintf("%dh", h)
	default:
		return fmt.Sprintf("%dh %dm", h, m)
	}
}

// scopePhrase prefixes insights for scoped patterns.
func scopePhrase(r types.RecurrenceClass) string {
	switch {
	case r == types.RecurrenceWeekday:
		return "On weekdays, you"
	case r == types.RecurrenceWeekend:
		return "On weekends, you"
	case r.IsDaySpecific():
		return fmt.Sprintf("On %ss, you", titleCase(string(r)))
	default:
		return "You"
	}
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// confidenceInsight returns the confidence-tier remark, or "".
func (c InsightConfig) confidenceInsight(confidence float64) string {
	switch {
	case confidence >= c.HighConfidence:
		return "This pattern is detected with high confidence."
	case confidence >= c.MediumConfidence:
		return "This pattern is detected with medium confidence."
	}
	return ""
}

// trendInsight remarks on a confidence change larger than the threshold.
func (c InsightConfig) trendInsight(subject string, change *float64) string {
	if change == nil || math.Abs(*change) <= c.TrendThreshold {
		return ""
	}
	if *change > 0 {
		return fmt.Sprintf("Your %s is becoming more consistent.", subject)
	}
	return fmt.Sprintf("Your %s is becoming less consistent.", subject)
}

// SleepWakeInsights applies the sleep/wake insight rules.
func (c InsightConfig) SleepWakeInsights(recurrence types.RecurrenceClass, m types.SleepWakeMetadata, confidence float64, change *float64) []string {
	insights := []string{
		fmt.Sprintf("%s typically go to sleep around %s and wake up around %s.", scopePhrase(recurrence), m.AverageSleepTime, m.AverageWakeTime),
		fmt.Sprintf("Your average sleep duration is %s.", formatDuration(m.AverageSleepDuration)),
	}

	switch {
	case m.SleepVarianceMinutes < c.VeryConsistentBelow:
		insights = append(insights, "Your sleep schedule is very consistent.")
	case m.SleepVarianceMinutes < c.FairlyConsistentBelow:
		insights = append(insights, "Your sleep schedule is fairly consistent.")
	default:
		insights = append(insights, "Your sleep schedule varies significantly.")
	}

	if s := c.confidenceInsight(confidence); s != "" {
		insights = append(insights, s)
	}
	if s := c.trendInsight("sleep schedule", change); s != "" {
		insights = append(insights, s)
	}

	if m.AverageQuality != nil {
		switch q := *m.AverageQuality; {
		case q > c.GoodQualityAbove:
			insights = append(insights, "Your sleep quality is good.")
		case q > c.FairQualityAbove:
			insights = append(insights, "Your sleep quality is fair.")
		default:
			insights = append(insights, "Your sleep quality could be improved.")
		}
	}

	return insights
}

// ActivityInsights applies the activity insight rules.
func (c InsightConfig) ActivityInsights(recurrence types.RecurrenceClass, m types.ActivityMetadata, confidence float64, change *float64) []string {
	insights := []string{
		fmt.Sprintf("%s usually start %s around %s.", scopePhrase(recurrence), m.Tag, m.AverageStartTime),
	}

	if m.AverageDuration != nil {
		insights = append(insights, fmt.Sprintf("A %s session lasts about %s.", m.Tag, formatDuration(*m.AverageDuration)))
	}
	if m.CommonLocation != "" {
		insights = append(insights, fmt.Sprintf("You most often do %s at %s.", m.Tag, m.CommonLocation))
	}
	if m.CommonIntensity != "" {
		insights = append(insights, fmt.Sprintf("Your typical %s intensity is %s.", m.Tag, m.CommonIntensity))
	}

	switch {
	case m.StartVarianceMinutes < c.ActivityVeryConsistentBelow:
		insights = append(insights, fmt.Sprintf("Your %s timing is very consistent.", m.Tag))
	case m.StartVarianceMinutes < c.ActivityFairlyConsistentBelow:
		insights = append(insights, fmt.Sprintf("Your %s timing is fairly consistent.", m.Tag))
	default:
		insights = append(insights, fmt.Sprintf("Your %s timing varies significantly.", m.Tag))
	}

	if s := c.confidenceInsight(confidence); s != "" {
		insights = append(insights, s)
	}
	if s := c.trendInsight(m.Tag+" routine", change); s != "" {
		insights = append(insights, s)
	}

	return insights
}

// PatternInsights dispatches on the pattern's metadata variant.
func (c InsightConfig) PatternInsights(p *types.Pattern, change *float64) []string {
	switch m := p.Metadata.(type) {
	case types.SleepWakeMetadata:
		return c.SleepWakeInsights(p.Recurrence, m, p.Confidence, change)
	case types.ActivityMetadata:
		return c.ActivityInsights(p.Recurrence, m, p.Confidence, change)
	default:
		if p.Description != "" {
			return []string{p.Description}
		}
		return nil
	}
}
