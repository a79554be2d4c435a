// Package timestats provides statistics over clock-time samples.
//
// Times of day live on a circle: 23:00 and 01:00 are two hours apart, and
// averaging them linearly would give 12:00. The circular functions here map
// each sample to an angle, average unit vectors, and map back.
package timestats

import (
	"math"

	"github.com/scrypster/cadence/pkg/types"
)

// MaxCircularStdDev is the spread reported when samples cancel out entirely
// (mean resultant length of zero): half a day.
const MaxCircularStdDev = types.MinutesPerDay / 2

// resultant returns the mean cosine and sine of the samples' angles.
func resultant(times []types.TimeOfDay) (c, s float64) {
	for _, t := range times {
		theta := 2 * math.Pi * float64(t.Normalize()) / types.MinutesPerDay
		c += math.Cos(theta)
		s += math.Sin(theta)
	}
	n := float64(len(times))
	return c / n, s / n
}

// CircularMean returns the mean time of day. An empty input yields 0.
func CircularMean(times []types.TimeOfDay) types.TimeOfDay {
	if len(times) == 0 {
		return 0
	}
	c, s := resultant(times)
	angle := math.Atan2(s, c)
	if angle < 0 {
		angle += 2 * math.Pi
	}
	minutes := int(math.Round(angle * types.MinutesPerDay / (2 * math.Pi)))
	return types.TimeOfDay(minutes).Normalize()
}

// CircularStdDevMinutes returns the circular standard deviation in minutes,
// sqrt(-2 ln R) scaled to the 1440-minute circle, where R is the mean
// resultant length. Fewer than two samples yield 0; R == 0 yields
// MaxCircularStdDev.
func CircularStdDevMinutes(times []types.TimeOfDay) float64 {
	if len(times) < 2 {
		return 0
	}
	c, s := resultant(times)
	r := math.Hypot(c, s)
	if r <= 1e-12 {
		return MaxCircularStdDev
	}
	if r >= 1 {
		return 0
	}
	sigma := math.Sqrt(-2 * math.Log(r))
	return math.Min(sigma*types.MinutesPerDay/(2*math.Pi), MaxCircularStdDev)
}
