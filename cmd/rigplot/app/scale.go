package app

import (
	"math"
	"time"

	"github.com/dustin/go-humanize"
)

// Nice time intervals for the time scale
var niceTimeSteps = []time.Duration{
	time.Second,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
	15 * time.Second,
	30 * time.Second,
	time.Minute,
	2 * time.Minute,
	5 * time.Minute,
	10 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
	time.Hour,
	2 * time.Hour,
	4 * time.Hour,
	6 * time.Hour,
	12 * time.Hour,
	24 * time.Hour,
}

func calculateNiceTimeStep(duration time.Duration, width int) time.Duration {
	labels := max(float64(width)/pixelsPerXLabel, 1)
	roughStep := time.Duration(float64(duration) / labels)

	for _, step := range niceTimeSteps {
		if roughStep <= step {
			return step
		}
	}

	days := math.Ceil(float64(roughStep) / float64(24*time.Hour))
	return time.Duration(days) * 24 * time.Hour
}

// alignTime returns the first instant at or after t that is a whole number of steps
// past local midnight of t's day
func alignTime(t time.Time, step time.Duration, loc *time.Location) time.Time {
	local := t.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	n := (local.Sub(midnight) + step - 1) / step
	return midnight.Add(n * step)
}

// calculateNiceValueStep picks a 1, 2 or 5 times power of ten step giving roughly
// one label per pixelsPerYLabel pixels
func calculateNiceValueStep(span float64, height int) float64 {
	labels := max(float64(height)/pixelsPerYLabel, 1)
	roughStep := span / labels
	if roughStep <= 0 || math.IsNaN(roughStep) || math.IsInf(roughStep, 0) {
		return 1
	}

	magnitude := math.Pow(10, math.Floor(math.Log10(roughStep)))
	for _, m := range []float64{1, 2, 5} {
		if step := m * magnitude; step >= roughStep {
			return step
		}
	}
	return 10 * magnitude
}

// formatValue renders v with as many decimals as step needs. A zero step uses two decimals.
func formatValue(v, step float64) string {
	digits := 2
	if step > 0 {
		digits = max(0, int(math.Ceil(-math.Log10(step))))
		if math.Abs(v) < step/2 {
			v = 0
		}
	}
	return humanize.FtoaWithDigits(v, digits)
}

func formatCount(n int) string {
	return humanize.Comma(int64(n))
}
