package metrics

import (
	"slices"
	"time"

	"gonum.org/v1/gonum/stat"
)

// DurationStats summarizes per-file scan durations.
type DurationStats struct {
	Count int
	Mean  time.Duration
	P50   time.Duration
	P95   time.Duration
	Max   time.Duration
}

// Summarize computes DurationStats; an empty input yields the zero value.
func Summarize(durations []time.Duration) DurationStats {
	if len(durations) == 0 {
		return DurationStats{}
	}
	xs := make([]float64, len(durations))
	for i, d := range durations {
		xs[i] = float64(d)
	}
	slices.Sort(xs)

	return DurationStats{
		Count: len(xs),
		Mean:  time.Duration(stat.Mean(xs, nil)),
		P50:   time.Duration(stat.Quantile(0.5, stat.Empirical, xs, nil)),
		P95:   time.Duration(stat.Quantile(0.95, stat.Empirical, xs, nil)),
		Max:   time.Duration(xs[len(xs)-1]),
	}
}
