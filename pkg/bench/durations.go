package bench

import (
	"slices"
	"time"
)

// Durations is a sample of measured durations.
type Durations []time.Duration

// Summary is the statistical digest of a Durations sample.
type Summary struct {
	Count              int
	Avg, Min, Med, Max time.Duration
	P90, P95, P99      time.Duration
}

// Summarize computes every statistic of ds at once.
func (ds Durations) Summarize() Summary {
	return Summary{
		Count: len(ds),
		Avg:   ds.Average(),
		Min:   ds.Minimum(),
		Med:   ds.Median(),
		Max:   ds.Maximum(),
		P90:   ds.Percentile(90),
		P95:   ds.Percentile(95),
		P99:   ds.Percentile(99),
	}
}

// Average calculates the mean of a slice of time.Duration values.
func (ds Durations) Average() time.Duration {
	if len(ds) == 0 {
		return 0
	}

	var total time.Duration
	for _, d := range ds {
		total += d
	}
	return total / time.Duration(len(ds))
}

// Minimum finds the smallest time.Duration in the slice.
func (ds Durations) Minimum() time.Duration {
	if len(ds) == 0 {
		return 0
	}
	return slices.Min(ds)
}

// Median finds the middle value of a sorted slice of time.Duration.
func (ds Durations) Median() time.Duration {
	if len(ds) == 0 {
		return 0
	}

	sorted := ds.sorted()
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// Maximum finds the largest time.Duration in the slice.
func (ds Durations) Maximum() time.Duration {
	if len(ds) == 0 {
		return 0
	}
	return slices.Max(ds)
}

// Percentile calculates the Pxx value for a slice of time.Duration.
// Given percentile should be between 0 and 100.
func (ds Durations) Percentile(percentile float64) time.Duration {
	if len(ds) == 0 || percentile < 0 || percentile > 100 {
		return 0
	}

	sorted := ds.sorted()
	index := int(float64(len(sorted)-1) * (percentile / 100.0))
	return sorted[index]
}

func (ds Durations) sorted() Durations {
	sorted := slices.Clone(ds)
	slices.Sort(sorted)
	return sorted
}
