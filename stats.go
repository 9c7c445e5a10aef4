package phylotree

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// SampleSummary holds the descriptive statistics tracked for comparison
// samples: mean, sample standard deviation, median and the low percentiles
// used for significance ranking.
type SampleSummary struct {
	N      int
	Mean   float64
	SD     float64
	Median float64
	P01    float64
	P05    float64
	P25    float64
}

// Summarize computes descriptive statistics over a sample. An empty sample
// yields NaN moments; a single observation has SD 0.
func Summarize(sample []float64) SampleSummary {
	n := len(sample)
	if n == 0 {
		nan := math.NaN()
		return SampleSummary{Mean: nan, SD: nan, Median: nan, P01: nan, P05: nan, P25: nan}
	}
	sorted := make([]float64, n)
	copy(sorted, sample)
	sort.Float64s(sorted)

	s := SampleSummary{
		N:      n,
		Mean:   stat.Mean(sorted, nil),
		Median: stat.Quantile(0.5, stat.Empirical, sorted, nil),
		P01:    stat.Quantile(0.01, stat.Empirical, sorted, nil),
		P05:    stat.Quantile(0.05, stat.Empirical, sorted, nil),
		P25:    stat.Quantile(0.25, stat.Empirical, sorted, nil),
	}
	if n > 1 {
		s.SD = stat.StdDev(sorted, nil)
	}
	return s
}
