package phylotree

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats/scalar"
)

// RankAccumulator is the per-(node, result-index) randomisation record. It
// counts how often a comparator (randomised) value exceeded the observed
// value, tracks ties, and keeps running sums and the raw sample needed for
// percentile statistics.
//
// Merging accumulators is commutative and associative: counters add
// elementwise and samples concatenate, so independently built batches can
// be folded together in any order as long as each batch is folded exactly
// once.
type RankAccumulator struct {
	Passed   uint64 // comparator exceeded observed beyond tolerance (C)
	Compared uint64 // total comparisons (Q)
	Ties     uint64 // comparator equal to observed within tolerance (T)
	SumX     float64
	SumXX    float64
	Samples  []float64
}

// Observe folds one comparator value against the observed value.
func (a *RankAccumulator) Observe(comparator, observed, tol float64) {
	a.Compared++
	if scalar.EqualWithinAbs(comparator, observed, tol) {
		a.Ties++
	} else if comparator > observed {
		a.Passed++
	}
	a.SumX += comparator
	a.SumXX += comparator * comparator
	a.Samples = append(a.Samples, comparator)
}

// Merge folds other into a. other is left unchanged.
func (a *RankAccumulator) Merge(other *RankAccumulator) {
	a.Passed += other.Passed
	a.Compared += other.Compared
	a.Ties += other.Ties
	a.SumX += other.SumX
	a.SumXX += other.SumXX
	a.Samples = append(a.Samples, other.Samples...)
}

// PRank returns the percentile rank C/Q: the fraction of comparisons in
// which the comparator value exceeded the observed value. It is a ratio and
// must be re-derived after every merge, never summed. NaN when no
// comparisons have been folded.
func (a *RankAccumulator) PRank() float64 {
	if a.Compared == 0 {
		return math.NaN()
	}
	return float64(a.Passed) / float64(a.Compared)
}

// Mean returns the running mean of comparator values, NaN when empty.
func (a *RankAccumulator) Mean() float64 {
	if a.Compared == 0 {
		return math.NaN()
	}
	return a.SumX / float64(a.Compared)
}

// ZScore standardises observed against the accumulated comparator
// distribution. Degenerate distributions (no comparisons, zero variance)
// yield NaN rather than an error.
func (a *RankAccumulator) ZScore(observed float64) float64 {
	if a.Compared == 0 {
		return math.NaN()
	}
	mean := a.Mean()
	variance := a.SumXX/float64(a.Compared) - mean*mean
	if variance <= 0 || math.IsNaN(variance) {
		return math.NaN()
	}
	return (observed - mean) / math.Sqrt(variance)
}

// Summary returns descriptive statistics over the raw comparator sample.
func (a *RankAccumulator) Summary() SampleSummary {
	return Summarize(a.Samples)
}

// ensureRankAccumulators returns the node's accumulator slice for the named
// result list, growing it to at least size entries.
func (n *Node) ensureRankAccumulators(list string, size int) []*RankAccumulator {
	if n.accs == nil {
		n.accs = make(map[string][]*RankAccumulator)
	}
	accs := n.accs[list]
	for len(accs) < size {
		accs = append(accs, &RankAccumulator{})
	}
	n.accs[list] = accs
	return accs
}

// RankAccumulators returns the node's accumulators for the named result
// list, or nil if no comparison has involved it yet.
func (n *Node) RankAccumulators(list string) []*RankAccumulator {
	return n.accs[list]
}

// RankAccumulatorListNames returns the sorted result-list names for which
// the node carries accumulators.
func (n *Node) RankAccumulatorListNames() []string {
	names := make([]string, 0, len(n.accs))
	for name := range n.accs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
