package phylotree

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats/scalar"
)

// CompareOptions controls tree-against-tree node matching.
// Start with [DefaultCompareOptions] and override the fields you need.
type CompareOptions struct {
	// TerminalsOnly matches nodes on terminal sets alone, skipping the
	// branch-length check for perfect matches and skipping comparison
	// nodes already used up by a prior perfect match. Default: false.
	TerminalsOnly bool

	// TrackStats records a running sample of best scores per node and
	// keeps descriptive statistics over it. Default: false.
	TrackStats bool

	// Tolerance is the absolute equality tolerance for branch lengths and
	// result-list values. 0 means the default. Default: 1e-10.
	Tolerance float64

	// Progress receives one report per node of the calling tree.
	// Default: NoopProgress.
	Progress ProgressSink
}

// DefaultCompareOptions returns a CompareOptions with the defaults filled in.
func DefaultCompareOptions() CompareOptions {
	return CompareOptions{Tolerance: 1e-10, Progress: NoopProgress{}}
}

func applyCompareDefaults(opts *CompareOptions) {
	if opts.Tolerance == 0 {
		opts.Tolerance = 1e-10
	}
	if opts.Progress == nil {
		opts.Progress = NoopProgress{}
	}
}

func validateCompareOptions(opts *CompareOptions) error {
	if opts.Tolerance < 0 {
		return fmt.Errorf("phylotree: Tolerance must be >= 0, got %v", opts.Tolerance)
	}
	return nil
}

// MatchStats is the per-node record kept when CompareOptions.TrackStats is
// set: the sample of best (minimum) Sorenson scores seen for the node, its
// descriptive summary, and how often the node matched identically.
type MatchStats struct {
	Sample       []float64
	Summary      SampleSummary
	Identical    int
	IdenticalPct float64
}

// CompareResult is the outcome of one [Compare] call.
type CompareResult struct {
	// PerfectMatches counts nodes of the calling tree that found a
	// terminal-identical node in the comparison tree (and, when not in
	// terminals-only mode, one of equal branch length within tolerance).
	PerfectMatches int

	// NodeStats holds per-node match statistics, keyed by node name.
	// Nil unless CompareOptions.TrackStats is set.
	NodeStats map[string]*MatchStats
}

// SorensonScore returns the Sorenson dissimilarity between the terminal
// multisets below a and b: 1 − 2|A∩B| / (|A|+|B|). 0 means identical sets,
// 1 means disjoint. The intersection size is accumulated from the element
// counts directly; the intersection itself is never materialised.
// Symmetric in its arguments.
func SorensonScore(a, b *Node) float64 {
	ta, tb := a.TerminalElements(), b.TerminalElements()
	na, nb := a.TerminalCount(), b.TerminalCount()
	if na+nb == 0 {
		return 0
	}
	// Iterate the smaller multiset.
	if len(tb) < len(ta) {
		ta, tb = tb, ta
	}
	inter := 0
	for k, va := range ta {
		if vb, ok := tb[k]; ok {
			inter += min(va, vb)
		}
	}
	return 1 - 2*float64(inter)/float64(na+nb)
}

// Compare matches every node of self against the nodes of other by
// terminal-set similarity. For each node of self it finds the comparison
// node with the minimum Sorenson score, counts perfect matches, optionally
// tracks descriptive statistics of the minimum scores, and updates the
// rank-comparison accumulators of self's nodes for every result list shared
// with the best match.
//
// Pair scores are memoised per (self node, comparison node) pair within one
// call, and a score of exactly 0 short-circuits the inner search.
func Compare(self, other *Tree, opts CompareOptions) (*CompareResult, error) {
	if err := validateCompareOptions(&opts); err != nil {
		return nil, err
	}
	applyCompareDefaults(&opts)

	selfNodes := self.Nodes()
	otherNodes := other.Nodes()

	result := &CompareResult{}
	if opts.TrackStats {
		result.NodeStats = make(map[string]*MatchStats, len(selfNodes))
	}

	// Keyed on the ordered (self name, other name) pair: the two trees may
	// reuse a name for different terminal sets, so the sides must never be
	// conflated.
	memo := make(map[[2]string]float64)
	score := func(a, b *Node) float64 {
		key := [2]string{a.name, b.name}
		if s, ok := memo[key]; ok {
			return s
		}
		s := SorensonScore(a, b)
		memo[key] = s
		return s
	}

	used := make(map[*Node]bool)

	for i, a := range selfNodes {
		opts.Progress.Progress("compare", i+1, len(selfNodes))

		best := math.Inf(1)
		var bestMatch *Node
		for _, b := range otherNodes {
			if opts.TerminalsOnly && used[b] {
				continue
			}
			s := score(a, b)
			if s < best {
				best = s
				bestMatch = b
			}
			if s == 0 {
				break
			}
		}

		perfect := bestMatch != nil && best == 0
		if perfect && !opts.TerminalsOnly {
			perfect = scalar.EqualWithinAbs(a.length, bestMatch.length, opts.Tolerance)
		}
		if perfect {
			result.PerfectMatches++
			used[bestMatch] = true
		}

		if opts.TrackStats && bestMatch != nil {
			ms := result.NodeStats[a.name]
			if ms == nil {
				ms = &MatchStats{}
				result.NodeStats[a.name] = ms
			}
			ms.Sample = append(ms.Sample, best)
			ms.Summary = Summarize(ms.Sample)
			if perfect {
				ms.Identical++
			}
			ms.IdenticalPct = 100 * float64(ms.Identical) / float64(len(ms.Sample))
		}

		if bestMatch != nil {
			updateRankAccumulators(a, bestMatch, opts.Tolerance)
		}
	}
	return result, nil
}

// updateRankAccumulators folds the best match's result-list values into the
// node's rank accumulators, for every list both nodes carry. Undefined
// (NaN) entries on either side do not count as comparisons.
func updateRankAccumulators(a, match *Node, tol float64) {
	for _, name := range a.ResultListNames() {
		obs := a.lists[name]
		comp := match.lists[name]
		if comp == nil {
			continue
		}
		n := min(len(obs), len(comp))
		accs := a.ensureRankAccumulators(name, n)
		for i := 0; i < n; i++ {
			if math.IsNaN(obs[i]) || math.IsNaN(comp[i]) {
				continue
			}
			accs[i].Observe(comp[i], obs[i], tol)
		}
	}
}

// TreesAreSame reports whether a and b have equal node counts and every
// node of a matches a node of b perfectly.
func TreesAreSame(a, b *Tree) (bool, error) {
	if a.Len() != b.Len() {
		return false, nil
	}
	res, err := Compare(a, b, DefaultCompareOptions())
	if err != nil {
		return false, err
	}
	return res.PerfectMatches == a.Len(), nil
}

// ContainsTree reports whether every node of sub matches a node of
// container perfectly. With adjustForRoot set, sub's root is not required
// to match (its branch to a notional parent has no meaning).
func ContainsTree(container, sub *Tree, adjustForRoot bool) (bool, error) {
	res, err := Compare(sub, container, DefaultCompareOptions())
	if err != nil {
		return false, err
	}
	want := sub.Len()
	if adjustForRoot {
		want--
	}
	return res.PerfectMatches >= want, nil
}
