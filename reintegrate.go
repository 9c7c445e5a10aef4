package phylotree

import (
	"fmt"
	"math"
	"strings"
)

// Result-list suffixes written by the derivation passes.
const (
	// PRankSuffix marks the percentile-rank list derived from a result
	// list's accumulators.
	PRankSuffix = "_PRANK"

	// ZScoreSuffix marks the z-score list derived from a result list's
	// accumulators and observed values.
	ZScoreSuffix = "_Z"

	// CANAPEList is the result list holding each node's CANAPE code
	// (NaN where undefined).
	CANAPEList = "CANAPE"
)

// CANAPEInputs names the percentile-rank result lists feeding the CANAPE
// classification pass, and the index to read within each.
type CANAPEInputs struct {
	PEObsList string
	PEAltList string
	RPEList   string
	Index     int
}

// ReintegrateOptions controls a randomisation batch merge.
type ReintegrateOptions struct {
	// TrackedPrefixes restricts the merge to accumulator lists whose name
	// starts with one of the prefixes. Empty means all lists.
	TrackedPrefixes []string

	// CANAPE, when non-nil, re-runs the CANAPE classification pass over
	// the master after merging.
	CANAPE *CANAPEInputs

	// Progress receives one report per batch node. Default: NoopProgress.
	Progress ProgressSink
}

// Reintegrate merges the randomisation accumulators of batch into master.
// Batches are built by independent workers against private tree replicas
// (see [Tree.CloneStructure]); the coordinator folds them in sequentially.
// Merging is commutative and associative, so worker order does not matter,
// but each batch must be applied exactly once: re-merging the same batch
// double-counts, and nothing here can detect that.
//
// Nodes are aligned by name; a tracked batch node missing from the master
// fails with ErrNodeNotFound (the topologies must match). After the
// counters are merged, the significance and z-score derivation passes are
// re-run over the master so every derived field is consistent with the new
// totals; percentile ranks are re-derived as C/Q, never summed.
func Reintegrate(master, batch *Tree, opts ReintegrateOptions) error {
	if opts.Progress == nil {
		opts.Progress = NoopProgress{}
	}

	batchNodes := batch.Nodes()
	for i, bn := range batchNodes {
		opts.Progress.Progress("reintegrate", i+1, len(batchNodes))
		for _, list := range bn.RankAccumulatorListNames() {
			if !matchesAnyPrefix(list, opts.TrackedPrefixes) {
				continue
			}
			mn, err := master.GetNode(bn.name)
			if err != nil {
				return fmt.Errorf("phylotree: reintegrate list %q: %w", list, err)
			}
			batchAccs := bn.accs[list]
			masterAccs := mn.ensureRankAccumulators(list, len(batchAccs))
			for idx, acc := range batchAccs {
				masterAccs[idx].Merge(acc)
			}
		}
	}

	DeriveSignificance(master, opts.TrackedPrefixes)
	DeriveZScores(master, opts.TrackedPrefixes)
	if opts.CANAPE != nil {
		DeriveCANAPE(master, *opts.CANAPE)
	}
	return nil
}

func matchesAnyPrefix(name string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// DeriveSignificance writes, for every node and every accumulator list
// matching the prefixes, the percentile-rank list "<list>_PRANK" with one
// C/Q entry per index (NaN where no comparisons exist).
func DeriveSignificance(t *Tree, prefixes []string) {
	for _, n := range t.Nodes() {
		for _, list := range n.RankAccumulatorListNames() {
			if !matchesAnyPrefix(list, prefixes) {
				continue
			}
			accs := n.accs[list]
			ranks := make([]float64, len(accs))
			for i, acc := range accs {
				ranks[i] = acc.PRank()
			}
			n.SetResultList(list+PRankSuffix, ranks)
		}
	}
}

// DeriveZScores writes, for every node and every accumulator list matching
// the prefixes, the z-score list "<list>_Z" standardising the node's
// observed values (from the result list of the same name) against the
// accumulated comparator distribution. Missing observed entries and
// zero-variance distributions yield NaN.
func DeriveZScores(t *Tree, prefixes []string) {
	for _, n := range t.Nodes() {
		for _, list := range n.RankAccumulatorListNames() {
			if !matchesAnyPrefix(list, prefixes) {
				continue
			}
			accs := n.accs[list]
			observed := n.ResultList(list)
			scores := make([]float64, len(accs))
			for i, acc := range accs {
				if i < len(observed) {
					scores[i] = acc.ZScore(observed[i])
				} else {
					scores[i] = math.NaN()
				}
			}
			n.SetResultList(list+ZScoreSuffix, scores)
		}
	}
}

// DeriveCANAPE classifies every node from the named percentile-rank lists
// and writes the single-entry "CANAPE" result list (NaN where the observed
// rank is undefined, so downstream flags clear rather than zero).
func DeriveCANAPE(t *Tree, in CANAPEInputs) {
	for _, n := range t.Nodes() {
		peObs := resultAt(n, in.PEObsList, in.Index)
		peAlt := resultAt(n, in.PEAltList, in.Index)
		rpe := resultAt(n, in.RPEList, in.Index)
		code := ClassifyCANAPE(peObs, peAlt, rpe)
		val := math.NaN()
		if code != CANAPEUndefined {
			val = float64(code)
		}
		n.SetResultList(CANAPEList, []float64{val})
	}
}

// resultAt reads one entry of a named result list, NaN when absent.
func resultAt(n *Node, list string, idx int) float64 {
	vals := n.ResultList(list)
	if idx < 0 || idx >= len(vals) {
		return math.NaN()
	}
	return vals[idx]
}
