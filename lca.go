package phylotree

import "fmt"

// LCAFinder resolves lowest common ancestors over one tree, using the
// tree's ancestry index for cached root paths and probable-depth probes.
//
// Paths are compared by their shared root-ward suffix: two root paths agree
// on a suffix exactly as long as the distance from their LCA to the root,
// so folding in each extra node can only move the common-ancestor index
// root-ward, never tip-ward.
type LCAFinder struct {
	tree *Tree
}

// NewLCAFinder returns a finder bound to t.
func NewLCAFinder(t *Tree) *LCAFinder { return &LCAFinder{tree: t} }

// LCA returns the deepest node that is an ancestor of every named node
// (a node counts as its own ancestor, so a single name returns that node).
// Fails with ErrNodeNotFound for unknown names and ErrInvalidTopology when
// the named nodes do not share a root.
func (f *LCAFinder) LCA(names ...string) (*Node, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("phylotree: lca requires at least one node name")
	}
	ix := f.tree.ancestryIndexFor()
	ref, err := ix.pathToRoot(names[0])
	if err != nil {
		return nil, err
	}
	// common is the length of the root-ward suffix shared by all paths
	// folded in so far; it starts at the full reference path and only
	// ever shrinks (the ancestor index only moves root-ward).
	common := len(ref)
	for _, name := range names[1:] {
		p, err := ix.pathToRoot(name)
		if err != nil {
			return nil, err
		}
		if len(p) == 1 {
			// The node is a root: the result is immediately that root.
			if ref[len(ref)-1] != p[0] {
				return nil, fmt.Errorf("phylotree: %q and %q have different roots: %w", names[0], name, ErrInvalidTopology)
			}
			common = 1
			continue
		}
		k, ok := probeSharedSuffix(ref, p, common, ix.candidateDepths())
		if !ok {
			k = sharedSuffix(ref, p, common)
		}
		if k == 0 {
			return nil, fmt.Errorf("phylotree: %q and %q share no ancestor: %w", names[0], name, ErrInvalidTopology)
		}
		if k < common {
			common = k
		}
	}
	return ref[len(ref)-common], nil
}

// probeSharedSuffix tries the precomputed probable-LCA depths before any
// scanning. A probe position is accepted when the two paths agree there but
// disagree one step tip-ward of it (or the position is the tip-ward edge of
// the window), which pins the shared suffix length exactly.
func probeSharedSuffix(ref, p []*Node, window int, depths []int) (int, bool) {
	maxI := min(window, len(ref), len(p))
	for _, d := range depths {
		i := d + 1
		if i > maxI {
			continue
		}
		if ref[len(ref)-i] != p[len(p)-i] {
			continue
		}
		if i == maxI || ref[len(ref)-i-1] != p[len(p)-i-1] {
			return i, true
		}
	}
	return 0, false
}

// sharedSuffix is the bounded linear fallback: scan from the tip-ward edge
// of the window toward the root and stop at the first agreeing position.
// Agreement at a position implies agreement at every position root-ward of
// it, so that position is the shared suffix length.
func sharedSuffix(ref, p []*Node, window int) int {
	maxI := min(window, len(ref), len(p))
	for i := maxI; i >= 1; i-- {
		if ref[len(ref)-i] == p[len(p)-i] {
			return i
		}
	}
	return 0
}
