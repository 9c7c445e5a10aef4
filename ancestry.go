package phylotree

import (
	"fmt"
	"sort"
)

// ancestryIndex is a per-tree cache of root-ward path arrays and the
// heuristic "probable LCA depth" hints used by [LCAFinder]. It is
// invalidated wholesale whenever the tree's version moves and rebuilt
// lazily, one node at a time, on first use.
type ancestryIndex struct {
	tree    *Tree
	version uint64

	paths       map[string][]*Node
	probeDepths []int
	probesOK    bool
}

// ensure discards the index when the tree has mutated since the last fill.
func (ix *ancestryIndex) ensure() {
	if ix.paths == nil || ix.version != ix.tree.version {
		ix.paths = make(map[string][]*Node)
		ix.probeDepths = nil
		ix.probesOK = false
		ix.version = ix.tree.version
	}
}

// pathToRoot returns the cached node sequence from the named node to its
// root, both inclusive.
func (ix *ancestryIndex) pathToRoot(name string) ([]*Node, error) {
	ix.ensure()
	if p, ok := ix.paths[name]; ok {
		return p, nil
	}
	n, ok := ix.tree.nodes[name]
	if !ok {
		return nil, fmt.Errorf("phylotree: path to root of %q: %w", name, ErrNodeNotFound)
	}
	p := n.PathToRoot()
	ix.paths[name] = p
	return p, nil
}

// candidateDepths returns the probable-LCA probe depths: the depths of
// nodes whose subtree holds at least 66% of all terminals and that have at
// least two children each holding more than 25% of the subtree's terminals.
// Such nodes are where large clades split, so common ancestors of sampled
// tip sets concentrate there. Deepest first, so probes try the most
// specific position before falling back tip-ward.
//
// This is purely a fast path for [LCAFinder]; correctness never depends on
// it.
func (ix *ancestryIndex) candidateDepths() []int {
	ix.ensure()
	if ix.probesOK {
		return ix.probeDepths
	}
	total := 0
	for _, r := range ix.tree.Roots() {
		total += r.TerminalCount()
	}
	seen := make(map[int]bool)
	if total > 0 {
		for _, n := range ix.tree.nodes {
			tc := n.TerminalCount()
			if 3*tc < 2*total {
				continue
			}
			big := 0
			for _, ch := range n.children {
				if 4*ch.TerminalCount() > tc {
					big++
				}
			}
			if big >= 2 {
				seen[n.Depth()] = true
			}
		}
	}
	depths := make([]int, 0, len(seen))
	for d := range seen {
		depths = append(depths, d)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(depths)))
	ix.probeDepths = depths
	ix.probesOK = true
	return depths
}
