package phylotree

import "sort"

// Node is a vertex of a rooted phylogenetic tree: a unique name, a
// non-negative branch length (the edge to its parent), a parent pointer
// (nil for a root), and an ordered set of children.
//
// Nodes are created detached via [NewNode] and become part of a tree when
// registered with [Tree.AddNode] or [Tree.AddChild]. Topology edits must go
// through the owning tree so that the registry and the parent/child links
// stay consistent and derived caches are invalidated.
//
// Each node carries a private cache of derived values (depth, cumulative
// length below, terminal-element multiset, root path). Cache entries are
// validated against the owning tree's version counter, so a structural
// mutation anywhere in the tree implicitly discards every node's cache.
type Node struct {
	name     string
	length   float64
	parent   *Node
	children []*Node
	tree     *Tree

	// elements overrides the terminal-element multiset for a terminal
	// node. nil means the node represents itself with multiplicity 1.
	elements map[string]int

	// lists holds named result lists attached by calculation passes.
	lists map[string][]float64

	// accs holds per-result-list randomisation accumulators, keyed by
	// list name, one accumulator per list index.
	accs map[string][]*RankAccumulator

	cache nodeCache
}

type nodeCache struct {
	version uint64
	valid   bool

	depth         int
	depthOK       bool
	lengthBelow   float64
	lengthBelowOK bool
	terminals     map[string]int
	terminalCount int
	terminalsOK   bool
	rootPath      []*Node
}

// NewNode returns a detached node with the given name and branch length.
func NewNode(name string, length float64) *Node {
	return &Node{name: name, length: length}
}

// Name returns the node's unique name.
func (n *Node) Name() string { return n.name }

// Length returns the length of the branch from this node to its parent.
// A root's length is conventionally 0 and is ignored by path sums.
func (n *Node) Length() float64 { return n.length }

// Parent returns the node's parent, or nil for a root.
func (n *Node) Parent() *Node { return n.parent }

// Children returns the node's children in insertion order. The returned
// slice is owned by the node and must not be modified.
func (n *Node) Children() []*Node { return n.children }

// IsTerminal reports whether the node is a tip (has no children).
func (n *Node) IsTerminal() bool { return len(n.children) == 0 }

// IsRoot reports whether the node has no parent.
func (n *Node) IsRoot() bool { return n.parent == nil }

// SetElements overrides the terminal-element multiset this terminal node
// contributes (for example, per-label abundances supplied by a spatial
// evaluator). By default a terminal contributes its own name with
// multiplicity 1. Passing nil restores the default.
func (n *Node) SetElements(elements map[string]int) {
	if elements == nil {
		n.elements = nil
	} else {
		n.elements = make(map[string]int, len(elements))
		for k, v := range elements {
			n.elements[k] = v
		}
	}
	if n.tree != nil {
		n.tree.bumpVersion()
	}
}

// cacheSlots returns the node's cache, reset if the owning tree has mutated
// since the cache was last written.
func (n *Node) cacheSlots() *nodeCache {
	var v uint64
	if n.tree != nil {
		v = n.tree.version
	}
	if !n.cache.valid || n.cache.version != v {
		n.cache = nodeCache{version: v, valid: true}
	}
	return &n.cache
}

// Depth returns the number of edges between the node and its root.
func (n *Node) Depth() int {
	c := n.cacheSlots()
	if c.depthOK {
		return c.depth
	}
	d := 0
	if n.parent != nil {
		d = n.parent.Depth() + 1
	}
	c.depth = d
	c.depthOK = true
	return d
}

// LengthBelow returns the total branch length of the subtree below the
// node, excluding the node's own branch. Terminals return 0.
func (n *Node) LengthBelow() float64 {
	c := n.cacheSlots()
	if c.lengthBelowOK {
		return c.lengthBelow
	}
	sum := 0.0
	for _, ch := range n.children {
		sum += ch.length + ch.LengthBelow()
	}
	c.lengthBelow = sum
	c.lengthBelowOK = true
	return sum
}

// TerminalElements returns the multiset of terminal elements below the node
// (the node itself if it is a terminal), as a map from element name to
// multiplicity. The returned map is owned by the node's cache and must not
// be modified.
func (n *Node) TerminalElements() map[string]int {
	c := n.cacheSlots()
	if c.terminalsOK {
		return c.terminals
	}
	var terms map[string]int
	if n.IsTerminal() {
		if n.elements != nil {
			terms = n.elements
		} else {
			terms = map[string]int{n.name: 1}
		}
	} else {
		terms = make(map[string]int)
		for _, ch := range n.children {
			for k, v := range ch.TerminalElements() {
				terms[k] += v
			}
		}
	}
	count := 0
	for _, v := range terms {
		count += v
	}
	c.terminals = terms
	c.terminalCount = count
	c.terminalsOK = true
	return terms
}

// TerminalCount returns the total multiplicity of terminal elements below
// the node. For trees without explicit element overrides this is simply the
// number of tips in the subtree.
func (n *Node) TerminalCount() int {
	c := n.cacheSlots()
	if !c.terminalsOK {
		n.TerminalElements()
	}
	return c.terminalCount
}

// PathToRoot returns the node sequence from the node itself to its root,
// both inclusive. The returned slice is owned by the node's cache and must
// not be modified.
func (n *Node) PathToRoot() []*Node {
	c := n.cacheSlots()
	if c.rootPath != nil {
		return c.rootPath
	}
	path := make([]*Node, 0, n.Depth()+1)
	for cur := n; cur != nil; cur = cur.parent {
		path = append(path, cur)
	}
	c.rootPath = path
	return path
}

// LengthToRoot returns the total branch length from the node to its root.
func (n *Node) LengthToRoot() float64 {
	sum := 0.0
	for cur := n; cur.parent != nil; cur = cur.parent {
		sum += cur.length
	}
	return sum
}

// SiblingNames returns the sorted names of the node's siblings. Roots have
// no siblings.
func (n *Node) SiblingNames() []string {
	if n.parent == nil {
		return nil
	}
	var names []string
	for _, ch := range n.parent.children {
		if ch != n {
			names = append(names, ch.name)
		}
	}
	sort.Strings(names)
	return names
}

// SetResultList attaches (or replaces) a named result list on the node.
// Result lists carry per-index calculation outputs; NaN marks an undefined
// entry. Attaching results does not invalidate topology caches.
func (n *Node) SetResultList(name string, values []float64) {
	if n.lists == nil {
		n.lists = make(map[string][]float64)
	}
	cp := make([]float64, len(values))
	copy(cp, values)
	n.lists[name] = cp
}

// ResultList returns the named result list, or nil if the node does not
// carry one. The returned slice is owned by the node.
func (n *Node) ResultList(name string) []float64 {
	return n.lists[name]
}

// ResultListNames returns the sorted names of all result lists attached to
// the node.
func (n *Node) ResultListNames() []string {
	names := make([]string, 0, len(n.lists))
	for name := range n.lists {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
