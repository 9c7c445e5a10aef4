package phylotree

import (
	"fmt"
	"sort"
)

// Tree owns the name→node registry for one phylogenetic tree and is the
// single authority for structural mutation. Every structural edit (add,
// delete, rename, reparent, rescale) bumps the tree's version counter;
// node caches and the ancestry index validate themselves against it, so a
// mutation implicitly discards every derived value in the tree.
//
// A finalised tree has exactly one root. During editing, multiple roots may
// transiently exist; algorithms that require single-rootedness return
// ErrInvalidTopology until the caller resolves them, e.g. via [Tree.MergeRoots].
//
// Tree is not safe for concurrent mutation. Read-only concurrent access is
// safe only while no mutation (including lazy cache fills) can occur.
type Tree struct {
	name    string
	nodes   map[string]*Node
	version uint64

	ancestry *ancestryIndex
}

// NewTree returns an empty tree with the given display name.
func NewTree(name string) *Tree {
	return &Tree{
		name:    name,
		nodes:   make(map[string]*Node),
		version: 1,
	}
}

// Name returns the tree's display name.
func (t *Tree) Name() string { return t.name }

// Version returns the structural version counter. It increases on every
// mutation and never decreases; cached derivations compare against it.
func (t *Tree) Version() uint64 { return t.version }

// Len returns the number of registered nodes.
func (t *Tree) Len() int { return len(t.nodes) }

func (t *Tree) bumpVersion() { t.version++ }

// AddNode registers a detached node with the tree. It fails with
// ErrNodeExists if the name is taken. The node is added without a parent;
// link it with [Tree.SetParent] or use [Tree.AddChild].
func (t *Tree) AddNode(n *Node) error {
	if _, ok := t.nodes[n.name]; ok {
		return fmt.Errorf("phylotree: add %q: %w", n.name, ErrNodeExists)
	}
	n.tree = t
	t.nodes[n.name] = n
	t.bumpVersion()
	return nil
}

// AddChild registers a detached node and links it under the named parent.
func (t *Tree) AddChild(parent string, n *Node) error {
	p, ok := t.nodes[parent]
	if !ok {
		return fmt.Errorf("phylotree: add child of %q: %w", parent, ErrNodeNotFound)
	}
	if err := t.AddNode(n); err != nil {
		return err
	}
	n.parent = p
	p.children = append(p.children, n)
	return nil
}

// GetNode returns the node with the given name.
func (t *Tree) GetNode(name string) (*Node, error) {
	n, ok := t.nodes[name]
	if !ok {
		return nil, fmt.Errorf("phylotree: get %q: %w", name, ErrNodeNotFound)
	}
	return n, nil
}

// HasNode reports whether a node with the given name is registered.
func (t *Tree) HasNode(name string) bool {
	_, ok := t.nodes[name]
	return ok
}

// DeleteNode removes the named node and its entire subtree from the
// registry and detaches the node from its parent. Reparenting orphaned
// structure is the caller's responsibility and must happen before the
// delete. Fails with ErrNodeNotFound, leaving the registry unchanged, if
// the name is absent.
func (t *Tree) DeleteNode(name string) error {
	n, ok := t.nodes[name]
	if !ok {
		return fmt.Errorf("phylotree: delete %q: %w", name, ErrNodeNotFound)
	}
	if p := n.parent; p != nil {
		for i, ch := range p.children {
			if ch == n {
				p.children = append(p.children[:i], p.children[i+1:]...)
				break
			}
		}
		n.parent = nil
	}
	var purge func(*Node)
	purge = func(d *Node) {
		delete(t.nodes, d.name)
		for _, ch := range d.children {
			purge(ch)
		}
		// Detach so a stale caller error surfaces instead of silently
		// reading through a dangling registry reference.
		d.tree = nil
		d.children = nil
		d.cache = nodeCache{}
	}
	purge(n)
	t.bumpVersion()
	return nil
}

// RenameNode changes a node's name. Fails with ErrNodeNotFound if old is
// absent and ErrNodeExists if new is taken.
func (t *Tree) RenameNode(old, new string) error {
	n, ok := t.nodes[old]
	if !ok {
		return fmt.Errorf("phylotree: rename %q: %w", old, ErrNodeNotFound)
	}
	if _, taken := t.nodes[new]; taken {
		return fmt.Errorf("phylotree: rename %q to %q: %w", old, new, ErrNodeExists)
	}
	delete(t.nodes, old)
	n.name = new
	t.nodes[new] = n
	t.bumpVersion()
	return nil
}

// SetParent reparents child under parent. Fails with ErrNodeNotFound if
// either name is absent and ErrInvalidTopology if the edit would create a
// cycle (parent is in child's subtree) or make the node its own parent.
func (t *Tree) SetParent(child, parent string) error {
	c, ok := t.nodes[child]
	if !ok {
		return fmt.Errorf("phylotree: reparent %q: %w", child, ErrNodeNotFound)
	}
	p, ok := t.nodes[parent]
	if !ok {
		return fmt.Errorf("phylotree: reparent under %q: %w", parent, ErrNodeNotFound)
	}
	if c == p {
		return fmt.Errorf("phylotree: reparent %q under itself: %w", child, ErrInvalidTopology)
	}
	for cur := p; cur != nil; cur = cur.parent {
		if cur == c {
			return fmt.Errorf("phylotree: reparent %q under its descendant %q: %w", child, parent, ErrInvalidTopology)
		}
	}
	if old := c.parent; old != nil {
		for i, ch := range old.children {
			if ch == c {
				old.children = append(old.children[:i], old.children[i+1:]...)
				break
			}
		}
	}
	c.parent = p
	p.children = append(p.children, c)
	t.bumpVersion()
	return nil
}

// Roots returns all parentless nodes, sorted by name. A finalised tree has
// exactly one.
func (t *Tree) Roots() []*Node {
	var roots []*Node
	for _, n := range t.nodes {
		if n.parent == nil {
			roots = append(roots, n)
		}
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i].name < roots[j].name })
	return roots
}

// Root returns the unique parentless node. It never silently picks one of
// several: zero or multiple roots fail with ErrInvalidTopology, and
// multi-root states must be resolved explicitly with [Tree.MergeRoots].
func (t *Tree) Root() (*Node, error) {
	roots := t.Roots()
	if len(roots) != 1 {
		return nil, fmt.Errorf("phylotree: tree %q has %d roots, want exactly 1: %w", t.name, len(roots), ErrInvalidTopology)
	}
	return roots[0], nil
}

// MergeRoots resolves a transient multi-root state by grafting every
// current root under a synthetic zero-length root, and returns the
// resulting single root. A tree that already has one root is returned
// unchanged. Fails with ErrInvalidTopology on an empty tree.
func (t *Tree) MergeRoots() (*Node, error) {
	roots := t.Roots()
	switch len(roots) {
	case 0:
		return nil, fmt.Errorf("phylotree: merge roots of empty tree %q: %w", t.name, ErrInvalidTopology)
	case 1:
		return roots[0], nil
	}
	name := "merged_root"
	for i := 1; t.HasNode(name); i++ {
		name = fmt.Sprintf("merged_root_%d", i)
	}
	root := NewNode(name, 0)
	if err := t.AddNode(root); err != nil {
		return nil, err
	}
	for _, r := range roots {
		r.parent = root
		root.children = append(root.children, r)
	}
	t.bumpVersion()
	return root, nil
}

// Nodes returns all registered nodes sorted by name.
func (t *Tree) Nodes() []*Node {
	nodes := make([]*Node, 0, len(t.nodes))
	for _, n := range t.nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].name < nodes[j].name })
	return nodes
}

// NodeNames returns all registered node names, sorted.
func (t *Tree) NodeNames() []string {
	names := make([]string, 0, len(t.nodes))
	for name := range t.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TerminalNodes returns all tips sorted by name.
func (t *Tree) TerminalNodes() []*Node {
	var tips []*Node
	for _, n := range t.nodes {
		if n.IsTerminal() {
			tips = append(tips, n)
		}
	}
	sort.Slice(tips, func(i, j int) bool { return tips[i].name < tips[j].name })
	return tips
}

// MaxDepth returns the maximum node depth, or 0 for an empty tree.
func (t *Tree) MaxDepth() int {
	maxDepth := 0
	for _, n := range t.nodes {
		if d := n.Depth(); d > maxDepth {
			maxDepth = d
		}
	}
	return maxDepth
}

// ValidateBranchLengths fails with ErrInvalidTopology if any branch length
// is negative. NRI/NTI computations require non-negative lengths; this is
// checked, never silently coerced.
func (t *Tree) ValidateBranchLengths() error {
	for _, name := range t.NodeNames() {
		if t.nodes[name].length < 0 {
			return fmt.Errorf("phylotree: node %q has negative branch length %v: %w", name, t.nodes[name].length, ErrInvalidTopology)
		}
	}
	return nil
}

// ScaleBranchLengths multiplies every branch length by factor. The factor
// must be positive; rescaling is a structural mutation and invalidates all
// caches.
func (t *Tree) ScaleBranchLengths(factor float64) error {
	if factor <= 0 {
		return fmt.Errorf("phylotree: scale factor must be > 0, got %v: %w", factor, ErrInvalidTopology)
	}
	for _, n := range t.nodes {
		n.length *= factor
	}
	t.bumpVersion()
	return nil
}

// CloneStructure returns an independent copy of the tree's topology, branch
// lengths, terminal-element overrides and result lists. Randomisation
// accumulators are not copied: clones are the private worker replicas of
// the randomisation pipeline and start with fresh counters.
func (t *Tree) CloneStructure(name string) *Tree {
	clone := NewTree(name)
	for _, n := range t.nodes {
		cp := NewNode(n.name, n.length)
		if n.elements != nil {
			cp.elements = make(map[string]int, len(n.elements))
			for k, v := range n.elements {
				cp.elements[k] = v
			}
		}
		for listName, vals := range n.lists {
			cp.SetResultList(listName, vals)
		}
		cp.tree = clone
		clone.nodes[cp.name] = cp
	}
	for _, n := range t.nodes {
		cp := clone.nodes[n.name]
		if n.parent != nil {
			cp.parent = clone.nodes[n.parent.name]
		}
		for _, ch := range n.children {
			cp.children = append(cp.children, clone.nodes[ch.name])
		}
	}
	clone.bumpVersion()
	return clone
}

// ancestryIndexFor returns the tree's lazily allocated ancestry index.
func (t *Tree) ancestryIndexFor() *ancestryIndex {
	if t.ancestry == nil {
		t.ancestry = &ancestryIndex{tree: t}
	}
	return t.ancestry
}
