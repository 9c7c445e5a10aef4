package phylotree

import "errors"

// Sentinel errors for tree and null-model operations.
//
// Structural errors (name collisions, missing nodes, broken topology) are
// always surfaced to the caller: they indicate a corrupted or misused tree,
// and the cache layer depends on mutations never half-succeeding.
var (
	// ErrNodeExists is returned when adding or renaming a node would
	// collide with a name already present in the tree.
	ErrNodeExists = errors.New("node already exists")

	// ErrNodeNotFound is returned when an operation references a node
	// name that is not in the tree's registry.
	ErrNodeNotFound = errors.New("node not found")

	// ErrInvalidTopology is returned when a tree violates a structural
	// precondition: zero or multiple roots where exactly one is required,
	// a reparenting that would create a cycle, or a negative branch
	// length where non-negative lengths are required.
	ErrInvalidTopology = errors.New("invalid topology")

	// ErrNonUltrametric is returned when a nearest-taxon-distance moment
	// is requested on a tree whose tip-to-root path lengths are not all
	// equal within tolerance.
	ErrNonUltrametric = errors.New("tree is not ultrametric")

	// ErrSampleSize is returned when a null-model sample count is out of
	// range: fewer than two tips, or more tips than the tree holds.
	ErrSampleSize = errors.New("sample size out of range")
)
