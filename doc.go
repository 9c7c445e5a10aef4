// Package phylotree implements the analytical core for phylogenetic
// biodiversity statistics: a mutable rooted tree of named nodes, lowest
// common ancestor resolution, cross-tree node matching for randomisation
// testing, merge of distributed randomisation batches, CANAPE endemism
// classification, and exact (non-simulated) null-model moments for the
// NRI/NTI phylogenetic-diversity metrics.
//
// Basic usage:
//
//	t := phylotree.NewTree("example")
//	root := phylotree.NewNode("root", 0)
//	_ = t.AddNode(root)
//	_ = t.AddChild("root", phylotree.NewNode("a", 1))
//	_ = t.AddChild("root", phylotree.NewNode("b", 1))
//
//	finder := phylotree.NewLCAFinder(t)
//	anc, err := finder.LCA("a", "b")
//
// Trees carry a version counter bumped on every structural mutation; all
// derived values (node depths, terminal sets, root paths, null-model
// caches) validate themselves against it, so callers never invalidate
// caches by hand and can never observe a stale aggregate.
//
// # Randomisation pipeline
//
// Randomisation workers compare private tree replicas (see
// [Tree.CloneStructure]) against observed results with [Compare], which
// accumulates per-node rank counters. A coordinator folds each worker's
// batch into the master tree with [Reintegrate]; merges commute, but each
// batch must be applied exactly once. [DeriveSignificance],
// [DeriveZScores] and [DeriveCANAPE] recompute the dependent fields after
// every merge.
//
// # Exact null models
//
// [PDNullModel] computes the expectation and standard deviation of mean
// pairwise distance and mean nearest-taxon distance under uniform random
// tip sampling in closed form, using a cached log-gamma table for the
// binomial-ratio terms. Nearest-taxon moments require an ultrametric tree
// and fail with [ErrNonUltrametric] otherwise.
package phylotree
