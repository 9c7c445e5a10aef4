package phylotree

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

const ultrametricTol = 1e-3

// PDNullModel computes exact (non-simulated) first and second moments of
// the mean-pairwise-distance (MPD, behind NRI) and mean-nearest-taxon-
// distance (MNTD, behind NTI) statistics under uniform random selection of
// r of the tree's s terminals.
//
// Both statistics decompose over branches. For a random tip subset R with
// c_v tips below node v:
//
//	sum of pairwise distances  = Σ_v len(v) · c_v·(r−c_v)
//	sum of nearest-taxon dists = 2 · Σ_v len(v) · [c_v == 1]   (ultrametric)
//
// so the moments reduce to hypergeometric expectations that depend on each
// node only through its tip count, and on node pairs only through their tip
// counts and whether their tip sets are nested or disjoint. The model keeps
// per-tree caches of branch-length sums grouped by tip count, a log-gamma
// table for evaluating the binomial-ratio terms in log space, and memoised
// moments per (statistic, sample count); everything is rebuilt when the
// tree's version moves.
type PDNullModel struct {
	tree    *Tree
	version uint64
	built   bool

	s      int       // number of terminal nodes
	lnFact []float64 // lnFact[i] = ln(i!), 0..s

	// Branch-length sums grouped by subtree tip count.
	lenByTip    map[int]float64    // Σ len(v)            over v with tips(v)=t
	sqByTip     map[int]float64    // Σ len(v)²           over v with tips(v)=t
	nestedByTip map[[2]int]float64 // Σ len(v)·len(a)     over v below a, keyed (tips(v), tips(a))

	ultraSpread float64 // max − min terminal root-path length

	meanMPDVal float64
	meanMPDOK  bool
	sdMPDMemo  map[int]float64
	meanNTD    map[int]float64
	sdNTDMemo  map[int]float64
}

// NewPDNullModel returns a null model bound to t. The tree must have a
// single root and non-negative branch lengths by the time a moment is
// requested.
func NewPDNullModel(t *Tree) *PDNullModel {
	return &PDNullModel{tree: t}
}

// ensure rebuilds the per-tree caches when the topology or branch lengths
// have changed since the last build.
func (m *PDNullModel) ensure() error {
	if m.built && m.version == m.tree.version {
		return nil
	}
	root, err := m.tree.Root()
	if err != nil {
		return err
	}
	if err := m.tree.ValidateBranchLengths(); err != nil {
		return err
	}

	// Bottom-up terminal-node counts. The null model counts terminal
	// nodes, not element multiplicities: the combinatorics sample tips.
	tips := make(map[*Node]int, m.tree.Len())
	var countTips func(*Node) int
	countTips = func(n *Node) int {
		if n.IsTerminal() {
			tips[n] = 1
			return 1
		}
		total := 0
		for _, ch := range n.children {
			total += countTips(ch)
		}
		tips[n] = total
		return total
	}
	s := countTips(root)

	lnFact := make([]float64, s+1)
	for i := 2; i <= s; i++ {
		lg, _ := math.Lgamma(float64(i) + 1)
		lnFact[i] = lg
	}

	lenByTip := make(map[int]float64)
	sqByTip := make(map[int]float64)
	nestedByTip := make(map[[2]int]float64)
	minHeight, maxHeight := math.Inf(1), math.Inf(-1)
	for _, n := range m.tree.nodes {
		t := tips[n]
		lenByTip[t] += n.length
		sqByTip[t] += n.length * n.length
		for a := n.parent; a != nil; a = a.parent {
			nestedByTip[[2]int{t, tips[a]}] += n.length * a.length
		}
		if n.IsTerminal() {
			h := n.LengthToRoot()
			minHeight = math.Min(minHeight, h)
			maxHeight = math.Max(maxHeight, h)
		}
	}

	m.s = s
	m.lnFact = lnFact
	m.lenByTip = lenByTip
	m.sqByTip = sqByTip
	m.nestedByTip = nestedByTip
	m.ultraSpread = maxHeight - minHeight
	m.meanMPDOK = false
	m.sdMPDMemo = make(map[int]float64)
	m.meanNTD = make(map[int]float64)
	m.sdNTDMemo = make(map[int]float64)
	m.version = m.tree.version
	m.built = true
	return nil
}

// logChoose returns ln C(n, k) from the cached log-gamma table, -Inf for
// impossible selections.
func (m *PDNullModel) logChoose(n, k int) float64 {
	if k < 0 || n < 0 || k > n {
		return math.Inf(-1)
	}
	return m.lnFact[n] - m.lnFact[k] - m.lnFact[n-k]
}

// fallingRatio returns (r)_k / (s)_k, the probability that k distinct
// sampled slots all land in a k-subset, evaluated in log space.
func (m *PDNullModel) fallingRatio(r, k int) float64 {
	if r < k {
		return 0
	}
	return math.Exp(m.lnFact[r] - m.lnFact[r-k] - m.lnFact[m.s] + m.lnFact[m.s-k])
}

// ff is the falling factorial (x)_k for small fixed k.
func ff(x, k int) float64 {
	if x < k {
		return 0
	}
	p := 1.0
	for i := 0; i < k; i++ {
		p *= float64(x - i)
	}
	return p
}

func (m *PDNullModel) checkSampleCount(r int) error {
	if r < 2 || r > m.s {
		return fmt.Errorf("phylotree: sample count %d with %d terminals: %w", r, m.s, ErrSampleSize)
	}
	return nil
}

// IsUltrametric reports whether every terminal's root-path length is equal
// within tol.
func (m *PDNullModel) IsUltrametric(tol float64) (bool, error) {
	if err := m.ensure(); err != nil {
		return false, err
	}
	return m.ultraSpread <= tol, nil
}

// ExpectedMeanMPD returns the exact expectation of the mean pairwise
// distance between sampled tips. It is independent of the sample count: a
// branch with t tips below it separates a uniform random tip pair with
// probability t(s−t)/C(s,2).
func (m *PDNullModel) ExpectedMeanMPD() (float64, error) {
	if err := m.ensure(); err != nil {
		return 0, err
	}
	if m.s < 2 {
		return 0, fmt.Errorf("phylotree: mean MPD needs at least 2 terminals, have %d: %w", m.s, ErrSampleSize)
	}
	if m.meanMPDOK {
		return m.meanMPDVal, nil
	}
	terms := make([]float64, 0, len(m.lenByTip))
	for t, l := range m.lenByTip {
		terms = append(terms, l*float64(t)*float64(m.s-t))
	}
	s := float64(m.s)
	m.meanMPDVal = floats.Sum(terms) * 2 / (s * (s - 1))
	m.meanMPDOK = true
	return m.meanMPDVal, nil
}

// ExpectedSDMPD returns the exact standard deviation of the mean pairwise
// distance over uniform random r-of-s tip samples.
//
// The second moment is a double sum over branch pairs. Each pair enters
// only through the two tip counts and the pair's class (same branch, nested
// tip sets, disjoint tip sets), so the sum collapses onto the cached
// by-tip-count products with one hypergeometric weight per distinct
// (class, tip count, tip count) argument; weights are memoised per call.
func (m *PDNullModel) ExpectedSDMPD(r int) (float64, error) {
	if err := m.ensure(); err != nil {
		return 0, err
	}
	if err := m.checkSampleCount(r); err != nil {
		return 0, err
	}
	if sd, ok := m.sdMPDMemo[r]; ok {
		return sd, nil
	}
	mean, err := m.ExpectedMeanMPD()
	if err != nil {
		return 0, err
	}

	// R[k] = (r)_k / (s)_k.
	var R [5]float64
	for k := 1; k <= 4; k++ {
		R[k] = m.fallingRatio(r, k)
	}
	rf := float64(r - 1)

	// E[g(c)²] for one branch, g(c) = c(r−c) = (r−1)(c)_1 − (c)_2.
	sameW := func(t int) float64 {
		m1 := R[1] * ff(t, 1)
		m2 := R[2] * ff(t, 2)
		m3 := R[3] * ff(t, 3)
		m4 := R[4] * ff(t, 4)
		return rf*rf*(m2+m1) - 2*rf*(m3+2*m2) + (m4 + 4*m3 + 2*m2)
	}

	// E[g(c_low)·g(c_high)] for nested tip sets, tl below th. The joint
	// factorial moments split c_high = c_low + c_rest with a disjoint
	// category of w = th − tl tips.
	nestedW := func(tl, th int) float64 {
		w := th - tl
		e11 := ff(tl, 2)*R[2] + ff(tl, 1)*R[1] + ff(tl, 1)*ff(w, 1)*R[2]
		e21 := ff(tl, 3)*R[3] + 2*ff(tl, 2)*R[2] + ff(tl, 2)*ff(w, 1)*R[3]
		e12 := ff(tl, 3)*R[3] + 2*ff(tl, 2)*R[2] + ff(tl, 1)*ff(w, 2)*R[3] +
			2*(ff(tl, 2)*ff(w, 1)*R[3]+ff(tl, 1)*ff(w, 1)*R[2])
		e22 := ff(tl, 4)*R[4] + 4*ff(tl, 3)*R[3] + 2*ff(tl, 2)*R[2] +
			ff(tl, 2)*ff(w, 2)*R[4] +
			2*(ff(tl, 3)*ff(w, 1)*R[4]+2*ff(tl, 2)*ff(w, 1)*R[3])
		return rf*rf*e11 - rf*(e12+e21) + e22
	}

	// E[g(c_1)·g(c_2)] for disjoint tip sets.
	disjointW := func(t1, t2 int) float64 {
		j11 := ff(t1, 1) * ff(t2, 1) * R[2]
		j12 := ff(t1, 1) * ff(t2, 2) * R[3]
		j21 := ff(t1, 2) * ff(t2, 1) * R[3]
		j22 := ff(t1, 2) * ff(t2, 2) * R[4]
		return rf*rf*j11 - rf*(j12+j21) + j22
	}

	secondMoment := 0.0
	for t, sq := range m.sqByTip {
		secondMoment += sq * sameW(t)
	}
	nestedMemo := make(map[[2]int]float64)
	for key, prod := range m.nestedByTip {
		w, ok := nestedMemo[key]
		if !ok {
			w = nestedW(key[0], key[1])
			nestedMemo[key] = w
		}
		// Ordered pairs: (low, high) and (high, low) have the same
		// expectation.
		secondMoment += 2 * prod * w
	}
	for t1, l1 := range m.lenByTip {
		for t2, l2 := range m.lenByTip {
			prod := l1 * l2
			if t1 == t2 {
				prod -= m.sqByTip[t1]
			}
			prod -= m.nestedByTip[[2]int{t1, t2}]
			prod -= m.nestedByTip[[2]int{t2, t1}]
			secondMoment += prod * disjointW(t1, t2)
		}
	}

	pairs := float64(r) * float64(r-1) / 2
	expected := mean * pairs
	variance := (secondMoment - expected*expected) / (pairs * pairs)
	if variance < 0 {
		variance = 0
	}
	sd := math.Sqrt(variance)
	m.sdMPDMemo[r] = sd
	return sd, nil
}

// SampleWeightOne returns the probability that a branch with the given tip
// count has exactly one sampled tip below it: t·C(s−t, r−1)/C(s, r). The
// returned function closes over the cached log-gamma table and memoises
// repeated arguments, so one moment computation evaluates each distinct tip
// count once.
func (m *PDNullModel) SampleWeightOne(r int) (func(tipCount int) float64, error) {
	if err := m.ensure(); err != nil {
		return nil, err
	}
	if err := m.checkSampleCount(r); err != nil {
		return nil, err
	}
	lcTotal := m.logChoose(m.s, r)
	memo := make(map[int]float64)
	return func(t int) float64 {
		if w, ok := memo[t]; ok {
			return w
		}
		lc := m.logChoose(m.s-t, r-1)
		w := 0.0
		if !math.IsInf(lc, -1) {
			w = math.Exp(math.Log(float64(t)) + lc - lcTotal)
		}
		memo[t] = w
		return w
	}, nil
}

// SampleWeightPair returns the probability that two branches with disjoint
// tip sets each have exactly one sampled tip below them:
// t1·t2·C(s−t1−t2, r−2)/C(s, r). Same caching contract as [PDNullModel.SampleWeightOne].
func (m *PDNullModel) SampleWeightPair(r int) (func(tc1, tc2 int) float64, error) {
	if err := m.ensure(); err != nil {
		return nil, err
	}
	if err := m.checkSampleCount(r); err != nil {
		return nil, err
	}
	lcTotal := m.logChoose(m.s, r)
	memo := make(map[[2]int]float64)
	return func(t1, t2 int) float64 {
		key := [2]int{t1, t2}
		if t2 < t1 {
			key[0], key[1] = t2, t1
		}
		if w, ok := memo[key]; ok {
			return w
		}
		lc := m.logChoose(m.s-t1-t2, r-2)
		w := 0.0
		if !math.IsInf(lc, -1) {
			w = math.Exp(math.Log(float64(t1)) + math.Log(float64(t2)) + lc - lcTotal)
		}
		memo[key] = w
		return w
	}, nil
}

// requireUltrametric fails fast with ErrNonUltrametric when tip heights
// differ beyond the fixed tolerance. The MNTD branch decomposition doubles
// one side of each nearest-neighbour path, which is only exact when every
// tip sits at the same height.
func (m *PDNullModel) requireUltrametric() error {
	ok, err := m.IsUltrametric(ultrametricTol)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("phylotree: tip heights spread %v exceeds %v: %w", m.ultraSpread, ultrametricTol, ErrNonUltrametric)
	}
	return nil
}

// ExpectedMeanNTD returns the exact expectation of the mean nearest-taxon
// distance over uniform random r-of-s tip samples. The tree must be
// ultrametric.
func (m *PDNullModel) ExpectedMeanNTD(r int) (float64, error) {
	if err := m.ensure(); err != nil {
		return 0, err
	}
	if err := m.checkSampleCount(r); err != nil {
		return 0, err
	}
	if err := m.requireUltrametric(); err != nil {
		return 0, err
	}
	if mean, ok := m.meanNTD[r]; ok {
		return mean, nil
	}
	weightOne, err := m.SampleWeightOne(r)
	if err != nil {
		return 0, err
	}
	terms := make([]float64, 0, len(m.lenByTip))
	for t, l := range m.lenByTip {
		terms = append(terms, l*weightOne(t))
	}
	mean := 2 * floats.Sum(terms) / float64(r)
	m.meanNTD[r] = mean
	return mean, nil
}

// ExpectedSDNTD returns the exact standard deviation of the mean
// nearest-taxon distance over uniform random r-of-s tip samples. The tree
// must be ultrametric.
func (m *PDNullModel) ExpectedSDNTD(r int) (float64, error) {
	mean, err := m.ExpectedMeanNTD(r)
	if err != nil {
		return 0, err
	}
	if sd, ok := m.sdNTDMemo[r]; ok {
		return sd, nil
	}
	weightOne, err := m.SampleWeightOne(r)
	if err != nil {
		return 0, err
	}
	weightPair, err := m.SampleWeightPair(r)
	if err != nil {
		return 0, err
	}

	secondMoment := 0.0
	for t, sq := range m.sqByTip {
		secondMoment += sq * weightOne(t)
	}
	for key, prod := range m.nestedByTip {
		tl, th := key[0], key[1]
		// Both branches hold exactly one sampled tip only when the one
		// tip below the higher branch falls below the lower branch.
		secondMoment += 2 * prod * float64(tl) / float64(th) * weightOne(th)
	}
	for t1, l1 := range m.lenByTip {
		for t2, l2 := range m.lenByTip {
			prod := l1 * l2
			if t1 == t2 {
				prod -= m.sqByTip[t1]
			}
			prod -= m.nestedByTip[[2]int{t1, t2}]
			prod -= m.nestedByTip[[2]int{t2, t1}]
			secondMoment += prod * weightPair(t1, t2)
		}
	}

	rf := float64(r)
	variance := 4/(rf*rf)*secondMoment - mean*mean
	if variance < 0 {
		variance = 0
	}
	sd := math.Sqrt(variance)
	m.sdNTDMemo[r] = sd
	return sd, nil
}

// NRI returns the net relatedness index: the observed mean pairwise
// distance standardised against the exact null moments, with the
// conventional sign (clustered samples score positive). NaN when the null
// variance is zero.
func (m *PDNullModel) NRI(observedMPD float64, r int) (float64, error) {
	mean, err := m.ExpectedMeanMPD()
	if err != nil {
		return 0, err
	}
	sd, err := m.ExpectedSDMPD(r)
	if err != nil {
		return 0, err
	}
	if sd == 0 {
		return math.NaN(), nil
	}
	return (mean - observedMPD) / sd, nil
}

// NTI returns the nearest taxon index, the MNTD analogue of [PDNullModel.NRI].
func (m *PDNullModel) NTI(observedMNTD float64, r int) (float64, error) {
	mean, err := m.ExpectedMeanNTD(r)
	if err != nil {
		return 0, err
	}
	sd, err := m.ExpectedSDNTD(r)
	if err != nil {
		return 0, err
	}
	if sd == 0 {
		return math.NaN(), nil
	}
	return (mean - observedMNTD) / sd, nil
}
