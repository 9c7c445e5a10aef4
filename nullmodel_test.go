package phylotree

import (
	"errors"
	"math"
	"testing"
)

// tipDistance is the path length between two terminals, computed the slow
// way from root paths.
func tipDistance(a, b *Node) float64 {
	lca := bruteLCA(a, b)
	return a.LengthToRoot() + b.LengthToRoot() - 2*lca.LengthToRoot()
}

// combinations enumerates all r-subsets of nodes.
func combinations(nodes []*Node, r int) [][]*Node {
	if r == 0 {
		return [][]*Node{nil}
	}
	if len(nodes) < r {
		return nil
	}
	var out [][]*Node
	for _, rest := range combinations(nodes[1:], r-1) {
		subset := append([]*Node{nodes[0]}, rest...)
		out = append(out, subset)
	}
	return append(out, combinations(nodes[1:], r)...)
}

// bruteMPDMoments computes the mean and standard deviation of the mean
// pairwise distance over every r-subset of terminals by full enumeration.
func bruteMPDMoments(t *testing.T, tr *Tree, r int) (mean, sd float64) {
	t.Helper()
	subsets := combinations(tr.TerminalNodes(), r)
	if len(subsets) == 0 {
		t.Fatalf("no %d-subsets", r)
	}
	var sum, sumSq float64
	for _, subset := range subsets {
		var total float64
		for i := 0; i < len(subset); i++ {
			for j := i + 1; j < len(subset); j++ {
				total += tipDistance(subset[i], subset[j])
			}
		}
		mpd := total / (float64(r) * float64(r-1) / 2)
		sum += mpd
		sumSq += mpd * mpd
	}
	n := float64(len(subsets))
	mean = sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	return mean, math.Sqrt(variance)
}

// bruteMNTDMoments is the nearest-taxon analogue of bruteMPDMoments.
func bruteMNTDMoments(t *testing.T, tr *Tree, r int) (mean, sd float64) {
	t.Helper()
	subsets := combinations(tr.TerminalNodes(), r)
	if len(subsets) == 0 {
		t.Fatalf("no %d-subsets", r)
	}
	var sum, sumSq float64
	for _, subset := range subsets {
		var total float64
		for i, a := range subset {
			nearest := math.Inf(1)
			for j, b := range subset {
				if i == j {
					continue
				}
				nearest = math.Min(nearest, tipDistance(a, b))
			}
			total += nearest
		}
		mntd := total / float64(r)
		sum += mntd
		sumSq += mntd * mntd
	}
	n := float64(len(subsets))
	mean = sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	return mean, math.Sqrt(variance)
}

func TestExpectedMeanMPD_BalancedFourTip(t *testing.T) {
	m := NewPDNullModel(balancedFourTipTree(t))
	mean, err := m.ExpectedMeanMPD()
	if err != nil {
		t.Fatal(err)
	}
	// Four tip branches each split 1·3 pairs, two internal branches each
	// split 2·2, over C(4,2)=6 pairs: (4·3 + 2·4)/6 = 10/3.
	if !almostEqual(mean, 10.0/3.0, 1e-12) {
		t.Errorf("mean MPD = %v, want 10/3", mean)
	}
}

func TestMPDMoments_MatchBruteForce(t *testing.T) {
	fixtures := map[string]*Tree{
		"balanced":    balancedFourTipTree(t),
		"caterpillar": caterpillarTree(t),
	}
	for name, tr := range fixtures {
		m := NewPDNullModel(tr)
		s := len(tr.TerminalNodes())
		for r := 2; r <= s; r++ {
			wantMean, wantSD := bruteMPDMoments(t, tr, r)

			mean, err := m.ExpectedMeanMPD()
			if err != nil {
				t.Fatalf("%s r=%d: %v", name, r, err)
			}
			if !almostEqual(mean, wantMean, 1e-9) {
				t.Errorf("%s r=%d: mean MPD = %v, want %v", name, r, mean, wantMean)
			}

			sd, err := m.ExpectedSDMPD(r)
			if err != nil {
				t.Fatalf("%s r=%d: %v", name, r, err)
			}
			if !almostEqual(sd, wantSD, 1e-9) {
				t.Errorf("%s r=%d: sd MPD = %v, want %v", name, r, sd, wantSD)
			}
		}
	}
}

func TestMPDSDZeroWhenAllTipsSampled(t *testing.T) {
	m := NewPDNullModel(balancedFourTipTree(t))
	sd, err := m.ExpectedSDMPD(4)
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqual(sd, 0, 1e-9) {
		t.Errorf("sd MPD at r=s = %v, want 0", sd)
	}
}

func TestNTDMoments_MatchBruteForce(t *testing.T) {
	tr := balancedFourTipTree(t)
	m := NewPDNullModel(tr)
	for r := 2; r <= 4; r++ {
		wantMean, wantSD := bruteMNTDMoments(t, tr, r)

		mean, err := m.ExpectedMeanNTD(r)
		if err != nil {
			t.Fatalf("r=%d: %v", r, err)
		}
		if !almostEqual(mean, wantMean, 1e-9) {
			t.Errorf("r=%d: mean MNTD = %v, want %v", r, mean, wantMean)
		}

		sd, err := m.ExpectedSDNTD(r)
		if err != nil {
			t.Fatalf("r=%d: %v", r, err)
		}
		if !almostEqual(sd, wantSD, 1e-9) {
			t.Errorf("r=%d: sd MNTD = %v, want %v", r, sd, wantSD)
		}
	}
}

func TestMeanNTD_BalancedThreeOfFour(t *testing.T) {
	m := NewPDNullModel(balancedFourTipTree(t))
	// Every 3-subset holds one cherry (nearest distance 2 both ways) and
	// one lone tip at distance 4: (2+2+4)/3.
	mean, err := m.ExpectedMeanNTD(3)
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqual(mean, 8.0/3.0, 1e-12) {
		t.Errorf("mean MNTD = %v, want 8/3", mean)
	}
	sd, err := m.ExpectedSDNTD(3)
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqual(sd, 0, 1e-9) {
		t.Errorf("sd MNTD = %v, want 0", sd)
	}
}

func TestNTD_RequiresUltrametric(t *testing.T) {
	m := NewPDNullModel(caterpillarTree(t))
	ok, err := m.IsUltrametric(ultrametricTol)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("caterpillar fixture should not be ultrametric")
	}
	if _, err := m.ExpectedMeanNTD(2); !errors.Is(err, ErrNonUltrametric) {
		t.Errorf("mean MNTD: got %v, want ErrNonUltrametric", err)
	}
	if _, err := m.ExpectedSDNTD(2); !errors.Is(err, ErrNonUltrametric) {
		t.Errorf("sd MNTD: got %v, want ErrNonUltrametric", err)
	}
}

func TestNullModelSampleSizeErrors(t *testing.T) {
	m := NewPDNullModel(balancedFourTipTree(t))
	for _, r := range []int{-1, 0, 1, 5} {
		if _, err := m.ExpectedSDMPD(r); !errors.Is(err, ErrSampleSize) {
			t.Errorf("sd MPD r=%d: got %v, want ErrSampleSize", r, err)
		}
		if _, err := m.ExpectedMeanNTD(r); !errors.Is(err, ErrSampleSize) {
			t.Errorf("mean MNTD r=%d: got %v, want ErrSampleSize", r, err)
		}
		if _, err := m.SampleWeightOne(r); !errors.Is(err, ErrSampleSize) {
			t.Errorf("weight-one r=%d: got %v, want ErrSampleSize", r, err)
		}
	}
}

func TestNullModelRejectsNegativeLengths(t *testing.T) {
	tr := balancedFourTipTree(t)
	mustChild(t, tr, "v", "bad", -1)
	m := NewPDNullModel(tr)
	if _, err := m.ExpectedMeanMPD(); !errors.Is(err, ErrInvalidTopology) {
		t.Errorf("got %v, want ErrInvalidTopology", err)
	}
}

func TestNullModelFollowsTreeVersion(t *testing.T) {
	tr := balancedFourTipTree(t)
	m := NewPDNullModel(tr)
	before, err := m.ExpectedMeanMPD()
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.ScaleBranchLengths(2); err != nil {
		t.Fatal(err)
	}
	after, err := m.ExpectedMeanMPD()
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqual(after, 2*before, 1e-12) {
		t.Errorf("mean MPD after scaling = %v, want %v", after, 2*before)
	}
}

func TestSampleWeightOne_SingleTipBranch(t *testing.T) {
	m := NewPDNullModel(balancedFourTipTree(t))
	for r := 2; r <= 4; r++ {
		weightOne, err := m.SampleWeightOne(r)
		if err != nil {
			t.Fatal(err)
		}
		// A terminal branch holds exactly one sampled tip iff its tip is
		// sampled: probability r/s.
		want := float64(r) / 4
		if got := weightOne(1); !almostEqual(got, want, 1e-12) {
			t.Errorf("r=%d: weight = %v, want %v", r, got, want)
		}
	}
}

func TestNRIAndNTI(t *testing.T) {
	tr := balancedFourTipTree(t)
	m := NewPDNullModel(tr)

	mean, err := m.ExpectedMeanMPD()
	if err != nil {
		t.Fatal(err)
	}
	nri, err := m.NRI(mean, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqual(nri, 0, 1e-9) {
		t.Errorf("NRI at the null mean = %v, want 0", nri)
	}
	// Overdispersed samples (observed above the mean) score negative.
	nri, err = m.NRI(mean+1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !(nri < 0) {
		t.Errorf("NRI above the null mean = %v, want negative", nri)
	}
	// Zero null variance leaves the index undefined.
	nri, err = m.NRI(mean, 4)
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsNaN(nri) {
		t.Errorf("NRI with zero null variance = %v, want NaN", nri)
	}

	ntdMean, err := m.ExpectedMeanNTD(2)
	if err != nil {
		t.Fatal(err)
	}
	nti, err := m.NTI(ntdMean-0.5, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !(nti > 0) {
		t.Errorf("NTI below the null mean = %v, want positive", nti)
	}
}
