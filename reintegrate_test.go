package phylotree

import (
	"errors"
	"math"
	"sort"
	"sync"
	"testing"
)

// observedMaster returns a master tree whose nodes carry an observed "PE"
// result list.
func observedMaster(t *testing.T) *Tree {
	t.Helper()
	tr := balancedFourTipTree(t)
	for i, n := range tr.Nodes() {
		n.SetResultList("PE", []float64{float64(i) + 0.5})
	}
	return tr
}

// randomisationBatch simulates one worker: a private replica of the master
// whose accumulators have folded the given comparator values against the
// master's observed values.
func randomisationBatch(t *testing.T, master *Tree, name string, comparators map[string][]float64) *Tree {
	t.Helper()
	batch := master.CloneStructure(name)
	for nodeName, values := range comparators {
		n, err := batch.GetNode(nodeName)
		if err != nil {
			t.Fatal(err)
		}
		observed := n.ResultList("PE")[0]
		accs := n.ensureRankAccumulators("PE", 1)
		for _, v := range values {
			accs[0].Observe(v, observed, 1e-10)
		}
	}
	return batch
}

func TestReintegrate_MergesAndDerives(t *testing.T) {
	master := observedMaster(t)
	a, _ := master.GetNode("a")
	observed := a.ResultList("PE")[0] // 0.5

	batchX := randomisationBatch(t, master, "x", map[string][]float64{
		"a": {observed + 1, observed - 0.25},
	})
	batchY := randomisationBatch(t, master, "y", map[string][]float64{
		"a": {observed + 2},
	})

	if err := Reintegrate(master, batchX, ReintegrateOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := Reintegrate(master, batchY, ReintegrateOptions{}); err != nil {
		t.Fatal(err)
	}

	accs := a.RankAccumulators("PE")
	if len(accs) != 1 {
		t.Fatalf("accumulator count = %d, want 1", len(accs))
	}
	if accs[0].Compared != 3 || accs[0].Passed != 2 {
		t.Errorf("merged counters C:%d Q:%d, want C:2 Q:3", accs[0].Passed, accs[0].Compared)
	}

	prank := a.ResultList("PE" + PRankSuffix)
	if len(prank) != 1 || !almostEqual(prank[0], 2.0/3.0, 1e-12) {
		t.Errorf("derived p-rank = %v, want [2/3]", prank)
	}
	z := a.ResultList("PE" + ZScoreSuffix)
	if len(z) != 1 || math.IsNaN(z[0]) {
		t.Errorf("derived z-score = %v, want a defined value", z)
	}
}

func TestReintegrate_Commutes(t *testing.T) {
	base := observedMaster(t)
	comparatorsX := map[string][]float64{
		"a": {0.1, 0.9, 2.5},
		"u": {1.0},
	}
	comparatorsY := map[string][]float64{
		"a": {1.5},
		"u": {4.0, 0.5},
		"v": {2.0},
	}

	run := func(order []map[string][]float64) *Tree {
		master := base.CloneStructure("master")
		for i, comps := range order {
			batch := randomisationBatch(t, base, "batch", comps)
			if err := Reintegrate(master, batch, ReintegrateOptions{}); err != nil {
				t.Fatalf("merge %d: %v", i, err)
			}
		}
		return master
	}

	xy := run([]map[string][]float64{comparatorsX, comparatorsY})
	yx := run([]map[string][]float64{comparatorsY, comparatorsX})

	for _, name := range base.NodeNames() {
		nx, _ := xy.GetNode(name)
		ny, _ := yx.GetNode(name)
		ax := nx.RankAccumulators("PE")
		ay := ny.RankAccumulators("PE")
		if len(ax) != len(ay) {
			t.Fatalf("%s: accumulator counts differ: %d vs %d", name, len(ax), len(ay))
		}
		for i := range ax {
			if ax[i].Passed != ay[i].Passed || ax[i].Compared != ay[i].Compared || ax[i].Ties != ay[i].Ties {
				t.Errorf("%s[%d]: counters differ: %+v vs %+v", name, i, ax[i], ay[i])
			}
			if !almostEqual(ax[i].SumX, ay[i].SumX, 1e-12) || !almostEqual(ax[i].SumXX, ay[i].SumXX, 1e-12) {
				t.Errorf("%s[%d]: sums differ", name, i)
			}
			sx := append([]float64(nil), ax[i].Samples...)
			sy := append([]float64(nil), ay[i].Samples...)
			sort.Float64s(sx)
			sort.Float64s(sy)
			for j := range sx {
				if sx[j] != sy[j] {
					t.Fatalf("%s[%d]: samples differ: %v vs %v", name, i, sx, sy)
				}
			}
			if !almostEqual(ax[i].PRank(), ay[i].PRank(), 1e-12) {
				t.Errorf("%s[%d]: p-ranks differ: %v vs %v", name, i, ax[i].PRank(), ay[i].PRank())
			}
		}
	}
}

func TestReintegrate_ParallelWorkers(t *testing.T) {
	base := observedMaster(t)
	const workers = 8

	buildComparators := func(w int) map[string][]float64 {
		return map[string][]float64{
			"a": {float64(w), float64(w) + 0.25},
			"v": {float64(w) * 0.5},
		}
	}

	// Workers build private batches concurrently; the coordinator merges
	// them sequentially at the barrier.
	batches := make([]*Tree, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			batches[w] = randomisationBatch(t, base, "worker", buildComparators(w))
		}(w)
	}
	wg.Wait()

	parallel := base.CloneStructure("parallel")
	for _, b := range batches {
		if err := Reintegrate(parallel, b, ReintegrateOptions{}); err != nil {
			t.Fatal(err)
		}
	}

	sequential := base.CloneStructure("sequential")
	for w := 0; w < workers; w++ {
		b := randomisationBatch(t, base, "seq", buildComparators(w))
		if err := Reintegrate(sequential, b, ReintegrateOptions{}); err != nil {
			t.Fatal(err)
		}
	}

	for _, name := range []string{"a", "v"} {
		np, _ := parallel.GetNode(name)
		ns, _ := sequential.GetNode(name)
		ap := np.RankAccumulators("PE")[0]
		as := ns.RankAccumulators("PE")[0]
		if ap.Passed != as.Passed || ap.Compared != as.Compared || !almostEqual(ap.SumX, as.SumX, 1e-9) {
			t.Errorf("%s: parallel-built batches diverge from sequential: %+v vs %+v", name, ap, as)
		}
	}
}

func TestReintegrate_TrackedPrefixes(t *testing.T) {
	master := observedMaster(t)
	batch := master.CloneStructure("batch")
	bn, _ := batch.GetNode("a")
	bn.ensureRankAccumulators("PE", 1)[0].Observe(1, 0.5, 1e-10)
	bn.ensureRankAccumulators("OTHER", 1)[0].Observe(1, 0.5, 1e-10)

	opts := ReintegrateOptions{TrackedPrefixes: []string{"PE"}}
	if err := Reintegrate(master, batch, opts); err != nil {
		t.Fatal(err)
	}
	a, _ := master.GetNode("a")
	if a.RankAccumulators("PE") == nil {
		t.Error("tracked prefix not merged")
	}
	if a.RankAccumulators("OTHER") != nil {
		t.Error("untracked prefix merged")
	}
}

func TestReintegrate_TopologyMismatchFails(t *testing.T) {
	master := observedMaster(t)
	batch := master.CloneStructure("batch")
	mustChild(t, batch, "u", "extra", 1)
	en, _ := batch.GetNode("extra")
	en.ensureRankAccumulators("PE", 1)[0].Observe(1, 0, 1e-10)

	err := Reintegrate(master, batch, ReintegrateOptions{})
	if !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("got %v, want ErrNodeNotFound", err)
	}
}

func TestDeriveCANAPE(t *testing.T) {
	tr := balancedFourTipTree(t)
	setRanks := func(name string, peObs, peAlt, rpe float64) {
		n, _ := tr.GetNode(name)
		n.SetResultList("PE_PRANK", []float64{peObs})
		n.SetResultList("PE_ALT_PRANK", []float64{peAlt})
		n.SetResultList("RPE_PRANK", []float64{rpe})
	}
	setRanks("a", 0.99, 0.995, 0.5) // super
	setRanks("b", 0.96, 0.80, 0.01) // neo
	setRanks("c", 0.90, 0.90, 0.5)  // not significant

	DeriveCANAPE(tr, CANAPEInputs{
		PEObsList: "PE_PRANK",
		PEAltList: "PE_ALT_PRANK",
		RPEList:   "RPE_PRANK",
	})

	check := func(name string, want CANAPECode) {
		n, _ := tr.GetNode(name)
		got := n.ResultList(CANAPEList)
		if len(got) != 1 || got[0] != float64(want) {
			t.Errorf("%s: CANAPE = %v, want %v", name, got, want)
		}
	}
	check("a", CANAPESuper)
	check("b", CANAPENeo)
	check("c", CANAPENotSignificant)

	// Nodes with no rank lists get an undefined (NaN) entry.
	u, _ := tr.GetNode("u")
	if got := u.ResultList(CANAPEList); len(got) != 1 || !math.IsNaN(got[0]) {
		t.Errorf("u: CANAPE = %v, want [NaN]", got)
	}
}
