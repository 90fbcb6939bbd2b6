package lightgbm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// scenarioADataset builds the two-bin, eight-example dataset used
// throughout spec scenario A: feature 0 splits cleanly into
// [0,0,0,0] | [1,1,1,1], feature 1 is constant and therefore excluded
// from F_valid.
func scenarioADataset(t *testing.T) *BinnedDataset {
	t.Helper()
	x := [][]float64{
		{0, 0}, {0, 0}, {0, 0}, {0, 0},
		{1, 0}, {1, 0}, {1, 0}, {1, 0},
	}
	ds, err := NewBinnedDataset(x)
	require.NoError(t, err)
	return ds
}

func scenarioAGradients() (g, h []float64) {
	return []float64{-1, -1, -1, -1, 1, 1, 1, 1}, []float64{1, 1, 1, 1, 1, 1, 1, 1}
}

func TestTreeLearnerScenarioAGrowsOneCleanSplit(t *testing.T) {
	ds := scenarioADataset(t)
	cfg := DefaultConfig()
	cfg.NumLeaves = 2
	cfg.MinDataInLeaf = 1
	cfg.FeatureFractionSeed = 1

	tl, err := NewTreeLearner(ds, cfg, nil, nil)
	require.NoError(t, err)

	g, h := scenarioAGradients()
	tree, err := tl.Train(context.Background(), g, h, true, nil, nil)
	require.NoError(t, err)

	require.Equal(t, 2, tree.NumLeaves())
	require.InDelta(t, -1.0, tree.LeafOutput(0), 1e-9)
	require.InDelta(t, 1.0, tree.LeafOutput(1), 1e-9)
	require.True(t, tree.nodes[0].defaultLeft, "a feature with no missing examples should still record default_left=true")

	partition := tl.Partition()
	require.Equal(t, 4, partition.Count(0))
	require.Equal(t, 4, partition.Count(1))
	require.Equal(t, 8, partition.Count(0)+partition.Count(1))
	for _, i := range partition.Indices(0) {
		require.Less(t, i, 4)
	}
	for _, i := range partition.Indices(1) {
		require.GreaterOrEqual(t, i, 4)
	}
}

func TestTreeLearnerNoViableSplitYieldsSingleLeaf(t *testing.T) {
	ds := scenarioADataset(t)
	cfg := DefaultConfig()
	cfg.NumLeaves = 4
	cfg.MinDataInLeaf = 20 // above every candidate's child size, gates every split off

	tl, err := NewTreeLearner(ds, cfg, nil, nil)
	require.NoError(t, err)

	g, h := scenarioAGradients()
	tree, err := tl.Train(context.Background(), g, h, true, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, tree.NumLeaves())
	require.Equal(t, 8, tl.Partition().Count(0))
}

// growingDataset builds a 16-example, two-valid-feature dataset that
// supports growing past two leaves, exercising the subtract trick
// (spec §4.1/§4.3): once the root splits, the second split reuses the
// parent's histogram for the larger child rather than rebuilding it.
func growingDataset(t *testing.T) (*BinnedDataset, []float64, []float64) {
	t.Helper()
	x := make([][]float64, 16)
	g := make([]float64, 16)
	h := make([]float64, 16)
	for i := 0; i < 16; i++ {
		f0 := 0.0
		if i >= 8 {
			f0 = 1.0
		}
		f1 := 0.0
		if i%4 >= 2 {
			f1 = 1.0
		}
		x[i] = []float64{f0, f1}
		if i >= 8 {
			g[i] = 1.0
		} else {
			g[i] = -1.0
		}
		if i%4 >= 2 {
			g[i] += 0.5
		}
		h[i] = 1.0
	}
	ds, err := NewBinnedDataset(x)
	require.NoError(t, err)
	return ds, g, h
}

func TestTreeLearnerGrowsMultipleLeavesConservingExamples(t *testing.T) {
	ds, g, h := growingDataset(t)
	cfg := DefaultConfig()
	cfg.NumLeaves = 4
	cfg.MinDataInLeaf = 1
	cfg.FeatureFractionSeed = 3

	tl, err := NewTreeLearner(ds, cfg, nil, nil)
	require.NoError(t, err)

	tree, err := tl.Train(context.Background(), g, h, true, nil, nil)
	require.NoError(t, err)
	require.GreaterOrEqual(t, tree.NumLeaves(), 2)

	partition := tl.Partition()
	total := 0
	seen := make([]bool, 16)
	for l := 0; l < tree.NumLeaves(); l++ {
		for _, i := range partition.Indices(l) {
			require.False(t, seen[i], "example %d assigned to more than one leaf", i)
			seen[i] = true
		}
		total += partition.Count(l)
	}
	require.Equal(t, 16, total)
	for i, s := range seen {
		require.True(t, s, "example %d not assigned to any leaf", i)
	}
}

func TestTreeLearnerForcedSplitAbortsThenFreeGrowthResumes(t *testing.T) {
	x := [][]float64{
		{0, 0}, {0, 1}, {0, 0}, {0, 1},
		{1, 0}, {1, 1}, {1, 0}, {1, 1},
	}
	ds, err := NewBinnedDataset(x)
	require.NoError(t, err)

	g := []float64{-1, -1, -1, -1, 1, 1, 1, 1}
	h := []float64{1, 1, 1, 1, 1, 1, 1, 1}

	cfg := DefaultConfig()
	cfg.NumLeaves = 2
	cfg.MinDataInLeaf = 1
	cfg.MinSplitGain = 0.1 // makes feature 1's balanced-gradient split (gain ~0) negative

	tl, err := NewTreeLearner(ds, cfg, nil, nil)
	require.NoError(t, err)

	forced := &ForcedNode{Feature: 1, Threshold: 0}
	tree, err := tl.Train(context.Background(), g, h, true, nil, forced)
	require.NoError(t, err)

	require.Equal(t, 2, tree.NumLeaves(), "forced split should abort, but free growth should still find feature 0's split")
	require.InDelta(t, -1.0, tree.LeafOutput(0), 1e-9)
	require.InDelta(t, 1.0, tree.LeafOutput(1), 1e-9)
}

func TestTreeLearnerMonotoneConstraintBlocksInfeasibleSplit(t *testing.T) {
	// Feature 0's only clean split has left examples with positive
	// gradient and right examples with negative gradient, i.e. the
	// natural left/right outputs are (+1, -1) - infeasible under an
	// increasing (direction=1) monotone constraint.
	x := [][]float64{
		{0}, {0}, {0}, {0},
		{1}, {1}, {1}, {1},
	}
	ds, err := NewBinnedDataset(x)
	require.NoError(t, err)

	g := []float64{1, 1, 1, 1, -1, -1, -1, -1}
	h := []float64{1, 1, 1, 1, 1, 1, 1, 1}

	cfg := DefaultConfig()
	cfg.NumLeaves = 4
	cfg.MinDataInLeaf = 1
	cfg.MonotoneConstraints = []int8{1}

	tl, err := NewTreeLearner(ds, cfg, nil, nil)
	require.NoError(t, err)

	tree, err := tl.Train(context.Background(), g, h, true, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, tree.NumLeaves(), "the only candidate split violates the monotone constraint and must be rejected")
}

// TestTreeLearnerMonotoneDirectionDoesNotLeakAcrossFeatures guards
// against a monotone constraint scored on one feature bleeding into
// the next feature scanned in the same searchFeatureRange call.
// Feature 0 carries an increasing constraint and its only clean split
// is infeasible under it (outputs go (+1, -1)); feature 1 is
// unconstrained and has a clean, high-gain split with the same
// infeasible-looking output shape. If feature 0's constraint leaked
// onto feature 1, feature 1's split would be wrongly rejected too and
// the tree would stay at one leaf.
func TestTreeLearnerMonotoneDirectionDoesNotLeakAcrossFeatures(t *testing.T) {
	x := [][]float64{
		{0, 0}, {0, 0}, {0, 0}, {0, 0},
		{1, 1}, {1, 1}, {1, 1}, {1, 1},
	}
	ds, err := NewBinnedDataset(x)
	require.NoError(t, err)

	g := []float64{1, 1, 1, 1, -1, -1, -1, -1}
	h := []float64{1, 1, 1, 1, 1, 1, 1, 1}

	cfg := DefaultConfig()
	cfg.NumLeaves = 4
	cfg.MinDataInLeaf = 1
	cfg.MonotoneConstraints = []int8{1, 0} // feature 0 constrained, feature 1 free
	cfg.NumThreads = 1                     // force the single-worker searchFeatureRange path

	tl, err := NewTreeLearner(ds, cfg, nil, nil)
	require.NoError(t, err)

	tree, err := tl.Train(context.Background(), g, h, true, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 2, tree.NumLeaves(), "feature 1's unconstrained split must not inherit feature 0's monotone direction")
	require.Equal(t, 1, tree.nodes[0].splitFeature, "the winning split must be on the unconstrained feature")
}
