package lightgbm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLeafRefitFullDecayReplacesOutput(t *testing.T) {
	tree := NewTree(4)
	tree.Split(0, 0, 0, 0, 0.5, 0.0, 0.0, 4, 4, 4, 4, 8.0, MissingNone, true)
	tree.SetShrinkage(1.0)

	partition := NewDataPartition(8, 4)
	binCol := []uint32{0, 0, 0, 0, 1, 1, 1, 1}
	partition.Split(context.Background(), 0, binCol, ThresholdSpec{Bin: 0, DefaultLeft: true}, 1)

	gradients := []float64{-1, -1, -1, -1, 1, 1, 1, 1}
	hessians := []float64{1, 1, 1, 1, 1, 1, 1, 1}

	cfg := DefaultConfig()
	cfg.RefitDecayRate = 0.0
	refit := NewLeafRefit(&cfg)
	err := refit.FitByExistingTree(context.Background(), tree, partition, gradients, hessians, true)
	require.NoError(t, err)

	require.InDelta(t, -1.0, tree.LeafOutput(0), 1e-9)
	require.InDelta(t, 1.0, tree.LeafOutput(1), 1e-9)
}

func TestLeafRefitFullyRetainsOldOutputWhenDecayIsOne(t *testing.T) {
	tree := NewTree(4)
	tree.Split(0, 0, 0, 0, 0.5, 9.0, -9.0, 4, 4, 4, 4, 8.0, MissingNone, true)
	tree.SetShrinkage(1.0)

	partition := NewDataPartition(8, 4)
	binCol := []uint32{0, 0, 0, 0, 1, 1, 1, 1}
	partition.Split(context.Background(), 0, binCol, ThresholdSpec{Bin: 0, DefaultLeft: true}, 1)

	gradients := []float64{-1, -1, -1, -1, 1, 1, 1, 1}
	hessians := []float64{1, 1, 1, 1, 1, 1, 1, 1}

	cfg := DefaultConfig()
	cfg.RefitDecayRate = 1.0
	refit := NewLeafRefit(&cfg)
	err := refit.FitByExistingTree(context.Background(), tree, partition, gradients, hessians, true)
	require.NoError(t, err)

	require.InDelta(t, 9.0, tree.LeafOutput(0), 1e-9)
	require.InDelta(t, -9.0, tree.LeafOutput(1), 1e-9)
}

func TestRenewLeafOutputsSkipsDisabledObjective(t *testing.T) {
	tree := NewTree(4)
	partition := NewDataPartition(4, 4)
	err := RenewLeafOutputs(context.Background(), tree, partition, L2Objective{}, LocalNetwork{}, func(int) float64 { return 0 }, nil)
	require.NoError(t, err)
}

func TestRenewLeafOutputsZeroCountLeafGetsZero(t *testing.T) {
	tree := NewTree(4)
	tree.Split(0, 0, 0, 0, 0.5, 1.0, 2.0, 4, 0, 4, 0, 4.0, MissingNone, true)
	partition := NewDataPartition(4, 4)
	partition.Split(context.Background(), 0, []uint32{0, 0, 0, 0}, ThresholdSpec{Bin: 0, DefaultLeft: true}, 1)

	residuals := []float64{0.5, -0.5}
	residual := func(i int) float64 { return residuals[i%2] }

	obj := BinaryObjective{SigmoidScale: 1.0}
	err := RenewLeafOutputs(context.Background(), tree, partition, obj, LocalNetwork{}, residual, nil)
	require.NoError(t, err)
	require.Equal(t, 0.0, tree.LeafOutput(1)) // leaf 1 has zero members after the split above
}
