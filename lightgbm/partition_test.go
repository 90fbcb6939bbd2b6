package lightgbm

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDataPartitionInitialStateIsSingleRun(t *testing.T) {
	p := NewDataPartition(6, 4)
	require.Equal(t, 6, p.NumTotal())
	require.Equal(t, 6, p.Count(0))
	require.ElementsMatch(t, []int{0, 1, 2, 3, 4, 5}, p.Indices(0))
}

func TestDataPartitionSplitConservesCount(t *testing.T) {
	p := NewDataPartition(8, 4)
	bins := []uint32{0, 0, 0, 0, 1, 1, 1, 1}
	spec := ThresholdSpec{Bin: 0, DefaultLeft: true, MissingType: MissingNone}

	left, right, err := p.Split(context.Background(), 0, bins, spec, 1)
	require.NoError(t, err)
	require.Equal(t, 4, left)
	require.Equal(t, 4, right)
	require.Equal(t, 4, p.Count(0))
	require.Equal(t, 4, p.Count(1))

	total := append(append([]int(nil), p.Indices(0)...), p.Indices(1)...)
	sort.Ints(total)
	require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, total)

	for _, i := range p.Indices(0) {
		require.LessOrEqual(t, bins[i], uint32(0))
	}
	for _, i := range p.Indices(1) {
		require.Greater(t, bins[i], uint32(0))
	}
}

func TestDataPartitionSplitRoutesMissingByDefaultDirection(t *testing.T) {
	p := NewDataPartition(4, 4)
	bins := []uint32{0, 0, 1, 0} // bin 0 is the MissingZero sentinel here
	spec := ThresholdSpec{Bin: 0, DefaultLeft: false, MissingType: MissingZero}

	left, right, err := p.Split(context.Background(), 0, bins, spec, 1)
	require.NoError(t, err)
	require.Equal(t, 0, left)
	require.Equal(t, 4, right)
}

func TestDataPartitionSplitCategoricalRoutesByBitset(t *testing.T) {
	p := NewDataPartition(4, 4)
	bins := []uint32{0, 1, 2, 3}
	spec := ThresholdSpec{Categorical: true, CatBitset: []uint32{1<<0 | 1<<2}}

	left, right, err := p.Split(context.Background(), 0, bins, spec, 1)
	require.NoError(t, err)
	require.Equal(t, 2, left)
	require.Equal(t, 2, right)
	require.ElementsMatch(t, []int{0, 2}, p.Indices(0))
	require.ElementsMatch(t, []int{1, 3}, p.Indices(1))
}

func TestDataPartitionParallelPathMatchesSerialContract(t *testing.T) {
	n := minParallelPartition + 100
	bins := make([]uint32, n)
	wantLeft := 0
	for i := range bins {
		if i%3 == 0 {
			bins[i] = 0
			wantLeft++
		} else {
			bins[i] = 1
		}
	}
	p := NewDataPartition(n, 4)
	spec := ThresholdSpec{Bin: 0, DefaultLeft: true, MissingType: MissingNone}

	left, right, err := p.Split(context.Background(), 0, bins, spec, 1)
	require.NoError(t, err)
	require.Equal(t, wantLeft, left)
	require.Equal(t, n-wantLeft, right)
	require.Equal(t, n, left+right)

	seen := make([]bool, n)
	for _, i := range p.Indices(0) {
		require.False(t, seen[i])
		seen[i] = true
		require.Equal(t, uint32(0), bins[i])
	}
	for _, i := range p.Indices(1) {
		require.False(t, seen[i])
		seen[i] = true
		require.Equal(t, uint32(1), bins[i])
	}
}

func TestDataPartitionResetByLeafPred(t *testing.T) {
	p := NewDataPartition(5, 3)
	pred := []int{2, 0, 0, 1, 2}
	p.ResetByLeafPred(pred, 3)

	require.Equal(t, 2, p.Count(0))
	require.Equal(t, 1, p.Count(1))
	require.Equal(t, 2, p.Count(2))
	require.ElementsMatch(t, []int{1, 2}, p.Indices(0))
	require.ElementsMatch(t, []int{3}, p.Indices(1))
	require.ElementsMatch(t, []int{0, 4}, p.Indices(2))
}

func TestDataPartitionResetRestoresSingleRun(t *testing.T) {
	p := NewDataPartition(4, 4)
	bins := []uint32{0, 0, 1, 1}
	spec := ThresholdSpec{Bin: 0, DefaultLeft: true}
	p.Split(context.Background(), 0, bins, spec, 1)

	p.Reset()
	require.Equal(t, 4, p.Count(0))
	require.Equal(t, 0, p.Count(1))
	require.ElementsMatch(t, []int{0, 1, 2, 3}, p.Indices(0))
}
