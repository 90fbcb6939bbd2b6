package lightgbm

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestNewBinnedDatasetFromMatMatchesSliceConstruction(t *testing.T) {
	x := [][]float64{
		{0, 1}, {0, 2}, {1, 3}, {1, 4},
	}
	fromSlice, err := NewBinnedDataset(x)
	require.NoError(t, err)

	m := mat.NewDense(4, 2, []float64{0, 1, 0, 2, 1, 3, 1, 4})
	fromMat, err := NewBinnedDatasetFromMat(m)
	require.NoError(t, err)

	require.Equal(t, fromSlice.NumData(), fromMat.NumData())
	require.Equal(t, fromSlice.NumFeatures(), fromMat.NumFeatures())
	for f := 0; f < fromSlice.NumFeatures(); f++ {
		for i := 0; i < fromSlice.NumData(); i++ {
			require.Equal(t, fromSlice.BinAt(f, i), fromMat.BinAt(f, i))
		}
	}
}

func TestNewBinnedDatasetFromMatRejectsEmpty(t *testing.T) {
	m := &mat.Dense{} // zero-value Dense has 0x0 dims; mat.NewDense panics on a zero dimension
	_, err := NewBinnedDatasetFromMat(m)
	require.Error(t, err)
}
