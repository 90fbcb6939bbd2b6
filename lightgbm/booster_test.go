package lightgbm

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestModelPredictMatMatchesPerRowPredict(t *testing.T) {
	tree := NewTree(4)
	tree.Split(0, 0, 0, 0, 0.5, -1.0, 1.0, 4, 4, 4, 4, 8.0, MissingNone, true)
	model := &Model{BaseScore: 0.1, Trees: []*Tree{tree}}
	tree.SetShrinkage(1.0)

	x := mat.NewDense(2, 1, []float64{0, 1})
	out, err := model.PredictMat(x)
	require.NoError(t, err)

	rows, cols := out.Dims()
	require.Equal(t, 2, rows)
	require.Equal(t, 1, cols)
	require.InDelta(t, model.Predict([]float64{0}), out.At(0, 0), 1e-9)
	require.InDelta(t, model.Predict([]float64{1}), out.At(1, 0), 1e-9)
}
