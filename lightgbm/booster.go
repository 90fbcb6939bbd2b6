package lightgbm

import (
	"context"

	"gonum.org/v1/gonum/mat"

	"github.com/leafwise/gbdt/pkg/errors"
	"github.com/leafwise/gbdt/pkg/log"
)

// BoosterConfig holds the boosting-loop knobs that sit one layer
// above TreeLearner's Config - the ensemble-level parameters the
// teacher's TrainingParams carried alongside the tree-growth knobs
// (NumIterations, LearningRate), kept separate here because the tree
// learner itself never reads them (spec §1 draws that exact scope
// line: "out of scope... end-user model I/O" but boosting iteration
// count/rate are ambient orchestration, not part of the learner).
type BoosterConfig struct {
	NumIterations int
	LearningRate  float64
	EarlyStopping int // 0 disables; stop after this many non-improving rounds
}

// Model is a trained additive ensemble: base score plus a sequence of
// shrunk trees, grounded on the teacher's Model/GetModel shape in
// trainer.go, trimmed to the fields this package actually produces.
type Model struct {
	BaseScore float64
	Trees     []*Tree
	Objective ObjectiveFunction
}

// Predict sums the base score and every tree's shrunk contribution,
// then maps through the objective's output transform.
func (m *Model) Predict(fvals []float64) float64 {
	raw := m.BaseScore
	for _, t := range m.Trees {
		raw += t.Predict(fvals) * t.Shrinkage()
	}
	if m.Objective != nil {
		return m.Objective.ConvertOutput(raw)
	}
	return raw
}

// PredictMat batch-predicts every row of a gonum matrix, mirroring the
// mat.Matrix-in/mat.Matrix-out shape of the teacher's
// LGBMRegressor.Predict/LGBMClassifier.Predict (lgbm_regressor.go,
// lgbm_classifier.go) rather than requiring callers to unpack rows
// into [][]float64 themselves.
func (m *Model) PredictMat(x mat.Matrix) (*mat.Dense, error) {
	rows, cols := x.Dims()
	out := mat.NewDense(rows, 1, nil)
	row := make([]float64, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			row[j] = x.At(i, j)
		}
		out.Set(i, 0, m.Predict(row))
	}
	return out, nil
}

// Booster drives TreeLearner across boosting iterations, grounded in
// spirit on the teacher's Trainer.Fit main loop (trainer.go) but
// delegating all growth to TreeLearner instead of Trainer's own
// depth-wise buildNode - the boosting loop's job is only gradients,
// shrinkage and early stopping.
type Booster struct {
	learner   *TreeLearner
	objective ObjectiveFunction
	boostCfg  BoosterConfig
	logger    log.Logger
}

func NewBooster(learner *TreeLearner, objective ObjectiveFunction, boostCfg BoosterConfig) *Booster {
	return &Booster{learner: learner, objective: objective, boostCfg: boostCfg, logger: log.GetLoggerWithName("lightgbm.booster")}
}

// Fit runs the boosting loop over a dataset's labels, returning the
// trained Model. When EarlyStopping > 0, the training-set mean squared
// residual is checked each iteration for early stopping.
func (b *Booster) Fit(ctx context.Context, dataset Dataset, labels []float64) (*Model, error) {
	n := dataset.NumData()
	if n == 0 || len(labels) != n {
		return nil, errors.NewDimensionError("Booster.Fit", n, len(labels), 0)
	}

	base := mean(labels)
	predictions := make([]float64, n)
	for i := range predictions {
		predictions[i] = base
	}

	gradients := make([]float64, n)
	hessians := make([]float64, n)

	model := &Model{BaseScore: base, Objective: b.objective}
	bestLoss := infPositive
	rounds := 0

	for iter := 0; iter < b.boostCfg.NumIterations; iter++ {
		b.objective.GetGradients(predictions, labels, gradients, hessians)

		tree, err := b.learner.Train(ctx, gradients, hessians, false, nil, nil)
		if err != nil {
			return nil, err
		}
		tree.SetShrinkage(b.boostCfg.LearningRate)
		model.Trees = append(model.Trees, tree)

		partition := b.learner.Partition()
		for l := 0; l < tree.NumLeaves(); l++ {
			out := tree.LeafOutput(l) * tree.Shrinkage()
			for _, i := range partition.Indices(l) {
				predictions[i] += out
			}
		}

		loss := meanSquaredResidual(predictions, labels)
		b.logger.Info("boosting iteration", "iter", iter, "loss", loss, "leaves", tree.NumLeaves())

		if b.boostCfg.EarlyStopping > 0 {
			if loss < bestLoss-1e-10 {
				bestLoss = loss
				rounds = 0
			} else {
				rounds++
				if rounds >= b.boostCfg.EarlyStopping {
					b.logger.Info("early stopping", "iter", iter)
					break
				}
			}
		}
	}
	return model, nil
}

const infPositive = 1e308

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var s float64
	for _, x := range v {
		s += x
	}
	return s / float64(len(v))
}

func meanSquaredResidual(pred, label []float64) float64 {
	var s float64
	for i := range pred {
		d := pred[i] - label[i]
		s += d * d
	}
	return s / float64(len(pred))
}
