package lightgbm

import (
	"github.com/leafwise/gbdt/pkg/errors"
)

// Config holds the training knobs the tree learner reads. It mirrors
// the parameter surface of TrainingParams in the teacher's trainer but
// keeps only the fields the learner itself consumes (§6 of the spec) -
// boosting-loop concerns like NumIterations or LearningRate live one
// layer up, in Booster.
type Config struct {
	NumLeaves     int
	MaxDepth      int // -1 = unbounded
	MinDataInLeaf int

	FeatureFraction        float64
	FeatureFractionByNode  float64
	FeatureFractionSeed    int64

	LambdaL1        float64
	LambdaL2        float64
	MaxDeltaStep    float64
	MinSplitGain    float64

	HistogramPoolSize float64 // MiB, <= 0 => unbounded (capacity == NumLeaves)

	ForceColWise bool
	ForceRowWise bool

	RefitDecayRate float64

	MonotoneConstraints []int8 // per real feature index: -1, 0, 1

	MaxCatThreshold int
	CatSmooth       float64
	CatL2           float64

	// CEGB - cost efficient gradient boosting (optional gain adjustment)
	CEGBEnabled          bool
	CEGBTradeoff         float64
	CEGBPenaltyFeature   []float64 // per real feature, one-time first-use penalty
	CEGBPenaltySplit     float64

	// [AMBIENT]
	NumThreads int
	LogLevel   string
	Seed       int64
}

// DefaultConfig returns the parameter defaults used across the pack's
// trainers (num_leaves=31, min_data_in_leaf=20, no L1/L2, unbounded
// depth and histogram pool).
func DefaultConfig() Config {
	return Config{
		NumLeaves:             31,
		MaxDepth:              -1,
		MinDataInLeaf:         20,
		FeatureFraction:       1.0,
		FeatureFractionByNode: 1.0,
		FeatureFractionSeed:   2,
		LambdaL2:              0.0,
		LambdaL1:              0.0,
		MinSplitGain:          0.0,
		HistogramPoolSize:     -1,
		RefitDecayRate:        0.0,
		MaxCatThreshold:       32,
		CatSmooth:             10.0,
		CatL2:                 10.0,
		NumThreads:            0,
		LogLevel:              "info",
	}
}

// Validate performs the eager checks the spec calls Configuration
// errors: they are raised at Init/ResetConfig time and are fatal.
func (c *Config) Validate() error {
	if c.NumLeaves < 2 {
		return errors.NewConfigError("num_leaves", "must be >= 2")
	}
	if c.ForceColWise && c.ForceRowWise {
		return errors.NewConfigError("force_col_wise/force_row_wise", "mutually exclusive hints cannot both be set")
	}
	if c.MinDataInLeaf < 1 {
		return errors.NewConfigError("min_data_in_leaf", "must be >= 1")
	}
	if c.FeatureFraction <= 0 {
		return errors.NewConfigError("feature_fraction", "must be > 0")
	}
	if c.FeatureFractionByNode <= 0 {
		return errors.NewConfigError("feature_fraction_bynode", "must be > 0")
	}
	if c.MaxCatThreshold < 1 {
		return errors.NewConfigError("max_cat_threshold", "must be >= 1")
	}
	for _, m := range c.MonotoneConstraints {
		if m < -1 || m > 1 {
			return errors.NewConfigError("monotone_constraints", "entries must be -1, 0, or 1")
		}
	}
	return nil
}

// monotoneFor returns the monotone constraint direction declared for
// a real feature index, or 0 (unconstrained) if the vector is shorter
// than the feature space or unset.
func (c *Config) monotoneFor(realFeature int) int8 {
	if realFeature < 0 || realFeature >= len(c.MonotoneConstraints) {
		return 0
	}
	return c.MonotoneConstraints[realFeature]
}
