package lightgbm

// CostEfficientGradientBoosting adjusts split gain by a per-split cost
// plus a one-time per-feature first-use cost (spec §4.5/§6, the CostEffectiveGradientBoosting
// collaborator). It is optional: a nil *CostEfficientGradientBoosting
// disables the adjustment entirely.
type CostEfficientGradientBoosting struct {
	tradeoff       float64
	penaltyFeature []float64 // one-time first-use penalty, per real feature
	penaltySplit   float64

	usedFeature []bool // whether a feature's one-time penalty has already been charged, per tree
}

// NewCostEfficientGradientBoosting builds a CEGB model from Config. It
// returns nil when CEGB is disabled so callers can pass the result
// straight to NewSplitFinder without a separate enabled check.
func NewCostEfficientGradientBoosting(cfg *Config, numFeatures int) *CostEfficientGradientBoosting {
	if !cfg.CEGBEnabled {
		return nil
	}
	c := &CostEfficientGradientBoosting{
		tradeoff:       cfg.CEGBTradeoff,
		penaltyFeature: cfg.CEGBPenaltyFeature,
		penaltySplit:   cfg.CEGBPenaltySplit,
		usedFeature:    make([]bool, numFeatures),
	}
	return c
}

// Init resets the per-tree first-use tracking, called from
// BeforeTrain.
func (c *CostEfficientGradientBoosting) Init() {
	for i := range c.usedFeature {
		c.usedFeature[i] = false
	}
}

// DeltaGain returns the cost penalty to subtract from a candidate
// split's raw gain: a fixed per-split cost plus, the first time a
// feature is used anywhere in the tree, that feature's one-time
// penalty amortized over the leaf's example count.
func (c *CostEfficientGradientBoosting) DeltaGain(innerFeature, realFeature, leaf, n int, split *SplitInfo) float64 {
	delta := c.penaltySplit
	if realFeature >= 0 && realFeature < len(c.penaltyFeature) && !c.usedFeature[realFeature] {
		delta += c.penaltyFeature[realFeature] / float64(maxInt(n, 1))
	}
	return c.tradeoff * delta
}

// MarkUsed records that realFeature's one-time penalty has now been
// paid, called once a split on that feature is actually committed.
func (c *CostEfficientGradientBoosting) MarkUsed(realFeature int) {
	if realFeature >= 0 && realFeature < len(c.usedFeature) {
		c.usedFeature[realFeature] = true
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
