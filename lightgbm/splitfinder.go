package lightgbm

import (
	"math"
	"sort"
)

// SplitInfo is a candidate split, exactly the structure of spec §3.
// A gain of negInfGain marks "no viable split" per the sentinel rule.
type SplitInfo struct {
	Feature      int // real feature index
	InnerFeature int
	Threshold    uint32 // bin index (numerical)
	DefaultLeft  bool
	Gain         float64

	LeftOutput, RightOutput float64
	LeftCount, RightCount   int32
	LeftSumGrad, LeftSumHess   float64
	RightSumGrad, RightSumHess float64

	MonotoneType int8

	CatThreshold    []uint32 // categorical bitset, one word per 32 bins
	NumCatThreshold int
	Categorical     bool
}

// negInfGain is the sentinel "no viable split" gain (spec §3).
var negInfGain = math.Inf(-1)

func noSplit(innerFeature, realFeature int) SplitInfo {
	return SplitInfo{Feature: realFeature, InnerFeature: innerFeature, Gain: negInfGain}
}

// better implements the deterministic tie-break order of spec §4.5 /
// testable property 2: (gain, -feature_index, threshold), i.e. among
// equal gains the smaller inner feature index wins, and among ties on
// both, the smaller threshold wins. Returns true if candidate should
// replace current.
func better(candidate, current *SplitInfo) bool {
	if candidate.Gain != current.Gain {
		return candidate.Gain > current.Gain
	}
	if candidate.InnerFeature != current.InnerFeature {
		return candidate.InnerFeature < current.InnerFeature
	}
	return candidate.Threshold < current.Threshold
}

// leafScore is score(G, H) from spec §4.5: max(|G|-l1,0)^2/(H+l2).
func leafScore(sumG, sumH, l1, l2 float64) float64 {
	absG := math.Abs(sumG)
	numer := math.Max(absG-l1, 0)
	return numer * numer / (sumH + l2)
}

// calcOutput derives the optimal leaf output under L1/L2 and an
// optional max_delta_step clip: output = clip(threshold_shrunk(G) / (H + l2), delta),
// where G, H are pseudo-residual sums (g_i = label - prediction, per
// the convention ObjectiveFunction.GetGradients follows throughout
// this package) rather than raw loss-gradient sums - a leaf's optimal
// output is then directly the (L1/L2-shrunk) mean residual of its
// examples, matching the sign of scenario A's literal expected values.
func calcOutput(sumG, sumH, l1, l2, maxDeltaStep float64) float64 {
	h := sumH + l2
	if h < epsilon {
		h = epsilon
	}
	var numer float64
	switch {
	case sumG > l1:
		numer = sumG - l1
	case sumG < -l1:
		numer = sumG + l1
	default:
		return 0
	}
	out := numer / h
	if maxDeltaStep > 0 {
		if out > maxDeltaStep {
			out = maxDeltaStep
		} else if out < -maxDeltaStep {
			out = -maxDeltaStep
		}
	}
	return out
}

// SplitFinder evaluates candidate splits for one feature against one
// leaf's histogram (spec §4.5, C6). It is stateless across calls
// except for the CEGB cost model, which is optional.
type SplitFinder struct {
	cfg  *Config
	cegb *CostEfficientGradientBoosting // nil when CEGB disabled
}

func NewSplitFinder(cfg *Config, cegb *CostEfficientGradientBoosting) *SplitFinder {
	return &SplitFinder{cfg: cfg, cegb: cegb}
}

// ComputeBestSplitForFeature scores every candidate threshold of one
// feature's histogram and returns the best (or a negInfGain sentinel
// when nothing beats min_split_gain / passes constraints). ℓ is the
// leaf id, used for the CEGB one-time-first-use penalty.
func (sf *SplitFinder) ComputeBestSplitForFeature(hist *FeatureHistogram, mapper *BinMapper, innerFeature, realFeature int, leaf int, sumG, sumH float64, count int32, monotone int8, constraintLo, constraintHi float64) SplitInfo {
	var best SplitInfo
	if mapper.BinType == CategoricalBin {
		best = sf.findBestCategorical(hist, innerFeature, realFeature, sumG, sumH, count, monotone, constraintLo, constraintHi)
	} else {
		best = sf.findBestNumerical(hist, innerFeature, realFeature, sumG, sumH, count, monotone, constraintLo, constraintHi)
	}
	if best.Gain <= negInfGain {
		return best
	}
	if sf.cegb != nil {
		best.Gain -= sf.cegb.DeltaGain(innerFeature, realFeature, leaf, int(count), &best)
	}
	return best
}

// findBestNumerical iterates bins left to right, accumulating (GL,
// HL) and evaluating the regularized gain at every boundary, plus
// both missing-value default directions for bins holding missing
// examples, exactly spec §4.5's numerical search.
func (sf *SplitFinder) findBestNumerical(hist *FeatureHistogram, innerFeature, realFeature int, sumG, sumH float64, count int32, monotone int8, constraintLo, constraintHi float64) SplitInfo {
	cfg := sf.cfg
	best := noSplit(innerFeature, realFeature)
	nbins := hist.numRealBins()
	if nbins < 2 {
		return best
	}

	parentScore := leafScore(sumG, sumH, cfg.LambdaL1, cfg.LambdaL2)

	missing := &hist.bins[hist.missingBinIndex()]
	hasMissing := missing.count > 0

	var accG, accH float64
	var accN int32
	for b := 0; b < nbins-1; b++ {
		bin := &hist.bins[b]
		accG += bin.sumGrad
		accH += bin.sumHess
		accN += bin.count

		// default_left=true is evaluated first so a feature with no
		// missing examples (where the flag is otherwise inert) records
		// default_left=true, matching the spec's convention for a clean
		// split rather than an arbitrary false.
		for _, defaultLeft := range []bool{true, false} {
			leftG, leftH, leftN := accG, accH, accN
			if hasMissing && defaultLeft {
				leftG += missing.sumGrad
				leftH += missing.sumHess
				leftN += missing.count
			}
			rightG, rightH := sumG-leftG, sumH-leftH
			rightN := count - leftN
			if leftN < int32(cfg.MinDataInLeaf) || rightN < int32(cfg.MinDataInLeaf) {
				if !hasMissing {
					break // defaultLeft=false and true differ only when missing exists
				}
				continue
			}

			leftOut := calcOutput(leftG, leftH, cfg.LambdaL1, cfg.LambdaL2, cfg.MaxDeltaStep)
			rightOut := calcOutput(rightG, rightH, cfg.LambdaL1, cfg.LambdaL2, cfg.MaxDeltaStep)
			if !SatisfiesMonotone(monotone, leftOut, rightOut) {
				continue
			}
			if !(leftOut >= constraintLo && leftOut <= constraintHi && rightOut >= constraintLo && rightOut <= constraintHi) {
				continue
			}

			gain := leafScore(leftG, leftH, cfg.LambdaL1, cfg.LambdaL2) +
				leafScore(rightG, rightH, cfg.LambdaL1, cfg.LambdaL2) -
				parentScore - cfg.MinSplitGain
			if gain <= 0 {
				continue
			}

			cand := SplitInfo{
				Feature: realFeature, InnerFeature: innerFeature,
				Threshold: uint32(b), DefaultLeft: defaultLeft, Gain: gain,
				LeftOutput: leftOut, RightOutput: rightOut,
				LeftCount: leftN, RightCount: rightN,
				LeftSumGrad: leftG, LeftSumHess: leftH,
				RightSumGrad: rightG, RightSumHess: rightH,
				MonotoneType: monotone,
			}
			if better(&cand, &best) {
				best = cand
			}
			if !hasMissing {
				break // no missing examples: default_left is irrelevant, only evaluate once
			}
		}
	}
	return best
}

// catBin pairs a category's bin index with its g/h ratio for the
// greedy sort-then-extend search of spec §4.5.
type catBin struct {
	bin   int
	ratio float64
}

// findBestCategorical sorts categories by g/h ratio (cat_smooth
// adjusted, per the C++ FindBestThresholdCategorical this mirrors)
// and greedily extends a single-sided subset up to max_cat_threshold
// categories, evaluating the gain of "these categories go left" at
// each extension.
func (sf *SplitFinder) findBestCategorical(hist *FeatureHistogram, innerFeature, realFeature int, sumG, sumH float64, count int32, monotone int8, constraintLo, constraintHi float64) SplitInfo {
	cfg := sf.cfg
	best := noSplit(innerFeature, realFeature)
	nbins := hist.numRealBins()
	if nbins < 2 {
		return best
	}
	parentScore := leafScore(sumG, sumH, cfg.LambdaL1, cfg.LambdaL2)

	cats := make([]catBin, 0, nbins)
	for b := 0; b < nbins; b++ {
		bin := &hist.bins[b]
		if bin.count == 0 {
			continue
		}
		ratio := bin.sumGrad / (bin.sumHess + cfg.CatSmooth)
		cats = append(cats, catBin{bin: b, ratio: ratio})
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i].ratio < cats[j].ratio })

	maxCat := cfg.MaxCatThreshold
	if maxCat > len(cats)-1 {
		maxCat = len(cats) - 1
	}

	var leftG, leftH float64
	var leftN int32
	bitset := make([]uint32, (nbins+31)/32)

	for k := 0; k < maxCat; k++ {
		b := cats[k].bin
		bin := &hist.bins[b]
		leftG += bin.sumGrad
		leftH += bin.sumHess
		leftN += bin.count
		bitset[b/32] |= 1 << uint(b%32)

		rightG, rightH := sumG-leftG, sumH-leftH
		rightN := count - leftN
		if leftN < int32(cfg.MinDataInLeaf) || rightN < int32(cfg.MinDataInLeaf) {
			continue
		}

		leftOut := calcOutput(leftG, leftH, cfg.LambdaL1, cfg.LambdaL2+cfg.CatL2, cfg.MaxDeltaStep)
		rightOut := calcOutput(rightG, rightH, cfg.LambdaL1, cfg.LambdaL2, cfg.MaxDeltaStep)
		if !SatisfiesMonotone(monotone, leftOut, rightOut) {
			continue
		}
		if !(leftOut >= constraintLo && leftOut <= constraintHi && rightOut >= constraintLo && rightOut <= constraintHi) {
			continue
		}

		gain := leafScore(leftG, leftH, cfg.LambdaL1, cfg.LambdaL2+cfg.CatL2) +
			leafScore(rightG, rightH, cfg.LambdaL1, cfg.LambdaL2) -
			parentScore - cfg.MinSplitGain
		if gain <= 0 {
			continue
		}

		cand := SplitInfo{
			Feature: realFeature, InnerFeature: innerFeature,
			Gain: gain, Categorical: true,
			CatThreshold: append([]uint32(nil), bitset...), NumCatThreshold: k + 1,
			LeftOutput: leftOut, RightOutput: rightOut,
			LeftCount: leftN, RightCount: rightN,
			LeftSumGrad: leftG, LeftSumHess: leftH,
			RightSumGrad: rightG, RightSumHess: rightH,
			MonotoneType: monotone,
		}
		if better(&cand, &best) {
			best = cand
		}
	}
	return best
}
