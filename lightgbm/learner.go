package lightgbm

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/leafwise/gbdt/pkg/errors"
	"github.com/leafwise/gbdt/pkg/log"
)

// defaultSplitSearchWorkers bounds the per-feature split-search fan-out
// in searchFeatures when NumThreads is 0; this fixed default is used
// rather than runtime.GOMAXPROCS so results don't shift with host core
// count.
const defaultSplitSearchWorkers = 4

// TreeLearner is the serial leaf-wise growth controller (spec §4.6,
// C7): it orchestrates BeforeTrain, then repeatedly
// BeforeFindBestSplit -> FindBestSplits -> Split, grounded directly on
// SerialTreeLearner::Train in the original C++ source.
type TreeLearner struct {
	dataset Dataset
	cfg     Config
	network Network
	cegb    *CostEfficientGradientBoosting
	finder  *SplitFinder
	logger  log.Logger

	numFeatures       int
	numBinsPerFeature []int
	colWise           bool
	initialized       bool

	treeIndex int

	sampler     *FeatureSampler
	pool        *HistogramPool
	partition   *DataPartition
	constraints *LeafConstraints

	tree          *Tree
	leafStats     []*LeafSplits
	bestSplitLeaf []SplitInfo

	gradients, hessians []float64
	isConstantHess      bool

	abortedLastForceSplit bool
	forcedFrontierLeft    int
	forcedFrontierRight   int
}

// NewTreeLearner builds a controller bound to dataset and cfg. cegb
// may be nil (disabled).
func NewTreeLearner(dataset Dataset, cfg Config, network Network, cegb *CostEfficientGradientBoosting) (*TreeLearner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	numFeatures := dataset.NumFeatures()
	numBins := make([]int, numFeatures)
	for f := 0; f < numFeatures; f++ {
		numBins[f] = dataset.FeatureNumBin(f)
	}
	if network == nil {
		network = LocalNetwork{}
	}

	tl := &TreeLearner{
		dataset:           dataset,
		cfg:               cfg,
		network:           network,
		cegb:              cegb,
		finder:            NewSplitFinder(&cfg, cegb),
		logger:            log.GetLoggerWithName("lightgbm.learner"),
		numFeatures:       numFeatures,
		numBinsPerFeature: numBins,
		sampler:           NewFeatureSampler(dataset.ValidFeatureIndices(), cfg.FeatureFraction, cfg.FeatureFractionByNode, cfg.FeatureFractionSeed),
		pool:              NewHistogramPool(numFeatures, numBins, cfg.HistogramPoolSize, cfg.NumLeaves),
		partition:         NewDataPartition(dataset.NumData(), cfg.NumLeaves),
		constraints:       NewLeafConstraints(cfg.NumLeaves),
		leafStats:         make([]*LeafSplits, cfg.NumLeaves),
		bestSplitLeaf:     make([]SplitInfo, cfg.NumLeaves),
	}
	for i := range tl.leafStats {
		tl.leafStats[i] = newLeafSplits()
	}
	return tl, nil
}

// ResetConfig installs a new configuration snapshot (spec §9's note on
// replacing "config passed by borrowed pointer" with immutable
// snapshots). Pool capacity and per-leaf arrays are resized to match.
func (tl *TreeLearner) ResetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	tl.cfg = cfg
	tl.finder = NewSplitFinder(&tl.cfg, tl.cegb)
	tl.sampler = NewFeatureSampler(tl.dataset.ValidFeatureIndices(), cfg.FeatureFraction, cfg.FeatureFractionByNode, cfg.FeatureFractionSeed)
	newCap := clampInt(cfg.NumLeaves, 2, cfg.NumLeaves)
	tl.pool.DynamicChangeSize(newCap, cfg.NumLeaves)
	if cfg.NumLeaves > len(tl.leafStats) {
		grow := make([]*LeafSplits, cfg.NumLeaves)
		copy(grow, tl.leafStats)
		for i := len(tl.leafStats); i < cfg.NumLeaves; i++ {
			grow[i] = newLeafSplits()
		}
		tl.leafStats = grow
		tl.bestSplitLeaf = append(tl.bestSplitLeaf, make([]SplitInfo, cfg.NumLeaves-len(tl.bestSplitLeaf))...)
	}
	tl.constraints = NewLeafConstraints(cfg.NumLeaves)
	tl.partition = NewDataPartition(tl.dataset.NumData(), cfg.NumLeaves)
	return nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ResetTrainingData rebinds the learner to a new Dataset and a fresh
// DataPartition over it, validating that the feature count matches -
// spec §7's "Dataset mismatch" error kind.
func (tl *TreeLearner) ResetTrainingData(dataset Dataset) error {
	if dataset.NumFeatures() != tl.numFeatures {
		return errors.NewModelError("ResetTrainingData", "feature count changed", errors.ErrDatasetMismatch)
	}
	tl.dataset = dataset
	tl.partition = NewDataPartition(dataset.NumData(), tl.cfg.NumLeaves)
	return nil
}

// Train grows one tree from gradients/hessians over the full dataset
// (bagIndices nil) or a bagged subset (bagIndices non-nil), optionally
// consuming a forced-split template first. Grounded on
// SerialTreeLearner::Train.
func (tl *TreeLearner) Train(ctx context.Context, gradients, hessians []float64, isConstantHess bool, bagIndices []int, forced *ForcedNode) (*Tree, error) {
	tl.gradients, tl.hessians, tl.isConstantHess = gradients, hessians, isConstantHess
	tl.beforeTrain(bagIndices)

	initSplits := 0
	tl.abortedLastForceSplit = false
	if forced != nil {
		n, err := tl.driveForcedSplits(ctx, forced)
		if err != nil {
			return nil, err
		}
		initSplits = n
	}

	left, right := 0, -1
	if initSplits > 0 {
		left, right = tl.lastForcedPair()
	}

	// Unlike the C++ source, which skips one BeforeFindBestSplit call
	// right after a forced-split abort (relying on histogram state left
	// over from the aborted GatherInfoForThreshold probe),
	// gatherInfoForThreshold here never populates bestSplitLeaf for the
	// frontier - so free growth always runs a real search for the
	// current (left, right) pair, aborted or not.
	for split := initSplits; split < tl.cfg.NumLeaves-1; split++ {
		if tl.beforeFindBestSplit(left, right) {
			if err := tl.findBestSplits(ctx, left, right); err != nil {
				return nil, err
			}
		}

		bestLeaf, bestGain := tl.argmaxActiveLeaf()
		if bestGain <= 0 {
			tl.logger.Warn("no positive-gain split remaining", "tree", tl.treeIndex, "leaves", tl.tree.NumLeaves())
			break
		}
		newLeft, newRight := tl.applySplit(bestLeaf)
		left, right = newLeft, newRight
		tl.pool.Unpin()
	}

	tl.pool.Unpin()
	tl.treeIndex++
	return tl.tree, nil
}

func (tl *TreeLearner) lastForcedPair() (int, int) {
	// After forced splits, the frontier is whatever driveForcedSplits
	// left as the most recently applied pair; recorded on tl for reuse
	// by Train's main loop.
	return tl.forcedFrontierLeft, tl.forcedFrontierRight
}

func (tl *TreeLearner) beforeTrain(bagIndices []int) {
	tl.pool.ResetMap()
	tl.constraints.Reset()
	tl.sampler.SampleTree(tl.treeIndex)
	if tl.cegb != nil {
		tl.cegb.Init()
	}

	if bagIndices == nil {
		tl.partition.Reset()
	} else {
		tl.partition.ResetToSubset(bagIndices)
	}

	tl.tree = NewTree(tl.cfg.NumLeaves)
	for i := range tl.leafStats {
		tl.leafStats[i].Reset()
	}
	for i := range tl.bestSplitLeaf {
		tl.bestSplitLeaf[i] = SplitInfo{Gain: negInfGain}
	}

	rootIndices := tl.partition.Indices(0)
	tl.leafStats[0].InitFromIndices(0, rootIndices, tl.gradients, tl.hessians, tl.isConstantHess)

	tl.colWise = tl.dataset.TestMultiThreadingMethod(rootIndices, tl.partition.NumTotal(), tl.cfg.ForceColWise, tl.cfg.ForceRowWise)
	tl.dataset.InitTrain(nil, tl.colWise)
}

// beforeFindBestSplit gates a (left, right) pair on depth and
// min-data-in-leaf, and assigns pool histogram roles (smaller/larger,
// use_subtract) for the upcoming FindBestSplits call. Returns false
// when the pair is gated off entirely (both sides pinned to -inf).
func (tl *TreeLearner) beforeFindBestSplit(left, right int) bool {
	leftDepth := tl.tree.LeafDepth(left)
	if tl.cfg.MaxDepth > 0 && leftDepth >= tl.cfg.MaxDepth {
		tl.bestSplitLeaf[left] = noSplit(-1, -1)
		if right >= 0 {
			tl.bestSplitLeaf[right] = noSplit(-1, -1)
		}
		return false
	}

	leftCount := tl.leafStats[left].NumData()
	rightCount := 0
	if right >= 0 {
		rightCount = tl.leafStats[right].NumData()
	}
	minGate := 2 * tl.cfg.MinDataInLeaf
	if right >= 0 && leftCount < minGate && rightCount < minGate {
		tl.bestSplitLeaf[left] = noSplit(-1, -1)
		tl.bestSplitLeaf[right] = noSplit(-1, -1)
		return false
	}
	if right < 0 && leftCount < minGate {
		tl.bestSplitLeaf[left] = noSplit(-1, -1)
		return false
	}
	return true
}

// roleAssignment names which leaf id is "smaller"/"larger" and
// whether the subtract trick applies for the current pair.
type roleAssignment struct {
	smaller, larger int
	useSubtract     bool
	smallerHist     []FeatureHistogram
	largerHist      []FeatureHistogram
}

func (tl *TreeLearner) assignRoles(left, right int) roleAssignment {
	if right < 0 {
		hist, _ := tl.pool.Get(left)
		tl.pool.Pin(left)
		return roleAssignment{smaller: left, larger: -1, smallerHist: hist}
	}

	smaller, larger := left, right
	if tl.leafStats[right].NumData() < tl.leafStats[left].NumData() {
		smaller, larger = right, left
	}

	if tl.pool.Has(left) {
		if larger == right {
			tl.pool.Move(left, right)
		}
		largerHist, _ := tl.pool.Get(larger)
		smallerHist, _ := tl.pool.Get(smaller)
		tl.pool.Pin(smaller, larger)
		return roleAssignment{smaller: smaller, larger: larger, useSubtract: true, smallerHist: smallerHist, largerHist: largerHist}
	}

	smallerHist, _ := tl.pool.Get(smaller)
	largerHist, _ := tl.pool.Get(larger)
	tl.pool.Pin(smaller, larger)
	return roleAssignment{smaller: smaller, larger: larger, useSubtract: false, smallerHist: smallerHist, largerHist: largerHist}
}

// findBestSplits builds histograms for the (left, right) pair and
// scores every candidate feature, updating tl.bestSplitLeaf for
// whichever of smaller/larger are present. Grounded on
// FindBestSplits/FindBestSplitsFromHistograms in the C++ source.
func (tl *TreeLearner) findBestSplits(ctx context.Context, left, right int) error {
	roles := tl.assignRoles(left, right)
	features := tl.sampler.SampleNode(tl.treeIndex, roles.smaller*2+left+right+3)

	if err := tl.dataset.ConstructHistograms(features, tl.partition.Indices(roles.smaller), tl.gradients, tl.hessians, tl.isConstantHess, tl.colWise, roles.smallerHist); err != nil {
		return err
	}
	if roles.larger >= 0 {
		if roles.useSubtract {
			for _, f := range features {
				roles.largerHist[f].Subtract(&roles.largerHist[f], &roles.smallerHist[f])
			}
		} else {
			if err := tl.dataset.ConstructHistograms(features, tl.partition.Indices(roles.larger), tl.gradients, tl.hessians, tl.isConstantHess, tl.colWise, roles.largerHist); err != nil {
				return err
			}
		}
	}

	smallerStat := tl.leafStats[roles.smaller]
	for _, f := range features {
		roles.smallerHist[f].FixHistogram(smallerStat.SumGrad(), smallerStat.SumHess(), int32(smallerStat.NumData()))
	}
	if roles.larger >= 0 {
		largerStat := tl.leafStats[roles.larger]
		for _, f := range features {
			roles.largerHist[f].FixHistogram(largerStat.SumGrad(), largerStat.SumHess(), int32(largerStat.NumData()))
		}
	}

	smallerBest, err := tl.searchFeatures(ctx, features, roles.smallerHist, roles.smaller, smallerStat)
	if err != nil {
		return err
	}
	tl.bestSplitLeaf[roles.smaller] = smallerBest

	if roles.larger >= 0 {
		largerStat := tl.leafStats[roles.larger]
		largerBest, err := tl.searchFeatures(ctx, features, roles.largerHist, roles.larger, largerStat)
		if err != nil {
			return err
		}
		tl.bestSplitLeaf[roles.larger] = largerBest
	}
	return nil
}

// searchFeatures fans the per-feature scoring of one leaf out across
// bounded workers (spec §5's second parallelism site), then reduces
// deterministically by scanning worker chunks in ascending feature
// order - never by completion order - so the result is independent of
// scheduling.
func (tl *TreeLearner) searchFeatures(ctx context.Context, features []int, hist []FeatureHistogram, leaf int, stat *LeafSplits) (SplitInfo, error) {
	numWorkers := tl.cfg.NumThreads
	if numWorkers <= 0 {
		numWorkers = defaultSplitSearchWorkers
	}
	if numWorkers > len(features) {
		numWorkers = len(features)
	}
	if numWorkers <= 1 {
		return tl.searchFeatureRange(features, hist, leaf, stat), nil
	}

	chunkSize := (len(features) + numWorkers - 1) / numWorkers
	perWorker := make([]SplitInfo, numWorkers)
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < numWorkers; w++ {
		w := w
		start := w * chunkSize
		end := start + chunkSize
		if end > len(features) {
			end = len(features)
		}
		if start >= end {
			perWorker[w] = SplitInfo{Gain: negInfGain}
			continue
		}
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			perWorker[w] = tl.searchFeatureRange(features[start:end], hist, leaf, stat)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return SplitInfo{}, err
	}

	best := SplitInfo{Gain: negInfGain}
	for w := 0; w < numWorkers; w++ {
		cand := perWorker[w]
		if better(&cand, &best) {
			best = cand
		}
	}
	return best, nil
}

func (tl *TreeLearner) searchFeatureRange(features []int, hist []FeatureHistogram, leaf int, stat *LeafSplits) SplitInfo {
	lo, hi := tl.constraints.Bounds(leaf)
	best := SplitInfo{Gain: negInfGain}
	for _, f := range features {
		real := tl.dataset.RealFeatureIndex(f)
		monotone := tl.cfg.monotoneFor(real)
		cand := tl.finder.ComputeBestSplitForFeature(&hist[f], tl.dataset.FeatureBinMapper(f), f, real, leaf, stat.SumGrad(), stat.SumHess(), int32(stat.NumData()), monotone, lo, hi)
		if better(&cand, &best) {
			best = cand
		}
	}
	return best
}

// argmaxActiveLeaf scans every currently active leaf's recorded best
// split and returns the winner under the tie-break of spec §4.5.
func (tl *TreeLearner) argmaxActiveLeaf() (int, float64) {
	best := -1
	var bestInfo SplitInfo
	bestInfo.Gain = negInfGain
	for l := 0; l < tl.tree.NumLeaves(); l++ {
		if tl.cfg.MaxDepth > 0 && tl.tree.LeafDepth(l) >= tl.cfg.MaxDepth {
			continue
		}
		cand := tl.bestSplitLeaf[l]
		if cand.Gain <= negInfGain {
			continue
		}
		if better(&cand, &bestInfo) {
			bestInfo = cand
			best = l
		}
	}
	if best < 0 {
		return -1, negInfGain
	}
	return best, bestInfo.Gain
}

// applySplit commits the recorded best split of leaf to the Tree,
// DataPartition and LeafConstraints, and seeds the two children's
// LeafSplits directly from the winning SplitInfo's exact sums (no
// recomputation needed - Split: applies best_split_info to
// Tree/DataPartition/LeafConstraints per spec §4.6).
func (tl *TreeLearner) applySplit(leaf int) (newLeft, newRight int) {
	return tl.commitSplit(leaf, tl.bestSplitLeaf[leaf])
}

// commitSplit applies an already-scored SplitInfo to Tree,
// DataPartition and LeafConstraints. Used both by the free-growth
// loop (via applySplit) and by ForcedSplitDriver, which computes its
// SplitInfo directly against a caller-specified threshold instead of
// via SplitFinder's search.
func (tl *TreeLearner) commitSplit(leaf int, info SplitInfo) (newLeft, newRight int) {
	inner := info.InnerFeature
	binCol := make([]uint32, tl.dataset.NumData())
	for i := 0; i < tl.dataset.NumData(); i++ {
		binCol[i] = tl.dataset.BinAt(inner, i)
	}
	mapper := tl.dataset.FeatureBinMapper(inner)
	newLeafID := tl.tree.NextLeafId()

	var spec ThresholdSpec
	if info.Categorical {
		spec = ThresholdSpec{Categorical: true, CatBitset: info.CatThreshold, DefaultLeft: false, MissingType: mapper.MissingType}
		tl.tree.SplitCategorical(leaf, inner, info.Feature, info.CatThreshold, info.LeftOutput, info.RightOutput, int(info.LeftCount), int(info.RightCount), info.LeftSumHess, info.RightSumHess, info.Gain, mapper.MissingType)
	} else {
		spec = ThresholdSpec{Bin: info.Threshold, DefaultLeft: info.DefaultLeft, MissingType: mapper.MissingType}
		tl.tree.Split(leaf, inner, info.Feature, info.Threshold, tl.dataset.RealThreshold(inner, info.Threshold), info.LeftOutput, info.RightOutput, int(info.LeftCount), int(info.RightCount), info.LeftSumHess, info.RightSumHess, info.Gain, mapper.MissingType, info.DefaultLeft)
	}

	tl.partition.Split(context.Background(), leaf, binCol, spec, newLeafID)

	if tl.cegb != nil {
		tl.cegb.MarkUsed(info.Feature)
	}

	tl.leafStats[leaf].Init(leaf, info.LeftSumGrad, info.LeftSumHess, int(info.LeftCount))
	tl.leafStats[newLeafID].Init(newLeafID, info.RightSumGrad, info.RightSumHess, int(info.RightCount))

	tl.constraints.UpdateConstraints(info.MonotoneType, leaf, newLeafID, info.LeftOutput, info.RightOutput)

	return leaf, newLeafID
}

// Tree returns the tree currently under construction (or last
// completed by Train).
func (tl *TreeLearner) Tree() *Tree { return tl.tree }

// Partition exposes the controller's DataPartition, used by
// LeafRefit and by callers that need per-leaf membership after Train.
func (tl *TreeLearner) Partition() *DataPartition { return tl.partition }
