package lightgbm

import (
	"context"
	"encoding/json"

	"github.com/leafwise/gbdt/pkg/errors"
)

// ForcedNode is one node of a caller-supplied split template (spec
// §4.7/§6, C8): "Node := { feature, threshold, left?, right? }".
// A nil Left/Right means that branch grows freely once the BFS
// reaches it (or was never templated). The json tags match the
// forced_splits.json shape LightGBM's own CLI accepts, so a template
// authored for the C++ trainer decodes here unchanged.
type ForcedNode struct {
	Feature   int         `json:"feature"`
	Threshold float64     `json:"threshold"`
	Left      *ForcedNode `json:"left,omitempty"`
	Right     *ForcedNode `json:"right,omitempty"`
}

// ParseForcedSplits decodes a caller-supplied forced-split template
// from JSON, as spec §4's ForcedSplitDriver note requires. The
// top-level document may be either a bare node object or
// {"feature":...} nested one level under a "tree" key, mirroring how
// LightGBM's forced_splits_filename wraps its root node.
func ParseForcedSplits(data []byte) (*ForcedNode, error) {
	var wrapped struct {
		Tree *ForcedNode `json:"tree"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Tree != nil {
		return wrapped.Tree, nil
	}

	var root ForcedNode
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, errors.Wrap(err, "decode forced split template")
	}
	return &root, nil
}

type forcedQueueEntry struct {
	leaf int
	node *ForcedNode
}

// driveForcedSplits executes the BFS of spec §4.7: score every
// templated node directly against its named (feature, threshold)
// rather than searching, apply while gain stays non-negative, and
// abort (leaving abortedLastForceSplit set) the first time a
// templated node's computed gain goes negative or names a feature
// absent from the dataset. Returns the number of forced splits
// actually applied. Grounded on SerialTreeLearner::ForceSplits.
func (tl *TreeLearner) driveForcedSplits(ctx context.Context, root *ForcedNode) (int, error) {
	queue := []forcedQueueEntry{{leaf: 0, node: root}}
	count := 0
	frontierLeft, frontierRight := 0, -1
	aborted := false

	for len(queue) > 0 {
		e := queue[0]
		queue = queue[1:]

		inner := tl.dataset.InnerFeatureIndex(e.node.Feature)
		if inner < 0 {
			aborted = true
			break
		}
		binThreshold := tl.dataset.BinThreshold(inner, e.node.Threshold)
		info := tl.gatherInfoForThreshold(e.leaf, inner, e.node.Feature, binThreshold)
		if info.Gain < 0 {
			tl.logger.Debug("forced split aborted: negative gain", "leaf", e.leaf, "feature", e.node.Feature)
			aborted = true
			break
		}

		leftLeaf, rightLeaf := tl.commitSplit(e.leaf, info)
		count++
		frontierLeft, frontierRight = leftLeaf, rightLeaf

		if e.node.Left != nil {
			queue = append(queue, forcedQueueEntry{leaf: leftLeaf, node: e.node.Left})
		}
		if e.node.Right != nil {
			queue = append(queue, forcedQueueEntry{leaf: rightLeaf, node: e.node.Right})
		}
	}

	tl.forcedFrontierLeft, tl.forcedFrontierRight = frontierLeft, frontierRight
	tl.abortedLastForceSplit = aborted
	return count, nil
}

// gatherInfoForThreshold scores a single caller-specified threshold
// directly by scanning leaf's examples, bypassing histogram
// construction entirely - GatherInfoForThreshold in the C++ source
// takes the same shortcut since a forced split doesn't need to
// compare against every other candidate.
func (tl *TreeLearner) gatherInfoForThreshold(leaf, innerFeature, realFeature int, binThreshold uint32) SplitInfo {
	cfg := &tl.cfg
	indices := tl.partition.Indices(leaf)

	var leftG, leftH, rightG, rightH float64
	var leftN, rightN int32
	for _, i := range indices {
		bin := tl.dataset.BinAt(innerFeature, i)
		g := tl.gradients[i]
		h := 1.0
		if !tl.isConstantHess {
			h = tl.hessians[i]
		} else if len(tl.hessians) > 0 {
			h = tl.hessians[0]
		}
		if bin <= binThreshold {
			leftG += g
			leftH += h
			leftN++
		} else {
			rightG += g
			rightH += h
			rightN++
		}
	}

	if leftN < int32(cfg.MinDataInLeaf) || rightN < int32(cfg.MinDataInLeaf) {
		return SplitInfo{Feature: realFeature, InnerFeature: innerFeature, Gain: negInfGain}
	}

	leftOut := calcOutput(leftG, leftH, cfg.LambdaL1, cfg.LambdaL2, cfg.MaxDeltaStep)
	rightOut := calcOutput(rightG, rightH, cfg.LambdaL1, cfg.LambdaL2, cfg.MaxDeltaStep)
	parentScore := leafScore(leftG+rightG, leftH+rightH, cfg.LambdaL1, cfg.LambdaL2)
	gain := leafScore(leftG, leftH, cfg.LambdaL1, cfg.LambdaL2) +
		leafScore(rightG, rightH, cfg.LambdaL1, cfg.LambdaL2) -
		parentScore - cfg.MinSplitGain

	return SplitInfo{
		Feature: realFeature, InnerFeature: innerFeature,
		Threshold: binThreshold, Gain: gain,
		LeftOutput: leftOut, RightOutput: rightOut,
		LeftCount: leftN, RightCount: rightN,
		LeftSumGrad: leftG, LeftSumHess: leftH,
		RightSumGrad: rightG, RightSumHess: rightH,
	}
}
