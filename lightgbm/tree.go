package lightgbm

import (
	"encoding/json"
	"math"
)

// MissingType mirrors the Dataset's per-feature missing-value handling
// mode, decoded from BinMapper.missing_type in the spec's collaborator
// contract (§6).
type MissingType uint8

const (
	MissingNone MissingType = iota
	MissingZero
	MissingNaN
)

// treeNode is one internal split node of a Tree, addressed by its
// position in Tree.nodes. Leaves are addressed separately by leaf id;
// a node's Left/Right fields hold either another node index or a
// leaf id, disambiguated via leftIsLeaf/rightIsLeaf, mirroring the
// flag-bit encoding in leaves_tree.go's LeavesNode without needing a
// packed bitset here since we are not constrained to a wire format.
type treeNode struct {
	splitFeature int // real feature index
	innerFeature int
	threshold    uint32 // bin threshold (numerical splits)
	thresholdReal float64
	defaultLeft  bool
	missingType  MissingType
	isCategorical bool
	catThresholds []uint32 // bitset words (categorical splits)

	left, right int // indices into Tree.nodes (internal) or, when the
	// corresponding leftIsLeaf/rightIsLeaf flag is set, a leaf id.
	leftIsLeaf, rightIsLeaf bool

	gain          float64
	monotoneType  int8
	internalValue float64 // (sum_g, sum_h) derived value before shrinkage, for diagnostics
}

// Tree is a leaf-wise regression tree. Nodes are stored in a flat
// slice in split order (root first); leaves are stored separately by
// leaf id so LeafOutput/SetLeafOutput are O(1). This is the Tree
// collaborator described in spec.md §6: NextLeafId, Split,
// SplitCategorical, LeafOutput, leaf_depth, shrinkage.
type Tree struct {
	nodes []treeNode

	leafOutput []float64
	leafDepth  []int
	leafParent []int // node index whose child this leaf is, -1 for the root leaf

	numLeaves     int
	maxLeaves     int
	shrinkageRate float64
}

// NewTree allocates a tree with capacity for maxLeaves leaves, starting
// as a single root leaf (id 0, depth 1).
func NewTree(maxLeaves int) *Tree {
	t := &Tree{
		nodes:         make([]treeNode, 0, maxLeaves-1),
		leafOutput:    make([]float64, 1, maxLeaves),
		leafDepth:     make([]int, 1, maxLeaves),
		leafParent:    make([]int, 1, maxLeaves),
		numLeaves:     1,
		maxLeaves:     maxLeaves,
		shrinkageRate: 1.0,
	}
	t.leafDepth[0] = 1
	t.leafParent[0] = -1
	return t
}

// NumLeaves returns the number of active leaves.
func (t *Tree) NumLeaves() int { return t.numLeaves }

// NextLeafId returns the id that will be assigned to the next leaf
// created by Split/SplitCategorical.
func (t *Tree) NextLeafId() int { return t.numLeaves }

// LeafDepth returns the depth (root leaf = 1) of leaf id.
func (t *Tree) LeafDepth(leaf int) int { return t.leafDepth[leaf] }

// LeafOutput returns the current predicted value stored at leaf id.
func (t *Tree) LeafOutput(leaf int) float64 { return t.leafOutput[leaf] }

// SetLeafOutput overwrites the predicted value stored at leaf id.
func (t *Tree) SetLeafOutput(leaf int, v float64) { t.leafOutput[leaf] = v }

// Shrinkage returns the tree's output multiplier (the boosting
// learning rate applied when this tree was appended to the ensemble).
func (t *Tree) Shrinkage() float64 { return t.shrinkageRate }

// SetShrinkage sets the tree's output multiplier. Called by the
// boosting driver once when the tree is finalized.
func (t *Tree) SetShrinkage(rate float64) { t.shrinkageRate = rate }

func (t *Tree) growLeafArrays() {
	t.leafOutput = append(t.leafOutput, 0)
	t.leafDepth = append(t.leafDepth, 0)
	t.leafParent = append(t.leafParent, 0)
}

// Split converts leaf into an internal numerical-split node, creating
// a new right leaf and returning its id. Mirrors Tree::Split in the
// C++ collaborator.
func (t *Tree) Split(leaf, innerFeature, realFeature int, threshold uint32, thresholdReal, leftOutput, rightOutput float64, leftCount, rightCount int, leftSumHess, rightSumHess, gain float64, missing MissingType, defaultLeft bool) int {
	return t.applySplit(leaf, innerFeature, realFeature, treeNode{
		splitFeature:  realFeature,
		innerFeature:  innerFeature,
		threshold:     threshold,
		thresholdReal: thresholdReal,
		defaultLeft:   defaultLeft,
		missingType:   missing,
		isCategorical: false,
	}, leftOutput, rightOutput, gain)
}

// SplitCategorical converts leaf into an internal categorical-split
// node. catBitsetInner selects, by inner bin, which categories route
// left. Mirrors Tree::SplitCategorical.
func (t *Tree) SplitCategorical(leaf, innerFeature, realFeature int, catBitsetInner []uint32, leftOutput, rightOutput float64, leftCount, rightCount int, leftSumHess, rightSumHess, gain float64, missing MissingType) int {
	return t.applySplit(leaf, innerFeature, realFeature, treeNode{
		splitFeature:  realFeature,
		innerFeature:  innerFeature,
		catThresholds: catBitsetInner,
		missingType:   missing,
		isCategorical: true,
	}, leftOutput, rightOutput, gain)
}

func (t *Tree) applySplit(leaf, innerFeature, realFeature int, node treeNode, leftOutput, rightOutput, gain float64) int {
	newLeaf := t.numLeaves
	t.growLeafArrays()

	node.gain = gain
	nodeIdx := len(t.nodes)
	// Splitting a leaf turns it into an internal node whose children
	// are, initially, the same leaf id (left, reused) and the new leaf
	// id (right); the node that previously pointed at leaf is re-pointed
	// at the new internal node, and parent bookkeeping records which node
	// produced each leaf.
	node.left = leaf
	node.leftIsLeaf = true
	node.right = newLeaf
	node.rightIsLeaf = true
	t.nodes = append(t.nodes, node)

	if p := t.leafParent[leaf]; p >= 0 {
		pn := &t.nodes[p]
		if pn.leftIsLeaf && pn.left == leaf {
			pn.left, pn.leftIsLeaf = nodeIdx, false
		} else if pn.rightIsLeaf && pn.right == leaf {
			pn.right, pn.rightIsLeaf = nodeIdx, false
		}
	}

	parentDepth := t.leafDepth[leaf]
	t.leafDepth[leaf] = parentDepth + 1
	t.leafDepth[newLeaf] = parentDepth + 1
	t.leafParent[leaf] = nodeIdx
	t.leafParent[newLeaf] = nodeIdx

	t.leafOutput[leaf] = leftOutput
	t.leafOutput[newLeaf] = rightOutput

	t.numLeaves++
	_ = innerFeature
	_ = realFeature
	return newLeaf
}

// Predict routes a feature vector (indexed by inner feature index)
// down the tree and returns the landing leaf's output.
func (t *Tree) Predict(fvals []float64) float64 {
	return t.leafOutput[t.PredictLeaf(fvals)]
}

// PredictLeaf routes a feature vector down the tree and returns the
// id of the leaf it lands in - used by DataPartition.ResetByLeafPred
// and by test property 1 (partition/prediction agreement).
func (t *Tree) PredictLeaf(fvals []float64) int {
	if len(t.nodes) == 0 {
		return 0
	}
	idx := 0
	for {
		n := &t.nodes[idx]
		goLeft := t.decide(n, fvals[n.innerFeature])
		if goLeft {
			if n.leftIsLeaf {
				return n.left
			}
			idx = n.left
		} else {
			if n.rightIsLeaf {
				return n.right
			}
			idx = n.right
		}
	}
}

func (t *Tree) decide(n *treeNode, val float64) bool {
	if n.isCategorical {
		return t.categoricalDecide(n, val)
	}
	isMissing := math.IsNaN(val)
	if !isMissing && n.missingType == MissingZero {
		isMissing = val > -1e-35 && val <= 1e-35
	}
	if isMissing {
		return n.defaultLeft
	}
	return uint32ToBin(val) <= n.threshold
}

func (t *Tree) categoricalDecide(n *treeNode, val float64) bool {
	if math.IsNaN(val) {
		return n.missingType == MissingNaN && n.defaultLeft
	}
	bin := uint32(val)
	word := bin / 32
	bitIdx := bin % 32
	if int(word) >= len(n.catThresholds) {
		return false
	}
	return n.catThresholds[word]&(1<<bitIdx) != 0
}

// uint32ToBin exists so decide() can compare a fvals entry (already a
// bin index encoded as float64 by BinnedDataset) against a uint32
// threshold without repeated float<->int churn at call sites.
func uint32ToBin(v float64) uint32 { return uint32(v) }

// LeafCount returns the number of leaves currently allocated,
// including ones whose subtree has since been repartitioned to zero
// examples (Tree never removes leaves).
func (t *Tree) LeafCount() int { return t.numLeaves }

// nodeJSON mirrors the per-node shape LightGBM's model dump uses
// (sklearn/lightgbm/loader.go's NodeJSON), so a tree grown here dumps
// into the same document shape a caller may already parse.
type nodeJSON struct {
	SplitIndex   int     `json:"split_index,omitempty"`
	SplitFeature int     `json:"split_feature,omitempty"`
	SplitGain    float64 `json:"split_gain,omitempty"`
	Threshold    float64 `json:"threshold,omitempty"`
	DecisionType string  `json:"decision_type,omitempty"`
	DefaultLeft  bool    `json:"default_left,omitempty"`
	MissingType  string  `json:"missing_type,omitempty"`

	LeftChild  *nodeJSON `json:"left_child,omitempty"`
	RightChild *nodeJSON `json:"right_child,omitempty"`

	LeafIndex int     `json:"leaf_index,omitempty"`
	LeafValue float64 `json:"leaf_value,omitempty"`
}

var missingTypeName = map[MissingType]string{
	MissingNone: "None",
	MissingZero: "Zero",
	MissingNaN:  "NaN",
}

// MarshalJSON dumps the tree in LightGBM's node_json layout: a
// recursive split_index/split_feature/threshold tree bottoming out at
// leaf_index/leaf_value leaves. A tree with no splits yet dumps as a
// single leaf node. This is a diagnostic/interop dump, not the format
// TreeLearner reads back - forced-split templates use ForcedNode's own
// (lighter) json tags instead.
func (t *Tree) MarshalJSON() ([]byte, error) {
	if len(t.nodes) == 0 {
		return json.Marshal(&nodeJSON{LeafIndex: 0, LeafValue: t.leafOutput[0]})
	}
	splitIndex := 0
	root := t.nodeToJSON(0, &splitIndex)
	return json.Marshal(root)
}

func (t *Tree) nodeToJSON(idx int, splitIndex *int) *nodeJSON {
	n := &t.nodes[idx]
	out := &nodeJSON{
		SplitIndex:   *splitIndex,
		SplitFeature: n.splitFeature,
		SplitGain:    n.gain,
		Threshold:    n.thresholdReal,
		DefaultLeft:  n.defaultLeft,
		MissingType:  missingTypeName[n.missingType],
	}
	if n.isCategorical {
		out.DecisionType = "=="
	} else {
		out.DecisionType = "<="
	}
	*splitIndex++

	if n.leftIsLeaf {
		out.LeftChild = &nodeJSON{LeafIndex: n.left, LeafValue: t.leafOutput[n.left]}
	} else {
		out.LeftChild = t.nodeToJSON(n.left, splitIndex)
	}
	if n.rightIsLeaf {
		out.RightChild = &nodeJSON{LeafIndex: n.right, LeafValue: t.leafOutput[n.right]}
	} else {
		out.RightChild = t.nodeToJSON(n.right, splitIndex)
	}
	return out
}
