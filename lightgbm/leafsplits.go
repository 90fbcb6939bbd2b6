package lightgbm

// LeafSplits is the per-leaf aggregate statistics record described in
// spec §3/§4.3 (C1): leaf id, example count, and gradient/hessian
// sums. A leaf_index of -1 marks the slot unused (the "larger" slot
// before its first assignment).
type LeafSplits struct {
	leafIndex int
	numData   int
	sumGrad   float64
	sumHess   float64
}

func newLeafSplits() *LeafSplits {
	return &LeafSplits{leafIndex: -1}
}

// Init assigns this slot to leaf and sets its aggregate statistics
// directly, used for both children of a committed split, seeded from
// the winning SplitInfo's left/right sums and counts.
func (s *LeafSplits) Init(leaf int, sumG, sumH float64, n int) {
	s.leafIndex = leaf
	s.sumGrad = sumG
	s.sumHess = sumH
	s.numData = n
}

// InitFromIndices recomputes the aggregate from scratch by summing
// gradients/hessians over the given example indices - used when
// building the root's LeafSplits over the full (or bagged) dataset.
func (s *LeafSplits) InitFromIndices(leaf int, indices []int, gradients, hessians []float64, isConstantHess bool) {
	var sumG, sumH float64
	if isConstantHess {
		hv := hessians[0]
		for _, i := range indices {
			sumG += gradients[i]
		}
		sumH = hv * float64(len(indices))
	} else {
		for _, i := range indices {
			sumG += gradients[i]
			sumH += hessians[i]
		}
	}
	s.leafIndex = leaf
	s.sumGrad = sumG
	s.sumHess = sumH
	s.numData = len(indices)
}

// Reset clears the slot back to unassigned (leaf_index = -1).
func (s *LeafSplits) Reset() {
	s.leafIndex = -1
	s.numData = 0
	s.sumGrad = 0
	s.sumHess = 0
}

func (s *LeafSplits) LeafIndex() int   { return s.leafIndex }
func (s *LeafSplits) NumData() int     { return s.numData }
func (s *LeafSplits) SumGrad() float64 { return s.sumGrad }
func (s *LeafSplits) SumHess() float64 { return s.sumHess }

// Valid reports whether this slot currently names a leaf.
func (s *LeafSplits) Valid() bool { return s.leafIndex >= 0 }
