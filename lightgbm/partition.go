package lightgbm

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// minParallelPartition is the run-length threshold above which Split
// fans work out across errgroup workers; below it the fixed cost of
// spawning goroutines outweighs the saving.
const minParallelPartition = 1 << 16

// DataPartition maps leaf id to a contiguous run of example indices
// inside a single backing buffer (spec §4.2 / C2). Splitting a leaf
// partitions its run in place: the left-going indices stay under the
// same leaf id, the right-going indices move to newLeafID, and both
// runs remain contiguous afterward.
type DataPartition struct {
	indices []int
	begin   []int
	count   []int
}

// NewDataPartition allocates a partition over [0, n) with capacity
// for maxLeaves leaves, initially a single run covering everything
// under leaf 0.
func NewDataPartition(n, maxLeaves int) *DataPartition {
	buf := make([]int, n)
	for i := range buf {
		buf[i] = i
	}
	p := &DataPartition{
		indices: buf,
		begin:   make([]int, maxLeaves),
		count:   make([]int, maxLeaves),
	}
	p.count[0] = n
	return p
}

// Reset re-initializes the partition to a single root run, reusing
// buffers - called from BeforeTrain at the start of each tree.
func (p *DataPartition) Reset() {
	for i := range p.indices {
		p.indices[i] = i
	}
	for i := range p.begin {
		p.begin[i] = 0
		p.count[i] = 0
	}
	p.count[0] = len(p.indices)
}

// ResetToSubset re-initializes the partition so leaf 0 owns exactly
// the given (already deduplicated) example indices, used when the
// root is built over a bagged subset rather than the whole dataset.
func (p *DataPartition) ResetToSubset(subset []int) {
	copy(p.indices, subset)
	for i := range p.begin {
		p.begin[i] = 0
		p.count[i] = 0
	}
	p.count[0] = len(subset)
}

// Indices returns the slice of example indices currently owned by
// leaf. The returned slice aliases the partition's backing buffer and
// is only valid until the next Split call.
func (p *DataPartition) Indices(leaf int) []int {
	b, c := p.begin[leaf], p.count[leaf]
	return p.indices[b : b+c]
}

// Count returns the number of examples currently owned by leaf.
func (p *DataPartition) Count(leaf int) int { return p.count[leaf] }

// NumTotal returns N, the size of the backing buffer.
func (p *DataPartition) NumTotal() int { return len(p.indices) }

// ThresholdSpec selects which examples of a numerical split go left:
// bin <= Bin routes left unless the example is missing, in which case
// DefaultLeft decides. For categorical splits CatBitset selects, by
// bin, which categories route left; Bin/DefaultLeft are ignored.
type ThresholdSpec struct {
	Categorical bool
	Bin         uint32
	CatBitset   []uint32
	DefaultLeft bool
	MissingType MissingType
}

func (t *ThresholdSpec) routesLeft(bin uint32, isMissing bool) bool {
	if isMissing {
		return t.DefaultLeft
	}
	if t.Categorical {
		word := bin / 32
		bitIdx := bin % 32
		if int(word) >= len(t.CatBitset) {
			return false
		}
		return t.CatBitset[word]&(1<<bitIdx) != 0
	}
	return bin <= t.Bin
}

// Split partitions leaf's run in place using the bin values in
// binCol (one uint32 per example, already the leaf's feature), moving
// right-going indices under newLeafID. Output order within each child
// is unspecified, matching spec §4.2's parallelism note; runs stay
// contiguous.
func (p *DataPartition) Split(ctx context.Context, leaf int, binCol []uint32, spec ThresholdSpec, newLeafID int) (leftCount, rightCount int, err error) {
	b, c := p.begin[leaf], p.count[leaf]
	run := p.indices[b : b+c]

	if c < minParallelPartition {
		leftCount = partitionSerial(run, binCol, spec)
	} else {
		leftCount, err = partitionParallel(ctx, run, binCol, spec)
		if err != nil {
			return 0, 0, err
		}
	}

	rightCount = c - leftCount
	p.begin[leaf] = b
	p.count[leaf] = leftCount
	p.begin[newLeafID] = b + leftCount
	p.count[newLeafID] = rightCount
	return leftCount, rightCount, nil
}

// partitionSerial performs a single-pass two-pointer partition of run
// in place, returning the number of left-going elements. Left-going
// elements keep their relative order; right-going ones may not.
func partitionSerial(run []int, binCol []uint32, spec ThresholdSpec) int {
	left := 0
	for right := 0; right < len(run); right++ {
		idx := run[right]
		bin := binCol[idx]
		isMissing := isMissingBin(spec, bin)
		if spec.routesLeft(bin, isMissing) {
			run[left], run[right] = run[right], run[left]
			left++
		}
	}
	return left
}

func isMissingBin(spec ThresholdSpec, bin uint32) bool {
	if spec.Categorical {
		return false
	}
	switch spec.MissingType {
	case MissingZero:
		return bin == 0
	default:
		return false
	}
}

// partitionParallel splits run into blocks, partitions each block
// independently (so each keeps its own contiguous left/right region),
// then compacts all left blocks before all right blocks. This gives
// the same "left indices keyed under leaf, right under newLeafID"
// contract as the serial path while letting per-block scans run
// concurrently, mirroring the block-parallel row-wise construction
// described in spec §5.
func partitionParallel(ctx context.Context, run []int, binCol []uint32, spec ThresholdSpec) (int, error) {
	numWorkers := 8
	if numWorkers > len(run) {
		numWorkers = len(run)
	}
	blockSize := (len(run) + numWorkers - 1) / numWorkers
	leftCounts := make([]int, numWorkers)

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < numWorkers; w++ {
		w := w
		start := w * blockSize
		end := start + blockSize
		if end > len(run) {
			end = len(run)
		}
		if start >= end {
			continue
		}
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			leftCounts[w] = partitionSerial(run[start:end], binCol, spec)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	// Compact: gather all left-going elements first, then right-going,
	// using a scratch buffer sized to the run.
	scratch := make([]int, len(run))
	rightStart := 0
	for i := 0; i < len(leftCounts); i++ {
		rightStart += leftCounts[i]
	}
	leftPos, rightPos := 0, rightStart
	for w := 0; w < numWorkers; w++ {
		start := w * blockSize
		end := start + blockSize
		if end > len(run) {
			end = len(run)
		}
		if start >= end {
			continue
		}
		block := run[start:end]
		lc := leftCounts[w]
		copy(scratch[leftPos:leftPos+lc], block[:lc])
		leftPos += lc
		copy(scratch[rightPos:rightPos+(len(block)-lc)], block[lc:])
		rightPos += len(block) - lc
	}
	copy(run, scratch)
	return rightStart, nil
}

// ResetByLeafPred repartitions every example according to a
// user-supplied per-example leaf id (predLeaf[i] in [0, numLeaves)),
// used by LeafRefit's two-argument form to rebuild the partition from
// a fixed tree structure before recomputing leaf sums.
func (p *DataPartition) ResetByLeafPred(predLeaf []int, numLeaves int) {
	for i := range p.begin {
		p.begin[i] = 0
		p.count[i] = 0
	}
	counts := make([]int, numLeaves)
	for _, l := range predLeaf {
		counts[l]++
	}
	starts := make([]int, numLeaves)
	acc := 0
	for l := 0; l < numLeaves; l++ {
		starts[l] = acc
		acc += counts[l]
	}
	cursor := append([]int(nil), starts...)
	for i, l := range predLeaf {
		p.indices[cursor[l]] = i
		cursor[l]++
	}
	for l := 0; l < numLeaves; l++ {
		p.begin[l] = starts[l]
		p.count[l] = counts[l]
	}
}
