package lightgbm

import "github.com/google/btree"

// recencyKey orders HistogramPool's LRU index by (sequence, leafID):
// sequence breaks ties by recency, leafID breaks ties within the same
// sequence value (spec §9's open question: LRU ties break on smaller
// leaf id), giving a total order the btree can maintain in O(log C).
type recencyKey struct {
	sequence int64
	leafID   int
}

func (a recencyKey) Less(than btree.Item) bool {
	b := than.(recencyKey)
	if a.sequence != b.sequence {
		return a.sequence < b.sequence
	}
	return a.leafID < b.leafID
}

// HistogramPool is the bounded leaf -> per-feature-histogram cache of
// spec §4.1 (C3): arena + handle, per §9's re-architecture note on
// "owning pointers into a pool". Buffers are pre-allocated up to
// capacity; Get/Move/ResetMap only ever mutate the handle map.
type HistogramPool struct {
	numFeatures       int
	numBinsPerFeature []int

	capacity int
	buffers  [][]FeatureHistogram // capacity slots, each a full per-feature array
	free     []int                // indices into buffers not currently bound to a leaf

	leafToSlot map[int]int
	slotToLeaf map[int]int
	recency    *btree.BTree
	leafKey    map[int]recencyKey
	seq        int64

	pinned map[int]bool // leaves that must never be evicted this iteration
}

// NewHistogramPool sizes capacity from histogram_pool_size (MiB) per
// spec §3's formula C = clamp(2, floor(pool_MiB*2^20 / bytes), num_leaves).
func NewHistogramPool(numFeatures int, numBinsPerFeature []int, poolSizeMiB float64, numLeaves int) *HistogramPool {
	capacity := numLeaves
	if poolSizeMiB > 0 {
		perLeafBytes := bytesPerHistogram(numBinsPerFeature)
		if perLeafBytes > 0 {
			budget := int64(poolSizeMiB * (1 << 20))
			c := int(budget / perLeafBytes)
			if c < 2 {
				c = 2
			}
			if c > numLeaves {
				c = numLeaves
			}
			capacity = c
		}
	}

	p := &HistogramPool{
		numFeatures:       numFeatures,
		numBinsPerFeature: numBinsPerFeature,
		capacity:          capacity,
		buffers:           make([][]FeatureHistogram, capacity),
		leafToSlot:        make(map[int]int, capacity),
		slotToLeaf:        make(map[int]int, capacity),
		recency:           btree.New(16),
		leafKey:           make(map[int]recencyKey, capacity),
		pinned:            make(map[int]bool, 4),
	}
	for i := 0; i < capacity; i++ {
		buf := make([]FeatureHistogram, numFeatures)
		for f := 0; f < numFeatures; f++ {
			buf[f] = newFeatureHistogram(f, numBinsPerFeature[f])
		}
		p.buffers[i] = buf
		p.free = append(p.free, i)
	}
	return p
}

// ResetMap drops all leaf bindings but keeps the allocated buffers,
// called from BeforeTrain at the start of each tree.
func (p *HistogramPool) ResetMap() {
	p.free = p.free[:0]
	for i := 0; i < p.capacity; i++ {
		p.free = append(p.free, i)
	}
	p.leafToSlot = make(map[int]int, p.capacity)
	p.slotToLeaf = make(map[int]int, p.capacity)
	p.recency = btree.New(16)
	p.leafKey = make(map[int]recencyKey, p.capacity)
	p.seq = 0
	p.pinned = make(map[int]bool, 4)
}

// DynamicChangeSize grows or shrinks capacity between trees, e.g.
// when num_leaves changes across ResetConfig calls.
func (p *HistogramPool) DynamicChangeSize(newCapacity, numLeaves int) {
	if newCapacity > p.capacity {
		for i := p.capacity; i < newCapacity; i++ {
			buf := make([]FeatureHistogram, p.numFeatures)
			for f := 0; f < p.numFeatures; f++ {
				buf[f] = newFeatureHistogram(f, p.numBinsPerFeature[f])
			}
			p.buffers = append(p.buffers, buf)
			p.free = append(p.free, i)
		}
	} else if newCapacity < p.capacity {
		// Evict bound leaves beyond the new capacity before shrinking;
		// simplest correct policy is a full reset, acceptable since this
		// only runs between trees.
		p.capacity = newCapacity
		p.buffers = p.buffers[:newCapacity]
		p.ResetMap()
		return
	}
	p.capacity = newCapacity
}

func (p *HistogramPool) touch(leaf int) {
	if old, ok := p.leafKey[leaf]; ok {
		p.recency.Delete(old)
	}
	p.seq++
	key := recencyKey{sequence: p.seq, leafID: leaf}
	p.leafKey[leaf] = key
	p.recency.ReplaceOrInsert(key)
}

// Pin marks leaves that must survive eviction during the current
// iteration (the leaf whose histogram was just retained as the
// larger child's, per spec §4.1's eviction policy note).
func (p *HistogramPool) Pin(leaves ...int) {
	for _, l := range leaves {
		if l >= 0 {
			p.pinned[l] = true
		}
	}
}

// Unpin releases pins set by Pin, called once the iteration that
// needed them has committed its split.
func (p *HistogramPool) Unpin() {
	p.pinned = make(map[int]bool, 4)
}

// Get returns the histogram array bound to leaf, allocating (evicting
// the true LRU entry if necessary) when leaf has none yet. found
// distinguishes reuse from fresh allocation, per spec §4.1.
func (p *HistogramPool) Get(leaf int) (hist []FeatureHistogram, found bool) {
	if slot, ok := p.leafToSlot[leaf]; ok {
		p.touch(leaf)
		return p.buffers[slot], true
	}

	var slot int
	if len(p.free) > 0 {
		slot = p.free[len(p.free)-1]
		p.free = p.free[:len(p.free)-1]
	} else {
		slot = p.evictLRU()
	}
	p.leafToSlot[leaf] = slot
	p.slotToLeaf[slot] = leaf
	p.touch(leaf)
	return p.buffers[slot], false
}

// evictLRU removes the least-recently-touched unpinned leaf and
// returns its now-free slot.
func (p *HistogramPool) evictLRU() int {
	var victim int
	var victimKey recencyKey
	found := false
	p.recency.Ascend(func(item btree.Item) bool {
		k := item.(recencyKey)
		if p.pinned[k.leafID] {
			return true // keep scanning
		}
		victim = k.leafID
		victimKey = k
		found = true
		return false
	})
	if !found {
		// Every bound leaf is pinned - should not happen given the
		// controller only pins O(1) leaves against a capacity >= 2, but
		// fall back to the strict oldest entry rather than panic.
		p.recency.Ascend(func(item btree.Item) bool {
			victimKey = item.(recencyKey)
			victim = victimKey.leafID
			return false
		})
	}
	p.recency.Delete(victimKey)
	delete(p.leafKey, victim)
	slot := p.leafToSlot[victim]
	delete(p.leafToSlot, victim)
	delete(p.slotToLeaf, slot)
	return slot
}

// Move rebinds the histograms currently keyed by src to dst without
// copying (spec §4.1's Move, used for the subtract-trick's "larger
// child inherits the parent's histogram buffer" step).
func (p *HistogramPool) Move(src, dst int) {
	slot, ok := p.leafToSlot[src]
	if !ok {
		return
	}
	delete(p.leafToSlot, src)
	if old, ok := p.leafKey[src]; ok {
		p.recency.Delete(old)
		delete(p.leafKey, src)
	}
	p.leafToSlot[dst] = slot
	p.slotToLeaf[slot] = dst
	p.touch(dst)
}

// Release frees leaf's binding back to the pool without evicting
// anyone else, used when a leaf becomes permanently inactive.
func (p *HistogramPool) Release(leaf int) {
	slot, ok := p.leafToSlot[leaf]
	if !ok {
		return
	}
	delete(p.leafToSlot, leaf)
	delete(p.slotToLeaf, slot)
	if key, ok := p.leafKey[leaf]; ok {
		p.recency.Delete(key)
		delete(p.leafKey, leaf)
	}
	p.free = append(p.free, slot)
}

// Has reports whether leaf currently has resident histograms, used by
// BeforeFindBestSplit to decide use_subtract.
func (p *HistogramPool) Has(leaf int) bool {
	_, ok := p.leafToSlot[leaf]
	return ok
}

// Capacity returns C, the bound checked by testable property 3.
func (p *HistogramPool) Capacity() int { return p.capacity }

// LiveCount returns the number of leaves currently bound to a slot.
func (p *HistogramPool) LiveCount() int { return len(p.leafToSlot) }
