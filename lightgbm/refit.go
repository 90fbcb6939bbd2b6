package lightgbm

import (
	"context"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// refitWorkers bounds the per-leaf fan-out of FitByExistingTree and
// RenewLeafOutputs, spec §5's third parallelism site.
const refitWorkers = 4

// LeafRefit replays fresh gradients against a fixed tree structure
// (spec §4.8, C9): FitByExistingTree recomputes each leaf's optimal
// output from the examples currently assigned to it, without changing
// any split. Grounded on SerialTreeLearner::FitByExistingTree.
type LeafRefit struct {
	cfg *Config
}

func NewLeafRefit(cfg *Config) *LeafRefit {
	return &LeafRefit{cfg: cfg}
}

// FitByExistingTree recomputes every leaf's output from the
// partition's current membership and blends it with the previous
// output via refit_decay_rate: decay=0 fully replaces the old output
// (up to floating point error, the round-trip idempotence property of
// spec §8), decay=1 leaves it untouched.
func (r *LeafRefit) FitByExistingTree(ctx context.Context, tree *Tree, partition *DataPartition, gradients, hessians []float64, isConstantHess bool) error {
	numLeaves := tree.NumLeaves()
	numWorkers := refitWorkers
	if numWorkers > numLeaves {
		numWorkers = numLeaves
	}
	if numWorkers < 1 {
		numWorkers = 1
	}
	chunk := (numLeaves + numWorkers - 1) / numWorkers

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < numWorkers; w++ {
		start := w * chunk
		end := start + chunk
		if end > numLeaves {
			end = numLeaves
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
			for l := start; l < end; l++ {
				r.refitLeaf(tree, partition, l, gradients, hessians, isConstantHess)
			}
			return nil
		})
	}
	return g.Wait()
}

// FitByExistingTreeMat accepts gradients/hessians as gonum vectors,
// matching the mat.Vector-shaped residual/weight arguments the
// teacher's regression estimators pass around (evaluation_metrics.go's
// *mat.VecDense residual helpers), and unpacks them into the plain
// []float64 form FitByExistingTree operates on.
func (r *LeafRefit) FitByExistingTreeMat(ctx context.Context, tree *Tree, partition *DataPartition, gradients, hessians mat.Vector, isConstantHess bool) error {
	g := make([]float64, gradients.Len())
	for i := range g {
		g[i] = gradients.AtVec(i)
	}
	h := make([]float64, hessians.Len())
	for i := range h {
		h[i] = hessians.AtVec(i)
	}
	return r.FitByExistingTree(ctx, tree, partition, g, h, isConstantHess)
}

// FitByExistingTreeWithLeafPred first repartitions examples according
// to predLeaf (a per-example leaf assignment supplied by the caller,
// e.g. from a model file with no live DataPartition), then proceeds
// exactly as FitByExistingTree.
func (r *LeafRefit) FitByExistingTreeWithLeafPred(ctx context.Context, tree *Tree, partition *DataPartition, predLeaf []int, gradients, hessians []float64, isConstantHess bool) error {
	partition.ResetByLeafPred(predLeaf, tree.NumLeaves())
	return r.FitByExistingTree(ctx, tree, partition, gradients, hessians, isConstantHess)
}

func (r *LeafRefit) refitLeaf(tree *Tree, partition *DataPartition, leaf int, gradients, hessians []float64, isConstantHess bool) {
	indices := partition.Indices(leaf)
	if len(indices) == 0 {
		return
	}
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

	optimal := calcOutput(sumG, sumH, r.cfg.LambdaL1, r.cfg.LambdaL2, r.cfg.MaxDeltaStep) * tree.Shrinkage()
	decay := r.cfg.RefitDecayRate
	newOutput := decay*tree.LeafOutput(leaf) + (1-decay)*optimal
	tree.SetLeafOutput(leaf, newOutput)
}

// RenewLeafOutputs implements spec §4.9: when the objective requests
// it, replace every leaf's output with obj.RenewTreeOutput evaluated
// over the leaf's current membership. Leaves with zero local examples
// get output 0 and are excluded from the distributed-mode average.
// residual(i) must return the objective's residual for full dataset
// index i; bagMapper maps a partition-local index (already a full
// dataset index for in-memory training) through to that same space -
// identity unless the caller trained on a bagged/remapped subset.
func RenewLeafOutputs(ctx context.Context, tree *Tree, partition *DataPartition, obj ObjectiveFunction, network Network, residual func(int) float64, bagMapper func(int) int) error {
	if obj == nil || !obj.IsRenewTreeOutput() {
		return nil
	}
	if bagMapper == nil {
		bagMapper = func(i int) int { return i }
	}

	numLeaves := tree.NumLeaves()
	outputs := make([]float64, numLeaves)
	present := make([]float64, numLeaves)

	numWorkers := refitWorkers
	if numWorkers > numLeaves {
		numWorkers = numLeaves
	}
	if numWorkers < 1 {
		numWorkers = 1
	}
	chunk := (numLeaves + numWorkers - 1) / numWorkers

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < numWorkers; w++ {
		start := w * chunk
		end := start + chunk
		if end > numLeaves {
			end = numLeaves
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
			for l := start; l < end; l++ {
				count := partition.Count(l)
				if count == 0 {
					outputs[l] = 0
					present[l] = 0
					continue
				}
				outputs[l] = obj.RenewTreeOutput(tree.LeafOutput(l), residual, partition.Indices(l), bagMapper, count) * float64(count)
				present[l] = float64(count)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if network != nil && network.NumMachines() > 1 {
		outputs = network.GlobalSum(outputs)
		present = network.GlobalSum(present)
	}

	for l := 0; l < numLeaves; l++ {
		if present[l] <= 0 {
			tree.SetLeafOutput(l, 0)
			continue
		}
		tree.SetLeafOutput(l, outputs[l]/present[l])
	}
	return nil
}
