package lightgbm

// Network is the distributed-mode aggregation collaborator of spec §6.
// The tree learner itself never branches on machine count; only
// RenewLeafOutputs calls GlobalSum, when NumMachines > 1. Single-machine callers use
// LocalNetwork, whose GlobalSum is the identity.
type Network interface {
	NumMachines() int
	GlobalSum(vec []float64) []float64
}

// LocalNetwork is the single-node Network implementation: no
// aggregation occurs because there is only one worker.
type LocalNetwork struct{}

func (LocalNetwork) NumMachines() int { return 1 }

func (LocalNetwork) GlobalSum(vec []float64) []float64 { return vec }
