package lightgbm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFeatureSamplerFullFractionKeepsEverything(t *testing.T) {
	valid := []int{0, 1, 2, 3, 4}
	s := NewFeatureSampler(valid, 1.0, 1.0, 42)
	s.SampleTree(0)
	require.ElementsMatch(t, valid, s.TreeSampledInner())
	require.ElementsMatch(t, valid, s.SampleNode(0, 0))
}

func TestFeatureSamplerRespectsMinFloor(t *testing.T) {
	valid := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	// featureFraction so small that n*fraction rounds below the floor of 2.
	s := NewFeatureSampler(valid, 0.05, 1.0, 7)
	s.SampleTree(0)
	require.GreaterOrEqual(t, len(s.TreeSampledInner()), 2)
}

func TestFeatureSamplerSingleValidFeatureFloorsToOne(t *testing.T) {
	valid := []int{5}
	s := NewFeatureSampler(valid, 0.1, 1.0, 7)
	s.SampleTree(0)
	require.Equal(t, []int{5}, s.TreeSampledInner())
}

func TestFeatureSamplerDeterministicAcrossRuns(t *testing.T) {
	valid := []int{0, 1, 2, 3, 4, 5, 6, 7}
	s1 := NewFeatureSampler(valid, 0.5, 1.0, 123)
	s2 := NewFeatureSampler(valid, 0.5, 1.0, 123)
	s1.SampleTree(3)
	s2.SampleTree(3)
	require.Equal(t, s1.TreeSampledInner(), s2.TreeSampledInner())
}

func TestFeatureSamplerNodeLevelIntersectsTreeLevel(t *testing.T) {
	valid := []int{0, 1, 2, 3, 4, 5, 6, 7}
	s := NewFeatureSampler(valid, 0.5, 0.5, 9)
	s.SampleTree(1)
	treeSet := map[int]bool{}
	for _, f := range s.TreeSampledInner() {
		treeSet[f] = true
	}
	node := s.SampleNode(1, 0)
	for _, f := range node {
		require.True(t, treeSet[f], "node-level sample must be a subset of the tree-level sample")
	}
}

func TestFeatureSamplerNodeLevelUsesFullValidWhenTreeLevelDisabled(t *testing.T) {
	valid := []int{0, 1, 2, 3, 4, 5}
	s := NewFeatureSampler(valid, 1.0, 0.5, 9)
	s.SampleTree(1)
	node := s.SampleNode(1, 0)
	for _, f := range node {
		require.Contains(t, valid, f)
	}
	require.GreaterOrEqual(t, len(node), 2)
}
