package lightgbm

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/leafwise/gbdt/pkg/errors"
)

// BinType distinguishes numerical from categorical features, decoded
// from a Dataset's BinMapper, matching the teacher's api/dataset.go
// BinMapper.IsCategorical split but named after the C++ source's
// BinType enum since the learner reasons about it directly.
type BinType uint8

const (
	NumericalBin BinType = iota
	CategoricalBin
)

// BinMapper describes how one feature's raw values are discretised,
// grounded on the teacher's api/dataset.go BinMapper plus the
// missing-value metadata the C++ source keeps alongside it.
type BinMapper struct {
	NumBin      int
	BinType     BinType
	MissingType MissingType
	UpperBounds []float64 // numerical: bin i covers (UpperBounds[i-1], UpperBounds[i]]
	Categories  []float64 // categorical: bin i represents Categories[i]
}

func (m *BinMapper) valueToBin(v float64) uint32 {
	if m.BinType == CategoricalBin {
		for i, c := range m.Categories {
			if c == v {
				return uint32(i)
			}
		}
		return uint32(len(m.Categories)) // unseen category folds into an implicit last bin
	}
	// upper-bound search: first bound >= v
	lo, hi := 0, len(m.UpperBounds)
	for lo < hi {
		mid := (lo + hi) / 2
		if v <= m.UpperBounds[mid] {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return uint32(lo)
}

func (m *BinMapper) binToValue(bin uint32) float64 {
	if m.BinType == CategoricalBin {
		if int(bin) < len(m.Categories) {
			return m.Categories[bin]
		}
		return math.NaN()
	}
	if int(bin) < len(m.UpperBounds) {
		return m.UpperBounds[bin]
	}
	return math.Inf(1)
}

// Dataset is the external collaborator contract of spec §6: a
// pre-binned training matrix plus per-feature metadata. The learner
// never sees raw floats for split search, only bin indices produced
// through this interface, so alternative storage layouts (row-major,
// column-major, external memory) can all satisfy it.
type Dataset interface {
	NumData() int
	NumFeatures() int
	FeatureNumBin(inner int) int
	ValidFeatureIndices() []int // F_valid: features with >= 2 bins
	InnerFeatureIndex(real int) int
	RealFeatureIndex(inner int) int
	FeatureBinMapper(inner int) *BinMapper
	BinThreshold(inner int, real float64) uint32
	RealThreshold(inner int, bin uint32) float64

	// InitTrain pins the multithreading method (col-wise vs row-wise)
	// for the lifetime of training; TestMultiThreadingMethod is the
	// one-shot selector run once from BeforeTrain.
	InitTrain(featureMask []bool, colWise bool)
	TestMultiThreadingMethod(indices []int, numData int, forceColWise, forceRowWise bool) bool

	// ConstructHistograms fills hist[f] for every inner feature index f
	// in featureIndices using only the given example indices; hist must
	// be indexed by inner feature id (length NumFeatures()) and only
	// the selected entries are touched. isConstantHess lets the
	// implementation skip per-example hessian reads when every hessian
	// is identical.
	ConstructHistograms(featureIndices []int, indices []int, gradients, hessians []float64, isConstantHess bool, colWise bool, hist []FeatureHistogram) error

	// BinAt returns the bin index example i falls into for feature
	// inner - the value the SplitFinder and DataPartition compare
	// against a candidate threshold.
	BinAt(inner, example int) uint32
}

// BinnedDataset is the reference Dataset implementation: a dense,
// column-major matrix of already-computed bin indices, grounded on
// the teacher's api/dataset.go (functional-options construction) and
// findBinIndex/findOptimalBinBoundaries binning logic from
// trainer.go, adapted from row-major float64 storage to pre-binned
// column-major uint32 storage so ConstructHistograms never re-bins.
type BinnedDataset struct {
	numData     int
	numFeatures int

	bins        [][]uint32 // [inner feature][example] -> bin
	mappers     []*BinMapper
	innerToReal []int
	realToInner map[int]int
	validInner  []int
}

// DatasetOption configures NewBinnedDataset, mirroring the teacher's
// DatasetOption functional-options pattern.
type DatasetOption func(*binnedDatasetConfig)

type binnedDatasetConfig struct {
	categorical map[int]bool
	maxBin      int
}

// WithCategoricalFeatures marks real feature indices as categorical.
func WithCategoricalFeatures(realIdx ...int) DatasetOption {
	return func(c *binnedDatasetConfig) {
		for _, f := range realIdx {
			c.categorical[f] = true
		}
	}
}

// WithMaxBin overrides the default per-feature bin cap (255).
func WithMaxBin(maxBin int) DatasetOption {
	return func(c *binnedDatasetConfig) { c.maxBin = maxBin }
}

// NewBinnedDataset bins a dense row-major [][]float64 matrix into a
// BinnedDataset, discovering bin boundaries the way
// findOptimalBinBoundaries does in the teacher: exact per-value bins
// when the distinct count fits under maxBin, quantile boundaries
// otherwise.
func NewBinnedDataset(x [][]float64, opts ...DatasetOption) (*BinnedDataset, error) {
	if len(x) == 0 {
		return nil, errors.NewValueError("NewBinnedDataset", "empty data")
	}
	numData := len(x)
	numFeatures := len(x[0])
	cfg := binnedDatasetConfig{categorical: map[int]bool{}, maxBin: 255}
	for _, o := range opts {
		o(&cfg)
	}

	d := &BinnedDataset{
		numData:     numData,
		numFeatures: numFeatures,
		bins:        make([][]uint32, numFeatures),
		mappers:     make([]*BinMapper, numFeatures),
		innerToReal: make([]int, 0, numFeatures),
		realToInner: make(map[int]int, numFeatures),
	}

	for f := 0; f < numFeatures; f++ {
		col := make([]float64, numData)
		for i := range x {
			if len(x[i]) != numFeatures {
				return nil, errors.NewDimensionError("NewBinnedDataset", numFeatures, len(x[i]), 1)
			}
			col[i] = x[i][f]
		}
		var mapper *BinMapper
		if cfg.categorical[f] {
			mapper = buildCategoricalMapper(col)
		} else {
			mapper = buildNumericalMapper(col, cfg.maxBin)
		}
		bins := make([]uint32, numData)
		for i, v := range col {
			bins[i] = mapper.valueToBin(v)
		}
		d.bins[f] = bins
		d.mappers[f] = mapper

		inner := len(d.innerToReal)
		d.innerToReal = append(d.innerToReal, f)
		d.realToInner[f] = inner
		if mapper.NumBin >= 2 {
			d.validInner = append(d.validInner, inner)
		}
	}
	return d, nil
}

// NewBinnedDatasetFromMat bins a gonum matrix the same way
// NewBinnedDataset bins a row-major slice, matching the mat.Matrix
// entry point the teacher's own Dataset/LGBMRegressor/LGBMClassifier
// constructors (api/dataset.go's NewDataset, lgbm_regressor.go's Fit)
// all accept training data through.
func NewBinnedDatasetFromMat(x mat.Matrix, opts ...DatasetOption) (*BinnedDataset, error) {
	rows, cols := x.Dims()
	if rows == 0 {
		return nil, errors.NewValueError("NewBinnedDatasetFromMat", "empty data")
	}
	rowMajor := make([][]float64, rows)
	for i := 0; i < rows; i++ {
		row := make([]float64, cols)
		for j := 0; j < cols; j++ {
			row[j] = x.At(i, j)
		}
		rowMajor[i] = row
	}
	return NewBinnedDataset(rowMajor, opts...)
}

func buildNumericalMapper(values []float64, maxBin int) *BinMapper {
	seen := map[float64]bool{}
	uniq := make([]float64, 0, len(values))
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		if !seen[v] {
			seen[v] = true
			uniq = append(uniq, v)
		}
	}
	sortFloat64s(uniq)

	var bounds []float64
	if len(uniq) <= maxBin {
		bounds = uniq
	} else {
		bounds = make([]float64, 0, maxBin)
		step := float64(len(uniq)) / float64(maxBin)
		for i := 1; i <= maxBin; i++ {
			idx := int(float64(i)*step) - 1
			if idx < 0 {
				idx = 0
			}
			if idx >= len(uniq) {
				idx = len(uniq) - 1
			}
			bounds = append(bounds, uniq[idx])
		}
	}
	missing := MissingNone
	for _, v := range values {
		if math.IsNaN(v) {
			missing = MissingNaN
			break
		}
	}
	if len(bounds) == 0 {
		bounds = []float64{0}
	}
	return &BinMapper{NumBin: len(bounds), BinType: NumericalBin, MissingType: missing, UpperBounds: bounds}
}

func buildCategoricalMapper(values []float64) *BinMapper {
	seen := map[float64]bool{}
	cats := make([]float64, 0)
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		if !seen[v] {
			seen[v] = true
			cats = append(cats, v)
		}
	}
	sortFloat64s(cats)
	return &BinMapper{NumBin: len(cats), BinType: CategoricalBin, MissingType: MissingNone, Categories: cats}
}

func sortFloat64s(v []float64) {
	// insertion sort is fine here: bin discovery runs once per feature
	// at dataset construction, not on the training hot path.
	for i := 1; i < len(v); i++ {
		for j := i; j > 0 && v[j-1] > v[j]; j-- {
			v[j-1], v[j] = v[j], v[j-1]
		}
	}
}

func (d *BinnedDataset) NumData() int     { return d.numData }
func (d *BinnedDataset) NumFeatures() int { return d.numFeatures }

func (d *BinnedDataset) FeatureNumBin(inner int) int { return d.mappers[inner].NumBin }

func (d *BinnedDataset) ValidFeatureIndices() []int { return d.validInner }

func (d *BinnedDataset) InnerFeatureIndex(real int) int {
	if inner, ok := d.realToInner[real]; ok {
		return inner
	}
	return -1
}

func (d *BinnedDataset) RealFeatureIndex(inner int) int { return d.innerToReal[inner] }

func (d *BinnedDataset) FeatureBinMapper(inner int) *BinMapper { return d.mappers[inner] }

func (d *BinnedDataset) BinThreshold(inner int, real float64) uint32 {
	return d.mappers[inner].valueToBin(real)
}

func (d *BinnedDataset) RealThreshold(inner int, bin uint32) float64 {
	return d.mappers[inner].binToValue(bin)
}

func (d *BinnedDataset) InitTrain(featureMask []bool, colWise bool) {}

// TestMultiThreadingMethod picks col-wise histogram construction
// unless the caller forces row-wise; a real implementation would
// benchmark both on a data sample the way the C++ source's
// SampleData/CostEfficientGradientBoosting warmup does, but a single
// static decision is sufficient here since BinnedDataset always
// stores data column-major.
func (d *BinnedDataset) TestMultiThreadingMethod(indices []int, numData int, forceColWise, forceRowWise bool) bool {
	if forceRowWise {
		return false
	}
	return true
}

func (d *BinnedDataset) BinAt(inner, example int) uint32 { return d.bins[inner][example] }

// ConstructHistograms fills one FeatureHistogram per requested
// feature from the given example indices - the raw accumulation loop
// spec.md §1 explicitly delegates to the Dataset.
func (d *BinnedDataset) ConstructHistograms(featureIndices []int, indices []int, gradients, hessians []float64, isConstantHess bool, colWise bool, hist []FeatureHistogram) error {
	if len(gradients) != d.numData || (!isConstantHess && len(hessians) != d.numData) {
		return errors.NewDimensionError("ConstructHistograms", d.numData, len(gradients), 0)
	}
	for _, f := range featureIndices {
		h := &hist[f]
		h.reset()
		col := d.bins[f]
		if isConstantHess {
			hv := hessians[0]
			for _, i := range indices {
				h.add(int(col[i]), gradients[i], hv)
			}
		} else {
			for _, i := range indices {
				h.add(int(col[i]), gradients[i], hessians[i])
			}
		}
	}
	return nil
}
