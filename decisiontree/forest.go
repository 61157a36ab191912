package decisiontree

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/goforest/core/parallel"
	"github.com/YuminosukeSato/goforest/dataset"
	"github.com/YuminosukeSato/goforest/pkg/errors"
)

// rows above which forest-wide traversals are split across goroutines
const parallelRowThreshold = 512

// PrepareInput maps ds onto the layout of spec and checks that every
// input feature was provided.
func PrepareInput(ds *dataset.VerticalDataset, spec *dataset.DataSpec, features []int) (*dataset.VerticalDataset, error) {
	if ds == nil {
		return nil, errors.Wrap(errors.ErrEmptyData, "nil dataset")
	}
	projected, err := ds.Project(spec)
	if err != nil {
		return nil, err
	}
	for _, f := range features {
		name := spec.Columns[f].Name
		if !projected.HasColumn(name) {
			return nil, errors.NewValidationError(name, "input feature missing from the dataset", nil)
		}
	}
	return projected, nil
}

// PredictLeaves returns the leaf index of every row in every tree, as a
// rows × trees matrix.
func PredictLeaves(trees []*Tree, ds *dataset.VerticalDataset) *mat.Dense {
	n := ds.NumRows()
	if n == 0 || len(trees) == 0 {
		return &mat.Dense{}
	}
	leaves := mat.NewDense(n, len(trees), nil)
	parallel.ParallelizeWithThreshold(n, parallelRowThreshold, 0, func(start, end int) {
		for r := start; r < end; r++ {
			for t, tree := range trees {
				leaves.Set(r, t, float64(tree.LeafIndex(ds, r)))
			}
		}
	})
	return leaves
}

// Distance returns the pairwise distance between the rows of ds1 and ds2:
// one minus the ratio of trees in which both rows reach the same leaf.
func Distance(trees []*Tree, ds1, ds2 *dataset.VerticalDataset) *mat.Dense {
	n1, n2 := ds1.NumRows(), ds2.NumRows()
	if n1 == 0 || n2 == 0 || len(trees) == 0 {
		return &mat.Dense{}
	}
	leaves1 := leafIndices(trees, ds1)
	leaves2 := leafIndices(trees, ds2)

	dist := mat.NewDense(n1, n2, nil)
	numTrees := float64(len(trees))
	parallel.ParallelizeWithThreshold(n1, parallelRowThreshold/8, 0, func(start, end int) {
		for i := start; i < end; i++ {
			a := leaves1[i*len(trees) : (i+1)*len(trees)]
			for j := 0; j < n2; j++ {
				b := leaves2[j*len(trees) : (j+1)*len(trees)]
				same := 0
				for t := range a {
					if a[t] == b[t] {
						same++
					}
				}
				dist.Set(i, j, 1-float64(same)/numTrees)
			}
		}
	})
	return dist
}

func leafIndices(trees []*Tree, ds *dataset.VerticalDataset) []int32 {
	n := ds.NumRows()
	out := make([]int32, n*len(trees))
	parallel.ParallelizeWithThreshold(n, parallelRowThreshold, 0, func(start, end int) {
		for r := start; r < end; r++ {
			for t, tree := range trees {
				out[r*len(trees)+t] = int32(tree.LeafIndex(ds, r))
			}
		}
	})
	return out
}

// SelectFeatures resolves the input feature columns of a learner: the
// named ones, or every column except the label and weights when names is
// empty. weightCol is -1 without weights.
func SelectFeatures(spec *dataset.DataSpec, names []string, labelCol, weightCol int) ([]int, error) {
	var features []int
	if len(names) == 0 {
		for c := range spec.Columns {
			if c != labelCol && c != weightCol {
				features = append(features, c)
			}
		}
	} else {
		for _, name := range names {
			c := spec.ColumnIndex(name)
			if c < 0 {
				return nil, errors.NewValidationError("features", "feature column not in the dataset", name)
			}
			if c == labelCol || c == weightCol {
				return nil, errors.NewValidationError("features", "the label or weights cannot be a feature", name)
			}
			features = append(features, c)
		}
	}
	if len(features) == 0 {
		return nil, errors.NewValidationError("features", "no input feature", names)
	}
	return features, nil
}

// LabelledRows lists the rows with a usable label: not missing and, for
// categorical labels, not out-of-dictionary.
func LabelledRows(ds *dataset.VerticalDataset, labelCol int) []int {
	rows := make([]int, 0, ds.NumRows())
	categorical := ds.Spec().Columns[labelCol].Semantic == dataset.Categorical
	for r := 0; r < ds.NumRows(); r++ {
		if ds.IsMissing(labelCol, r) {
			continue
		}
		// index 0 is the out-of-dictionary item
		if categorical && ds.Categorical(labelCol)[r] == 0 {
			continue
		}
		rows = append(rows, r)
	}
	return rows
}

// Weights returns the example weights stored in a numerical column, with
// missing weights set to zero. It returns nil when weightCol is -1.
func Weights(ds *dataset.VerticalDataset, weightCol int) []float64 {
	if weightCol < 0 {
		return nil
	}
	weights := make([]float64, ds.NumRows())
	for r, w := range ds.Numerical(weightCol) {
		if math.IsNaN(w) {
			w = 0
		}
		weights[r] = w
	}
	return weights
}
