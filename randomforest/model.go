// Package randomforest implements the random forest engine and the CART
// learner (a random forest of one unsampled tree).
package randomforest

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/goforest/core/model"
	"github.com/YuminosukeSato/goforest/core/parallel"
	"github.com/YuminosukeSato/goforest/dataset"
	"github.com/YuminosukeSato/goforest/decisiontree"
	"github.com/YuminosukeSato/goforest/pkg/errors"
)

// ModelName is the registered name of random forest models.
const ModelName = "RANDOM_FOREST"

func init() {
	model.Register(ModelName, load)
}

// OutOfBagEvaluation is the quality of the forest measured on the
// examples left out of each tree's bootstrap sample.
type OutOfBagEvaluation struct {
	NumTrees    int     `json:"num_trees"`
	NumExamples int     `json:"num_examples"`
	Accuracy    float64 `json:"accuracy,omitempty"`
	RMSE        float64 `json:"rmse,omitempty"`
}

type payload struct {
	WinnerTakeAll bool                 `json:"winner_take_all"`
	NumClasses    int                  `json:"num_classes,omitempty"`
	Trees         []*decisiontree.Tree `json:"trees"`
	OutOfBag      *OutOfBagEvaluation  `json:"out_of_bag,omitempty"`
}

// Model is a trained random forest. It is immutable and safe for
// concurrent use.
type Model struct {
	header   model.Header
	spec     *dataset.DataSpec
	labelCol int
	features []int
	trees    []*decisiontree.Tree
	// vocabulary size of the label, OOD included; 0 for regression
	numClasses    int
	winnerTakeAll bool
	oob           *OutOfBagEvaluation
}

func (m *Model) Name() string                { return ModelName }
func (m *Model) Task() model.Task            { return m.header.Task }
func (m *Model) Label() string               { return m.header.Label }
func (m *Model) DataSpec() *dataset.DataSpec { return m.spec }
func (m *Model) Header() model.Header        { return m.header }

// InputFeatures returns the names of the input feature columns.
func (m *Model) InputFeatures() []string {
	out := make([]string, len(m.header.InputFeatures))
	copy(out, m.header.InputFeatures)
	return out
}

func (m *Model) NumTrees() int               { return len(m.trees) }
func (m *Model) Trees() []*decisiontree.Tree { return m.trees }
func (m *Model) WinnerTakeAll() bool         { return m.winnerTakeAll }

// OutOfBagEvaluation returns the out-of-bag evaluation, if it was computed
// during training.
func (m *Model) OutOfBagEvaluation() (OutOfBagEvaluation, bool) {
	if m.oob == nil {
		return OutOfBagEvaluation{}, false
	}
	return *m.oob, true
}

// numOutputs is 1 for regression and binary classification, the number of
// classes otherwise.
func (m *Model) numOutputs() int {
	if m.numClasses == 0 || m.numClasses == 3 {
		return 1
	}
	return m.numClasses - 1
}

// Predict implements model.Model: the mean value for regression, the
// probability of the second class for binary classification and the class
// probabilities for multiclass classification.
func (m *Model) Predict(ds *dataset.VerticalDataset) (out *mat.Dense, err error) {
	defer errors.Recover(&err, "randomforest.Model.Predict")

	ds, err = decisiontree.PrepareInput(ds, m.spec, m.features)
	if err != nil {
		return nil, err
	}
	n := ds.NumRows()
	if n == 0 {
		return &mat.Dense{}, nil
	}
	out = mat.NewDense(n, m.numOutputs(), nil)
	parallel.ParallelizeWithThreshold(n, 256, 0, func(start, end int) {
		acc := make([]float64, max(m.numClasses, 1))
		for r := start; r < end; r++ {
			clear(acc)
			for _, tree := range m.trees {
				m.accumulate(acc, tree.GetLeaf(ds, r))
			}
			m.setOutput(out, r, acc, len(m.trees))
		}
	})
	return out, nil
}

// accumulate adds the contribution of one leaf: its value, its class
// distribution, or a vote for its majority class.
func (m *Model) accumulate(acc []float64, leaf *decisiontree.Node) {
	if m.numClasses == 0 {
		acc[0] += leaf.Value
		return
	}
	if m.winnerTakeAll {
		acc[argmax(leaf.Distribution)]++
		return
	}
	for k, p := range leaf.Distribution {
		acc[k] += p
	}
}

func (m *Model) setOutput(out *mat.Dense, r int, acc []float64, numTrees int) {
	if numTrees == 0 {
		return
	}
	scale := 1 / float64(numTrees)
	switch {
	case m.numClasses == 0:
		out.Set(r, 0, acc[0]*scale)
	case m.numClasses == 3:
		out.Set(r, 0, acc[2]*scale)
	default:
		for k := 1; k < m.numClasses; k++ {
			out.Set(r, k-1, acc[k]*scale)
		}
	}
}

func argmax(values []float64) int {
	best := 0
	for k, v := range values {
		if v > values[best] {
			best = k
		}
	}
	return best
}

// PredictLeaves returns the leaf reached in every tree, rows × NumTrees.
func (m *Model) PredictLeaves(ds *dataset.VerticalDataset) (*mat.Dense, error) {
	ds, err := decisiontree.PrepareInput(ds, m.spec, m.features)
	if err != nil {
		return nil, err
	}
	return decisiontree.PredictLeaves(m.trees, ds), nil
}

// Distance returns the proximity distance between the rows of ds1 and ds2.
// A nil ds2 computes the distances within ds1.
func (m *Model) Distance(ds1, ds2 *dataset.VerticalDataset) (*mat.Dense, error) {
	a, err := decisiontree.PrepareInput(ds1, m.spec, m.features)
	if err != nil {
		return nil, err
	}
	b := a
	if ds2 != nil {
		if b, err = decisiontree.PrepareInput(ds2, m.spec, m.features); err != nil {
			return nil, err
		}
	}
	return decisiontree.Distance(m.trees, a, b), nil
}

// Describe summarizes the forest.
func (m *Model) Describe() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Type: %q\n", ModelName)
	fmt.Fprintf(&sb, "Task: %s\n", m.header.Task)
	fmt.Fprintf(&sb, "Label: %q\n\n", m.header.Label)

	fmt.Fprintf(&sb, "Input Features (%d):\n", len(m.header.InputFeatures))
	for _, name := range m.header.InputFeatures {
		fmt.Fprintf(&sb, "\t%s\n", name)
	}
	sb.WriteByte('\n')

	fmt.Fprintf(&sb, "Winner takes all: %t\n", m.winnerTakeAll)
	if m.oob != nil {
		fmt.Fprintf(&sb, "Out-of-bag evaluation: trees: %d, examples: %d", m.oob.NumTrees, m.oob.NumExamples)
		if m.numClasses > 0 {
			fmt.Fprintf(&sb, ", accuracy: %.4g\n", m.oob.Accuracy)
		} else {
			fmt.Fprintf(&sb, ", rmse: %.4g\n", m.oob.RMSE)
		}
	}
	fmt.Fprintf(&sb, "Number of trees: %d\n", len(m.trees))

	if len(m.trees) > 0 {
		nodes := make([]float64, len(m.trees))
		depths := make([]float64, len(m.trees))
		total := 0
		for i, tree := range m.trees {
			nodes[i] = float64(tree.NumNodes())
			depths[i] = float64(tree.Depth())
			total += tree.NumNodes()
		}
		mean, std := stat.MeanStdDev(nodes, nil)
		fmt.Fprintf(&sb, "Total number of nodes: %d\n", total)
		fmt.Fprintf(&sb, "Number of nodes by tree: Average: %.4g StdDev: %.4g\n", mean, std)
		fmt.Fprintf(&sb, "Depth by tree: Average: %.4g\n", stat.Mean(depths, nil))
	}
	if len(m.trees) == 1 {
		sb.WriteString("\nTree:\n")
		sb.WriteString(m.trees[0].Describe(m.spec))
	}
	return sb.String()
}

// Save implements model.Model.
func (m *Model) Save(dir, prefix string) error {
	if err := model.SaveCommon(dir, prefix, m.header, m.spec); err != nil {
		return err
	}
	p := payload{
		WinnerTakeAll: m.winnerTakeAll,
		NumClasses:    m.numClasses,
		Trees:         m.trees,
		OutOfBag:      m.oob,
	}
	if err := model.WriteJSON(dir, prefix, model.ForestFile, p); err != nil {
		return err
	}
	return model.MarkDone(dir, prefix)
}

func load(dir, prefix string, header model.Header) (model.Model, error) {
	spec, err := model.LoadDataSpec(dir, prefix)
	if err != nil {
		return nil, err
	}
	var p payload
	if err := model.ReadJSON(dir, prefix, model.ForestFile, &p); err != nil {
		return nil, err
	}

	labelCol := spec.ColumnIndex(header.Label)
	if labelCol < 0 {
		return nil, errors.NewModelError("randomforest.load", fmt.Sprintf("label %q not in the data spec", header.Label), nil)
	}
	if header.Task == model.Classification && p.NumClasses != spec.Columns[labelCol].NumClasses() {
		return nil, errors.NewModelError("randomforest.load",
			fmt.Sprintf("num_classes=%d does not match the label vocabulary", p.NumClasses), nil)
	}
	features := make([]int, len(header.InputFeatures))
	for i, name := range header.InputFeatures {
		if features[i] = spec.ColumnIndex(name); features[i] < 0 {
			return nil, errors.NewModelError("randomforest.load", fmt.Sprintf("input feature %q not in the data spec", name), nil)
		}
	}
	for i, tree := range p.Trees {
		if tree == nil {
			return nil, errors.NewModelError("randomforest.load", fmt.Sprintf("tree %d is empty", i), nil)
		}
		if err := tree.Finalize(spec); err != nil {
			return nil, errors.Wrapf(err, "tree %d", i)
		}
	}
	return &Model{
		header:        header,
		spec:          spec,
		labelCol:      labelCol,
		features:      features,
		trees:         p.Trees,
		numClasses:    p.NumClasses,
		winnerTakeAll: p.WinnerTakeAll,
		oob:           p.OutOfBag,
	}, nil
}
