// Package gbt implements the gradient boosted trees engine: the model,
// its losses and the boosting learner.
package gbt

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

// ModelName is the registered name of gradient boosted trees models.
const ModelName = "GRADIENT_BOOSTED_TREES"

func init() {
	model.Register(ModelName, load)
}

// LogEntry is the state of the training after NumIterations iterations.
type LogEntry struct {
	NumIterations  int      `json:"num_iterations"`
	NumTrees       int      `json:"num_trees"`
	TrainingLoss   float64  `json:"training_loss"`
	ValidationLoss *float64 `json:"validation_loss,omitempty"`
}

// TrainingLogs records the losses of every iteration.
type TrainingLogs struct {
	Entries []LogEntry `json:"entries"`
	// NumIterationsKept is the number of iterations kept in the model after
	// early stopping.
	NumIterationsKept int `json:"num_iterations_kept"`
}

// payload is the content of the forest file.
type payload struct {
	Loss               string               `json:"loss"`
	NumClasses         int                  `json:"num_classes,omitempty"`
	NumTreesPerIter    int                  `json:"num_trees_per_iter"`
	InitialPredictions []float64            `json:"initial_predictions"`
	Trees              []*decisiontree.Tree `json:"trees"`
	TrainingLogs       TrainingLogs         `json:"training_logs"`
	ValidationLoss     *float64             `json:"validation_loss,omitempty"`
}

// Model is a trained gradient boosted trees model. It is immutable and
// safe for concurrent use.
type Model struct {
	header   model.Header
	spec     *dataset.DataSpec
	labelCol int
	features []int

	loss            Loss
	numClasses      int
	numTreesPerIter int
	initial         []float64
	trees           []*decisiontree.Tree
	logs            TrainingLogs
	validationLoss  *float64
}

var _ model.Model = (*Model)(nil)

// Name implements model.Model.
func (m *Model) Name() string { return ModelName }

// Task implements model.Model.
func (m *Model) Task() model.Task { return m.header.Task }

// Label implements model.Model.
func (m *Model) Label() string { return m.header.Label }

// DataSpec implements model.Model.
func (m *Model) DataSpec() *dataset.DataSpec { return m.spec }

// Header implements model.Model.
func (m *Model) Header() model.Header { return m.header }

// InputFeatures implements model.Model.
func (m *Model) InputFeatures() []string {
	names := make([]string, len(m.features))
	for i, f := range m.features {
		names[i] = m.spec.Columns[f].Name
	}
	return names
}

// InputFeatureIndices returns the data spec columns used by the trees.
func (m *Model) InputFeatureIndices() []int {
	return append([]int(nil), m.features...)
}

// NumTrees is the total number of trees.
func (m *Model) NumTrees() int { return len(m.trees) }

// NumTreesPerIteration is the number of trees grown per boosting
// iteration (the number of classes for multiclass classification).
func (m *Model) NumTreesPerIteration() int { return m.numTreesPerIter }

// Trees returns the trees, iteration by iteration.
func (m *Model) Trees() []*decisiontree.Tree { return m.trees }

// LossName returns the name of the training loss.
func (m *Model) LossName() string { return m.loss.Name() }

// TrainingLogs returns the per-iteration losses.
func (m *Model) TrainingLogs() TrainingLogs { return m.logs }

// InitialPredictions returns the bias added to the tree outputs.
func (m *Model) InitialPredictions() []float64 {
	return append([]float64(nil), m.initial...)
}

// ValidationLoss returns the loss on the validation dataset at the number
// of trees kept in the model.
func (m *Model) ValidationLoss() (float64, error) {
	if m.validationLoss == nil {
		return 0, errors.NewInvalidStateError("ValidationLoss",
			"model trained with validation_ratio=0 and no validation dataset", errors.ErrNoValidationLoss)
	}
	return *m.validationLoss, nil
}

// PredictRaw returns the accumulated tree outputs before activation, as
// a rows × NumTreesPerIteration matrix.
func (m *Model) PredictRaw(ds *dataset.VerticalDataset) (*mat.Dense, error) {
	ds, err := decisiontree.PrepareInput(ds, m.spec, m.features)
	if err != nil {
		return nil, err
	}
	n := ds.NumRows()
	if n == 0 {
		return &mat.Dense{}, nil
	}
	raw := m.rawPredictions(ds)
	return mat.NewDense(n, m.numTreesPerIter, raw), nil
}

// Predict implements model.Model: values for regression, the probability
// of the second class for binary classification, class probabilities for
// multiclass classification.
func (m *Model) Predict(ds *dataset.VerticalDataset) (*mat.Dense, error) {
	ds, err := decisiontree.PrepareInput(ds, m.spec, m.features)
	if err != nil {
		return nil, err
	}
	n := ds.NumRows()
	if n == 0 {
		return &mat.Dense{}, nil
	}
	raw := m.rawPredictions(ds)
	K, outputs := m.numTreesPerIter, m.loss.NumOutputs()
	out := mat.NewDense(n, outputs, nil)
	row := make([]float64, outputs)
	for i := 0; i < n; i++ {
		m.loss.Activation(raw[i*K:(i+1)*K], row)
		out.SetRow(i, row)
	}
	if err := errors.CheckMatrix("gbt.Model.Predict", out, n, outputs, 0); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Model) rawPredictions(ds *dataset.VerticalDataset) []float64 {
	n, K := ds.NumRows(), m.numTreesPerIter
	raw := make([]float64, n*K)
	parallel.ParallelizeWithThreshold(n, 512, 0, func(start, end int) {
		for i := start; i < end; i++ {
			copy(raw[i*K:(i+1)*K], m.initial)
			for t, tree := range m.trees {
				raw[i*K+t%K] += tree.GetLeaf(ds, i).Value
			}
		}
	})
	return raw
}

// PredictLeaves returns the leaf reached in every tree, rows × NumTrees.
func (m *Model) PredictLeaves(ds *dataset.VerticalDataset) (*mat.Dense, error) {
	ds, err := decisiontree.PrepareInput(ds, m.spec, m.features)
	if err != nil {
		return nil, err
	}
	return decisiontree.PredictLeaves(m.trees, ds), nil
}

// Distance returns the leaf-sharing distance between the rows of ds1 and
// ds2. A nil ds2 computes the distances within ds1.
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

// Describe summarizes the model structure and training.
func (m *Model) Describe() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Type: %q\n", ModelName)
	fmt.Fprintf(&sb, "Task: %s\n", m.header.Task)
	fmt.Fprintf(&sb, "Label: %q\n\n", m.header.Label)

	names := m.InputFeatures()
	fmt.Fprintf(&sb, "Input Features (%d):\n", len(names))
	for _, name := range names {
		fmt.Fprintf(&sb, "\t%s\n", name)
	}
	sb.WriteByte('\n')

	fmt.Fprintf(&sb, "Loss: %s\n", m.loss.Name())
	if m.validationLoss != nil {
		fmt.Fprintf(&sb, "Validation loss value: %g\n", *m.validationLoss)
	}
	fmt.Fprintf(&sb, "Number of trees per iteration: %d\n", m.numTreesPerIter)
	fmt.Fprintf(&sb, "Number of trees: %d\n", len(m.trees))

	nodes := make([]float64, len(m.trees))
	depths := make([]float64, len(m.trees))
	total := 0
	for i, tree := range m.trees {
		nodes[i] = float64(tree.NumNodes())
		depths[i] = float64(tree.Depth())
		total += tree.NumNodes()
	}
	fmt.Fprintf(&sb, "Total number of nodes: %d\n", total)
	if len(m.trees) > 0 {
		mean, std := stat.MeanStdDev(nodes, nil)
		fmt.Fprintf(&sb, "Number of nodes by tree: Average: %.4g StdDev: %.4g\n", mean, std)
		fmt.Fprintf(&sb, "Depth by tree: Average: %.4g\n", stat.Mean(depths, nil))
	}

	if n := len(m.logs.Entries); n > 0 {
		last := m.logs.Entries[n-1]
		fmt.Fprintf(&sb, "\nTraining logs: %d iterations, %d kept\n", n, m.logs.NumIterationsKept)
		fmt.Fprintf(&sb, "Final training loss: %g\n", last.TrainingLoss)
	}
	return sb.String()
}

// Save implements model.Model.
func (m *Model) Save(dir, prefix string) error {
	if err := model.SaveCommon(dir, prefix, m.header, m.spec); err != nil {
		return err
	}
	p := payload{
		Loss:               m.loss.Name(),
		NumClasses:         m.numClasses,
		NumTreesPerIter:    m.numTreesPerIter,
		InitialPredictions: m.initial,
		Trees:              m.trees,
		TrainingLogs:       m.logs,
		ValidationLoss:     m.validationLoss,
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
	return newModelFromPayload(header, spec, &p)
}

func newModelFromPayload(header model.Header, spec *dataset.DataSpec, p *payload) (*Model, error) {
	loss, err := NewLoss(p.Loss, p.NumClasses)
	if err != nil {
		return nil, err
	}
	if p.NumTreesPerIter != loss.NumDimensions() {
		return nil, errors.NewModelError("gbt.load",
			fmt.Sprintf("num_trees_per_iter=%d does not match loss %s", p.NumTreesPerIter, loss.Name()), nil)
	}
	if len(p.InitialPredictions) != p.NumTreesPerIter {
		return nil, errors.NewDimensionError("gbt.load", p.NumTreesPerIter, len(p.InitialPredictions), 1)
	}
	if len(p.Trees)%p.NumTreesPerIter != 0 {
		return nil, errors.NewModelError("gbt.load", "number of trees is not a multiple of num_trees_per_iter", nil)
	}

	labelCol := spec.ColumnIndex(header.Label)
	if labelCol < 0 {
		return nil, errors.NewModelError("gbt.load", fmt.Sprintf("label %q not in the data spec", header.Label), nil)
	}
	if header.Task == model.Classification {
		// the vocabulary counts the OOD item
		if want := spec.Columns[labelCol].NumClasses() - 1; p.NumClasses != want {
			return nil, errors.NewModelError("gbt.load",
				fmt.Sprintf("num_classes=%d but label %q has %d classes", p.NumClasses, header.Label, want), nil)
		}
	}
	features := make([]int, len(header.InputFeatures))
	for i, name := range header.InputFeatures {
		if features[i] = spec.ColumnIndex(name); features[i] < 0 {
			return nil, errors.NewModelError("gbt.load", fmt.Sprintf("input feature %q not in the data spec", name), nil)
		}
	}
	for i, tree := range p.Trees {
		if tree == nil {
			return nil, errors.NewModelError("gbt.load", fmt.Sprintf("tree %d is empty", i), nil)
		}
		if err := tree.Finalize(spec); err != nil {
			return nil, errors.Wrapf(err, "tree %d", i)
		}
	}

	return &Model{
		header:          header,
		spec:            spec,
		labelCol:        labelCol,
		features:        features,
		loss:            loss,
		numClasses:      p.NumClasses,
		numTreesPerIter: p.NumTreesPerIter,
		initial:         p.InitialPredictions,
		trees:           p.Trees,
		logs:            p.TrainingLogs,
		validationLoss:  p.ValidationLoss,
	}, nil
}
