// Package forest is the user facing API of goforest: model wrappers over
// the engine models, loading and saving, and the learners that train them.
//
//	learner := forest.NewGradientBoostedTreesLearner("income")
//	m, err := learner.Train(ctx, train)
//	...
//	loss, err := m.(*forest.GradientBoostedTreesModel).ValidationLoss()
package forest

import (
	"context"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/goforest/analysis"
	"github.com/YuminosukeSato/goforest/core/model"
	"github.com/YuminosukeSato/goforest/dataset"
	"github.com/YuminosukeSato/goforest/evaluation"
	"github.com/YuminosukeSato/goforest/gbt"
	"github.com/YuminosukeSato/goforest/pkg/errors"
	"github.com/YuminosukeSato/goforest/pkg/log"
	"github.com/YuminosukeSato/goforest/randomforest"
)

// Class names reported by String.
const (
	genericClass              = "goforest.GenericModel"
	decisionForestClass       = "goforest.DecisionForestModel"
	gradientBoostedTreesClass = "goforest.GradientBoostedTreesModel"
	randomForestClass         = "goforest.RandomForestModel"
)

const unboundReason = "model handle is not bound"

// Model is implemented by every wrapper.
type Model interface {
	Name() string
	Task() model.Task
	Label() string
	DataSpec() *dataset.DataSpec
	InputFeatures() []string
	Predict(ds *dataset.VerticalDataset) (*mat.Dense, error)
	Evaluate(ds *dataset.VerticalDataset, opts ...evaluation.Option) (*evaluation.Evaluation, error)
	Analyze(ctx context.Context, ds *dataset.VerticalDataset, opts ...analysis.Option) (*analysis.Analysis, error)
	Benchmark(ds *dataset.VerticalDataset, opts ...BenchmarkOption) (*BenchmarkResult, error)
	Describe() string
	String() string
	Save(dir string, opts ...FileOption) error
	// Handle returns the engine model, nil when unbound.
	Handle() model.Model
}

// GenericModel offers the operations every engine model supports. The
// zero value is unbound: its operations fail with errors.ErrUnboundModel.
type GenericModel struct {
	handle model.Model
	class  string
	logger log.Logger
}

// NewGenericModel wraps any engine model.
func NewGenericModel(h model.Model) *GenericModel {
	return &GenericModel{handle: h, class: genericClass}
}

func unbound(op string) error {
	return errors.NewInvalidStateError(op, unboundReason, errors.ErrUnboundModel)
}

func (m *GenericModel) bound(op string) (model.Model, error) {
	if m == nil || m.handle == nil {
		return nil, unbound(op)
	}
	return m.handle, nil
}

func (m *GenericModel) log() log.Logger {
	if m.logger == nil {
		return log.GetLoggerWithName("forest")
	}
	return m.logger
}

func (m *GenericModel) Handle() model.Model {
	if m == nil {
		return nil
	}
	return m.handle
}

// Name returns the registered engine name, "" when unbound.
func (m *GenericModel) Name() string {
	if m.Handle() == nil {
		return ""
	}
	return m.handle.Name()
}

func (m *GenericModel) Task() model.Task {
	if m.Handle() == nil {
		return 0
	}
	return m.handle.Task()
}

func (m *GenericModel) Label() string {
	if m.Handle() == nil {
		return ""
	}
	return m.handle.Label()
}

func (m *GenericModel) DataSpec() *dataset.DataSpec {
	if m.Handle() == nil {
		return nil
	}
	return m.handle.DataSpec()
}

func (m *GenericModel) InputFeatures() []string {
	if m.Handle() == nil {
		return nil
	}
	return m.handle.InputFeatures()
}

// Predict returns one row per example: the value for regression, the
// probability of the positive class for binary classification and the
// probability of every class for multiclass classification.
func (m *GenericModel) Predict(ds *dataset.VerticalDataset) (out *mat.Dense, err error) {
	defer errors.Recover(&err, "forest.Predict")
	h, err := m.bound("Predict")
	if err != nil {
		return nil, err
	}
	return h.Predict(ds)
}

// Evaluate predicts ds and compares the predictions with its labels.
func (m *GenericModel) Evaluate(ds *dataset.VerticalDataset, opts ...evaluation.Option) (ev *evaluation.Evaluation, err error) {
	defer errors.Recover(&err, "forest.Evaluate")
	h, err := m.bound("Evaluate")
	if err != nil {
		return nil, err
	}
	if ds == nil {
		return nil, errors.Wrap(errors.ErrEmptyData, "nothing to evaluate")
	}
	// the label vocabulary must match the prediction columns
	ds, err = ds.Project(h.DataSpec())
	if err != nil {
		return nil, err
	}
	predictions, err := h.Predict(ds)
	if err != nil {
		return nil, err
	}
	m.log().Debug("Evaluating model",
		log.ModelNameKey, h.Name(),
		log.OperationKey, log.OperationEvaluate,
		log.SamplesKey, ds.NumRows(),
	)
	return evaluation.Evaluate(predictions, ds, h.Label(), h.Task(), opts...)
}

// Analyze explains the model on ds.
func (m *GenericModel) Analyze(ctx context.Context, ds *dataset.VerticalDataset, opts ...analysis.Option) (*analysis.Analysis, error) {
	h, err := m.bound("Analyze")
	if err != nil {
		return nil, err
	}
	return analysis.Analyze(ctx, h, ds, opts...)
}

// Describe returns the engine description, "" when unbound.
func (m *GenericModel) Describe() string {
	if m.Handle() == nil {
		return ""
	}
	return m.handle.Describe()
}

// String returns a short summary.
func (m *GenericModel) String() string {
	class := genericClass
	if m != nil && m.class != "" {
		class = m.class
	}
	name := m.Name()
	if name == "" {
		name = "<unbound>"
	}
	lines := []string{
		"Model: " + name,
		"Task: " + m.Task().String(),
		"Class: " + class,
		"Use `model.Describe()` for more details",
	}
	return strings.Join(lines, "\n") + "\n"
}

// DecisionForestModel adds the operations of models made of trees.
type DecisionForestModel struct {
	GenericModel
	forest DecisionForestHandle
}

// NewDecisionForestModel wraps a decision forest engine model.
func NewDecisionForestModel(h DecisionForestHandle) *DecisionForestModel {
	m := &DecisionForestModel{}
	m.init(h, decisionForestClass)
	return m
}

func (m *DecisionForestModel) init(h DecisionForestHandle, class string) {
	m.class = class
	if h != nil {
		m.handle = h
		m.forest = h
	}
}

// NumTrees returns the number of trees, 0 when unbound.
func (m *DecisionForestModel) NumTrees() int {
	if m == nil || m.forest == nil {
		return 0
	}
	return m.forest.NumTrees()
}

// PredictLeaves returns, for each example, the index of the leaf reached in
// every tree.
func (m *DecisionForestModel) PredictLeaves(ds *dataset.VerticalDataset) (out *mat.Dense, err error) {
	defer errors.Recover(&err, "forest.PredictLeaves")
	if m == nil || m.forest == nil {
		return nil, unbound("PredictLeaves")
	}
	return m.forest.PredictLeaves(ds)
}

// Distance returns the pairwise distance between the examples of ds1 and
// ds2: the fraction of trees in which they fall in different leaves. A
// nil ds2 compares ds1 with itself.
func (m *DecisionForestModel) Distance(ds1, ds2 *dataset.VerticalDataset) (out *mat.Dense, err error) {
	defer errors.Recover(&err, "forest.Distance")
	if m == nil || m.forest == nil {
		return nil, unbound("Distance")
	}
	return m.forest.Distance(ds1, ds2)
}

// GradientBoostedTreesModel is a gradient boosted trees model.
type GradientBoostedTreesModel struct {
	DecisionForestModel
	gbt GradientBoostedTreesHandle
}

// NewGradientBoostedTreesModel wraps an engine GBT model.
func NewGradientBoostedTreesModel(h GradientBoostedTreesHandle) *GradientBoostedTreesModel {
	m := &GradientBoostedTreesModel{}
	m.init(h, gradientBoostedTreesClass)
	if h != nil {
		m.gbt = h
	}
	return m
}

// ValidationLoss returns the loss on the validation dataset recorded at
// the end of training. It fails with errors.ErrNoValidationLoss when the
// model was trained without validation data and with
// errors.ErrUnboundModel when the wrapper holds no model. Errors of the
// engine model are returned unchanged.
func (m *GradientBoostedTreesModel) ValidationLoss() (float64, error) {
	if m == nil || m.gbt == nil {
		return 0, unbound("ValidationLoss")
	}
	return m.gbt.ValidationLoss()
}

// InitialPredictions returns the bias of the model, nil when unbound.
func (m *GradientBoostedTreesModel) InitialPredictions() []float64 {
	if m == nil || m.gbt == nil {
		return nil
	}
	return m.gbt.InitialPredictions()
}

// RandomForestModel is a random forest model.
type RandomForestModel struct {
	DecisionForestModel
	rf RandomForestHandle
}

// NewRandomForestModel wraps an engine random forest model.
func NewRandomForestModel(h RandomForestHandle) *RandomForestModel {
	m := &RandomForestModel{}
	m.init(h, randomForestClass)
	if h != nil {
		m.rf = h
	}
	return m
}

// OutOfBagEvaluation returns the evaluation computed during training on
// the examples left out of each bootstrap sample.
func (m *RandomForestModel) OutOfBagEvaluation() (randomforest.OutOfBagEvaluation, error) {
	if m == nil || m.rf == nil {
		return randomforest.OutOfBagEvaluation{}, unbound("OutOfBagEvaluation")
	}
	oob, ok := m.rf.OutOfBagEvaluation()
	if !ok {
		return oob, errors.NewInvalidStateError("OutOfBagEvaluation",
			"model trained without compute_oob_performances", errors.ErrNotImplemented)
	}
	return oob, nil
}

// WinnerTakeAll reports whether trees vote for a single class.
func (m *RandomForestModel) WinnerTakeAll() bool {
	return m != nil && m.rf != nil && m.rf.WinnerTakeAll()
}

// Wrap selects the wrapper matching the registered name of the engine
// model. Models without a dedicated wrapper get a GenericModel.
func Wrap(h model.Model) Model {
	if h == nil {
		return &GenericModel{class: genericClass}
	}
	switch h.Name() {
	case gbt.ModelName:
		if g, ok := h.(GradientBoostedTreesHandle); ok {
			return NewGradientBoostedTreesModel(g)
		}
	case randomforest.ModelName:
		if rf, ok := h.(RandomForestHandle); ok {
			return NewRandomForestModel(rf)
		}
	}
	log.GetLoggerWithName("forest").Info(
		fmt.Sprintf("Model %q has no dedicated wrapper; only generic operations are available", h.Name()),
		log.ModelNameKey, h.Name(),
	)
	return NewGenericModel(h)
}
