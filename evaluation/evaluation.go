// Package evaluation computes the quality of model predictions against the
// labels of a dataset.
package evaluation

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/goforest/core/model"
	"github.com/YuminosukeSato/goforest/dataset"
	"github.com/YuminosukeSato/goforest/metrics"
	"github.com/YuminosukeSato/goforest/pkg/errors"
)

const (
	// BootstrapDefault is the number of bootstrap samples used when
	// bootstrapping is simply enabled.
	BootstrapDefault = 2000
	// MinBootstrapSamples is the smallest explicit number of samples.
	MinBootstrapSamples = 100

	bootstrapSeed = 1234
	logEpsilon    = 1e-15
)

type options struct {
	bootstrapping int
	weights       string
}

// Option configures Evaluate.
type Option func(*options)

// WithBootstrapping enables the computation of 95% confidence intervals
// with n bootstrap samples: 0 disables it, BootstrapDefault is the usual
// choice and any other value must be at least MinBootstrapSamples.
func WithBootstrapping(n int) Option {
	return func(o *options) { o.bootstrapping = n }
}

// WithWeights weights the examples with a numerical column of the dataset.
func WithWeights(column string) Option {
	return func(o *options) { o.weights = column }
}

// Characteristic is the one-vs-others ranking quality of a class.
type Characteristic struct {
	Name          string
	ROCAUC        float64
	PRAUC         float64
	NumThresholds int
}

// ConfusionMatrix holds the weighted count of (label, prediction) pairs.
// Counts[label][prediction] follows the order of Classes.
type ConfusionMatrix struct {
	Classes []string
	Counts  [][]float64
}

// Interval is a confidence interval.
type Interval struct {
	Lower, Upper float64
}

// Evaluation is the result of Evaluate. Classification fields are zero for
// regression and conversely.
type Evaluation struct {
	Task                model.Task
	NumExamples         int
	NumExamplesWeighted float64

	Accuracy        float64
	Loss            float64
	ConfusionMatrix *ConfusionMatrix
	Characteristics []Characteristic
	// AccuracyCI95Bootstrap is nil unless bootstrapping is enabled.
	AccuracyCI95Bootstrap *Interval

	RMSE float64
	// RMSECI95Bootstrap is nil unless bootstrapping is enabled.
	RMSECI95Bootstrap *Interval
}

// Evaluate compares predictions, as returned by a model's Predict, with
// the label column of ds. Examples with a missing or out-of-dictionary
// label are ignored. ds must use the data spec of the model so the label
// vocabulary matches the prediction columns.
func Evaluate(predictions *mat.Dense, ds *dataset.VerticalDataset, label string, task model.Task, opts ...Option) (ev *Evaluation, err error) {
	defer errors.Recover(&err, "evaluation.Evaluate")

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.bootstrapping < 0 || (o.bootstrapping > 0 && o.bootstrapping < MinBootstrapSamples) {
		return nil, errors.NewValidationError("bootstrapping",
			"must be 0 (disabled), BootstrapDefault or an integer greater than 100", o.bootstrapping)
	}
	if ds == nil || predictions == nil || predictions.IsEmpty() {
		return nil, errors.Wrap(errors.ErrEmptyData, "nothing to evaluate")
	}
	rows, cols := predictions.Dims()
	if rows != ds.NumRows() {
		return nil, errors.NewDimensionError("evaluation.Evaluate", ds.NumRows(), rows, 0)
	}
	labelCol := ds.ColumnIndex(label)
	if labelCol < 0 {
		return nil, errors.NewValidationError("label", "label column not in the dataset", label)
	}

	weights := make([]float64, rows)
	for i := range weights {
		weights[i] = 1
	}
	if o.weights != "" {
		wc := ds.ColumnIndex(o.weights)
		if wc < 0 || ds.Spec().Columns[wc].Semantic != dataset.Numerical {
			return nil, errors.NewValidationError("weights", "weights must be a numerical column of the dataset", o.weights)
		}
		for i, w := range ds.Numerical(wc) {
			if math.IsNaN(w) {
				w = 0
			}
			weights[i] = w
		}
	}

	switch task {
	case model.Classification:
		return evaluateClassification(predictions, ds, labelCol, cols, weights, o)
	case model.Regression:
		if cols != 1 {
			return nil, errors.NewDimensionError("evaluation.Evaluate", 1, cols, 1)
		}
		return evaluateRegression(predictions, ds, labelCol, weights, o)
	default:
		return nil, errors.NewValidationError("task", "must be CLASSIFICATION or REGRESSION", task.String())
	}
}

func evaluateClassification(predictions *mat.Dense, ds *dataset.VerticalDataset, labelCol, cols int, weights []float64, o *options) (*Evaluation, error) {
	spec := &ds.Spec().Columns[labelCol]
	if spec.Semantic != dataset.Categorical {
		return nil, errors.NewValidationError(spec.Name, "classification needs a categorical label", spec.Semantic.String())
	}
	classes := spec.Vocabulary[1:]
	numClasses := len(classes)
	binary := numClasses == 2
	if (binary && cols != 1) || (!binary && cols != numClasses) {
		expected := numClasses
		if binary {
			expected = 1
		}
		rows := ds.NumRows()
		return nil, errors.NewInputShapeError("evaluation", []int{rows, expected}, []int{rows, cols})
	}

	// per example: class in [0, numClasses), class probabilities
	var (
		truth []int
		probs [][]float64
		w     []float64
	)
	labels := ds.Categorical(labelCol)
	for r, l := range labels {
		if l <= 0 {
			continue
		}
		p := make([]float64, numClasses)
		if binary {
			p[1] = predictions.At(r, 0)
			p[0] = 1 - p[1]
		} else {
			mat.Row(p, r, predictions)
		}
		truth = append(truth, int(l)-1)
		probs = append(probs, p)
		w = append(w, weights[r])
	}
	if len(truth) == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "no example with a label")
	}

	ev := &Evaluation{
		Task:                model.Classification,
		NumExamples:         len(truth),
		NumExamplesWeighted: floats.Sum(w),
		ConfusionMatrix:     &ConfusionMatrix{Classes: classes, Counts: make([][]float64, numClasses)},
	}
	for k := range ev.ConfusionMatrix.Counts {
		ev.ConfusionMatrix.Counts[k] = make([]float64, numClasses)
	}

	predicted := make([]int, len(truth))
	loss := make([]float64, len(truth))
	hits := make([]float64, len(truth))
	for i, p := range probs {
		predicted[i] = floats.MaxIdx(p)
		ev.ConfusionMatrix.Counts[truth[i]][predicted[i]] += w[i]
		if predicted[i] == truth[i] {
			hits[i] = 1
		}
		loss[i] = -math.Log(errors.ClipValue(p[truth[i]], logEpsilon, 1))
	}
	ev.Accuracy = stat.Mean(hits, w)
	ev.Loss = stat.Mean(loss, w)

	// one characteristic for the positive class in the binary case, one
	// per class otherwise
	first := 0
	if binary {
		first = 1
	}
	for k := first; k < numClasses; k++ {
		c, err := characteristic(classes[k], k, truth, probs, w)
		if err != nil {
			return nil, err
		}
		ev.Characteristics = append(ev.Characteristics, c)
	}

	if o.bootstrapping > 0 {
		ev.AccuracyCI95Bootstrap = bootstrap(o.bootstrapping, hits, w, func(sample, sw []float64) float64 {
			return stat.Mean(sample, sw)
		})
	}
	return ev, nil
}

func characteristic(name string, class int, truth []int, probs [][]float64, w []float64) (Characteristic, error) {
	yTrue := mat.NewVecDense(len(truth), nil)
	yScore := mat.NewVecDense(len(truth), nil)
	for i := range truth {
		if truth[i] == class {
			yTrue.SetVec(i, 1)
		}
		yScore.SetVec(i, probs[i][class])
	}
	c := Characteristic{Name: name}
	_, _, thresholds, err := metrics.ROCCurve(yTrue, yScore, w)
	if err != nil {
		return c, err
	}
	c.NumThresholds = len(thresholds) - 1
	if c.ROCAUC, err = metrics.WeightedAUC(yTrue, yScore, w); err != nil {
		return c, err
	}
	if c.PRAUC, err = metrics.PRAUC(yTrue, yScore, w); err != nil {
		return c, err
	}
	return c, nil
}

func evaluateRegression(predictions *mat.Dense, ds *dataset.VerticalDataset, labelCol int, weights []float64, o *options) (*Evaluation, error) {
	spec := &ds.Spec().Columns[labelCol]
	if spec.Semantic != dataset.Numerical {
		return nil, errors.NewValidationError(spec.Name, "regression needs a numerical label", spec.Semantic.String())
	}
	var sq, w []float64
	for r, y := range ds.Numerical(labelCol) {
		if math.IsNaN(y) {
			continue
		}
		d := predictions.At(r, 0) - y
		sq = append(sq, d*d)
		w = append(w, weights[r])
	}
	if len(sq) == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "no example with a label")
	}
	ev := &Evaluation{
		Task:                model.Regression,
		NumExamples:         len(sq),
		NumExamplesWeighted: floats.Sum(w),
		RMSE:                math.Sqrt(stat.Mean(sq, w)),
	}
	if err := errors.CheckScalar("RMSE", ev.RMSE, 0); err != nil {
		return nil, err
	}
	if o.bootstrapping > 0 {
		ev.RMSECI95Bootstrap = bootstrap(o.bootstrapping, sq, w, func(sample, sw []float64) float64 {
			return math.Sqrt(stat.Mean(sample, sw))
		})
	}
	return ev, nil
}

// bootstrap returns the 2.5% and 97.5% quantiles of metric over n
// resamplings of the per-example values.
func bootstrap(n int, values, weights []float64, metric func(sample, weights []float64) float64) *Interval {
	rng := rand.New(rand.NewPCG(bootstrapSeed, uint64(n)))
	sample := make([]float64, len(values))
	sampleW := make([]float64, len(values))
	results := make([]float64, n)
	for b := range results {
		for i := range sample {
			j := rng.IntN(len(values))
			sample[i], sampleW[i] = values[j], weights[j]
		}
		results[b] = metric(sample, sampleW)
	}
	sort.Float64s(results)
	return &Interval{
		Lower: stat.Quantile(0.025, stat.Empirical, results, nil),
		Upper: stat.Quantile(0.975, stat.Empirical, results, nil),
	}
}
