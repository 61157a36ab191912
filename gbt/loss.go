package gbt

import (
	"math"

	"github.com/YuminosukeSato/goforest/pkg/errors"
)

// Loss names as stored in the model files.
const (
	SquaredErrorLoss             = "SQUARED_ERROR"
	BinomialLogLikelihoodLoss    = "BINOMIAL_LOG_LIKELIHOOD"
	MultinomialLogLikelihoodLoss = "MULTINOMIAL_LOG_LIKELIHOOD"
)

const minHessian = 1e-16

// Loss is the objective optimized by the boosting. Predictions are stored
// row-major with NumDimensions values per example. Labels are the value
// (regression), 0/1 (binary) or the class in [0, K) (multiclass).
type Loss interface {
	Name() string
	// NumDimensions is the number of trees grown per iteration.
	NumDimensions() int
	InitialPredictions(labels, weights []float64) []float64
	// Gradients fills the gradient and hessian of output dimension k.
	Gradients(labels, preds []float64, k int, grad, hess []float64)
	// Loss is the value reported in the training logs.
	Loss(labels, preds, weights []float64) float64
	// Activation converts the raw predictions of one example into the
	// model output (e.g. probabilities).
	Activation(raw, out []float64)
	// NumOutputs is the number of columns returned by Predict.
	NumOutputs() int
}

// NewLoss creates a loss from its name. numClasses is the number of label
// classes for classification losses.
func NewLoss(name string, numClasses int) (Loss, error) {
	switch name {
	case SquaredErrorLoss:
		return squaredError{}, nil
	case BinomialLogLikelihoodLoss:
		return binomialLogLikelihood{}, nil
	case MultinomialLogLikelihoodLoss:
		if numClasses < 2 {
			return nil, errors.NewValidationError("num_classes", "multinomial loss needs at least 2 classes", numClasses)
		}
		return multinomialLogLikelihood{numClasses: numClasses}, nil
	default:
		return nil, errors.NewValidationError("loss", "unknown loss", name)
	}
}

func weightAt(weights []float64, i int) float64 {
	if weights == nil {
		return 1
	}
	return weights[i]
}

type squaredError struct{}

func (squaredError) Name() string       { return SquaredErrorLoss }
func (squaredError) NumDimensions() int { return 1 }
func (squaredError) NumOutputs() int    { return 1 }

func (squaredError) InitialPredictions(labels, weights []float64) []float64 {
	sum, sumW := 0.0, 0.0
	for i, y := range labels {
		w := weightAt(weights, i)
		sum += w * y
		sumW += w
	}
	return []float64{errors.SafeDivide(sum, sumW)}
}

func (squaredError) Gradients(labels, preds []float64, _ int, grad, hess []float64) {
	for i, y := range labels {
		grad[i] = preds[i] - y
		hess[i] = 1
	}
}

// Loss is the root mean squared error.
func (squaredError) Loss(labels, preds, weights []float64) float64 {
	sum, sumW := 0.0, 0.0
	for i, y := range labels {
		w := weightAt(weights, i)
		d := preds[i] - y
		sum += w * d * d
		sumW += w
	}
	return math.Sqrt(errors.SafeDivide(sum, sumW))
}

func (squaredError) Activation(raw, out []float64) { out[0] = raw[0] }

type binomialLogLikelihood struct{}

func (binomialLogLikelihood) Name() string       { return BinomialLogLikelihoodLoss }
func (binomialLogLikelihood) NumDimensions() int { return 1 }
func (binomialLogLikelihood) NumOutputs() int    { return 1 }

// InitialPredictions is the log-odds of the positive class.
func (binomialLogLikelihood) InitialPredictions(labels, weights []float64) []float64 {
	pos, sumW := 0.0, 0.0
	for i, y := range labels {
		w := weightAt(weights, i)
		pos += w * y
		sumW += w
	}
	p := errors.ClipValue(errors.SafeDivide(pos, sumW), 1e-7, 1-1e-7)
	return []float64{math.Log(p / (1 - p))}
}

func (binomialLogLikelihood) Gradients(labels, preds []float64, _ int, grad, hess []float64) {
	for i, y := range labels {
		p := errors.Sigmoid(preds[i])
		grad[i] = p - y
		hess[i] = math.Max(p*(1-p), minHessian)
	}
}

// Loss is minus twice the mean log-likelihood.
func (binomialLogLikelihood) Loss(labels, preds, weights []float64) float64 {
	sum, sumW := 0.0, 0.0
	for i, y := range labels {
		w := weightAt(weights, i)
		p := errors.Sigmoid(preds[i])
		sum += w * (y*errors.StabilizeLog(p) + (1-y)*errors.StabilizeLog(1-p))
		sumW += w
	}
	return -2 * errors.SafeDivide(sum, sumW)
}

func (binomialLogLikelihood) Activation(raw, out []float64) { out[0] = errors.Sigmoid(raw[0]) }

type multinomialLogLikelihood struct {
	numClasses int
}

func (m multinomialLogLikelihood) Name() string       { return MultinomialLogLikelihoodLoss }
func (m multinomialLogLikelihood) NumDimensions() int { return m.numClasses }
func (m multinomialLogLikelihood) NumOutputs() int    { return m.numClasses }

// InitialPredictions are the log class priors.
func (m multinomialLogLikelihood) InitialPredictions(labels, weights []float64) []float64 {
	counts := make([]float64, m.numClasses)
	sumW := 0.0
	for i, y := range labels {
		w := weightAt(weights, i)
		counts[int(y)] += w
		sumW += w
	}
	init := make([]float64, m.numClasses)
	for k, c := range counts {
		init[k] = errors.StabilizeLog(errors.SafeDivide(c, sumW))
	}
	return init
}

func (m multinomialLogLikelihood) Gradients(labels, preds []float64, k int, grad, hess []float64) {
	K := m.numClasses
	for i, y := range labels {
		p := errors.Softmax(preds[i*K : (i+1)*K])[k]
		target := 0.0
		if int(y) == k {
			target = 1
		}
		grad[i] = p - target
		hess[i] = math.Max(p*(1-p), minHessian)
	}
}

// Loss is minus the mean log-likelihood.
func (m multinomialLogLikelihood) Loss(labels, preds, weights []float64) float64 {
	K := m.numClasses
	sum, sumW := 0.0, 0.0
	for i, y := range labels {
		w := weightAt(weights, i)
		row := preds[i*K : (i+1)*K]
		sum += w * (row[int(y)] - errors.LogSumExp(row))
		sumW += w
	}
	return -errors.SafeDivide(sum, sumW)
}

func (m multinomialLogLikelihood) Activation(raw, out []float64) {
	copy(out, errors.Softmax(raw))
}
