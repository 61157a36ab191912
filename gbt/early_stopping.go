package gbt

import (
	"math"

	"github.com/YuminosukeSato/goforest/pkg/errors"
)

// EarlyStoppingPolicy selects how the number of trees is chosen from the
// validation loss.
type EarlyStoppingPolicy string

const (
	// EarlyStoppingNone keeps every tree.
	EarlyStoppingNone EarlyStoppingPolicy = "NONE"
	// EarlyStoppingMinLossFinal trains every tree, then truncates the model
	// to the iteration with the smallest validation loss.
	EarlyStoppingMinLossFinal EarlyStoppingPolicy = "MIN_LOSS_FINAL"
	// EarlyStoppingLossIncrease stops when the validation loss did not
	// improve for the lookahead number of iterations, then truncates.
	EarlyStoppingLossIncrease EarlyStoppingPolicy = "LOSS_INCREASE"
)

// ParseEarlyStoppingPolicy validates a policy name.
func ParseEarlyStoppingPolicy(s string) (EarlyStoppingPolicy, error) {
	switch p := EarlyStoppingPolicy(s); p {
	case EarlyStoppingNone, EarlyStoppingMinLossFinal, EarlyStoppingLossIncrease:
		return p, nil
	default:
		return "", errors.NewValidationError("early_stopping", "must be NONE, MIN_LOSS_FINAL or LOSS_INCREASE", s)
	}
}

// EarlyStopping tracks the best validation loss.
type EarlyStopping struct {
	Policy          EarlyStoppingPolicy
	Lookahead       int
	BestScore       float64
	BestIteration   int // 1-based number of iterations
	RoundsNoImprove int
}

// NewEarlyStopping creates the tracker for a policy.
func NewEarlyStopping(policy EarlyStoppingPolicy, lookahead int) *EarlyStopping {
	return &EarlyStopping{
		Policy:    policy,
		Lookahead: lookahead,
		BestScore: math.Inf(1),
	}
}

// Update records the validation loss after numIterations iterations and
// reports whether training should stop.
func (es *EarlyStopping) Update(numIterations int, loss float64) bool {
	if loss < es.BestScore {
		es.BestScore = loss
		es.BestIteration = numIterations
		es.RoundsNoImprove = 0
	} else {
		es.RoundsNoImprove++
	}
	return es.ShouldStop()
}

// ShouldStop reports whether the lookahead is exhausted.
func (es *EarlyStopping) ShouldStop() bool {
	return es.Policy == EarlyStoppingLossIncrease && es.RoundsNoImprove >= es.Lookahead
}

// NumIterationsToKeep returns how many iterations the final model keeps
// out of trained.
func (es *EarlyStopping) NumIterationsToKeep(trained int) int {
	if es.Policy == EarlyStoppingNone || es.BestIteration == 0 {
		return trained
	}
	return es.BestIteration
}
