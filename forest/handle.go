package forest

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/goforest/core/model"
	"github.com/YuminosukeSato/goforest/dataset"
	"github.com/YuminosukeSato/goforest/gbt"
	"github.com/YuminosukeSato/goforest/randomforest"
)

// The wrappers hold engine models through these capability interfaces
// only, so any engine (or a test double) providing the methods can back
// them.

// DecisionForestHandle is an engine model made of decision trees.
type DecisionForestHandle interface {
	model.Model
	NumTrees() int
	// PredictLeaves returns rows × NumTrees leaf indices.
	PredictLeaves(ds *dataset.VerticalDataset) (*mat.Dense, error)
	// Distance returns the proximity distance between the rows of ds1 and
	// ds2; a nil ds2 compares ds1 with itself.
	Distance(ds1, ds2 *dataset.VerticalDataset) (*mat.Dense, error)
}

// GradientBoostedTreesHandle is an engine gradient boosted trees model.
type GradientBoostedTreesHandle interface {
	DecisionForestHandle
	// ValidationLoss returns the loss recorded on the validation dataset
	// during training.
	ValidationLoss() (float64, error)
	InitialPredictions() []float64
}

// RandomForestHandle is an engine random forest model.
type RandomForestHandle interface {
	DecisionForestHandle
	OutOfBagEvaluation() (randomforest.OutOfBagEvaluation, bool)
	WinnerTakeAll() bool
}

var (
	_ GradientBoostedTreesHandle = (*gbt.Model)(nil)
	_ RandomForestHandle         = (*randomforest.Model)(nil)
)
