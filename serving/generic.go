package serving

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/goforest/core/model"
	"github.com/YuminosukeSato/goforest/dataset"
	"github.com/YuminosukeSato/goforest/decisiontree"
	"github.com/YuminosukeSato/goforest/pkg/errors"
)

// Engine names.
const (
	GenericEngine                     = "Generic"
	GradientBoostedTreesOptPredEngine = "GradientBoostedTreesOptPred"
)

// forestModel is a model made of decision trees.
type forestModel interface {
	model.Model
	Trees() []*decisiontree.Tree
}

// genericFactory serves any decision forest by walking its trees.
type genericFactory struct{}

func (genericFactory) Name() string           { return GenericEngine }
func (genericFactory) IsBetterThan() []string { return nil }

func (genericFactory) IsCompatible(m model.Model) bool {
	_, ok := m.(forestModel)
	return ok
}

func (f genericFactory) CreateEngine(m model.Model) (Engine, error) {
	if !f.IsCompatible(m) {
		return nil, errors.NewModelError("serving.Generic", "not a decision forest", nil)
	}
	return &genericEngine{model: m}, nil
}

type genericEngine struct {
	model model.Model
}

func (e *genericEngine) Name() string { return GenericEngine }

func (e *genericEngine) Predict(ds *dataset.VerticalDataset) (*mat.Dense, error) {
	return e.model.Predict(ds)
}
