// Package serving compiles trained models into inference engines.
//
// An engine is built by a registered factory. Several factories may accept
// the same model; BuildFastEngine picks the one that no other compatible
// factory declares itself better than.
package serving

import (
	"sort"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/goforest/core/model"
	"github.com/YuminosukeSato/goforest/dataset"
	"github.com/YuminosukeSato/goforest/pkg/errors"
)

// Engine computes the predictions of a compiled model. Its output has the
// same layout as the model's Predict. Engines are safe for concurrent use.
type Engine interface {
	Name() string
	Predict(ds *dataset.VerticalDataset) (*mat.Dense, error)
}

// EngineFactory creates engines for the models it supports.
type EngineFactory interface {
	Name() string
	IsCompatible(m model.Model) bool
	// IsBetterThan lists the factories this one should be preferred over
	// when both are compatible.
	IsBetterThan() []string
	CreateEngine(m model.Model) (Engine, error)
}

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]EngineFactory)
)

func init() {
	RegisterEngineFactory(genericFactory{})
	RegisterEngineFactory(gbtOptPredFactory{})
}

// RegisterEngineFactory makes a factory available to BuildFastEngine.
// Registering the same name twice panics.
func RegisterEngineFactory(f EngineFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if f == nil {
		panic("serving: RegisterEngineFactory factory is nil")
	}
	if _, dup := factories[f.Name()]; dup {
		panic("serving: RegisterEngineFactory called twice for " + f.Name())
	}
	factories[f.Name()] = f
}

// ListCompatibleEngines returns the factories able to compile m, sorted by
// name.
func ListCompatibleEngines(m model.Model) []EngineFactory {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	var out []EngineFactory
	for _, f := range factories {
		if f.IsCompatible(m) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// BuildFastEngine compiles m with the best compatible factory.
func BuildFastEngine(m model.Model) (e Engine, err error) {
	defer errors.Recover(&err, "serving.BuildFastEngine")

	if m == nil {
		return nil, errors.Wrap(errors.ErrUnboundModel, "no model to compile")
	}
	compatible := ListCompatibleEngines(m)
	if len(compatible) == 0 {
		return nil, errors.NewModelError("serving.BuildFastEngine", "no compatible engine",
			errors.Wrapf(errors.ErrNotImplemented, "model %q", m.Name()))
	}

	dominated := make(map[string]bool)
	for _, f := range compatible {
		for _, name := range f.IsBetterThan() {
			dominated[name] = true
		}
	}
	var lastErr error
	for _, f := range compatible {
		if dominated[f.Name()] {
			continue
		}
		e, err := f.CreateEngine(m)
		if err == nil {
			return e, nil
		}
		lastErr = err
	}
	// fall back to any engine that accepts the model
	for _, f := range compatible {
		if !dominated[f.Name()] {
			continue
		}
		e, err := f.CreateEngine(m)
		if err == nil {
			return e, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
