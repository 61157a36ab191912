package serving

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/goforest/core/model"
	"github.com/YuminosukeSato/goforest/core/parallel"
	"github.com/YuminosukeSato/goforest/dataset"
	"github.com/YuminosukeSato/goforest/decisiontree"
	"github.com/YuminosukeSato/goforest/gbt"
	"github.com/YuminosukeSato/goforest/pkg/errors"
)

// gbtOptPredFactory compiles gradient boosted trees with numerical and
// boolean conditions only into flat node arrays.
type gbtOptPredFactory struct{}

func (gbtOptPredFactory) Name() string           { return GradientBoostedTreesOptPredEngine }
func (gbtOptPredFactory) IsBetterThan() []string { return []string{GenericEngine} }

func (gbtOptPredFactory) IsCompatible(m model.Model) bool {
	g, ok := m.(*gbt.Model)
	if !ok {
		return false
	}
	for _, tree := range g.Trees() {
		for i := range tree.Nodes {
			if c := tree.Nodes[i].Condition; c != nil && c.Type == decisiontree.ContainsCondition {
				return false
			}
		}
	}
	return true
}

type flatNode struct {
	// position of the feature in flatEngine.features; -1 on leaves
	feature    int32
	threshold  float64
	naPositive bool
	negative   int32
	positive   int32
	value      float64
}

type flatEngine struct {
	spec     *dataset.DataSpec
	features []int
	nodes    []flatNode
	roots    []int32
	initial  []float64
	loss     gbt.Loss
	// trees per iteration
	dims int
}

func (f gbtOptPredFactory) CreateEngine(m model.Model) (Engine, error) {
	if !f.IsCompatible(m) {
		return nil, errors.NewModelError("serving.GradientBoostedTreesOptPred",
			"needs gradient boosted trees without categorical conditions", nil)
	}
	g := m.(*gbt.Model)
	loss, err := gbt.NewLoss(g.LossName(), g.NumTreesPerIteration())
	if err != nil {
		return nil, err
	}
	e := &flatEngine{
		spec:     g.DataSpec(),
		features: g.InputFeatureIndices(),
		initial:  g.InitialPredictions(),
		loss:     loss,
		dims:     g.NumTreesPerIteration(),
	}
	position := make(map[int]int32, len(e.features))
	for i, col := range e.features {
		position[col] = int32(i)
	}

	for t, tree := range g.Trees() {
		offset := int32(len(e.nodes))
		e.roots = append(e.roots, offset)
		for i := range tree.Nodes {
			n := &tree.Nodes[i]
			if n.IsLeaf() {
				e.nodes = append(e.nodes, flatNode{feature: -1, value: n.Value})
				continue
			}
			pos, ok := position[n.Condition.Attribute]
			if !ok {
				return nil, errors.NewModelError("serving.GradientBoostedTreesOptPred",
					"tree condition on a column that is not an input feature", errors.Newf("tree %d node %d", t, i))
			}
			threshold := n.Condition.Threshold
			if n.Condition.Type == decisiontree.TrueValueCondition {
				threshold = 0.5
			}
			e.nodes = append(e.nodes, flatNode{
				feature:    pos,
				threshold:  threshold,
				naPositive: n.Condition.NAValue,
				negative:   offset + int32(n.NegativeChild),
				positive:   offset + int32(n.PositiveChild),
			})
		}
	}
	return e, nil
}

func (e *flatEngine) Name() string { return GradientBoostedTreesOptPredEngine }

func (e *flatEngine) Predict(ds *dataset.VerticalDataset) (out *mat.Dense, err error) {
	defer errors.Recover(&err, "serving.GradientBoostedTreesOptPred.Predict")

	ds, err = decisiontree.PrepareInput(ds, e.spec, e.features)
	if err != nil {
		return nil, err
	}
	n := ds.NumRows()
	if n == 0 {
		return &mat.Dense{}, nil
	}
	columns := make([][]float64, len(e.features))
	for i, col := range e.features {
		columns[i] = ds.Numerical(col)
	}

	outputs := e.loss.NumOutputs()
	out = mat.NewDense(n, outputs, nil)
	parallel.ParallelizeWithThreshold(n, 1024, 0, func(start, end int) {
		raw := make([]float64, e.dims)
		row := make([]float64, outputs)
		for r := start; r < end; r++ {
			copy(raw, e.initial)
			for t, root := range e.roots {
				raw[t%e.dims] += e.leafValue(root, columns, r)
			}
			e.loss.Activation(raw, row)
			out.SetRow(r, row)
		}
	})
	return out, nil
}

func (e *flatEngine) leafValue(idx int32, columns [][]float64, r int) float64 {
	for {
		node := &e.nodes[idx]
		if node.feature < 0 {
			return node.value
		}
		v := columns[node.feature][r]
		var positive bool
		if math.IsNaN(v) {
			positive = node.naPositive
		} else {
			positive = v >= node.threshold
		}
		if positive {
			idx = node.positive
		} else {
			idx = node.negative
		}
	}
}
