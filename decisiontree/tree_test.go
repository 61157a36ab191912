package decisiontree

import (
	"encoding/json"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/goforest/dataset"
)

func allRows(n int) []int {
	rows := make([]int, n)
	for i := range rows {
		rows[i] = i
	}
	return rows
}

func TestConditionEval(t *testing.T) {
	ds, err := dataset.Create(map[string]interface{}{
		"x": []float64{1, 5, math.NaN()},
		"c": []string{"a", "b", ""},
		"b": []bool{true, false, true},
	})
	require.NoError(t, err)
	xi, ci, bi := ds.ColumnIndex("x"), ds.ColumnIndex("c"), ds.ColumnIndex("b")

	higher := &Condition{Type: HigherCondition, Attribute: xi, Threshold: 3, NAValue: true}
	assert.False(t, higher.Eval(ds, 0))
	assert.True(t, higher.Eval(ds, 1))
	assert.True(t, higher.Eval(ds, 2))

	contains := &Condition{Type: ContainsCondition, Attribute: ci, Mask: []int32{2}}
	assert.False(t, contains.Eval(ds, 0))
	assert.True(t, contains.Eval(ds, 1))
	assert.False(t, contains.Eval(ds, 2))

	boolean := &Condition{Type: TrueValueCondition, Attribute: bi}
	assert.True(t, boolean.Eval(ds, 0))
	assert.False(t, boolean.Eval(ds, 1))

	assert.Equal(t, `"x">=3`, higher.String(ds.Spec()))
	assert.Equal(t, `"c" is in [b]`, contains.String(ds.Spec()))
}

// x >= 2 ? (c in {b} ? leaf2 : leaf1) : leaf0
func handTree() *Tree {
	return &Tree{Nodes: []Node{
		{Condition: &Condition{Type: HigherCondition, Attribute: 0, Threshold: 2}, NegativeChild: 1, PositiveChild: 2},
		{Value: -1},
		{Condition: &Condition{Type: ContainsCondition, Attribute: 1, Mask: []int32{2}}, NegativeChild: 3, PositiveChild: 4},
		{Value: 10},
		{Value: 20},
	}}
}

func TestTreeStructure(t *testing.T) {
	ds, err := dataset.Create(map[string]interface{}{
		"x": []float64{1, 3, 3},
		"c": []string{"a", "a", "b"},
	}, dataset.WithColumns(dataset.Column{Name: "x", Semantic: dataset.Numerical}))
	require.NoError(t, err)

	tree := handTree()
	require.NoError(t, tree.Finalize(ds.Spec()))

	assert.Equal(t, 3, tree.NumLeaves())
	assert.Equal(t, 5, tree.NumNodes())
	assert.Equal(t, 3, tree.Depth())

	assert.Equal(t, 0, tree.LeafIndex(ds, 0))
	assert.Equal(t, 1, tree.LeafIndex(ds, 1))
	assert.Equal(t, 2, tree.LeafIndex(ds, 2))
	assert.Equal(t, 20.0, tree.GetLeaf(ds, 2).Value)
	assert.Equal(t, -1, tree.Root().LeafIndex)

	desc := tree.Describe(ds.Spec())
	assert.Contains(t, desc, `"x">=2`)
	assert.Contains(t, desc, "├─(pos)─ ")
	assert.Contains(t, desc, "value:20")
}

func TestFinalizeRejectsBrokenTrees(t *testing.T) {
	spec := &dataset.DataSpec{Columns: []dataset.ColumnSpec{{Name: "x", Semantic: dataset.Numerical}}}

	empty := &Tree{}
	assert.Error(t, empty.Finalize(spec))

	outOfRange := &Tree{Nodes: []Node{
		{Condition: &Condition{Type: HigherCondition}, NegativeChild: 1, PositiveChild: 7},
		{},
	}}
	assert.Error(t, outOfRange.Finalize(spec))

	wrongType := &Tree{Nodes: []Node{
		{Condition: &Condition{Type: ContainsCondition, Attribute: 0}, NegativeChild: 1, PositiveChild: 2},
		{}, {},
	}}
	assert.Error(t, wrongType.Finalize(spec))
}

func TestTreeJSONRoundTrip(t *testing.T) {
	tree := handTree()
	require.NoError(t, tree.Finalize(nil))

	data, err := json.Marshal(tree)
	require.NoError(t, err)

	var decoded Tree
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.NoError(t, decoded.Finalize(nil))
	assert.Equal(t, tree.NumLeaves(), decoded.NumLeaves())
	assert.Equal(t, tree.Nodes[4].Value, decoded.Nodes[4].Value)
}

func TestBuilderRegressionStep(t *testing.T) {
	n := 40
	x := make([]float64, n)
	y := make([]float64, n)
	for i := range x {
		x[i] = float64(i)
		if i >= 20 {
			y[i] = 10
		}
	}
	ds, err := dataset.Create(map[string]interface{}{"x": x})
	require.NoError(t, err)

	b := &Builder{MaxDepth: 2, MinExamples: 5, Stats: &RegressionStats{Labels: y}}
	tree, err := b.Build(ds, allRows(n), []int{0})
	require.NoError(t, err)

	require.False(t, tree.Root().IsLeaf())
	assert.Equal(t, 19.5, tree.Root().Condition.Threshold)
	assert.Equal(t, 2, tree.NumLeaves())
	assert.Equal(t, 0.0, tree.GetLeaf(ds, 3).Value)
	assert.Equal(t, 10.0, tree.GetLeaf(ds, 33).Value)
	assert.Equal(t, float64(n), tree.Root().NumExamples)
}

func TestBuilderRespectsMaxDepthAndMinExamples(t *testing.T) {
	n := 10
	x := make([]float64, n)
	y := make([]float64, n)
	for i := range x {
		x[i] = float64(i)
		y[i] = float64(i)
	}
	ds, err := dataset.Create(map[string]interface{}{"x": x})
	require.NoError(t, err)

	single := &Builder{MaxDepth: 1, MinExamples: 1, Stats: &RegressionStats{Labels: y}}
	tree, err := single.Build(ds, allRows(n), []int{0})
	require.NoError(t, err)
	assert.Equal(t, 1, tree.NumNodes())
	assert.InDelta(t, 4.5, tree.Root().Value, 1e-12)

	deep := &Builder{MaxDepth: -1, MinExamples: 3, Stats: &RegressionStats{Labels: y}}
	tree, err = deep.Build(ds, allRows(n), []int{0})
	require.NoError(t, err)
	for _, node := range tree.Nodes {
		if node.IsLeaf() {
			assert.GreaterOrEqual(t, node.NumExamples, 3.0)
		}
	}
}

func TestBuilderCategoricalClassification(t *testing.T) {
	colors := []string{"red", "green", "blue", "red", "green", "blue", "red", "green", "blue", "red", "green", "blue"}
	labels := make([]string, len(colors))
	for i, c := range colors {
		labels[i] = "no"
		if c == "green" {
			labels[i] = "yes"
		}
	}
	ds, err := dataset.Create(map[string]interface{}{"color": colors, "label": labels})
	require.NoError(t, err)

	labelCol := ds.ColumnIndex("label")
	stats := &ClassificationStats{
		Labels:     ds.Categorical(labelCol),
		NumClasses: ds.Spec().Columns[labelCol].NumClasses(),
	}
	b := &Builder{MaxDepth: 3, MinExamples: 1, Stats: stats}
	tree, err := b.Build(ds, allRows(len(colors)), []int{ds.ColumnIndex("color")})
	require.NoError(t, err)

	root := tree.Root()
	require.False(t, root.IsLeaf())
	assert.Equal(t, ContainsCondition, root.Condition.Type)
	assert.Equal(t, 2, tree.NumLeaves())

	yes := ds.Spec().Columns[labelCol].CategoryIndex("yes")
	for row, c := range colors {
		dist := tree.GetLeaf(ds, row).Distribution
		if c == "green" {
			assert.Equal(t, 1.0, dist[yes])
		} else {
			assert.Equal(t, 0.0, dist[yes])
		}
	}
}

func TestBuilderBooleanAndMissing(t *testing.T) {
	flags := []bool{true, false, true, false, true, false, true, false}
	y := []float64{1, 0, 1, 0, 1, 0, 1, 0}
	ds, err := dataset.Create(map[string]interface{}{"flag": flags})
	require.NoError(t, err)

	b := &Builder{MaxDepth: 2, MinExamples: 1, Stats: &RegressionStats{Labels: y}}
	tree, err := b.Build(ds, allRows(len(y)), []int{0})
	require.NoError(t, err)
	require.False(t, tree.Root().IsLeaf())
	assert.Equal(t, TrueValueCondition, tree.Root().Condition.Type)

	serving, err := dataset.Create(map[string]interface{}{"flag": []string{"true", "false", ""}},
		dataset.WithDataSpec(ds.Spec()))
	require.NoError(t, err)
	assert.Equal(t, 1.0, tree.GetLeaf(serving, 0).Value)
	assert.Equal(t, 0.0, tree.GetLeaf(serving, 1).Value)
	// mean of flags is 0.5, imputed as true
	assert.Equal(t, 1.0, tree.GetLeaf(serving, 2).Value)
}

func TestBuilderAttributeSampling(t *testing.T) {
	n := 30
	cols := map[string]interface{}{}
	y := make([]float64, n)
	for _, name := range []string{"a", "b", "c", "d"} {
		v := make([]float64, n)
		for i := range v {
			v[i] = float64((i * len(name)) % 7)
		}
		cols[name] = v
	}
	for i := range y {
		y[i] = float64(i % 3)
	}
	ds, err := dataset.Create(cols)
	require.NoError(t, err)

	b := &Builder{MaxDepth: 4, MinExamples: 2, NumCandidateAttributes: 2, Stats: &RegressionStats{Labels: y}}
	_, err = b.Build(ds, allRows(n), []int{0, 1, 2, 3})
	assert.Error(t, err, "sampling without a random source")

	b.Rand = rand.New(rand.NewPCG(1, 2))
	tree, err := b.Build(ds, allRows(n), []int{0, 1, 2, 3})
	require.NoError(t, err)
	assert.LessOrEqual(t, tree.Depth(), 4)
}

func TestGradientStatsLeaf(t *testing.T) {
	s := &GradientStats{Gradients: []float64{1, 1, -3}, Hessians: []float64{1, 1, 1}, L2: 1, Shrinkage: 0.5}
	acc := make([]float64, s.Dim())
	for r := 0; r < 3; r++ {
		s.Add(acc, r)
	}
	var n Node
	s.SetLeaf(&n, acc)
	// G = -1, H = 3, leaf = -0.5 * -1 / 4
	assert.InDelta(t, 0.125, n.Value, 1e-12)
	assert.InDelta(t, 0.5*1.0/4.0, s.Score(acc), 1e-12)
}
