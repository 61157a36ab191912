package decisiontree

import (
	"math"
	"math/rand/v2"
	"sort"

	"github.com/YuminosukeSato/goforest/dataset"
	"github.com/YuminosukeSato/goforest/pkg/errors"
)

const minGain = 1e-12

// Builder grows one tree greedily, depth-first.
type Builder struct {
	// MaxDepth counts nodes on a root to leaf path; a negative value means
	// no limit and 1 produces a single leaf.
	MaxDepth int
	// MinExamples is the minimum number of examples in each child.
	MinExamples int
	// NumCandidateAttributes is the number of attributes sampled at each
	// node; <= 0 tests them all.
	NumCandidateAttributes int
	// Rand samples the candidate attributes. Required when
	// NumCandidateAttributes restricts the search.
	Rand  *rand.Rand
	Stats LabelStats
}

type split struct {
	condition Condition
	gain      float64
}

// Build grows a tree on the given rows using the given attribute columns.
func (b *Builder) Build(ds *dataset.VerticalDataset, rows []int, attributes []int) (*Tree, error) {
	if len(rows) == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "cannot grow a tree without examples")
	}
	if b.Stats == nil {
		return nil, errors.NewValueError("Builder.Build", "no label statistics")
	}
	if b.NumCandidateAttributes > 0 && b.NumCandidateAttributes < len(attributes) && b.Rand == nil {
		return nil, errors.NewValueError("Builder.Build", "attribute sampling requires a random source")
	}

	t := &Tree{}
	b.grow(ds, t, rows, attributes, 1)
	if err := t.Finalize(nil); err != nil {
		return nil, err
	}
	return t, nil
}

func (b *Builder) grow(ds *dataset.VerticalDataset, t *Tree, rows, attributes []int, depth int) int {
	idx := len(t.Nodes)
	t.Nodes = append(t.Nodes, Node{NegativeChild: -1, PositiveChild: -1, LeafIndex: -1})

	acc := make([]float64, b.Stats.Dim())
	for _, r := range rows {
		b.Stats.Add(acc, r)
	}
	t.Nodes[idx].NumExamples = acc[0]

	if (b.MaxDepth < 0 || depth < b.MaxDepth) && len(rows) >= 2*max(b.MinExamples, 1) {
		if best := b.findSplit(ds, rows, b.candidates(attributes), acc); best != nil {
			neg := make([]int, 0, len(rows))
			pos := make([]int, 0, len(rows))
			for _, r := range rows {
				if best.condition.Eval(ds, r) {
					pos = append(pos, r)
				} else {
					neg = append(neg, r)
				}
			}
			cond := best.condition
			t.Nodes[idx].Condition = &cond
			t.Nodes[idx].Gain = best.gain
			negChild := b.grow(ds, t, neg, attributes, depth+1)
			posChild := b.grow(ds, t, pos, attributes, depth+1)
			t.Nodes[idx].NegativeChild = negChild
			t.Nodes[idx].PositiveChild = posChild
			return idx
		}
	}

	b.Stats.SetLeaf(&t.Nodes[idx], acc)
	return idx
}

func (b *Builder) candidates(attributes []int) []int {
	k := b.NumCandidateAttributes
	if k <= 0 || k >= len(attributes) {
		return attributes
	}
	out := make([]int, len(attributes))
	copy(out, attributes)
	for i := 0; i < k; i++ {
		j := i + b.Rand.IntN(len(out)-i)
		out[i], out[j] = out[j], out[i]
	}
	return out[:k]
}

func (b *Builder) findSplit(ds *dataset.VerticalDataset, rows, attributes []int, parent []float64) *split {
	var best *split
	for _, attr := range attributes {
		var s *split
		switch ds.Spec().Columns[attr].Semantic {
		case dataset.Categorical:
			s = b.categoricalSplit(ds, rows, attr, parent)
		case dataset.Boolean:
			s = b.booleanSplit(ds, rows, attr, parent)
		default:
			s = b.numericalSplit(ds, rows, attr, parent)
		}
		if s != nil && (best == nil || s.gain > best.gain) {
			best = s
		}
	}
	return best
}

func (b *Builder) minExamples() int {
	return max(b.MinExamples, 1)
}

func (b *Builder) numericalSplit(ds *dataset.VerticalDataset, rows []int, attr int, parent []float64) *split {
	values := ds.Numerical(attr)
	imputed := ds.Spec().Columns[attr].ImputedNumerical()

	type item struct {
		value float64
		row   int
	}
	items := make([]item, len(rows))
	for i, r := range rows {
		v := values[r]
		if math.IsNaN(v) {
			v = imputed
		}
		items[i] = item{value: v, row: r}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].value < items[j].value })
	if items[0].value == items[len(items)-1].value {
		return nil
	}

	parentScore := b.Stats.Score(parent)
	neg := make([]float64, len(parent))
	pos := make([]float64, len(parent))
	minEx := b.minExamples()

	var best *split
	for i := 0; i < len(items)-1; i++ {
		b.Stats.Add(neg, items[i].row)
		if items[i].value == items[i+1].value {
			continue
		}
		if i+1 < minEx || len(items)-i-1 < minEx {
			continue
		}
		for k := range pos {
			pos[k] = parent[k] - neg[k]
		}
		gain := b.Stats.Score(neg) + b.Stats.Score(pos) - parentScore
		if gain <= minGain || (best != nil && gain <= best.gain) {
			continue
		}
		threshold := items[i].value + (items[i+1].value-items[i].value)/2
		if threshold <= items[i].value {
			threshold = items[i+1].value
		}
		best = &split{
			gain: gain,
			condition: Condition{
				Type:      HigherCondition,
				Attribute: attr,
				Threshold: threshold,
				NAValue:   imputed >= threshold,
			},
		}
	}
	return best
}

func (b *Builder) booleanSplit(ds *dataset.VerticalDataset, rows []int, attr int, parent []float64) *split {
	values := ds.Numerical(attr)
	imputed := ds.Spec().Columns[attr].ImputedNumerical()

	neg := make([]float64, len(parent))
	numNeg := 0
	for _, r := range rows {
		v := values[r]
		if math.IsNaN(v) {
			v = imputed
		}
		if v < 0.5 {
			b.Stats.Add(neg, r)
			numNeg++
		}
	}
	minEx := b.minExamples()
	if numNeg < minEx || len(rows)-numNeg < minEx {
		return nil
	}
	pos := make([]float64, len(parent))
	for k := range pos {
		pos[k] = parent[k] - neg[k]
	}
	gain := b.Stats.Score(neg) + b.Stats.Score(pos) - b.Stats.Score(parent)
	if gain <= minGain {
		return nil
	}
	return &split{
		gain: gain,
		condition: Condition{
			Type:      TrueValueCondition,
			Attribute: attr,
			NAValue:   imputed >= 0.5,
		},
	}
}

// categoricalSplit orders the categories by their target value and scans
// the prefixes of that order. The positive side is the suffix.
func (b *Builder) categoricalSplit(ds *dataset.VerticalDataset, rows []int, attr int, parent []float64) *split {
	col := &ds.Spec().Columns[attr]
	values := ds.Categorical(attr)
	imputed := col.ImputedCategory()
	numValues := max(col.NumClasses(), 1)
	dim := len(parent)

	buckets := make([]float64, numValues*dim)
	counts := make([]int, numValues)
	for _, r := range rows {
		v := values[r]
		if v == dataset.MissingCategory {
			v = imputed
		}
		counts[v]++
		b.Stats.Add(buckets[int(v)*dim:int(v+1)*dim], r)
	}

	type category struct {
		index  int32
		target float64
	}
	var present []category
	for v := 0; v < numValues; v++ {
		if counts[v] > 0 {
			acc := buckets[v*dim : (v+1)*dim]
			present = append(present, category{index: int32(v), target: b.Stats.Target(acc, parent)})
		}
	}
	if len(present) < 2 {
		return nil
	}
	sort.SliceStable(present, func(i, j int) bool { return present[i].target < present[j].target })

	parentScore := b.Stats.Score(parent)
	neg := make([]float64, dim)
	pos := make([]float64, dim)
	minEx := b.minExamples()
	numNeg := 0
	bestCut, bestGain := -1, minGain
	for i := 0; i < len(present)-1; i++ {
		v := present[i].index
		acc := buckets[int(v)*dim : int(v+1)*dim]
		for k := range neg {
			neg[k] += acc[k]
		}
		numNeg += counts[v]
		if numNeg < minEx || len(rows)-numNeg < minEx {
			continue
		}
		for k := range pos {
			pos[k] = parent[k] - neg[k]
		}
		gain := b.Stats.Score(neg) + b.Stats.Score(pos) - parentScore
		if gain > bestGain {
			bestGain, bestCut = gain, i
		}
	}
	if bestCut < 0 {
		return nil
	}

	mask := make([]int32, 0, len(present)-bestCut-1)
	naValue := false
	for _, c := range present[bestCut+1:] {
		mask = append(mask, c.index)
		if c.index == imputed {
			naValue = true
		}
	}
	sort.Slice(mask, func(i, j int) bool { return mask[i] < mask[j] })
	return &split{
		gain: bestGain,
		condition: Condition{
			Type:      ContainsCondition,
			Attribute: attr,
			Mask:      mask,
			NAValue:   naValue,
		},
	}
}
