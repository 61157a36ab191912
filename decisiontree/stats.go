package decisiontree

// LabelStats aggregates the label of the examples reaching a node.
//
// An accumulator is a []float64 of length Dim(); index 0 always holds the
// sum of example weights. The gain of a split is
// Score(negative) + Score(positive) - Score(parent).
type LabelStats interface {
	Dim() int
	// Add accumulates one row into acc.
	Add(acc []float64, row int)
	Score(acc []float64) float64
	// Target orders the categories of a categorical attribute before the
	// prefix scan. parent is the accumulator of the node being split.
	Target(acc, parent []float64) float64
	SetLeaf(n *Node, acc []float64)
}

func weightOf(weights []float64, row int) float64 {
	if weights == nil {
		return 1
	}
	return weights[row]
}

// RegressionStats minimizes the weighted sum of squared errors. Leaves
// output the weighted mean label.
type RegressionStats struct {
	Labels  []float64
	Weights []float64
}

func (s *RegressionStats) Dim() int { return 3 }

func (s *RegressionStats) Add(acc []float64, row int) {
	w, y := weightOf(s.Weights, row), s.Labels[row]
	acc[0] += w
	acc[1] += w * y
	acc[2] += w * y * y
}

func (s *RegressionStats) Score(acc []float64) float64 {
	if acc[0] <= 0 {
		return 0
	}
	return -(acc[2] - acc[1]*acc[1]/acc[0])
}

func (s *RegressionStats) Target(acc, _ []float64) float64 {
	if acc[0] <= 0 {
		return 0
	}
	return acc[1] / acc[0]
}

func (s *RegressionStats) SetLeaf(n *Node, acc []float64) {
	n.Value = s.Target(acc, nil)
}

// ClassificationStats minimizes the weighted Gini impurity. Labels are
// vocabulary indices; leaves output the class distribution.
type ClassificationStats struct {
	Labels     []int32
	NumClasses int
	Weights    []float64
}

func (s *ClassificationStats) Dim() int { return 1 + s.NumClasses }

func (s *ClassificationStats) Add(acc []float64, row int) {
	w := weightOf(s.Weights, row)
	acc[0] += w
	acc[1+int(s.Labels[row])] += w
}

func (s *ClassificationStats) Score(acc []float64) float64 {
	if acc[0] <= 0 {
		return 0
	}
	sq := 0.0
	for _, c := range acc[1:] {
		sq += c * c
	}
	return -(acc[0] - sq/acc[0])
}

// Target is the ratio of the parent's majority class.
func (s *ClassificationStats) Target(acc, parent []float64) float64 {
	if acc[0] <= 0 {
		return 0
	}
	majority := 1
	for k := 2; k < len(parent); k++ {
		if parent[k] > parent[majority] {
			majority = k
		}
	}
	return acc[majority] / acc[0]
}

func (s *ClassificationStats) SetLeaf(n *Node, acc []float64) {
	n.Distribution = make([]float64, s.NumClasses)
	if acc[0] <= 0 {
		return
	}
	for k := range n.Distribution {
		n.Distribution[k] = acc[1+k] / acc[0]
	}
}

// GradientStats grows the regression trees of gradient boosting with a
// second order (Newton) approximation of the loss. Leaves output
// -Shrinkage * G / (H + L2).
type GradientStats struct {
	Gradients []float64
	Hessians  []float64
	Weights   []float64
	L2        float64
	Shrinkage float64
}

func (s *GradientStats) Dim() int { return 3 }

func (s *GradientStats) Add(acc []float64, row int) {
	w := weightOf(s.Weights, row)
	acc[0] += w
	acc[1] += w * s.Gradients[row]
	acc[2] += w * s.Hessians[row]
}

func (s *GradientStats) Score(acc []float64) float64 {
	den := acc[2] + s.L2
	if den <= 0 {
		return 0
	}
	return 0.5 * acc[1] * acc[1] / den
}

func (s *GradientStats) Target(acc, _ []float64) float64 {
	den := acc[2] + s.L2
	if den <= 0 {
		return 0
	}
	return -acc[1] / den
}

func (s *GradientStats) SetLeaf(n *Node, acc []float64) {
	n.Value = s.Shrinkage * s.Target(acc, nil)
}
