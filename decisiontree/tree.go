package decisiontree

import (
	"fmt"
	"strings"

	"github.com/YuminosukeSato/goforest/dataset"
	"github.com/YuminosukeSato/goforest/pkg/errors"
)

// Node is an element of a tree's flat node slice. A node without
// Condition is a leaf; children are indices into Tree.Nodes.
type Node struct {
	Condition     *Condition `json:"condition,omitempty"`
	NegativeChild int        `json:"negative_child"`
	PositiveChild int        `json:"positive_child"`

	// Leaf output: Value for regression and boosting, Distribution for
	// classification (indexed by vocabulary index of the label).
	Value        float64   `json:"value,omitempty"`
	Distribution []float64 `json:"distribution,omitempty"`

	NumExamples float64 `json:"num_examples"`
	Gain        float64 `json:"gain,omitempty"`

	// LeafIndex numbers the leaves depth-first, negative child first.
	// -1 on internal nodes.
	LeafIndex int `json:"-"`
}

// IsLeaf reports whether the node is a leaf.
func (n *Node) IsLeaf() bool { return n.Condition == nil }

// Tree is a binary decision tree. Nodes[0] is the root.
type Tree struct {
	Nodes []Node `json:"nodes"`

	numLeaves int
}

// Root returns the root node.
func (t *Tree) Root() *Node { return &t.Nodes[0] }

// GetLeaf returns the leaf reached by a row.
func (t *Tree) GetLeaf(ds *dataset.VerticalDataset, row int) *Node {
	n := &t.Nodes[0]
	for !n.IsLeaf() {
		if n.Condition.Eval(ds, row) {
			n = &t.Nodes[n.PositiveChild]
		} else {
			n = &t.Nodes[n.NegativeChild]
		}
	}
	return n
}

// LeafIndex returns the index of the leaf reached by a row.
func (t *Tree) LeafIndex(ds *dataset.VerticalDataset, row int) int {
	return t.GetLeaf(ds, row).LeafIndex
}

// NumLeaves returns the number of leaves.
func (t *Tree) NumLeaves() int { return t.numLeaves }

// NumNodes returns the number of nodes, leaves included.
func (t *Tree) NumNodes() int { return len(t.Nodes) }

// Depth returns the number of nodes on the longest root to leaf path. A
// tree made of a single leaf has depth 1.
func (t *Tree) Depth() int {
	var walk func(i int) int
	walk = func(i int) int {
		n := &t.Nodes[i]
		if n.IsLeaf() {
			return 1
		}
		return 1 + max(walk(n.NegativeChild), walk(n.PositiveChild))
	}
	return walk(0)
}

// Finalize validates the structure against spec and numbers the leaves.
// It must be called on every tree decoded from disk.
func (t *Tree) Finalize(spec *dataset.DataSpec) error {
	if len(t.Nodes) == 0 {
		return errors.NewModelError("Tree.Finalize", "tree has no nodes", nil)
	}
	visited := make([]bool, len(t.Nodes))
	t.numLeaves = 0

	var walk func(i int) error
	walk = func(i int) error {
		if i < 0 || i >= len(t.Nodes) {
			return errors.NewModelError("Tree.Finalize", fmt.Sprintf("child index %d out of range", i), nil)
		}
		if visited[i] {
			return errors.NewModelError("Tree.Finalize", fmt.Sprintf("node %d reached twice", i), nil)
		}
		visited[i] = true
		n := &t.Nodes[i]
		if n.IsLeaf() {
			n.LeafIndex = t.numLeaves
			t.numLeaves++
			return nil
		}
		n.LeafIndex = -1
		if spec != nil {
			if err := n.Condition.validate(spec); err != nil {
				return err
			}
		}
		if err := walk(n.NegativeChild); err != nil {
			return err
		}
		return walk(n.PositiveChild)
	}
	return walk(0)
}

// Describe renders the tree, positive branch first.
func (t *Tree) Describe(spec *dataset.DataSpec) string {
	var sb strings.Builder
	var walk func(i int, indent string, label string)
	walk = func(i int, indent, label string) {
		n := &t.Nodes[i]
		sb.WriteString(indent)
		sb.WriteString(label)
		if n.IsLeaf() {
			sb.WriteString(leafString(n))
			sb.WriteByte('\n')
			return
		}
		fmt.Fprintf(&sb, "%s [s:%g n:%g]\n", n.Condition.String(spec), n.Gain, n.NumExamples)
		child := indent + "    "
		walk(n.PositiveChild, child, "├─(pos)─ ")
		walk(n.NegativeChild, child, "└─(neg)─ ")
	}
	walk(0, "", "")
	return sb.String()
}

func leafString(n *Node) string {
	if n.Distribution == nil {
		return fmt.Sprintf("value:%g n:%g", n.Value, n.NumExamples)
	}
	parts := make([]string, 0, len(n.Distribution))
	for i, p := range n.Distribution {
		if i == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%.3g", p))
	}
	return fmt.Sprintf("val:[%s] n:%g", strings.Join(parts, " "), n.NumExamples)
}
