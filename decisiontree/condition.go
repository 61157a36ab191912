// Package decisiontree implements binary decision trees over vertical
// datasets and the greedy CART growth shared by the forest learners.
package decisiontree

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/YuminosukeSato/goforest/dataset"
	"github.com/YuminosukeSato/goforest/pkg/errors"
)

// ConditionType selects how a condition is evaluated.
type ConditionType string

const (
	// HigherCondition is positive iff value >= Threshold.
	HigherCondition ConditionType = "HIGHER"
	// ContainsCondition is positive iff the category is in Mask.
	ContainsCondition ConditionType = "CONTAINS"
	// TrueValueCondition is positive iff the boolean is true.
	TrueValueCondition ConditionType = "TRUE_VALUE"
)

// Condition routes an example to the positive or negative child.
// NAValue is the outcome for a missing value.
type Condition struct {
	Type      ConditionType `json:"type"`
	Attribute int           `json:"attribute"`
	Threshold float64       `json:"threshold,omitempty"`
	// sorted category indices
	Mask    []int32 `json:"mask,omitempty"`
	NAValue bool    `json:"na_value"`
}

// Eval evaluates the condition on one row.
func (c *Condition) Eval(ds *dataset.VerticalDataset, row int) bool {
	switch c.Type {
	case ContainsCondition:
		v := ds.Categorical(c.Attribute)[row]
		if v == dataset.MissingCategory {
			return c.NAValue
		}
		return c.contains(v)
	case TrueValueCondition:
		v := ds.Numerical(c.Attribute)[row]
		if math.IsNaN(v) {
			return c.NAValue
		}
		return v >= 0.5
	default:
		v := ds.Numerical(c.Attribute)[row]
		if math.IsNaN(v) {
			return c.NAValue
		}
		return v >= c.Threshold
	}
}

func (c *Condition) contains(v int32) bool {
	i := sort.Search(len(c.Mask), func(i int) bool { return c.Mask[i] >= v })
	return i < len(c.Mask) && c.Mask[i] == v
}

func (c *Condition) validate(spec *dataset.DataSpec) error {
	if c.Attribute < 0 || c.Attribute >= len(spec.Columns) {
		return errors.NewValidationError("attribute", "condition attribute out of range", c.Attribute)
	}
	want := dataset.Numerical
	switch c.Type {
	case HigherCondition:
	case ContainsCondition:
		want = dataset.Categorical
	case TrueValueCondition:
		want = dataset.Boolean
	default:
		return errors.NewValidationError("type", "unknown condition type", string(c.Type))
	}
	if got := spec.Columns[c.Attribute].Semantic; got != want && !(want == dataset.Numerical && got == dataset.Boolean) {
		return errors.NewValidationError(spec.Columns[c.Attribute].Name,
			fmt.Sprintf("%s condition on a %s column", c.Type, got), nil)
	}
	if !sort.SliceIsSorted(c.Mask, func(i, j int) bool { return c.Mask[i] < c.Mask[j] }) {
		return errors.NewValidationError("mask", "condition mask must be sorted", c.Mask)
	}
	return nil
}

// String renders the condition with column names from spec.
func (c *Condition) String(spec *dataset.DataSpec) string {
	name := fmt.Sprintf("#%d", c.Attribute)
	var col *dataset.ColumnSpec
	if spec != nil && c.Attribute < len(spec.Columns) {
		col = &spec.Columns[c.Attribute]
		name = col.Name
	}
	switch c.Type {
	case ContainsCondition:
		items := make([]string, len(c.Mask))
		for i, m := range c.Mask {
			items[i] = fmt.Sprint(m)
			if col != nil {
				items[i] = col.CategoryValue(m)
			}
		}
		return fmt.Sprintf("%q is in [%s]", name, strings.Join(items, ", "))
	case TrueValueCondition:
		return fmt.Sprintf("%q is true", name)
	default:
		return fmt.Sprintf("%q>=%g", name, c.Threshold)
	}
}
