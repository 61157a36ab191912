package dataset

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/YuminosukeSato/goforest/pkg/errors"
)

// VerticalDataset stores a dataset column by column.
//
// Numerical and boolean columns are float64 (NaN is missing, booleans are
// 0 or 1). Categorical columns are vocabulary indices (MissingCategory is
// missing). A VerticalDataset is not modified after creation.
type VerticalDataset struct {
	spec    *DataSpec
	numRows int
	num     [][]float64
	cat     [][]int32
	// columns of the spec that were not provided; they read as missing
	absent []bool
}

// Spec returns the data specification.
func (d *VerticalDataset) Spec() *DataSpec { return d.spec }

// NumRows returns the number of rows.
func (d *VerticalDataset) NumRows() int { return d.numRows }

// NumColumns returns the number of columns.
func (d *VerticalDataset) NumColumns() int { return len(d.spec.Columns) }

// Numerical returns the storage of a numerical or boolean column.
func (d *VerticalDataset) Numerical(col int) []float64 { return d.num[col] }

// Categorical returns the storage of a categorical column.
func (d *VerticalDataset) Categorical(col int) []int32 { return d.cat[col] }

// HasColumn reports whether the named column was provided when the
// dataset was created.
func (d *VerticalDataset) HasColumn(name string) bool {
	idx := d.spec.ColumnIndex(name)
	return idx >= 0 && !d.absent[idx]
}

// ColumnIndex returns the index of the named column, or -1.
func (d *VerticalDataset) ColumnIndex(name string) int {
	return d.spec.ColumnIndex(name)
}

// Value returns a float view of a cell: the number for numerical and
// boolean columns, the vocabulary index for categorical ones. Missing
// values are NaN.
func (d *VerticalDataset) Value(col, row int) float64 {
	if d.spec.Columns[col].Semantic == Categorical {
		v := d.cat[col][row]
		if v == MissingCategory {
			return math.NaN()
		}
		return float64(v)
	}
	return d.num[col][row]
}

// IsMissing reports whether a cell is missing.
func (d *VerticalDataset) IsMissing(col, row int) bool {
	if d.spec.Columns[col].Semantic == Categorical {
		return d.cat[col][row] == MissingCategory
	}
	return math.IsNaN(d.num[col][row])
}

// Subset returns a dataset with the given rows, sharing the spec.
func (d *VerticalDataset) Subset(rows []int) *VerticalDataset {
	out := &VerticalDataset{
		spec:    d.spec,
		numRows: len(rows),
		num:     make([][]float64, len(d.num)),
		cat:     make([][]int32, len(d.cat)),
		absent:  d.absent,
	}
	for c := range d.spec.Columns {
		if d.num[c] != nil {
			col := make([]float64, len(rows))
			for i, r := range rows {
				col[i] = d.num[c][r]
			}
			out.num[c] = col
		}
		if d.cat[c] != nil {
			col := make([]int32, len(rows))
			for i, r := range rows {
				col[i] = d.cat[c][r]
			}
			out.cat[c] = col
		}
	}
	return out
}

// Project re-expresses d in the layout of spec: columns are matched by
// name and categorical values are re-indexed through spec's vocabularies.
// Columns of spec missing from d become absent (all missing).
func (d *VerticalDataset) Project(spec *DataSpec) (*VerticalDataset, error) {
	if d.spec.sameLayout(spec) {
		return d, nil
	}

	out := newEmpty(spec, d.numRows)
	for c := range spec.Columns {
		target := &spec.Columns[c]
		src := d.spec.ColumnIndex(target.Name)
		if src < 0 || d.absent[src] {
			out.fillAbsent(c)
			continue
		}
		source := &d.spec.Columns[src]

		switch {
		case target.Semantic == Categorical && source.Semantic == Categorical:
			index := vocabularyIndex(target)
			col := make([]int32, d.numRows)
			for r, v := range d.cat[src] {
				if v == MissingCategory {
					col[r] = MissingCategory
					continue
				}
				col[r] = lookup(index, source.CategoryValue(v))
			}
			out.cat[c] = col
		case target.Semantic == Categorical:
			errors.Warn(errors.NewDataConversionWarning(source.Semantic.String(), target.Semantic.String(),
				fmt.Sprintf("column %q is categorical in the model; values are matched as text", target.Name)))
			index := vocabularyIndex(target)
			col := make([]int32, d.numRows)
			for r, v := range d.num[src] {
				if math.IsNaN(v) {
					col[r] = MissingCategory
					continue
				}
				col[r] = lookup(index, formatNumber(v))
			}
			out.cat[c] = col
		case source.Semantic == Categorical:
			return nil, errors.NewValidationError(target.Name,
				fmt.Sprintf("column is %s in the model but %s in the dataset", target.Semantic, source.Semantic), nil)
		default:
			col := make([]float64, d.numRows)
			copy(col, d.num[src])
			out.num[c] = col
		}
	}
	return out, nil
}

// String renders the first rows of the dataset.
func (d *VerticalDataset) String() string {
	const maxRows = 10
	var sb strings.Builder
	fmt.Fprintf(&sb, "VerticalDataset: %d rows, %d columns\n", d.numRows, len(d.spec.Columns))
	sb.WriteString(strings.Join(d.spec.Names(), "\t"))
	sb.WriteByte('\n')
	for r := 0; r < d.numRows && r < maxRows; r++ {
		for c := range d.spec.Columns {
			if c > 0 {
				sb.WriteByte('\t')
			}
			sb.WriteString(d.cellString(c, r))
		}
		sb.WriteByte('\n')
	}
	if d.numRows > maxRows {
		fmt.Fprintf(&sb, "... (%d more rows)\n", d.numRows-maxRows)
	}
	return sb.String()
}

func (d *VerticalDataset) cellString(col, row int) string {
	if d.IsMissing(col, row) {
		return "NA"
	}
	spec := &d.spec.Columns[col]
	switch spec.Semantic {
	case Categorical:
		return spec.CategoryValue(d.cat[col][row])
	case Boolean:
		return strconv.FormatBool(d.num[col][row] >= 0.5)
	default:
		return formatNumber(d.num[col][row])
	}
}

// PermuteColumn returns a dataset where the values of column col are
// reordered: row i takes the value of row perm[i]. Other columns are shared.
func (d *VerticalDataset) PermuteColumn(col int, perm []int) (*VerticalDataset, error) {
	if col < 0 || col >= len(d.spec.Columns) {
		return nil, errors.NewValidationError("col", "column index out of range", col)
	}
	if len(perm) != d.numRows {
		return nil, errors.NewDimensionError("dataset.PermuteColumn", d.numRows, len(perm), 0)
	}
	out := d.shallowCopy()
	if d.num[col] != nil {
		values := make([]float64, d.numRows)
		for i, r := range perm {
			values[i] = d.num[col][r]
		}
		out.num[col] = values
	}
	if d.cat[col] != nil {
		values := make([]int32, d.numRows)
		for i, r := range perm {
			values[i] = d.cat[col][r]
		}
		out.cat[col] = values
	}
	return out, nil
}

// WithNumerical returns a dataset where the numerical or boolean column col
// holds values. Other columns are shared.
func (d *VerticalDataset) WithNumerical(col int, values []float64) (*VerticalDataset, error) {
	if col < 0 || col >= len(d.spec.Columns) || d.num[col] == nil {
		return nil, errors.NewValidationError("col", "not a numerical column", col)
	}
	if len(values) != d.numRows {
		return nil, errors.NewDimensionError("dataset.WithNumerical", d.numRows, len(values), 0)
	}
	out := d.shallowCopy()
	out.num[col] = values
	return out, nil
}

func (d *VerticalDataset) shallowCopy() *VerticalDataset {
	out := &VerticalDataset{
		spec:    d.spec,
		numRows: d.numRows,
		num:     make([][]float64, len(d.num)),
		cat:     make([][]int32, len(d.cat)),
		absent:  d.absent,
	}
	copy(out.num, d.num)
	copy(out.cat, d.cat)
	return out
}

func newEmpty(spec *DataSpec, numRows int) *VerticalDataset {
	return &VerticalDataset{
		spec:    spec,
		numRows: numRows,
		num:     make([][]float64, len(spec.Columns)),
		cat:     make([][]int32, len(spec.Columns)),
		absent:  make([]bool, len(spec.Columns)),
	}
}

func (d *VerticalDataset) fillAbsent(col int) {
	d.absent[col] = true
	if d.spec.Columns[col].Semantic == Categorical {
		c := make([]int32, d.numRows)
		for i := range c {
			c[i] = MissingCategory
		}
		d.cat[col] = c
		return
	}
	c := make([]float64, d.numRows)
	for i := range c {
		c[i] = math.NaN()
	}
	d.num[col] = c
}

func vocabularyIndex(spec *ColumnSpec) map[string]int32 {
	index := make(map[string]int32, len(spec.Vocabulary))
	for i := 1; i < len(spec.Vocabulary); i++ {
		index[spec.Vocabulary[i]] = int32(i)
	}
	return index
}

func lookup(index map[string]int32, value string) int32 {
	if value == "" {
		return MissingCategory
	}
	if idx, ok := index[value]; ok {
		return idx
	}
	return 0
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// sortedKeys returns the keys of m in increasing order.
func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var nan = math.NaN()
