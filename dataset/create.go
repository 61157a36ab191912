package dataset

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/YuminosukeSato/goforest/pkg/errors"
)

// Column forces the semantic of a column.
type Column struct {
	Name     string
	Semantic Semantic
}

type options struct {
	columns           []Column
	spec              *DataSpec
	minVocabFrequency int
	maxVocabCount     int
	order             []string
}

// Option configures Create and ReadCSV.
type Option func(*options)

// WithColumns sets the semantic of some columns. Listed columns come first
// in the resulting spec, in the given order.
func WithColumns(columns ...Column) Option {
	return func(o *options) {
		o.columns = append(o.columns, columns...)
	}
}

// WithDataSpec maps the values through an existing spec instead of
// inferring one. Unknown categories become out-of-dictionary.
func WithDataSpec(spec *DataSpec) Option {
	return func(o *options) {
		o.spec = spec
	}
}

// WithMinVocabFrequency sets how often a category must appear to get its
// own vocabulary item. Default 1.
func WithMinVocabFrequency(n int) Option {
	return func(o *options) {
		o.minVocabFrequency = n
	}
}

// WithMaxVocabCount caps the number of vocabulary items (OutOfDictionary
// excluded). Default 2000.
func WithMaxVocabCount(n int) Option {
	return func(o *options) {
		o.maxVocabCount = n
	}
}

func withOrder(names []string) Option {
	return func(o *options) {
		o.order = names
	}
}

func defaultOptions() *options {
	return &options{
		minVocabFrequency: 1,
		maxVocabCount:     2000,
	}
}

type rawKind int

const (
	rawNumber rawKind = iota
	rawBool
	rawString
)

type rawColumn struct {
	kind    rawKind
	numbers []float64
	strings []string
}

func (r *rawColumn) len() int {
	if r.kind == rawString {
		return len(r.strings)
	}
	return len(r.numbers)
}

// Create builds a dataset from a map of column name to values. Supported
// value types are []float64, []float32, []int, []int32, []int64, []bool
// and []string. NaN and "" are missing values.
func Create(columns map[string]interface{}, opts ...Option) (*VerticalDataset, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if len(columns) == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "dataset has no columns")
	}

	raws := make(map[string]*rawColumn, len(columns))
	numRows := -1
	for _, name := range sortedKeys(columns) {
		raw, err := toRaw(name, columns[name])
		if err != nil {
			return nil, err
		}
		if numRows < 0 {
			numRows = raw.len()
		} else if raw.len() != numRows {
			return nil, errors.NewFeatureShapeError("dataset", name, []int{numRows}, []int{raw.len()})
		}
		raws[name] = raw
	}

	if o.spec != nil {
		return createWithSpec(o.spec, raws, numRows)
	}
	return createInferred(o, raws, numRows)
}

func createWithSpec(spec *DataSpec, raws map[string]*rawColumn, numRows int) (*VerticalDataset, error) {
	ds := newEmpty(spec, numRows)
	for c := range spec.Columns {
		col := &spec.Columns[c]
		raw, ok := raws[col.Name]
		if !ok {
			ds.fillAbsent(c)
			continue
		}
		if err := ds.setColumn(c, raw, vocabularyIndex(col)); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

func createInferred(o *options, raws map[string]*rawColumn, numRows int) (*VerticalDataset, error) {
	semantics := make(map[string]Semantic, len(raws))
	var names []string
	seen := make(map[string]bool)
	for _, c := range o.columns {
		if _, ok := raws[c.Name]; !ok {
			return nil, errors.NewValidationError("columns", "column is not in the data", c.Name)
		}
		semantics[c.Name] = c.Semantic
		if !seen[c.Name] {
			names = append(names, c.Name)
			seen[c.Name] = true
		}
	}
	rest := o.order
	if rest == nil {
		rest = make([]string, 0, len(raws))
		for name := range raws {
			rest = append(rest, name)
		}
		rest = sortedStrings(rest)
	}
	for _, name := range rest {
		if !seen[name] {
			names = append(names, name)
			seen[name] = true
		}
	}

	spec := &DataSpec{Columns: make([]ColumnSpec, len(names)), NumRows: int64(numRows)}
	for i, name := range names {
		raw := raws[name]
		sem, forced := semantics[name]
		if !forced {
			sem = inferSemantic(raw)
		}
		spec.Columns[i] = ColumnSpec{Name: name, Semantic: sem}
		if sem == Categorical {
			values, err := raw.asStrings()
			if err != nil {
				return nil, errors.Wrapf(err, "column %q", name)
			}
			vocab, counts := buildVocabulary(values, o.minVocabFrequency, o.maxVocabCount)
			spec.Columns[i].Vocabulary = vocab
			spec.Columns[i].Counts = counts
			if len(vocab) > 1 {
				spec.Columns[i].MostFrequent = 1
			}
		}
	}

	ds := newEmpty(spec, numRows)
	for c := range spec.Columns {
		col := &spec.Columns[c]
		if err := ds.setColumn(c, raws[col.Name], vocabularyIndex(col)); err != nil {
			return nil, err
		}
		computeStatistics(col, ds, c)
	}
	return ds, nil
}

func (d *VerticalDataset) setColumn(c int, raw *rawColumn, index map[string]int32) error {
	col := &d.spec.Columns[c]
	switch col.Semantic {
	case Categorical:
		values, err := raw.asStrings()
		if err != nil {
			return errors.Wrapf(err, "column %q", col.Name)
		}
		out := make([]int32, len(values))
		for i, v := range values {
			out[i] = lookup(index, v)
		}
		d.cat[c] = out
	case Boolean:
		values, err := raw.asBooleans()
		if err != nil {
			return errors.Wrapf(err, "column %q", col.Name)
		}
		d.num[c] = values
	default:
		values, err := raw.asNumbers()
		if err != nil {
			return errors.Wrapf(err, "column %q", col.Name)
		}
		d.num[c] = values
	}
	return nil
}

func computeStatistics(col *ColumnSpec, ds *VerticalDataset, c int) {
	if col.Semantic == Categorical {
		for _, v := range ds.cat[c] {
			if v == MissingCategory {
				col.NumMissing++
			}
		}
		return
	}

	sum, n := 0.0, 0
	col.Min, col.Max = math.Inf(1), math.Inf(-1)
	for _, v := range ds.num[c] {
		if math.IsNaN(v) {
			col.NumMissing++
			continue
		}
		sum += v
		n++
		col.Min = math.Min(col.Min, v)
		col.Max = math.Max(col.Max, v)
	}
	if n == 0 {
		col.Min, col.Max = 0, 0
		return
	}
	col.Mean = sum / float64(n)
}

func inferSemantic(raw *rawColumn) Semantic {
	switch raw.kind {
	case rawBool:
		return Boolean
	case rawString:
		return Categorical
	default:
		return Numerical
	}
}

func toRaw(name string, values interface{}) (*rawColumn, error) {
	switch v := values.(type) {
	case []float64:
		out := make([]float64, len(v))
		copy(out, v)
		return &rawColumn{kind: rawNumber, numbers: out}, nil
	case []float32:
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
		return &rawColumn{kind: rawNumber, numbers: out}, nil
	case []int:
		return &rawColumn{kind: rawNumber, numbers: intsToFloats(name, v)}, nil
	case []int32:
		return &rawColumn{kind: rawNumber, numbers: intsToFloats(name, v)}, nil
	case []int64:
		return &rawColumn{kind: rawNumber, numbers: intsToFloats(name, v)}, nil
	case []bool:
		out := make([]float64, len(v))
		for i, x := range v {
			if x {
				out[i] = 1
			}
		}
		return &rawColumn{kind: rawBool, numbers: out}, nil
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return &rawColumn{kind: rawString, strings: out}, nil
	default:
		return nil, errors.NewValidationError(name, "unsupported column type "+fmt.Sprintf("%T", values), nil)
	}
}

// maxExactInt is the largest magnitude a float64 holds without rounding.
const maxExactInt = 1 << 53

func intsToFloats[T int | int32 | int64](name string, v []T) []float64 {
	out := make([]float64, len(v))
	lossy := false
	for i, x := range v {
		if xi := int64(x); xi > maxExactInt || xi < -maxExactInt {
			lossy = true
		}
		out[i] = float64(x)
	}
	if lossy {
		errors.Warn(errors.NewDataConversionWarning(fmt.Sprintf("%T", v), "float64",
			fmt.Sprintf("column %q holds integers beyond 2^53 that were rounded", name)))
	}
	return out
}

func (r *rawColumn) asStrings() ([]string, error) {
	if r.kind == rawString {
		return r.strings, nil
	}
	out := make([]string, len(r.numbers))
	for i, v := range r.numbers {
		switch {
		case math.IsNaN(v):
			out[i] = ""
		case r.kind == rawBool:
			out[i] = strconv.FormatBool(v >= 0.5)
		default:
			out[i] = formatNumber(v)
		}
	}
	return out, nil
}

func (r *rawColumn) asNumbers() ([]float64, error) {
	if r.kind != rawString {
		return r.numbers, nil
	}
	out := make([]float64, len(r.strings))
	for i, s := range r.strings {
		s = strings.TrimSpace(s)
		if s == "" || strings.EqualFold(s, "na") || strings.EqualFold(s, "nan") {
			out[i] = math.NaN()
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, errors.NewValueError("asNumbers", fmt.Sprintf("cannot parse %q as a number", s))
		}
		out[i] = v
	}
	return out, nil
}

func (r *rawColumn) asBooleans() ([]float64, error) {
	if r.kind != rawString {
		out := make([]float64, len(r.numbers))
		for i, v := range r.numbers {
			switch {
			case math.IsNaN(v):
				out[i] = math.NaN()
			case v != 0:
				out[i] = 1
			}
		}
		return out, nil
	}
	out := make([]float64, len(r.strings))
	for i, s := range r.strings {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "":
			out[i] = math.NaN()
		case "true", "1", "yes":
			out[i] = 1
		case "false", "0", "no":
			out[i] = 0
		default:
			return nil, errors.NewValueError("asBooleans", fmt.Sprintf("cannot parse %q as a boolean", s))
		}
	}
	return out, nil
}

func sortedStrings(s []string) []string {
	m := make(map[string]interface{}, len(s))
	for _, v := range s {
		m[v] = nil
	}
	return sortedKeys(m)
}
