// Package dataset holds column-oriented ("vertical") datasets and the data
// specification describing their columns.
package dataset

import (
	"sort"
	"strings"

	"github.com/YuminosukeSato/goforest/pkg/errors"
)

// Semantic is how a column is interpreted by the learners.
type Semantic int

const (
	Numerical Semantic = iota + 1
	Categorical
	Boolean
)

func (s Semantic) String() string {
	switch s {
	case Numerical:
		return "NUMERICAL"
	case Categorical:
		return "CATEGORICAL"
	case Boolean:
		return "BOOLEAN"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Semantic) MarshalText() ([]byte, error) {
	if s < Numerical || s > Boolean {
		return nil, errors.NewValidationError("semantic", "unknown semantic", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Semantic) UnmarshalText(text []byte) error {
	switch strings.ToUpper(string(text)) {
	case "NUMERICAL":
		*s = Numerical
	case "CATEGORICAL":
		*s = Categorical
	case "BOOLEAN":
		*s = Boolean
	default:
		return errors.NewValidationError("semantic", "unknown semantic", string(text))
	}
	return nil
}

const (
	// OutOfDictionary is the vocabulary item at index 0 of every
	// categorical column. Unknown and infrequent values map to it.
	OutOfDictionary = "<OOD>"

	// MissingCategory is the stored index of a missing categorical value.
	MissingCategory int32 = -1
)

// ColumnSpec describes one column.
type ColumnSpec struct {
	Name     string   `json:"name"`
	Semantic Semantic `json:"semantic"`

	// Categorical: Vocabulary[0] is OutOfDictionary, the rest is sorted by
	// decreasing Counts then by value.
	Vocabulary   []string `json:"vocabulary,omitempty"`
	Counts       []int64  `json:"counts,omitempty"`
	MostFrequent int32    `json:"most_frequent,omitempty"`

	// Numerical and boolean. For booleans Mean is the ratio of true values.
	Mean float64 `json:"mean"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`

	NumMissing int64 `json:"num_missing"`
}

// NumClasses is the number of vocabulary items, OutOfDictionary included.
func (c *ColumnSpec) NumClasses() int {
	return len(c.Vocabulary)
}

// CategoryIndex maps a value to its vocabulary index; unknown values map
// to 0 (out-of-dictionary) and the empty string is missing.
func (c *ColumnSpec) CategoryIndex(value string) int32 {
	if value == "" {
		return MissingCategory
	}
	for i := 1; i < len(c.Vocabulary); i++ {
		if c.Vocabulary[i] == value {
			return int32(i)
		}
	}
	return 0
}

// CategoryValue returns the vocabulary item of idx, "" for a missing value.
func (c *ColumnSpec) CategoryValue(idx int32) string {
	if idx < 0 || int(idx) >= len(c.Vocabulary) {
		return ""
	}
	return c.Vocabulary[idx]
}

// ImputedNumerical is the value used in place of a missing numerical or
// boolean value.
func (c *ColumnSpec) ImputedNumerical() float64 {
	if c.Semantic == Boolean {
		if c.Mean >= 0.5 {
			return 1
		}
		return 0
	}
	return c.Mean
}

// ImputedCategory is the category used in place of a missing value.
func (c *ColumnSpec) ImputedCategory() int32 {
	return c.MostFrequent
}

// DataSpec describes every column of a dataset.
type DataSpec struct {
	Columns []ColumnSpec `json:"columns"`
	NumRows int64        `json:"num_rows"`
}

// ColumnIndex returns the index of the named column, or -1.
func (s *DataSpec) ColumnIndex(name string) int {
	for i := range s.Columns {
		if s.Columns[i].Name == name {
			return i
		}
	}
	return -1
}

// Column returns the named column.
func (s *DataSpec) Column(name string) (*ColumnSpec, error) {
	idx := s.ColumnIndex(name)
	if idx < 0 {
		return nil, errors.NewValidationError("column", "unknown column; available: "+strings.Join(s.Names(), ", "), name)
	}
	return &s.Columns[idx], nil
}

// Names returns the column names in order.
func (s *DataSpec) Names() []string {
	names := make([]string, len(s.Columns))
	for i := range s.Columns {
		names[i] = s.Columns[i].Name
	}
	return names
}

// sameLayout reports whether datasets built against s and other index
// their columns and categories identically.
func (s *DataSpec) sameLayout(other *DataSpec) bool {
	if s == other {
		return true
	}
	if len(s.Columns) != len(other.Columns) {
		return false
	}
	for i := range s.Columns {
		a, b := &s.Columns[i], &other.Columns[i]
		if a.Name != b.Name || a.Semantic != b.Semantic || len(a.Vocabulary) != len(b.Vocabulary) {
			return false
		}
		for j := range a.Vocabulary {
			if a.Vocabulary[j] != b.Vocabulary[j] {
				return false
			}
		}
	}
	return true
}

// buildVocabulary counts the values and keeps at most maxCount items
// appearing at least minFrequency times.
func buildVocabulary(values []string, minFrequency, maxCount int) ([]string, []int64) {
	counts := make(map[string]int64)
	for _, v := range values {
		if v == "" {
			continue
		}
		counts[v]++
	}

	items := make([]string, 0, len(counts))
	for v := range counts {
		items = append(items, v)
	}
	sort.Slice(items, func(i, j int) bool {
		ci, cj := counts[items[i]], counts[items[j]]
		if ci != cj {
			return ci > cj
		}
		return items[i] < items[j]
	})

	vocab := []string{OutOfDictionary}
	vocabCounts := []int64{0}
	for _, v := range items {
		c := counts[v]
		if int(c) < minFrequency || (maxCount > 0 && len(vocab)-1 >= maxCount) {
			vocabCounts[0] += c
			continue
		}
		vocab = append(vocab, v)
		vocabCounts = append(vocabCounts, c)
	}
	return vocab, vocabCounts
}
