package dataset

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/YuminosukeSato/goforest/pkg/errors"
)

// ReadCSV reads a CSV with a header row. Columns whose non-empty cells all
// parse as numbers are numerical; the others are categorical. Empty cells
// are missing values.
func ReadCSV(r io.Reader, opts ...Option) (*VerticalDataset, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, errors.Wrap(errors.ErrEmptyData, "csv has no header")
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read csv header")
	}

	cells := make([][]string, len(header))
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed to read csv record")
		}
		for i := range header {
			cells[i] = append(cells[i], record[i])
		}
	}

	columns := make(map[string]interface{}, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if _, dup := columns[name]; dup {
			return nil, errors.NewValidationError("header", "duplicated column", name)
		}
		if numbers, ok := parseNumbers(cells[i]); ok {
			columns[name] = numbers
		} else {
			columns[name] = cells[i]
		}
		header[i] = name
	}

	return Create(columns, append([]Option{withOrder(header)}, opts...)...)
}

// ReadCSVFile reads the CSV file at path.
func ReadCSVFile(path string, opts ...Option) (*VerticalDataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()
	return ReadCSV(f, opts...)
}

// parseNumbers converts the cells to numbers; it fails if any non-empty
// cell is not a number or if every cell is empty.
func parseNumbers(cells []string) ([]float64, bool) {
	out := make([]float64, len(cells))
	seen := false
	for i, s := range cells {
		s = strings.TrimSpace(s)
		if s == "" {
			out[i] = nan
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, false
		}
		out[i] = v
		seen = true
	}
	return out, seen
}
