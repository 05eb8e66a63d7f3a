// Package dataset reads radar and label tables and merges them into the
// numeric training table the model registry trains on.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/couchcryptid/storm-nowcast-service/internal/domain"
)

const (
	// CellIDColumn joins radar rows to label rows.
	CellIDColumn = "cell_id"
	// CategoryColumn holds the storm category of a row.
	CategoryColumn = "mcs_type"
	// labelSuffix marks label columns whose name collides with a radar column.
	labelSuffix = "_label"
)

// Frame is a string-typed table as read from CSV.
type Frame struct {
	Columns []string
	Rows    [][]string
	index   map[string]int
}

// NewFrame builds a frame, indexing its header.
func NewFrame(columns []string, rows [][]string) *Frame {
	f := &Frame{Columns: columns, Rows: rows, index: make(map[string]int, len(columns))}
	for i, c := range columns {
		f.index[c] = i
	}
	return f
}

// Has reports whether the frame has a column.
func (f *Frame) Has(col string) bool {
	_, ok := f.index[col]
	return ok
}

// Value returns a cell by row and column name.
func (f *Frame) Value(row int, col string) string {
	i, ok := f.index[col]
	if !ok || i >= len(f.Rows[row]) {
		return ""
	}
	return f.Rows[row][i]
}

// ReadCSV reads a CSV table with a header row.
func ReadCSV(r io.Reader) (*Frame, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("csv has no header")
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}
	var rows [][]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		rows = append(rows, rec)
	}
	return NewFrame(header, rows), nil
}

// ReadFiles reads and concatenates CSV files. Columns are the union of all
// headers; cells absent from a file are empty.
func ReadFiles(paths []string) (*Frame, error) {
	if len(paths) == 0 {
		return nil, errors.New("no input files")
	}
	frames := make([]*Frame, 0, len(paths))
	for _, p := range paths {
		f, err := readFile(p)
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	return Concat(frames...), nil
}

func readFile(path string) (*Frame, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer fh.Close()
	f, err := ReadCSV(fh)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Concat stacks frames, aligning columns by name.
func Concat(frames ...*Frame) *Frame {
	var cols []string
	seen := make(map[string]bool)
	for _, f := range frames {
		for _, c := range f.Columns {
			if !seen[c] {
				seen[c] = true
				cols = append(cols, c)
			}
		}
	}
	var rows [][]string
	for _, f := range frames {
		for r := range f.Rows {
			row := make([]string, len(cols))
			for i, c := range cols {
				row[i] = f.Value(r, c)
			}
			rows = append(rows, row)
		}
	}
	return NewFrame(cols, rows)
}

// Merge inner-joins radar and label rows on cell_id. Label columns whose name
// collides with a radar column are kept with a "_label" suffix.
func Merge(radar, labels *Frame) (*Frame, error) {
	if !radar.Has(CellIDColumn) {
		return nil, fmt.Errorf("%w: radar table has no %s column", domain.ErrDataQuality, CellIDColumn)
	}
	if !labels.Has(CellIDColumn) {
		return nil, fmt.Errorf("%w: label table has no %s column", domain.ErrDataQuality, CellIDColumn)
	}

	cols := append([]string(nil), radar.Columns...)
	type labelCol struct{ src, dst string }
	var extra []labelCol
	for _, c := range labels.Columns {
		if c == CellIDColumn {
			continue
		}
		dst := c
		if radar.Has(c) {
			dst = c + labelSuffix
		}
		extra = append(extra, labelCol{src: c, dst: dst})
		cols = append(cols, dst)
	}

	byCell := make(map[string][]int)
	for r := range labels.Rows {
		id := labels.Value(r, CellIDColumn)
		byCell[id] = append(byCell[id], r)
	}

	var rows [][]string
	for r := range radar.Rows {
		for _, lr := range byCell[radar.Value(r, CellIDColumn)] {
			row := make([]string, 0, len(cols))
			for _, c := range radar.Columns {
				row = append(row, radar.Value(r, c))
			}
			for _, e := range extra {
				row = append(row, labels.Value(lr, e.src))
			}
			rows = append(rows, row)
		}
	}
	return NewFrame(cols, rows), nil
}

// Table is the numeric training table.
type Table struct {
	CellIDs    []string
	Categories []domain.Category
	cols       map[string][]float64
}

// Load reads, merges, and cleans the radar and label files.
func Load(radarPaths, labelPaths []string) (*Table, error) {
	radar, err := ReadFiles(radarPaths)
	if err != nil {
		return nil, fmt.Errorf("read radar data: %w", err)
	}
	labels, err := ReadFiles(labelPaths)
	if err != nil {
		return nil, fmt.Errorf("read label data: %w", err)
	}
	merged, err := Merge(radar, labels)
	if err != nil {
		return nil, err
	}
	t := FromFrame(merged)
	t.Clean()
	return t, nil
}

// FromFrame parses every column as float64. Unparseable cells become NaN.
func FromFrame(f *Frame) *Table {
	t := &Table{
		CellIDs:    make([]string, len(f.Rows)),
		Categories: make([]domain.Category, len(f.Rows)),
		cols:       make(map[string][]float64, len(f.Columns)),
	}
	catCol := CategoryColumn
	if !f.Has(catCol) && f.Has(CategoryColumn+labelSuffix) {
		catCol = CategoryColumn + labelSuffix
	}
	for r := range f.Rows {
		t.CellIDs[r] = f.Value(r, CellIDColumn)
		if c, err := domain.ParseCategory(f.Value(r, catCol)); err == nil {
			t.Categories[r] = c
		}
	}
	for _, c := range f.Columns {
		if c == CellIDColumn || c == CategoryColumn || c == CategoryColumn+labelSuffix {
			continue
		}
		vals := make([]float64, len(f.Rows))
		for r := range f.Rows {
			vals[r] = parseFloat(f.Value(r, c))
		}
		t.cols[c] = vals
	}
	return t
}

func parseFloat(s string) float64 {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "true":
		return 1
	case "false":
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// IsTarget reports whether a column holds a training label.
func IsTarget(col string) bool {
	for _, r := range []domain.Role{domain.RoleClassifier, domain.RoleRegressorMean, domain.RoleRegressorTop10} {
		if strings.HasPrefix(col, r.Target()) {
			return true
		}
	}
	return false
}

// Clean fills non-finite feature values with the column mean and non-finite
// target values with zero.
func (t *Table) Clean() {
	for name, vals := range t.cols {
		if IsTarget(name) {
			for i, v := range vals {
				if !finite(v) {
					vals[i] = 0
				}
			}
			continue
		}
		var sum float64
		var n int
		for _, v := range vals {
			if finite(v) {
				sum += v
				n++
			}
		}
		mean := 0.0
		if n > 0 {
			mean = sum / float64(n)
		}
		for i, v := range vals {
			if !finite(v) {
				vals[i] = mean
			}
		}
	}
}

// Len is the number of rows.
func (t *Table) Len() int { return len(t.CellIDs) }

// Has reports whether a numeric column exists.
func (t *Table) Has(col string) bool {
	_, ok := t.cols[col]
	return ok
}

// MissingColumns lists the names absent from the table.
func (t *Table) MissingColumns(names []string) []string {
	var out []string
	for _, n := range names {
		if !t.Has(n) {
			out = append(out, n)
		}
	}
	return out
}

// Rows returns the row indexes for a category. ALL selects every row.
func (t *Table) Rows(c domain.Category) []int {
	var out []int
	for i, rc := range t.Categories {
		if c == domain.CategoryALL || rc == c {
			out = append(out, i)
		}
	}
	return out
}

// Matrix gathers the named features for the given rows.
func (t *Table) Matrix(features []string, rows []int) ([][]float64, error) {
	if missing := t.MissingColumns(features); len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing feature columns %s", domain.ErrDataQuality, strings.Join(missing, ","))
	}
	out := make([][]float64, len(rows))
	for i, r := range rows {
		row := make([]float64, len(features))
		for j, f := range features {
			row[j] = t.cols[f][r]
		}
		out[i] = row
	}
	return out, nil
}

// Target returns a label column for the given rows. A horizon-specific column
// such as "top10_mean_rr_mmh_30min" takes precedence over the generic one.
func (t *Table) Target(role domain.Role, h domain.Horizon, rows []int) ([]float64, error) {
	name := role.Target() + "_" + h.String()
	if !t.Has(name) {
		name = role.Target()
	}
	vals, ok := t.cols[name]
	if !ok {
		return nil, fmt.Errorf("%w: missing label column %s", domain.ErrDataQuality, role.Target())
	}
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = vals[r]
	}
	return out, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
