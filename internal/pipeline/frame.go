package pipeline

import (
	"errors"
	"fmt"
	"slices"
)

// Column names produced and consumed by the built-in stages.
const (
	ColText          = "text"
	ColInputIDs      = "input_ids"
	ColAttentionMask = "attention_mask"
	ColLogits        = "logits"
	ColProbability   = "probability"
	ColPrediction    = "prediction"
)

var (
	ErrNoSuchColumn    = errors.New("no such column")
	ErrRowOutOfRange   = errors.New("row out of range")
	ErrDuplicateColumn = errors.New("column already exists")
)

// Row is one record of a Frame keyed by column name.
type Row map[string]any

// Frame is a small columnar table. Stages never mutate their input; they return
// a copy with the columns they add.
type Frame struct {
	Columns []string
	Rows    []Row
}

// NewFrame builds a one-column frame with one row per value.
func NewFrame(column string, values ...string) Frame {
	rows := make([]Row, 0, len(values))
	for _, v := range values {
		rows = append(rows, Row{column: v})
	}
	return Frame{
		Columns: []string{column},
		Rows:    rows,
	}
}

// Len returns the number of rows.
func (f Frame) Len() int { return len(f.Rows) }

// Has reports whether the frame carries the column.
func (f Frame) Has(column string) bool {
	return slices.Contains(f.Columns, column)
}

// Value returns the cell at row/column.
func (f Frame) Value(row int, column string) (any, error) {
	if row < 0 || row >= len(f.Rows) {
		return nil, fmt.Errorf("%w: %d of %d", ErrRowOutOfRange, row, len(f.Rows))
	}
	if !f.Has(column) {
		return nil, fmt.Errorf("%w: %q", ErrNoSuchColumn, column)
	}
	v, ok := f.Rows[row][column]
	if !ok {
		return nil, fmt.Errorf("%w: %q missing in row %d", ErrNoSuchColumn, column, row)
	}
	return v, nil
}

// WithColumn returns a copy of f with column computed from every row.
func (f Frame) WithColumn(column string, fn func(Row) (any, error)) (Frame, error) {
	if f.Has(column) {
		return Frame{}, fmt.Errorf("%w: %q", ErrDuplicateColumn, column)
	}
	out := Frame{
		Columns: append(slices.Clone(f.Columns), column),
		Rows:    make([]Row, len(f.Rows)),
	}
	for i, r := range f.Rows {
		v, err := fn(r)
		if err != nil {
			return Frame{}, fmt.Errorf("row %d: %w", i, err)
		}
		nr := make(Row, len(r)+1)
		for k, cell := range r {
			nr[k] = cell
		}
		nr[column] = v
		out.Rows[i] = nr
	}
	return out, nil
}

// Select returns a copy of f restricted to columns.
func (f Frame) Select(columns ...string) (Frame, error) {
	for _, c := range columns {
		if !f.Has(c) {
			return Frame{}, fmt.Errorf("%w: %q", ErrNoSuchColumn, c)
		}
	}
	out := Frame{
		Columns: slices.Clone(columns),
		Rows:    make([]Row, len(f.Rows)),
	}
	for i, r := range f.Rows {
		nr := make(Row, len(columns))
		for _, c := range columns {
			nr[c] = r[c]
		}
		out.Rows[i] = nr
	}
	return out, nil
}

func stringCell(r Row, column string) (string, error) {
	v, ok := r[column]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrNoSuchColumn, column)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("column %q: expected string, got %T", column, v)
	}
	return s, nil
}

func int64sCell(r Row, column string) ([]int64, error) {
	v, ok := r[column]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoSuchColumn, column)
	}
	s, ok := v.([]int64)
	if !ok {
		return nil, fmt.Errorf("column %q: expected []int64, got %T", column, v)
	}
	return s, nil
}

func float32sCell(r Row, column string) ([]float32, error) {
	v, ok := r[column]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoSuchColumn, column)
	}
	s, ok := v.([]float32)
	if !ok {
		return nil, fmt.Errorf("column %q: expected []float32, got %T", column, v)
	}
	return s, nil
}
