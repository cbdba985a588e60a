// Package table holds the row/column containers that flow between datasets,
// skills and inference runtimes.
package table

import (
	"errors"
	"fmt"
	"slices"
)

// ErrColumnNotFound is returned when a batch has no column of the requested name.
var ErrColumnNotFound = errors.New("column not found")

// SchemaError reports a shape mismatch between two batches that were expected
// to line up row for row.
type SchemaError struct {
	Op   string
	Want int
	Got  int
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s: row count mismatch: want %d, got %d", e.Op, e.Want, e.Got)
}

// Record is a single row keyed by column name.
type Record map[string]any

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Batch is an ordered set of rows sharing a column schema. Index carries a
// stable label per row so subsets can be aligned back to the batch they came from.
type Batch struct {
	Columns []string `json:"columns"`
	Index   []int    `json:"index"`
	Rows    []Record `json:"rows"`
}

// New builds a batch labelled 0..len(rows)-1.
func New(columns []string, rows []Record) *Batch {
	index := make([]int, len(rows))
	for i := range index {
		index[i] = i
	}
	return NewIndexed(columns, index, rows)
}

// NewIndexed builds a batch with explicit row labels. len(index) must equal len(rows).
func NewIndexed(columns []string, index []int, rows []Record) *Batch {
	if rows == nil {
		rows = []Record{}
	}
	if index == nil {
		index = []int{}
	}
	return &Batch{
		Columns: slices.Clone(columns),
		Index:   slices.Clone(index),
		Rows:    rows,
	}
}

// Empty returns a zero-row batch with the given columns.
func Empty(columns []string) *Batch {
	return NewIndexed(columns, nil, nil)
}

// Len returns the number of rows.
func (b *Batch) Len() int { return len(b.Rows) }

// HasColumn reports whether name is part of the schema.
func (b *Batch) HasColumn(name string) bool {
	return slices.Contains(b.Columns, name)
}

// Clone deep-copies the row maps so the result can be mutated freely.
func (b *Batch) Clone() *Batch {
	rows := make([]Record, len(b.Rows))
	for i, r := range b.Rows {
		rows[i] = r.Clone()
	}
	return NewIndexed(b.Columns, b.Index, rows)
}

// Column returns the values of one column in row order.
func (b *Batch) Column(name string) ([]any, error) {
	if !b.HasColumn(name) {
		return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, name)
	}
	out := make([]any, len(b.Rows))
	for i, r := range b.Rows {
		out[i] = r[name]
	}
	return out, nil
}

// Position returns the row position of an index label.
func (b *Batch) Position(label int) (int, bool) {
	i := slices.Index(b.Index, label)
	return i, i >= 0
}

// Take returns the rows with the given labels, in the order given.
func (b *Batch) Take(labels []int) (*Batch, error) {
	rows := make([]Record, 0, len(labels))
	for _, l := range labels {
		pos, ok := b.Position(l)
		if !ok {
			return nil, fmt.Errorf("take: index label %d not in batch", l)
		}
		rows = append(rows, b.Rows[pos].Clone())
	}
	return NewIndexed(b.Columns, labels, rows), nil
}

// Select projects the batch onto the given columns.
func (b *Batch) Select(columns ...string) (*Batch, error) {
	for _, c := range columns {
		if !b.HasColumn(c) {
			return nil, fmt.Errorf("select: %w: %q", ErrColumnNotFound, c)
		}
	}
	rows := make([]Record, len(b.Rows))
	for i, r := range b.Rows {
		row := make(Record, len(columns))
		for _, c := range columns {
			row[c] = r[c]
		}
		rows[i] = row
	}
	return NewIndexed(columns, b.Index, rows), nil
}

// Rename returns a copy of the batch with column from renamed to to.
// A pre-existing column named to is replaced.
func (b *Batch) Rename(from, to string) *Batch {
	out := b.Clone()
	if from == to || !out.HasColumn(from) {
		return out
	}
	cols := make([]string, 0, len(out.Columns))
	for _, c := range out.Columns {
		switch c {
		case to:
			continue
		case from:
			cols = append(cols, to)
		default:
			cols = append(cols, c)
		}
	}
	out.Columns = cols
	for _, r := range out.Rows {
		r[to] = r[from]
		delete(r, from)
	}
	return out
}

// Merge returns a copy of b with every column of other written into it row by
// row. Same-named columns are overwritten, new ones are appended. The receiver
// is not modified.
func (b *Batch) Merge(other *Batch) (*Batch, error) {
	if other.Len() != b.Len() {
		return nil, &SchemaError{Op: "merge", Want: b.Len(), Got: other.Len()}
	}
	out := b.Clone()
	for _, c := range other.Columns {
		if !out.HasColumn(c) {
			out.Columns = append(out.Columns, c)
		}
	}
	for i, r := range other.Rows {
		for _, c := range other.Columns {
			out.Rows[i][c] = r[c]
		}
	}
	return out, nil
}

// Concat joins batches in order. The resulting schema is the union of all
// columns in first-seen order; index labels are kept as they are.
func Concat(batches ...*Batch) *Batch {
	var cols []string
	var index []int
	var rows []Record
	for _, b := range batches {
		if b == nil {
			continue
		}
		for _, c := range b.Columns {
			if !slices.Contains(cols, c) {
				cols = append(cols, c)
			}
		}
		index = append(index, b.Index...)
		rows = append(rows, b.Rows...)
	}
	return NewIndexed(cols, index, rows)
}

// Maps returns the rows as plain maps, in order, restricted to the schema.
func (b *Batch) Maps() []map[string]any {
	out := make([]map[string]any, len(b.Rows))
	for i, r := range b.Rows {
		m := make(map[string]any, len(b.Columns))
		for _, c := range b.Columns {
			m[c] = r[c]
		}
		out[i] = m
	}
	return out
}
