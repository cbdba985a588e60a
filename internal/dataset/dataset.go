// Package dataset provides finite, restartable sources of record batches for
// skills to run over.
package dataset

import (
	"context"
	"iter"

	"github.com/nidhogg/tutor/internal/table"
)

// DefaultBatchSize is used when a dataset is created with a non-positive
// batch size.
const DefaultBatchSize = 32

// Dataset yields its records as a sequence of batches. Iteration can be
// repeated and always yields the same batches in the same order.
type Dataset interface {
	Columns() []string
	Batches(ctx context.Context) iter.Seq2[*table.Batch, error]
}

// Frame is an in-memory dataset split into fixed-size batches. Row labels of
// the source batch are carried through unchanged.
type Frame struct {
	data *table.Batch
	size int
}

// NewFrame wraps data, yielding at most size rows per batch.
func NewFrame(data *table.Batch, size int) *Frame {
	if size <= 0 {
		size = DefaultBatchSize
	}
	return &Frame{data: data, size: size}
}

// FromBatch wraps an already materialized batch as a single-batch dataset.
// An empty batch yields no batches.
func FromBatch(b *table.Batch) *Frame {
	return &Frame{data: b, size: max(b.Len(), 1)}
}

func (f *Frame) Columns() []string { return f.data.Columns }

// Len returns the number of records.
func (f *Frame) Len() int { return f.data.Len() }

func (f *Frame) Batches(ctx context.Context) iter.Seq2[*table.Batch, error] {
	return func(yield func(*table.Batch, error) bool) {
		for lo := 0; lo < f.data.Len(); lo += f.size {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			hi := min(lo+f.size, f.data.Len())
			if !yield(table.NewIndexed(f.data.Columns, f.data.Index[lo:hi], f.data.Rows[lo:hi]), nil) {
				return
			}
		}
	}
}

// chunk groups a stream of records into batches with consecutive labels
// starting at zero.
type chunk struct {
	columns []string
	size    int
	next    int
	rows    []table.Record
}

func (c *chunk) add(r table.Record) *table.Batch {
	c.rows = append(c.rows, r)
	if len(c.rows) < c.size {
		return nil
	}
	return c.flush()
}

func (c *chunk) flush() *table.Batch {
	if len(c.rows) == 0 {
		return nil
	}
	index := make([]int, len(c.rows))
	for i := range index {
		index[i] = c.next + i
	}
	c.next += len(c.rows)
	b := table.NewIndexed(c.columns, index, c.rows)
	c.rows = nil
	return b
}
