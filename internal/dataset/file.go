package dataset

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"slices"

	"github.com/nidhogg/tutor/internal/table"
)

// CSV reads records from a CSV file with a header row. Every value is a string.
type CSV struct {
	path    string
	size    int
	columns []string
}

// OpenCSV reads the header of path and returns a dataset over its rows.
func OpenCSV(path string, size int) (*CSV, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	header, err := csv.NewReader(f).Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header %s: %w", path, err)
	}
	if size <= 0 {
		size = DefaultBatchSize
	}
	return &CSV{path: path, size: size, columns: header}, nil
}

func (c *CSV) Columns() []string { return c.columns }

func (c *CSV) Batches(ctx context.Context) iter.Seq2[*table.Batch, error] {
	return func(yield func(*table.Batch, error) bool) {
		f, err := os.Open(c.path)
		if err != nil {
			yield(nil, fmt.Errorf("open csv: %w", err))
			return
		}
		defer f.Close()

		r := csv.NewReader(f)
		r.FieldsPerRecord = len(c.columns)
		if _, err := r.Read(); err != nil {
			yield(nil, fmt.Errorf("read csv header: %w", err))
			return
		}

		ch := &chunk{columns: c.columns, size: c.size}
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			fields, err := r.Read()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				yield(nil, fmt.Errorf("read csv %s: %w", c.path, err))
				return
			}
			rec := make(table.Record, len(fields))
			for i, v := range fields {
				rec[c.columns[i]] = v
			}
			if b := ch.add(rec); b != nil && !yield(b, nil) {
				return
			}
		}
		if b := ch.flush(); b != nil {
			yield(b, nil)
		}
	}
}

// JSONL reads one JSON object per line. Columns are the union of keys in
// first-seen order, collected when the file is opened.
type JSONL struct {
	path    string
	size    int
	columns []string
}

// OpenJSONL scans path once to collect its columns.
func OpenJSONL(path string, size int) (*JSONL, error) {
	j := &JSONL{path: path, size: size}
	if j.size <= 0 {
		j.size = DefaultBatchSize
	}
	for rec, err := range j.records(context.Background()) {
		if err != nil {
			return nil, err
		}
		var added []string
		for k := range rec {
			if !slices.Contains(j.columns, k) {
				added = append(added, k)
			}
		}
		// Keys of one object come back unordered; sort the new ones so the
		// column order is stable for a given file.
		slices.Sort(added)
		j.columns = append(j.columns, added...)
	}
	return j, nil
}

func (j *JSONL) records(ctx context.Context) iter.Seq2[table.Record, error] {
	return func(yield func(table.Record, error) bool) {
		f, err := os.Open(j.path)
		if err != nil {
			yield(nil, fmt.Errorf("open jsonl: %w", err))
			return
		}
		defer f.Close()

		sc := bufio.NewScanner(f)
		sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
		no := 0
		for sc.Scan() {
			no++
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			raw := sc.Bytes()
			if len(raw) == 0 {
				continue
			}
			var rec table.Record
			if err := json.Unmarshal(raw, &rec); err != nil {
				yield(nil, fmt.Errorf("decode %s line %d: %w", j.path, no, err))
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
		if err := sc.Err(); err != nil {
			yield(nil, fmt.Errorf("scan %s: %w", j.path, err))
		}
	}
}

func (j *JSONL) Columns() []string { return j.columns }

func (j *JSONL) Batches(ctx context.Context) iter.Seq2[*table.Batch, error] {
	return func(yield func(*table.Batch, error) bool) {
		ch := &chunk{columns: j.columns, size: j.size}
		for rec, err := range j.records(ctx) {
			if err != nil {
				yield(nil, err)
				return
			}
			for _, c := range j.columns {
				if _, ok := rec[c]; !ok {
					rec[c] = nil
				}
			}
			if b := ch.add(rec); b != nil && !yield(b, nil) {
				return
			}
		}
		if b := ch.flush(); b != nil {
			yield(b, nil)
		}
	}
}
