package dataset

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/nidhogg/tutor/internal/table"
)

// Open picks a reader by file extension: .csv, or .jsonl and .ndjson.
func Open(path string, size int) (Dataset, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return OpenCSV(path, size)
	case ".jsonl", ".ndjson":
		return OpenJSONL(path, size)
	default:
		return nil, fmt.Errorf("open %s: unsupported format %q", path, filepath.Ext(path))
	}
}

// Write encodes b as CSV when path ends in .csv and as JSONL otherwise.
func Write(w io.Writer, path string, b *table.Batch) error {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return WriteCSV(w, b)
	}
	return WriteJSONL(w, b)
}

// WriteCSV writes a header row and one row per record. Nil values are
// written as empty fields.
func WriteCSV(w io.Writer, b *table.Batch) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(b.Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	fields := make([]string, len(b.Columns))
	for i, r := range b.Rows {
		for j, c := range b.Columns {
			fields[j] = ""
			if v := r[c]; v != nil {
				fields[j] = fmt.Sprint(v)
			}
		}
		if err := cw.Write(fields); err != nil {
			return fmt.Errorf("write csv row %d: %w", b.Index[i], err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSONL writes one object per record.
func WriteJSONL(w io.Writer, b *table.Batch) error {
	enc := json.NewEncoder(w)
	for i, r := range b.Rows {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("write jsonl row %d: %w", b.Index[i], err)
		}
	}
	return nil
}
