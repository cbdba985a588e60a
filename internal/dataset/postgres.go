package dataset

import (
	"context"
	"fmt"
	"iter"

	"github.com/jackc/pgx/v5"

	"github.com/nidhogg/tutor/internal/table"
)

// Querier is the subset of *pgxpool.Pool the Postgres dataset needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Postgres pages through the result of a SELECT statement. The statement must
// produce a stable row order (ORDER BY) for iteration to be repeatable.
type Postgres struct {
	db      Querier
	query   string
	size    int
	columns []string
}

// NewPostgres describes query once to learn its columns.
func NewPostgres(ctx context.Context, db Querier, query string, size int) (*Postgres, error) {
	if size <= 0 {
		size = DefaultBatchSize
	}
	p := &Postgres{db: db, query: query, size: size}

	rows, err := db.Query(ctx, fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT 0", query))
	if err != nil {
		return nil, fmt.Errorf("describe dataset query: %w", err)
	}
	for _, fd := range rows.FieldDescriptions() {
		p.columns = append(p.columns, fd.Name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("describe dataset query: %w", err)
	}
	return p, nil
}

func (p *Postgres) Columns() []string { return p.columns }

func (p *Postgres) Batches(ctx context.Context) iter.Seq2[*table.Batch, error] {
	return func(yield func(*table.Batch, error) bool) {
		for offset := 0; ; offset += p.size {
			b, err := p.page(ctx, offset)
			if err != nil {
				yield(nil, err)
				return
			}
			if b.Len() == 0 {
				return
			}
			if !yield(b, nil) || b.Len() < p.size {
				return
			}
		}
	}
}

func (p *Postgres) page(ctx context.Context, offset int) (*table.Batch, error) {
	rows, err := p.db.Query(ctx, fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT $1 OFFSET $2", p.query), p.size, offset)
	if err != nil {
		return nil, fmt.Errorf("query dataset page at %d: %w", offset, err)
	}
	defer rows.Close()

	var (
		index []int
		recs  []table.Record
	)
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("scan dataset row: %w", err)
		}
		rec := make(table.Record, len(p.columns))
		for i, c := range p.columns {
			rec[c] = vals[i]
		}
		index = append(index, offset+len(recs))
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read dataset page at %d: %w", offset, err)
	}
	return table.NewIndexed(p.columns, index, recs), nil
}
