package skill

import (
	"context"
	"slices"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nidhogg/tutor/internal/dataset"
	"github.com/nidhogg/tutor/internal/runtime"
	"github.com/nidhogg/tutor/internal/table"
)

// Driver runs a skill over every batch of a dataset.
type Driver struct {
	exec        *Executor
	concurrency int
	logger      *zap.Logger
}

// NewDriver creates a Driver that keeps at most concurrency batches in
// flight. Values below one run batches one at a time.
func NewDriver(exec *Executor, concurrency int, logger *zap.Logger) *Driver {
	return &Driver{exec: exec, concurrency: max(concurrency, 1), logger: logger}
}

// Apply executes snap over ds and concatenates the results in batch order.
// A dataset without batches yields an empty batch with the dataset's columns
// plus the skill column.
func (d *Driver) Apply(ctx context.Context, ds dataset.Dataset, snap *Snapshot, rt runtime.Runtime) (*table.Batch, error) {
	type slot struct{ out *table.Batch }
	var slots []*slot

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for batch, err := range ds.Batches(gctx) {
		if err != nil {
			g.Go(func() error { return err })
			break
		}
		s := &slot{}
		slots = append(slots, s)
		g.Go(func() error {
			out, err := d.exec.Execute(gctx, batch, snap, rt)
			if err != nil {
				return err
			}
			s.out = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(slots) == 0 {
		cols := slices.Clone(ds.Columns())
		if !slices.Contains(cols, snap.Name) {
			cols = append(cols, snap.Name)
		}
		return table.Empty(cols), nil
	}

	parts := make([]*table.Batch, len(slots))
	for i, s := range slots {
		parts[i] = s.out
	}
	d.logger.Info("skill applied",
		zap.String("skill", snap.Name),
		zap.Int("batches", len(parts)),
	)
	return table.Concat(parts...), nil
}
