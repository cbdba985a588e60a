package skill

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nidhogg/tutor/internal/runtime"
	"github.com/nidhogg/tutor/internal/table"
)

// Executor applies one descriptor snapshot to one batch.
type Executor struct {
	logger *zap.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(logger *zap.Logger) *Executor {
	return &Executor{logger: logger}
}

// Execute runs inference over batch and returns a copy of it with the
// prediction column, named after the skill, added or overwritten. Backend
// failures are returned as they are; nothing is retried here.
func (e *Executor) Execute(ctx context.Context, batch *table.Batch, snap *Snapshot, rt runtime.Runtime) (*table.Batch, error) {
	preds, err := rt.ProcessBatch(ctx, batch, runtime.Request{
		Input:        snap.Input,
		Output:       snap.Output,
		Instructions: snap.Instructions,
		Extra:        snap.Extra,
	})
	if err != nil {
		return nil, err
	}
	if !preds.HasColumn(snap.PredictionColumn) {
		return nil, fmt.Errorf("execute %s: prediction column %q: %w", snap.Name, snap.PredictionColumn, table.ErrColumnNotFound)
	}

	out, err := batch.Merge(preds.Rename(snap.PredictionColumn, snap.Name))
	if err != nil {
		return nil, fmt.Errorf("execute %s: %w", snap.Name, err)
	}
	e.logger.Debug("batch executed", zap.String("skill", snap.Name), zap.Int("rows", out.Len()))
	return out, nil
}
