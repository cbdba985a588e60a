// Package runtime defines the inference backend contract skills run against,
// and an implementation that prompts chat providers.
package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/nidhogg/tutor/internal/provider"
	"github.com/nidhogg/tutor/internal/table"
	"github.com/nidhogg/tutor/internal/template"
)

// Request carries the templates and instructions for one batch or record call.
type Request struct {
	Input        *template.Input
	Output       *template.Output
	Instructions string
	Extra        map[string]any
}

// Runtime is an inference backend.
type Runtime interface {
	// ProcessBatch runs one inference per row. The result has one column per
	// output capture and the same index, row order and row count as batch.
	ProcessBatch(ctx context.Context, batch *table.Batch, req Request) (*table.Batch, error)

	// ProcessRecord runs a single inference. Fields are named by the output
	// captures; the unnamed capture "" holds the whole response.
	ProcessRecord(ctx context.Context, record table.Record, req Request) (table.Record, error)

	// Render expands input against every row without calling a model.
	Render(ctx context.Context, batch *table.Batch, input *template.Input, extra map[string]any) ([]string, error)
}

// BackendError wraps a failed inference call.
type BackendError struct {
	Op   string
	Role string
	Err  error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s (%s): %v", e.Op, e.Role, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Chatter routes a chat request to the provider serving role.
// *provider.Router satisfies it.
type Chatter interface {
	Route(ctx context.Context, role string, req *provider.ChatRequest) (*provider.ChatResponse, error)
}

// ChatFunc adapts a function to Chatter.
type ChatFunc func(ctx context.Context, role string, req *provider.ChatRequest) (*provider.ChatResponse, error)

func (f ChatFunc) Route(ctx context.Context, role string, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	return f(ctx, role, req)
}

// Cache stores raw model responses by request key.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// Observer receives one callback per model call.
type Observer interface {
	ObserveInference(role string, d time.Duration, usage provider.Usage, cached bool, err error)
}
