package runtime

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nidhogg/tutor/internal/cache"
	"github.com/nidhogg/tutor/internal/provider"
	"github.com/nidhogg/tutor/internal/table"
	"github.com/nidhogg/tutor/internal/template"
)

// Config tunes an LLM runtime.
type Config struct {
	Role        string  `json:"role"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	// Concurrency bounds the rows of one batch that are in flight at once.
	Concurrency int `json:"concurrency"`
}

// LLM is a Runtime that prompts a chat provider once per record.
type LLM struct {
	chat     Chatter
	cfg      Config
	cache    Cache
	observer Observer
	logger   *zap.Logger
}

// NewLLM creates an LLM runtime routing calls for cfg.Role through chat.
func NewLLM(chat Chatter, cfg Config, logger *zap.Logger) *LLM {
	if cfg.Role == "" {
		cfg.Role = provider.RoleStudent
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &LLM{
		chat:   chat,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "runtime"), zap.String("role", cfg.Role)),
	}
}

// WithCache enables response caching.
func (l *LLM) WithCache(c Cache) *LLM {
	l.cache = c
	return l
}

// WithObserver attaches a per-call observer, typically metrics.
func (l *LLM) WithObserver(o Observer) *LLM {
	l.observer = o
	return l
}

// Role returns the router role this runtime calls.
func (l *LLM) Role() string { return l.cfg.Role }

// ProcessBatch implements Runtime.
func (l *LLM) ProcessBatch(ctx context.Context, batch *table.Batch, req Request) (*table.Batch, error) {
	instr, err := template.ParseInput(req.Instructions)
	if err != nil {
		return nil, &BackendError{Op: "process batch", Role: l.cfg.Role, Err: err}
	}
	head, err := req.Output.Bind(req.Extra)
	if err != nil {
		return nil, &BackendError{Op: "process batch", Role: l.cfg.Role, Err: err}
	}

	rows := make([]table.Record, batch.Len())
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.Concurrency)
	for i, row := range batch.Rows {
		g.Go(func() error {
			out, err := l.process(gctx, row, instr, req)
			if err != nil {
				return err
			}
			rows[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	l.logger.Debug("batch processed", zap.Int("rows", batch.Len()), zap.Strings("fields", head.Names()))
	return table.NewIndexed(head.Names(), batch.Index, rows), nil
}

// ProcessRecord implements Runtime.
func (l *LLM) ProcessRecord(ctx context.Context, record table.Record, req Request) (table.Record, error) {
	instr, err := template.ParseInput(req.Instructions)
	if err != nil {
		return nil, &BackendError{Op: "process record", Role: l.cfg.Role, Err: err}
	}
	return l.process(ctx, record, instr, req)
}

// Render implements Runtime.
func (l *LLM) Render(_ context.Context, batch *table.Batch, input *template.Input, extra map[string]any) ([]string, error) {
	out := make([]string, batch.Len())
	for i, row := range batch.Rows {
		s, err := input.Render(template.Merge(extra, row))
		if err != nil {
			return nil, fmt.Errorf("render row %d: %w", batch.Index[i], err)
		}
		out[i] = s
	}
	return out, nil
}

func (l *LLM) process(ctx context.Context, record table.Record, instr *template.Input, req Request) (table.Record, error) {
	vars := template.Merge(req.Extra, record)

	system, err := instr.Render(vars)
	if err != nil {
		return nil, &BackendError{Op: "render instructions", Role: l.cfg.Role, Err: err}
	}
	var user string
	if req.Input != nil {
		if user, err = req.Input.Render(vars); err != nil {
			return nil, &BackendError{Op: "render input", Role: l.cfg.Role, Err: err}
		}
	}
	spec, err := req.Output.Bind(vars)
	if err != nil {
		return nil, &BackendError{Op: "bind output", Role: l.cfg.Role, Err: err}
	}

	content, err := l.complete(ctx, buildMessages(system, user, spec))
	if err != nil {
		return nil, &BackendError{Op: "chat", Role: l.cfg.Role, Err: err}
	}

	out, err := parseFields(content, spec)
	if err != nil {
		return nil, &BackendError{Op: "parse response", Role: l.cfg.Role, Err: err}
	}
	return out, nil
}

func (l *LLM) complete(ctx context.Context, msgs []provider.Message) (string, error) {
	var key string
	if l.cache != nil {
		parts := []string{l.cfg.Role, l.cfg.Model, fmt.Sprint(l.cfg.Temperature)}
		for _, m := range msgs {
			parts = append(parts, m.Role, m.Content)
		}
		key = cache.Key(parts...)
		v, ok, err := l.cache.Get(ctx, key)
		if err != nil {
			l.logger.Warn("cache lookup failed", zap.Error(err))
		} else if ok {
			l.observe(0, provider.Usage{}, true, nil)
			return v, nil
		}
	}

	start := time.Now()
	resp, err := l.chat.Route(ctx, l.cfg.Role, &provider.ChatRequest{
		Model:       l.cfg.Model,
		Messages:    msgs,
		Temperature: l.cfg.Temperature,
		MaxTokens:   l.cfg.MaxTokens,
	})
	if err != nil {
		l.observe(time.Since(start), provider.Usage{}, false, err)
		return "", err
	}
	l.observe(time.Since(start), resp.Usage, false, nil)

	if l.cache != nil {
		if err := l.cache.Set(ctx, key, resp.Content); err != nil {
			l.logger.Warn("cache store failed", zap.Error(err))
		}
	}
	return resp.Content, nil
}

func (l *LLM) observe(d time.Duration, usage provider.Usage, cached bool, err error) {
	if l.observer != nil {
		l.observer.ObserveInference(l.cfg.Role, d, usage, cached, err)
	}
}
