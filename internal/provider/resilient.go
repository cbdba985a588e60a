package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Resilient wraps a Provider with client-side rate limiting and retries of
// transient failures (429, 5xx, network errors).
type Resilient struct {
	Provider
	limiter *rate.Limiter
	retry   RetryConfig
	logger  *zap.Logger
}

// NewResilient wraps p using the rate and retry settings of cfg.
func NewResilient(p Provider, cfg ProviderConfig, logger *zap.Logger) *Resilient {
	limit := rate.Inf
	burst := cfg.Burst
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
		if burst <= 0 {
			burst = 1
		}
	}
	return &Resilient{
		Provider: p,
		limiter:  rate.NewLimiter(limit, burst),
		retry:    cfg.Retry,
		logger:   logger,
	}
}

// Chat waits for the rate limiter, then sends the request, retrying
// transient failures.
func (r *Resilient) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	call := func() (*ChatResponse, error) {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
		return r.Provider.Chat(ctx, req)
	}

	if r.retry.Attempts == 0 {
		return call()
	}

	delay := r.retry.InitialDelay
	if delay <= 0 {
		delay = time.Second
	}
	maxDelay := r.retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}

	return retry.DoWithData(call,
		retry.RetryIf(isRetryable),
		retry.Attempts(r.retry.Attempts),
		retry.Delay(delay),
		retry.MaxDelay(maxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			r.logger.Warn("retrying provider call",
				zap.String("provider", r.ID()),
				zap.Uint("attempt", n+1),
				zap.Uint("max_attempts", r.retry.Attempts),
				zap.Error(err))
		}),
	)
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// New builds a provider from its configuration, wrapped for rate limiting and
// retries.
func New(cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	var p Provider
	switch cfg.Type {
	case "openai":
		p = NewOpenAIProvider(cfg, logger)
	case "anthropic":
		p = NewAnthropicProvider(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown provider type %q for %s", cfg.Type, cfg.ID)
	}
	return NewResilient(p, cfg, logger), nil
}
