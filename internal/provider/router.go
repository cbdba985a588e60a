package provider

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Roles a router can bind providers to.
const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
)

// Router manages multiple LLM providers and routes requests by role.
type Router struct {
	providers map[string]Provider
	bindings  map[string]string   // role -> providerID
	fallbacks map[string][]string // role -> fallback provider chain
	defaults  string              // default provider ID
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewRouter creates a new provider router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		providers: make(map[string]Provider),
		bindings:  make(map[string]string),
		fallbacks: make(map[string][]string),
		logger:    logger,
	}
}

// Register adds a provider to the router.
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
	if r.defaults == "" {
		r.defaults = p.ID()
	}
	r.logger.Info("registered provider", zap.String("id", p.ID()), zap.String("name", p.Name()))
}

// SetDefault sets the default provider.
func (r *Router) SetDefault(providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults = providerID
}

// DefaultID returns the current default provider ID.
func (r *Router) DefaultID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaults
}

// Bind associates a role with a specific provider.
func (r *Router) Bind(role, providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[role] = providerID
}

// SetFallbacks configures fallback providers for a role.
func (r *Router) SetFallbacks(role string, providerIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks[role] = providerIDs
}

// Route sends a chat request through the provider bound to role, walking the
// fallback chain when the primary fails. Fallbacks receive the request with
// the model cleared.
func (r *Router) Route(ctx context.Context, role string, req *ChatRequest) (*ChatResponse, error) {
	r.mu.RLock()
	primary := r.getProvider(role)
	var chain []Provider
	for _, fbID := range r.fallbacks[role] {
		if fb, ok := r.providers[fbID]; ok {
			chain = append(chain, fb)
		}
	}
	r.mu.RUnlock()

	if primary == nil {
		return nil, fmt.Errorf("no provider available for role %s", role)
	}

	resp, err := primary.Chat(ctx, req)
	if err == nil {
		return resp, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	if len(chain) > 0 {
		r.logger.Warn("primary provider failed, trying fallbacks",
			zap.String("role", role), zap.String("provider", primary.ID()), zap.Error(err))
	}

	// The role's model names a model of the primary; fallbacks use their own
	// first configured model.
	fbReq := *req
	fbReq.Model = ""
	for _, fb := range chain {
		resp, err = fb.Chat(ctx, &fbReq)
		if err == nil {
			return resp, nil
		}
		r.logger.Warn("fallback provider failed", zap.String("provider", fb.ID()), zap.Error(err))
	}

	return nil, fmt.Errorf("all providers failed for role %s: %w", role, err)
}

func (r *Router) getProvider(role string) Provider {
	if pid, ok := r.bindings[role]; ok {
		if p, ok := r.providers[pid]; ok {
			return p
		}
	}
	if p, ok := r.providers[r.defaults]; ok {
		return p
	}
	return nil
}

// GetProvider returns a provider by ID.
func (r *Router) GetProvider(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// ListProviders returns all registered providers.
func (r *Router) ListProviders() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		result = append(result, p)
	}
	return result
}
