// Package tenant binds the active tenant identifier to one unit of work.
//
// The binding travels with a context.Context, never with goroutine identity:
// work that fans out keeps the tenant only by passing the same ctx along.
package tenant

import (
	"context"
	"strings"
	"sync"

	"github.com/and161185/lotus-core/internal/errs"
)

type ctxKey string

const scopeKey ctxKey = "lotus.tenantScope"

// Scope holds the tenant of a single unit of work.
type Scope struct {
	mu sync.RWMutex
	id string
}

// Set makes id the current tenant. A blank id leaves the scope empty.
func (s *Scope) Set(id string) {
	s.mu.Lock()
	s.id = strings.TrimSpace(id)
	s.mu.Unlock()
}

// Current returns the tenant, or false when none is set.
func (s *Scope) Current() (string, bool) {
	if s == nil {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id, s.id != ""
}

// Clear drops the tenant. Safe to call repeatedly.
func (s *Scope) Clear() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.id = ""
	s.mu.Unlock()
}

// Begin binds a fresh, empty scope to ctx.
func Begin(ctx context.Context) (context.Context, *Scope) {
	s := &Scope{}
	return context.WithValue(ctx, scopeKey, s), s
}

// FromContext returns the scope bound to ctx or nil.
func FromContext(ctx context.Context) *Scope {
	s, _ := ctx.Value(scopeKey).(*Scope)
	return s
}

// Current returns the tenant bound to ctx.
func Current(ctx context.Context) (string, bool) {
	return FromContext(ctx).Current()
}

// Require returns the tenant bound to ctx or errs.ErrTenantRequired.
func Require(ctx context.Context) (string, error) {
	id, ok := Current(ctx)
	if !ok {
		return "", errs.ErrTenantRequired
	}
	return id, nil
}

// WithTenant binds a new scope already set to id.
func WithTenant(ctx context.Context, id string) context.Context {
	ctx, s := Begin(ctx)
	s.Set(id)
	return ctx
}

// Run executes fn inside a scope set to id and clears it on every exit path,
// panics included.
func Run(ctx context.Context, id string, fn func(ctx context.Context) error) error {
	ctx, s := Begin(ctx)
	s.Set(id)
	defer s.Clear()
	return fn(ctx)
}
