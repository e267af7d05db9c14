// Package tenant carries the current tenant scope through a call chain on
// context.Context. Each job execution derives its own context, so a scope
// set for one execution is never visible to a concurrently running one.
// There is no mutable global.
package tenant

import (
	"context"

	"github.com/pkg/errors"
)

// ErrNoTenant is returned where an operation requires a tenant scope and
// none is resolvable from the context.
var ErrNoTenant = errors.New("no tenant in context")

// Scope identifies the tenant (and optionally the acting user) a unit of
// work runs on behalf of.
type Scope struct {
	TenantID    string
	UserID      string
	Permissions []string
}

type ctxKey struct{}

// With returns a context carrying the given scope.
func With(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, ctxKey{}, &s)
}

// Strip returns a context with any tenant scope removed. Processors call
// this in their deferred cleanup so a failure cannot leave a stale scope
// attached to a reused context.
func Strip(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, (*Scope)(nil))
}

// FromContext returns the scope and whether one is present.
func FromContext(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(ctxKey{}).(*Scope)
	if !ok || s == nil {
		return Scope{}, false
	}
	return *s, true
}

// ID returns the current tenant id, or "" when unscoped.
func ID(ctx context.Context) string {
	s, _ := FromContext(ctx)
	return s.TenantID
}

// UserID returns the current user id, or "" when unscoped.
func UserID(ctx context.Context) string {
	s, _ := FromContext(ctx)
	return s.UserID
}

// Permissions returns the current permission set, nil when unscoped.
func Permissions(ctx context.Context) []string {
	s, _ := FromContext(ctx)
	return s.Permissions
}

// Run executes fn with a context scoped to s. The scope lives exactly as
// long as the call; it cannot leak into other logical tasks.
func Run(ctx context.Context, s Scope, fn func(ctx context.Context) error) error {
	return fn(With(ctx, s))
}
