package authsync

import (
	"context"

	"github.com/goliatone/go-router"
)

var identityCtxKey = &contextKey{"identity"}

type contextKey struct {
	name string
}

// WithIdentity sets the resolved Identity in the given context.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey, identity.Clone())
}

// IdentityFromContext finds the Identity in the context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	if ctx == nil {
		return nil, false
	}
	raw, ok := ctx.Value(identityCtxKey).(*Identity)
	if !ok || raw == nil {
		return nil, false
	}
	return raw.Clone(), true
}

// HasRole reports whether the context identity carries role.
func HasRole(ctx context.Context, role Role) bool {
	identity, ok := IdentityFromContext(ctx)
	return ok && identity.Role == role
}

// IdentityFromRouter finds the Identity on the request context of a router
// request, as set by a middleware calling SetContext.
func IdentityFromRouter(ctx router.Context) (*Identity, bool) {
	if ctx == nil {
		return nil, false
	}
	return IdentityFromContext(ctx.Context())
}

// HasRoleFromRouter is HasRole for router contexts.
func HasRoleFromRouter(ctx router.Context, role Role) bool {
	identity, ok := IdentityFromRouter(ctx)
	return ok && identity.Role == role
}
