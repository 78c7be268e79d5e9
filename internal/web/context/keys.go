package context

import (
	"context"

	"github.com/conduit-lang/admin/internal/admin/perm"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey int

const (
	requestIDKey contextKey = iota
	identityKey
)

// GetRequestID extracts the request ID from the context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// SetRequestID adds the request ID to the context
func SetRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetIdentity returns the caller stored in the context, anonymous if none
func GetIdentity(ctx context.Context) perm.Identity {
	if id, ok := ctx.Value(identityKey).(perm.Identity); ok {
		return id
	}
	return perm.Anonymous()
}

// SetIdentity adds the caller to the context
func SetIdentity(ctx context.Context, id perm.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}
