package auth

import (
	"context"

	"github.com/conduit-lang/admin/internal/admin/perm"
	webcontext "github.com/conduit-lang/admin/internal/web/context"
)

// GetIdentity returns the authenticated caller, anonymous when the request carried no token
func GetIdentity(ctx context.Context) perm.Identity {
	return webcontext.GetIdentity(ctx)
}

// SetIdentity returns a context carrying id
func SetIdentity(ctx context.Context, id perm.Identity) context.Context {
	return webcontext.SetIdentity(ctx, id)
}
