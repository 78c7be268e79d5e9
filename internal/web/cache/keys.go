package cache

import (
	"context"
	"strings"
)

// SlotKey returns the key of a cached slot value. The identity key comes
// first so every entry of one caller shares a prefix.
func SlotKey(identity, path string) string {
	return IdentityPrefix(identity) + strings.Trim(path, "/")
}

// IdentityPrefix returns the prefix shared by all slot keys of an identity
func IdentityPrefix(identity string) string {
	return "slot:" + identity + ":"
}

// PrefixDeleter is implemented by backends that can drop a key range
type PrefixDeleter interface {
	DeletePrefix(ctx context.Context, prefix string) error
}

// Forget drops every cached slot of an identity when the backend supports it
func Forget(ctx context.Context, c Cache, identity string) error {
	if d, ok := c.(PrefixDeleter); ok {
		return d.DeletePrefix(ctx, IdentityPrefix(identity))
	}
	return nil
}
