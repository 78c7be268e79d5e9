// Package perm evaluates capability predicates for caller identities.
// Checks fail closed: a capability without a rule is denied to everyone
// except superusers.
package perm

import (
	"sort"
	"strconv"
	"strings"
)

// Identity is the caller of a request. The zero value is the anonymous caller.
type Identity struct {
	UserID    int64
	Username  string
	Roles     []string
	Superuser bool
}

// Anonymous returns the unauthenticated identity
func Anonymous() Identity {
	return Identity{}
}

// IsAnonymous reports whether the identity is unauthenticated
func (i Identity) IsAnonymous() bool {
	return i.UserID == 0 && i.Username == "" && !i.Superuser
}

// HasRole reports whether the identity carries role
func (i Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Key returns a stable string identifying the identity and everything that
// influences what it may see. Slot caches include it in every key.
func (i Identity) Key() string {
	if i.IsAnonymous() {
		return "anonymous"
	}
	roles := make([]string, len(i.Roles))
	copy(roles, i.Roles)
	sort.Strings(roles)

	var b strings.Builder
	b.WriteString("user:")
	b.WriteString(strconv.FormatInt(i.UserID, 10))
	if i.Superuser {
		b.WriteString(":su")
	}
	if len(roles) > 0 {
		b.WriteString(":")
		b.WriteString(strings.Join(roles, ","))
	}
	return b.String()
}
