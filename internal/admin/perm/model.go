package perm

import (
	"fmt"
	"strings"

	"github.com/conduit-lang/admin/internal/orm/query"
)

// Capability names something an identity may do to a node
type Capability string

const (
	View   Capability = "view"
	Add    Capability = "add"
	Edit   Capability = "edit"
	Delete Capability = "delete"
	List   Capability = "list"
)

// Attr returns the capability of reading a named slot
func Attr(name string) Capability {
	return Capability("attr:" + name)
}

// Action returns the capability of running an action
func Action(key string) Capability {
	return Capability("action:" + key)
}

// Subject is the node a capability is checked against. Records satisfy it;
// a nil Subject means the model itself.
type Subject interface {
	Get(name string) interface{}
}

// Predicate decides a capability for an identity and subject
type Predicate func(id Identity, subject Subject) bool

// Anyone allows every caller, anonymous included
func Anyone() Predicate {
	return func(Identity, Subject) bool { return true }
}

// Nobody denies every caller except superusers
func Nobody() Predicate {
	return func(Identity, Subject) bool { return false }
}

// Authenticated allows every non-anonymous caller
func Authenticated() Predicate {
	return func(id Identity, _ Subject) bool { return !id.IsAnonymous() }
}

// Roles allows callers carrying any of roles
func Roles(roles ...string) Predicate {
	return func(id Identity, _ Subject) bool {
		for _, r := range roles {
			if id.HasRole(r) {
				return true
			}
		}
		return false
	}
}

// Permission allows callers whose roles grant permission in table
func Permission(table *RoleTable, permission string) Predicate {
	return func(id Identity, _ Subject) bool {
		return table.HasPermission(id.Roles, permission)
	}
}

// Owner allows callers whose user id equals the subject's field.
// Without a subject it allows any authenticated caller, so owners can list and add.
func Owner(field string) Predicate {
	return func(id Identity, subject Subject) bool {
		if id.IsAnonymous() {
			return false
		}
		if subject == nil {
			return true
		}
		return query.Equal(subject.Get(field), id.UserID)
	}
}

// All allows callers satisfying every predicate
func All(preds ...Predicate) Predicate {
	return func(id Identity, subject Subject) bool {
		for _, p := range preds {
			if !p(id, subject) {
				return false
			}
		}
		return true
	}
}

// AnyOf allows callers satisfying at least one predicate
func AnyOf(preds ...Predicate) Predicate {
	return func(id Identity, subject Subject) bool {
		for _, p := range preds {
			if p(id, subject) {
				return true
			}
		}
		return false
	}
}

// Model maps capabilities to predicates. Rules are added while a model type
// is registered and only read afterwards.
type Model struct {
	rules map[Capability]Predicate
	// attrDefault decides attr:<name> capabilities that have no rule of their own
	attrDefault Predicate
}

// NewModel creates a model without rules; every check fails for non-superusers
func NewModel() *Model {
	return &Model{rules: make(map[Capability]Predicate)}
}

// Allow sets the predicate of one or more capabilities
func (m *Model) Allow(pred Predicate, caps ...Capability) *Model {
	for _, c := range caps {
		m.rules[c] = pred
	}
	return m
}

// AllowCRUD sets the predicate of view, list, add, edit and delete
func (m *Model) AllowCRUD(pred Predicate) *Model {
	return m.Allow(pred, View, List, Add, Edit, Delete)
}

// AllowAttributes sets the fallback predicate of attr:<name> capabilities
func (m *Model) AllowAttributes(pred Predicate) *Model {
	m.attrDefault = pred
	return m
}

// Has reports whether a rule exists for c
func (m *Model) Has(c Capability) bool {
	_, ok := m.rules[c]
	return ok
}

// Check evaluates capability c. Superusers always pass; capabilities
// without a rule are denied.
func (m *Model) Check(c Capability, id Identity, subject Subject) bool {
	if id.Superuser {
		return true
	}
	if m == nil {
		return false
	}
	if pred, ok := m.rules[c]; ok {
		return pred(id, subject)
	}
	if strings.HasPrefix(string(c), "attr:") && m.attrDefault != nil {
		return m.attrDefault(id, subject)
	}
	return false
}

// ScopeRule narrows the records an identity may see. An identity matching
// Roles sees the records whose Field equals Lookup(identity); an empty Field
// means every record.
type ScopeRule struct {
	// Roles that the rule applies to; empty matches every authenticated caller
	Roles  []string
	Field  string
	Lookup func(id Identity) interface{}
	// Public rules also apply to anonymous callers
	Public bool
}

// Matches reports whether the rule applies to id
func (r ScopeRule) Matches(id Identity) bool {
	if r.Public {
		return true
	}
	if id.IsAnonymous() {
		return false
	}
	if len(r.Roles) == 0 {
		return true
	}
	return Roles(r.Roles...)(id, nil)
}

// Value returns the value the scoped field must equal for id
func (r ScopeRule) Value(id Identity) interface{} {
	if r.Lookup == nil {
		return id.UserID
	}
	return r.Lookup(id)
}

// String describes the rule for logs
func (r ScopeRule) String() string {
	field := r.Field
	if field == "" {
		field = "*"
	}
	return fmt.Sprintf("scope(%s by %s)", field, strings.Join(r.Roles, "|"))
}
