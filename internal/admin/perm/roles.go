package perm

// Role is a named set of permissions
type Role struct {
	Name        string
	Permissions []string
}

// HasPermission checks if the role has a specific permission
func (r *Role) HasPermission(permission string) bool {
	for _, p := range r.Permissions {
		if p == permission || p == "*" {
			return true
		}
	}
	return false
}

// RoleTable maps role names to roles. It is built once at start-up and only read afterwards.
type RoleTable struct {
	roles map[string]*Role
}

// NewRoleTable creates a table from roles
func NewRoleTable(roles ...*Role) *RoleTable {
	t := &RoleTable{roles: make(map[string]*Role, len(roles))}
	for _, r := range roles {
		t.roles[r.Name] = r
	}
	return t
}

// Role returns a role by name, nil if unknown
func (t *RoleTable) Role(name string) *Role {
	if t == nil {
		return nil
	}
	return t.roles[name]
}

// HasPermission checks if any of the given roles grants permission
func (t *RoleTable) HasPermission(roles []string, permission string) bool {
	for _, name := range roles {
		if role := t.Role(name); role != nil && role.HasPermission(permission) {
			return true
		}
	}
	return false
}
