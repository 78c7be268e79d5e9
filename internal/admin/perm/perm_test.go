package perm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type subject map[string]interface{}

func (s subject) Get(name string) interface{} { return s[name] }

var (
	anon    = Anonymous()
	alice   = Identity{UserID: 1, Username: "alice", Roles: []string{"editor"}}
	bob     = Identity{UserID: 2, Username: "bob", Roles: []string{"viewer"}}
	rootUsr = Identity{UserID: 3, Username: "root", Superuser: true}
)

func TestIdentity(t *testing.T) {
	assert.True(t, anon.IsAnonymous())
	assert.False(t, alice.IsAnonymous())
	assert.True(t, alice.HasRole("editor"))
	assert.False(t, alice.HasRole("viewer"))

	assert.Equal(t, "anonymous", anon.Key())
	assert.Equal(t, "user:3:su", rootUsr.Key())
	multi := Identity{UserID: 7, Roles: []string{"b", "a"}}
	assert.Equal(t, "user:7:a,b", multi.Key())
	assert.Equal(t, []string{"b", "a"}, multi.Roles)
}

func TestModel_FailsClosed(t *testing.T) {
	m := NewModel()
	assert.False(t, m.Check(View, alice, nil))
	assert.False(t, m.Check(View, anon, nil))
	assert.True(t, m.Check(View, rootUsr, nil))

	var nilModel *Model
	assert.False(t, nilModel.Check(View, alice, nil))
	assert.True(t, nilModel.Check(View, rootUsr, nil))
}

func TestModel_Predicates(t *testing.T) {
	table := NewRoleTable(
		&Role{Name: "editor", Permissions: []string{"books.edit"}},
		&Role{Name: "admin", Permissions: []string{"*"}},
	)

	m := NewModel().
		Allow(Anyone(), View, List).
		Allow(Authenticated(), Add).
		Allow(AnyOf(Permission(table, "books.edit"), Owner("owner_id")), Edit).
		Allow(All(Roles("editor"), Owner("owner_id")), Delete).
		Allow(Roles("viewer"), Action("export"))

	own := subject{"owner_id": int64(2)}

	assert.True(t, m.Check(View, anon, nil))
	assert.False(t, m.Check(Add, anon, nil))
	assert.True(t, m.Check(Add, bob, nil))

	assert.True(t, m.Check(Edit, alice, own), "editor permission")
	assert.True(t, m.Check(Edit, bob, own), "owner")
	assert.False(t, m.Check(Edit, bob, subject{"owner_id": int64(9)}))

	assert.False(t, m.Check(Delete, alice, own), "editor but not owner")
	assert.True(t, m.Check(Action("export"), bob, nil))
	assert.False(t, m.Check(Action("import"), bob, nil))
}

func TestModel_AttributeFallback(t *testing.T) {
	m := NewModel().
		AllowAttributes(Authenticated()).
		Allow(Roles("editor"), Attr("revenue"))

	assert.True(t, m.Check(Attr("title"), bob, nil))
	assert.False(t, m.Check(Attr("title"), anon, nil))
	assert.False(t, m.Check(Attr("revenue"), bob, nil))
	assert.True(t, m.Check(Attr("revenue"), alice, nil))
	assert.False(t, m.Check(View, bob, nil))
}

func TestOwner_WithoutSubject(t *testing.T) {
	p := Owner("owner_id")
	assert.True(t, p(bob, nil))
	assert.False(t, p(anon, nil))
}

func TestRoleTable(t *testing.T) {
	table := NewRoleTable(&Role{Name: "editor", Permissions: []string{"a", "b"}})
	assert.True(t, table.HasPermission([]string{"viewer", "editor"}, "b"))
	assert.False(t, table.HasPermission([]string{"viewer"}, "b"))
	assert.Nil(t, table.Role("viewer"))

	var empty *RoleTable
	assert.False(t, empty.HasPermission([]string{"editor"}, "a"))
}

func TestScopeRule(t *testing.T) {
	r := ScopeRule{Roles: []string{"viewer"}, Field: "owner_id"}
	assert.True(t, r.Matches(bob))
	assert.False(t, r.Matches(alice))
	assert.False(t, r.Matches(anon))
	assert.Equal(t, int64(2), r.Value(bob))

	everyone := ScopeRule{Field: "team", Lookup: func(id Identity) interface{} { return id.Username }}
	assert.True(t, everyone.Matches(alice))
	assert.Equal(t, "alice", everyone.Value(alice))
	assert.Equal(t, "scope(team by )", everyone.String())
	assert.False(t, everyone.Matches(anon))

	public := ScopeRule{Field: "published", Lookup: func(Identity) interface{} { return true }, Public: true}
	assert.True(t, public.Matches(anon))
	assert.True(t, public.Matches(bob))
}
