package graph

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/conduit-lang/admin/internal/admin/perm"
	"github.com/conduit-lang/admin/internal/orm/query"
	"github.com/conduit-lang/admin/internal/orm/record"
	"github.com/conduit-lang/admin/internal/orm/schema"
	"github.com/conduit-lang/admin/internal/orm/store"
	"github.com/stretchr/testify/require"
)

var (
	root   = perm.Identity{UserID: 1, Username: "root", Superuser: true}
	editor = perm.Identity{UserID: 2, Username: "ed", Roles: []string{"editor"}}
	writer = perm.Identity{UserID: 3, Username: "wr", Roles: []string{"author"}}
)

func authorSchema() *schema.ModelSchema {
	return schema.NewBuilder("Author").
		Label("Author", "Authors").
		Icon("user").
		Title("name").
		String("name").
		Enum("country", "fr=France", "us=United States").
		MustBuild()
}

func bookSchema() *schema.ModelSchema {
	return schema.NewBuilder("Book").
		Label("Book", "Books").
		Icon("book").
		Title("title").
		String("title").
		Int("pages").
		Enum("genre", "novel", "essay").
		Date("published").
		Bool("available").
		Int("owner_id").
		BelongsTo("author_id", "Author", "books").
		MustBuild()
}

// archiveAction fails on books titled "Broken"
func archiveAction() *ActionSpec {
	return &ActionSpec{
		Key:    "archive",
		Target: TargetQueryset,
		Execute: func(ac *ActionContext) (Document, error) {
			if ac.Record.String("title") == "Broken" {
				return nil, errors.New("binding is broken")
			}
			rec := ac.Record.Clone()
			rec.Set("available", false)
			return nil, ac.Store().Update(ac.Context(), rec)
		},
	}
}

func bookConfig() ModelConfig {
	return ModelConfig{
		Schema:     bookSchema(),
		Collection: "books",
		Permissions: perm.NewModel().
			AllowCRUD(perm.Authenticated()).
			AllowAttributes(perm.Anyone()).
			Allow(perm.Roles("editor"), perm.Action("archive")),
		Scopes: []perm.ScopeRule{
			{Roles: []string{"editor"}},
			{Roles: []string{"author"}, Field: "owner_id"},
		},
		Slots: []*SlotSpec{
			{Name: "summary", Resolve: func(_ *Request, rec *record.Record) (interface{}, error) {
				pages, _ := rec.Int("pages")
				return fmt.Sprintf("%s (%d pages)", rec.String("title"), pages), nil
			}},
		},
		Actions: []*ActionSpec{archiveAction()},
		Subsets: map[string]SubsetFunc{
			"available": func(c *Collection) *Collection {
				return c.Filter("available", query.OpEqual, true)
			},
		},
		Bootstrap: []string{VerbAdd, VerbEdit, VerbDelete},
	}
}

func authorConfig() ModelConfig {
	return ModelConfig{
		Schema:      authorSchema(),
		Collection:  "authors",
		Permissions: perm.NewModel().AllowCRUD(perm.Authenticated()).AllowAttributes(perm.Anyone()),
		Scopes:      []perm.ScopeRule{{Public: true}},
	}
}

type fixture struct {
	reg   *Registry
	store *store.MemoryStore
	ctx   context.Context
}

// newFixture registers Author and Book; tweak may adjust the book config
func newFixture(t *testing.T, tweak func(cfg *ModelConfig), opts ...Option) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	reg := NewRegistry(st, opts...)

	books := bookConfig()
	if tweak != nil {
		tweak(&books)
	}
	require.NoError(t, reg.Register(authorConfig()))
	require.NoError(t, reg.Register(books))
	require.NoError(t, reg.Init())
	return &fixture{reg: reg, store: st, ctx: context.Background()}
}

func (f *fixture) req(id perm.Identity) *Request {
	return NewRequest(f.ctx, f.reg, id, nil)
}

func (f *fixture) books(t *testing.T) *ModelType {
	t.Helper()
	mt, ok := f.reg.Type("Book")
	require.True(t, ok)
	return mt
}

func (f *fixture) authors(t *testing.T) *ModelType {
	t.Helper()
	mt, ok := f.reg.Type("Author")
	require.True(t, ok)
	return mt
}

func (f *fixture) insert(t *testing.T, model string, fields map[string]interface{}) *record.Record {
	t.Helper()
	rec, err := f.store.Insert(f.ctx, record.New(model, 0, fields))
	require.NoError(t, err)
	return rec
}

// seedBooks inserts n books "Book 01".."Book nn". Even books belong to the
// writer and are available; pages are 100+i.
func (f *fixture) seedBooks(t *testing.T, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		owner := int64(4)
		if i%2 == 0 {
			owner = writer.UserID
		}
		genre := "novel"
		if i%3 == 0 {
			genre = "essay"
		}
		f.insert(t, "Book", map[string]interface{}{
			"title":     fmt.Sprintf("Book %02d", i),
			"pages":     int64(100 + i),
			"genre":     genre,
			"published": time.Date(2024, time.March, i, 0, 0, 0, 0, time.UTC),
			"available": i%2 == 0,
			"owner_id":  owner,
		})
	}
}
