// Package demo registers a small library catalogue: authors, books and the
// accounts allowed to manage them. It backs `serve --demo` and the
// transport's end-to-end tests.
package demo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/conduit-lang/admin/internal/admin/graph"
	"github.com/conduit-lang/admin/internal/admin/meta"
	"github.com/conduit-lang/admin/internal/admin/perm"
	"github.com/conduit-lang/admin/internal/admin/task"
	"github.com/conduit-lang/admin/internal/orm/query"
	"github.com/conduit-lang/admin/internal/orm/record"
	"github.com/conduit-lang/admin/internal/orm/schema"
	"github.com/conduit-lang/admin/internal/orm/store"
	"github.com/conduit-lang/admin/internal/web/auth"
)

// RoleLibrarian may manage every book
const RoleLibrarian = "librarian"

// AuthorSchema describes authors
func AuthorSchema() *schema.ModelSchema {
	return schema.NewBuilder("Author").
		Label("Author", "Authors").
		Icon("user").
		Title("name").
		String("name").
		Enum("country", "fr=France", "gb=United Kingdom", "us=United States").
		MustBuild()
}

// BookSchema describes books. owner_id is the reader holding the book.
func BookSchema() *schema.ModelSchema {
	return schema.NewBuilder("Book").
		Label("Book", "Books").
		Icon("book").
		Title("title").
		String("title").
		Int("pages").
		Enum("genre", "novel", "essay", "poetry").
		Date("published").
		Bool("available").
		Field("owner_id", "Holder", &schema.TypeSpec{BaseType: schema.TypeInt, Nullable: true}).
		BelongsTo("author_id", "Author", "books").
		MustBuild()
}

// Schemas returns the catalogue schemas, as needed by the SQL store
func Schemas() (*schema.Registry, error) {
	reg := schema.NewRegistry()
	for _, s := range []*schema.ModelSchema{AuthorSchema(), BookSchema()} {
		if err := reg.Register(s); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Register adds Author and Book to reg and initializes it
func Register(reg *graph.Registry) error {
	if err := reg.Register(authorConfig()); err != nil {
		return err
	}
	if err := reg.Register(bookConfig()); err != nil {
		return err
	}
	return reg.Init()
}

func authorConfig() graph.ModelConfig {
	return graph.ModelConfig{
		Schema:     AuthorSchema(),
		Collection: "authors",
		Permissions: perm.NewModel().
			Allow(perm.Anyone(), perm.List, perm.View).
			AllowAttributes(perm.Anyone()).
			Allow(perm.Roles(RoleLibrarian), perm.Add, perm.Edit, perm.Delete),
		Scopes: []perm.ScopeRule{{Public: true}},
		Slots: []*graph.SlotSpec{{
			Name:     "shelf",
			Label:    "Pages by genre",
			CacheTTL: time.Minute,
			Resolve: func(req *graph.Request, rec *record.Record) (interface{}, error) {
				books, ok := req.Registry.Type("Book")
				if !ok {
					return nil, fmt.Errorf("book type is not registered")
				}
				written := books.All(req).Filter("author_id", query.OpEqual, rec.ID)
				return graph.NewStatistics(written, "shelf", "genre", "", graph.Sum("pages")), nil
			},
		}},
		List: func(c *graph.Collection) *graph.Collection {
			return c.Display("name", "country").SearchFields("name").Filters("country").Ordering("name")
		},
		Bootstrap: []string{graph.VerbAdd, graph.VerbEdit, graph.VerbDelete},
	}
}

func bookConfig() graph.ModelConfig {
	return graph.ModelConfig{
		Schema:     BookSchema(),
		Collection: "books",
		Permissions: perm.NewModel().
			Allow(perm.Anyone(), perm.List, perm.View).
			AllowAttributes(perm.Anyone()).
			Allow(perm.Roles(RoleLibrarian), perm.Add, perm.Delete, perm.Action("restock"), perm.Action("tidy")).
			Allow(perm.AnyOf(perm.Roles(RoleLibrarian), perm.Owner("owner_id")), perm.Edit).
			Allow(perm.Authenticated(), perm.Action("borrow")),
		// anonymous readers see what is on the shelves, readers also what they
		// hold, librarians everything
		Scopes: []perm.ScopeRule{
			{Public: true, Field: "available", Lookup: func(perm.Identity) interface{} { return true }},
			{Field: "owner_id"},
			{Roles: []string{RoleLibrarian}},
		},
		Slots: []*graph.SlotSpec{{
			Name:     "blurb",
			Deferred: true,
			Resolve: func(req *graph.Request, rec *record.Record) (interface{}, error) {
				pages, _ := rec.Int("pages")
				return fmt.Sprintf("%s, %d pages", rec.String("title"), pages), nil
			},
		}},
		Actions: []*graph.ActionSpec{borrowAction(), restockAction(), tidyAction()},
		Subsets: map[string]graph.SubsetFunc{
			"available": func(c *graph.Collection) *graph.Collection {
				return c.Filter("available", query.OpEqual, true)
			},
		},
		List: func(c *graph.Collection) *graph.Collection {
			return c.Display("title", "author_id", "genre", "available").
				SearchFields("title").
				Filters("genre", "available", "published").
				Ordering("title").
				Attach("available").
				Actions(meta.Batch, "restock", graph.VerbDelete)
		},
		View:      [][]string{{"title", "author_id"}, {"genre", "pages"}, {"published", "available"}, {"blurb"}},
		Bootstrap: []string{graph.VerbAdd, graph.VerbEdit, graph.VerbDelete},
	}
}

// borrowAction lends an available book to the caller
func borrowAction() *graph.ActionSpec {
	return &graph.ActionSpec{
		Key:    "borrow",
		Target: graph.TargetInstance,
		Icon:   "hand",
		Execute: func(ac *graph.ActionContext) (graph.Document, error) {
			if !ac.Record.Bool("available") {
				return nil, fmt.Errorf("%s is already borrowed", ac.Record.String("title"))
			}
			rec := ac.Record.Clone()
			rec.Set("available", false)
			rec.Set("owner_id", ac.Request.Identity.UserID)
			return nil, ac.Store().Update(ac.Context(), rec)
		},
	}
}

// restockAction puts the selected books back on the shelves
func restockAction() *graph.ActionSpec {
	return &graph.ActionSpec{
		Key:    "restock",
		Target: graph.TargetQueryset,
		Execute: func(ac *graph.ActionContext) (graph.Document, error) {
			rec := ac.Record.Clone()
			rec.Set("available", true)
			rec.Set("owner_id", nil)
			return nil, ac.Store().Update(ac.Context(), rec)
		},
	}
}

// tidyAction trims book titles in the background, reporting per book
func tidyAction() *graph.ActionSpec {
	return &graph.ActionSpec{
		Key:        "tidy",
		Name:       "Tidy titles",
		Target:     graph.TargetModel,
		Background: true,
		Execute: func(ac *graph.ActionContext) (graph.Document, error) {
			ctx := ac.Context()
			books, err := ac.Store().Find(ctx, "Book", store.Query{})
			if err != nil {
				return nil, err
			}
			tidied := 0
			for i, b := range books {
				if ac.Reporter != nil && ac.Reporter.Stopped(ctx) {
					return nil, task.ErrStopped
				}
				title := strings.Join(strings.Fields(b.String("title")), " ")
				if title != b.String("title") {
					rec := b.Clone()
					rec.Set("title", title)
					if err := ac.Store().Update(ctx, rec); err != nil {
						return nil, err
					}
					tidied++
				}
				if ac.Reporter != nil {
					if err := ac.Reporter.Report(ctx, i+1, len(books), title); err != nil {
						return nil, err
					}
				}
			}
			return &graph.MessageDocument{Type: "message", Text: fmt.Sprintf("%d titles tidied", tidied)}, nil
		},
	}
}

// Seed inserts three authors and their books
func Seed(ctx context.Context, st store.Store) error {
	authors := []struct {
		name, country string
		books         []map[string]interface{}
	}{
		{"Marguerite Yourcenar", "fr", []map[string]interface{}{
			book("Memoirs of Hadrian", "novel", 347, 1951, true),
			book("The Abyss", "novel", 374, 1968, true),
		}},
		{"Virginia Woolf", "gb", []map[string]interface{}{
			book("A Room of One's Own", "essay", 172, 1929, true),
			book("  The   Waves ", "novel", 297, 1931, false),
		}},
		{"Mary Oliver", "us", []map[string]interface{}{
			book("Devotions", "poetry", 480, 2017, true),
		}},
	}

	for _, a := range authors {
		author, err := st.Insert(ctx, record.New("Author", 0, map[string]interface{}{
			"name":    a.name,
			"country": a.country,
		}))
		if err != nil {
			return fmt.Errorf("failed to seed author %s: %w", a.name, err)
		}
		for _, fields := range a.books {
			fields["author_id"] = author.ID
			if _, err := st.Insert(ctx, record.New("Book", 0, fields)); err != nil {
				return fmt.Errorf("failed to seed book %s: %w", fields["title"], err)
			}
		}
	}
	return nil
}

func book(title, genre string, pages int64, year int, available bool) map[string]interface{} {
	fields := map[string]interface{}{
		"title":     title,
		"genre":     genre,
		"pages":     pages,
		"published": time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC),
		"available": available,
	}
	if !available {
		fields["owner_id"] = ReaderID
	}
	return fields
}

// Demo account ids
const (
	AdminID     int64 = 1
	LibrarianID int64 = 2
	ReaderID    int64 = 3
)

// Users returns the demo accounts; each password equals the username
func Users() (*auth.Directory, error) {
	dir, err := auth.NewDirectory()
	if err != nil {
		return nil, err
	}
	accounts := []auth.User{
		{ID: AdminID, Username: "admin", Superuser: true},
		{ID: LibrarianID, Username: "librarian", Roles: []string{RoleLibrarian}},
		{ID: ReaderID, Username: "reader"},
	}
	for _, u := range accounts {
		if err := dir.AddWithPassword(u, u.Username); err != nil {
			return nil, err
		}
	}
	return dir, nil
}
