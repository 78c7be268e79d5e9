package meta

import (
	"github.com/conduit-lang/admin/internal/orm/schema"
)

// defaultDisplayCount is how many fields DefaultDisplay picks
const defaultDisplayCount = 5

// DefaultDisplay returns the first five non-id fields of the model
func DefaultDisplay(ms *schema.ModelSchema) []string {
	var out []string
	for _, f := range ms.Fields() {
		if f.Name == schema.PrimaryKey {
			continue
		}
		out = append(out, f.Name)
		if len(out) == defaultDisplayCount {
			break
		}
	}
	return out
}

// DefaultFilters returns the boolean, date, foreign-key and choice fields
func DefaultFilters(ms *schema.ModelSchema) []string {
	var out []string
	for _, f := range ms.Fields() {
		switch {
		case f.Type.BaseType == schema.TypeBool,
			f.Type.IsTemporal(),
			f.IsForeignKey(),
			f.Type.HasChoices():
			out = append(out, f.Name)
		}
	}
	return out
}

// DefaultSearch returns the text fields
func DefaultSearch(ms *schema.ModelSchema) []string {
	var out []string
	for _, f := range ms.Fields() {
		if f.Type.IsText() {
			out = append(out, f.Name)
		}
	}
	return out
}

// ResolveDisplay returns the configured display names, or the defaults,
// minus ignored names
func (b Bag) ResolveDisplay(ms *schema.ModelSchema) []string {
	return b.resolve(b.display, DefaultDisplay, ms)
}

// ResolveFilters returns the configured filters, or the defaults,
// minus ignored names
func (b Bag) ResolveFilters(ms *schema.ModelSchema) []string {
	return b.resolve(b.filters, DefaultFilters, ms)
}

// ResolveSearch returns the configured search fields, or the defaults,
// minus ignored names
func (b Bag) ResolveSearch(ms *schema.ModelSchema) []string {
	return b.resolve(b.search, DefaultSearch, ms)
}

func (b Bag) resolve(configured []string, fallback func(*schema.ModelSchema) []string, ms *schema.ModelSchema) []string {
	names := configured
	if len(names) == 0 {
		names = fallback(ms)
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !b.Ignored(n) {
			out = append(out, n)
		}
	}
	return out
}
