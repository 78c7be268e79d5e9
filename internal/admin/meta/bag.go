// Package meta holds the display configuration attached to collections and
// record views. A Bag is an immutable value: every With method returns a new
// Bag and never touches the receiver, so differently configured siblings
// cannot observe each other.
package meta

import (
	"sort"
)

// ActionKind names one of the four action lists a node advertises
type ActionKind string

const (
	// Global actions need no record (model target)
	Global ActionKind = "global"
	// Instance actions are bound to one record
	Instance ActionKind = "instance"
	// Batch actions are bound to many records (queryset target)
	Batch ActionKind = "batch"
	// Inline actions are embedded in a record view
	Inline ActionKind = "inline"
)

// ActionKinds lists every kind in display order
var ActionKinds = []ActionKind{Global, Instance, Batch, Inline}

// DefaultPageSize is the page size of a Bag that never set one
const DefaultPageSize = 10

// Bag is the display, search, filter, ordering, pagination and action
// configuration of a node. The zero value is usable and equals New().
//
// Slices held by a Bag are never written after construction. With methods
// copy only the slice they replace; untouched slices are shared.
type Bag struct {
	display     []string
	search      []string
	filters     []string
	ordering    []string
	page        int
	pageSize    int
	attachments []string
	actions     map[ActionKind][]string
	ignore      []string
	template    string
}

// New returns an empty Bag on page 1 with the default page size
func New() Bag {
	return Bag{page: 1, pageSize: DefaultPageSize}
}

// Display returns the configured display names
func (b Bag) Display() []string { return clone(b.display) }

// Search returns the configured search fields
func (b Bag) Search() []string { return clone(b.search) }

// Filters returns the configured filter fields
func (b Bag) Filters() []string { return clone(b.filters) }

// Ordering returns the configured ordering, "-" prefixed for descending
func (b Bag) Ordering() []string { return clone(b.ordering) }

// Attachments returns the named subsets a collection advertises
func (b Bag) Attachments() []string { return clone(b.attachments) }

// Ignore returns names excluded from display, filters and search
func (b Bag) Ignore() []string { return clone(b.ignore) }

// Template returns the optional template hint
func (b Bag) Template() string { return b.template }

// Page returns the requested page, at least 1
func (b Bag) Page() int {
	if b.page < 1 {
		return 1
	}
	return b.page
}

// PageSize returns the page size, DefaultPageSize when unset
func (b Bag) PageSize() int {
	if b.pageSize < 1 {
		return DefaultPageSize
	}
	return b.pageSize
}

// Actions returns the action keys advertised under kind
func (b Bag) Actions(kind ActionKind) []string {
	return clone(b.actions[kind])
}

// WithDisplay returns a copy displaying names
func (b Bag) WithDisplay(names ...string) Bag {
	b.display = clone(names)
	return b
}

// WithSearch returns a copy searching names
func (b Bag) WithSearch(names ...string) Bag {
	b.search = clone(names)
	return b
}

// WithFilters returns a copy filtering by names
func (b Bag) WithFilters(names ...string) Bag {
	b.filters = clone(names)
	return b
}

// WithOrdering returns a copy ordered by names
func (b Bag) WithOrdering(names ...string) Bag {
	b.ordering = clone(names)
	return b
}

// WithAttachments returns a copy advertising the named subsets
func (b Bag) WithAttachments(names ...string) Bag {
	b.attachments = clone(names)
	return b
}

// WithIgnore returns a copy ignoring names
func (b Bag) WithIgnore(names ...string) Bag {
	b.ignore = clone(names)
	return b
}

// WithTemplate returns a copy with a template hint
func (b Bag) WithTemplate(name string) Bag {
	b.template = name
	return b
}

// WithPage returns a copy requesting page. Values below 1 become 1;
// the upper bound is only known once the records are counted.
func (b Bag) WithPage(page int) Bag {
	if page < 1 {
		page = 1
	}
	b.page = page
	return b
}

// WithPageSize returns a copy with page size n; n < 1 restores the default
func (b Bag) WithPageSize(n int) Bag {
	if n < 1 {
		n = DefaultPageSize
	}
	b.pageSize = n
	return b
}

// WithActions returns a copy advertising keys under kind
func (b Bag) WithActions(kind ActionKind, keys ...string) Bag {
	actions := make(map[ActionKind][]string, len(b.actions)+1)
	for k, v := range b.actions {
		actions[k] = v
	}
	actions[kind] = clone(keys)
	b.actions = actions
	return b
}

// Ignored reports whether name is in the ignore list
func (b Bag) Ignored(name string) bool {
	for _, n := range b.ignore {
		if n == name {
			return true
		}
	}
	return false
}

// AllActions returns every advertised action key, sorted and deduplicated
func (b Bag) AllActions() []string {
	seen := make(map[string]bool)
	var out []string
	for _, keys := range b.actions {
		for _, k := range keys {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	sort.Strings(out)
	return out
}

func clone(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
