package graph

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/conduit-lang/admin/internal/admin/meta"
	"github.com/conduit-lang/admin/internal/admin/perm"
	"github.com/conduit-lang/admin/internal/orm/query"
	"github.com/conduit-lang/admin/internal/orm/record"
	"github.com/conduit-lang/admin/internal/orm/schema"
	"github.com/conduit-lang/admin/internal/orm/store"
	"github.com/conduit-lang/admin/internal/orm/validation"
)

// Collection is a configured, filterable, paginated set of records of one
// model type. Every method returns a new Collection; the receiver is never
// modified, so differently configured collections derived from one base
// never observe each other.
type Collection struct {
	mt   *ModelType
	name string
	path string
	bag  meta.Bag
	// where is only appended to through a full slice expression so
	// siblings never share a backing array slot
	where        []*query.PredicateGroup
	search       string
	subset       string
	params       url.Values
	instantiator *record.Record
	err          error
}

func newCollection(mt *ModelType, name, path string) *Collection {
	return &Collection{mt: mt, name: name, path: path, bag: meta.New().WithPageSize(mt.registry.pageSize)}
}

func (c *Collection) clone() *Collection {
	cp := *c
	return &cp
}

func (c *Collection) fail(name, reason string) *Collection {
	cp := c.clone()
	if cp.err == nil {
		cp.err = &ConfigurationError{Model: c.mt.Name(), Name: name, Reason: reason}
	}
	return cp
}

func (c *Collection) narrow(g *query.PredicateGroup) *Collection {
	cp := c.clone()
	cp.where = append(c.where[:len(c.where):len(c.where)], g)
	return cp
}

func (c *Collection) defaultActions() *Collection {
	cp := c.clone()
	for _, kind := range meta.ActionKinds {
		if kind == meta.Inline {
			continue
		}
		cp.bag = cp.bag.WithActions(kind, c.mt.ActionKeys(kind)...)
	}
	return cp
}

// Err returns the first configuration error recorded by a builder call
func (c *Collection) Err() error { return c.err }

// Type returns the element type
func (c *Collection) Type() *ModelType { return c.mt }

// Name returns the collection name
func (c *Collection) Name() string { return c.name }

// Path returns the path the collection was reached by
func (c *Collection) Path() string { return c.path }

// Metadata returns the metadata bag
func (c *Collection) Metadata() meta.Bag { return c.bag }

// Instantiator returns the record that produced the collection, if any
func (c *Collection) Instantiator() *record.Record { return c.instantiator }

// Named returns a copy with another name
func (c *Collection) Named(name string) *Collection {
	cp := c.clone()
	cp.name = name
	return cp
}

// At returns a copy reached by path
func (c *Collection) At(path string) *Collection {
	cp := c.clone()
	cp.path = path
	return cp
}

func (c *Collection) instantiatedBy(rec *record.Record) *Collection {
	cp := c.clone()
	cp.instantiator = rec
	return cp
}

func (c *Collection) hasSlot(name string) bool {
	_, ok := c.mt.slots[name]
	return ok
}

func (c *Collection) fieldNames(names []string) (string, bool) {
	for _, n := range names {
		if !c.mt.schema.HasField(n) {
			return n, false
		}
	}
	return "", true
}

// Display sets the displayed fields or slots
func (c *Collection) Display(names ...string) *Collection {
	for _, n := range names {
		if !c.hasSlot(n) {
			return c.fail(n, "is not a field or slot")
		}
	}
	cp := c.clone()
	cp.bag = c.bag.WithDisplay(names...)
	return cp
}

// SearchFields sets the fields free-text search looks into
func (c *Collection) SearchFields(names ...string) *Collection {
	if n, ok := c.fieldNames(names); !ok {
		return c.fail(n, "is not a field")
	}
	cp := c.clone()
	cp.bag = c.bag.WithSearch(names...)
	return cp
}

// Filters sets the fields clients may filter on
func (c *Collection) Filters(names ...string) *Collection {
	if n, ok := c.fieldNames(names); !ok {
		return c.fail(n, "is not a field")
	}
	cp := c.clone()
	cp.bag = c.bag.WithFilters(names...)
	return cp
}

// Ordering sets the sort order; a "-" prefix sorts descending
func (c *Collection) Ordering(names ...string) *Collection {
	for _, n := range names {
		if !c.mt.schema.HasField(strings.TrimPrefix(n, "-")) {
			return c.fail(n, "is not a field")
		}
	}
	cp := c.clone()
	cp.bag = c.bag.WithOrdering(names...)
	return cp
}

// LimitPerPage sets the page size
func (c *Collection) LimitPerPage(n int) *Collection {
	if n < 1 {
		return c.fail(strconv.Itoa(n), "is not a valid page size")
	}
	cp := c.clone()
	cp.bag = c.bag.WithPageSize(n)
	return cp
}

// Attach advertises named subsets
func (c *Collection) Attach(names ...string) *Collection {
	for _, n := range names {
		if _, ok := c.mt.subsets[n]; !ok {
			return c.fail(n, "is not a subset")
		}
	}
	cp := c.clone()
	cp.bag = c.bag.WithAttachments(names...)
	return cp
}

// Actions sets the action keys advertised under kind
func (c *Collection) Actions(kind meta.ActionKind, keys ...string) *Collection {
	for _, k := range keys {
		if _, ok := c.mt.actions[k]; !ok {
			return c.fail(k, "is not an action")
		}
	}
	cp := c.clone()
	cp.bag = c.bag.WithActions(kind, keys...)
	return cp
}

// Ignore hides names from display, filters and search
func (c *Collection) Ignore(names ...string) *Collection {
	for _, n := range names {
		if !c.hasSlot(n) {
			return c.fail(n, "is not a field or slot")
		}
	}
	cp := c.clone()
	cp.bag = c.bag.WithIgnore(names...)
	return cp
}

// Template sets a rendering hint passed through to clients
func (c *Collection) Template(name string) *Collection {
	cp := c.clone()
	cp.bag = c.bag.WithTemplate(name)
	return cp
}

// Paginate selects a page. The page is clamped to the valid range when the
// window is computed, so calling Paginate twice with the same page is a no-op.
func (c *Collection) Paginate(page int) *Collection {
	cp := c.clone()
	cp.bag = c.bag.WithPage(page)
	return cp
}

// Search keeps records containing q in any search field. An empty q is a no-op.
func (c *Collection) Search(q string) *Collection {
	q = strings.TrimSpace(q)
	if q == "" {
		return c
	}
	fields := c.bag.ResolveSearch(c.mt.schema)
	if len(fields) == 0 {
		return c
	}
	g := query.NewPredicateGroup(true)
	for _, f := range fields {
		g.AddCondition(&query.Condition{Field: f, Operator: query.OpContains, Value: q, Or: true})
	}
	cp := c.narrow(g)
	cp.search = q
	return cp
}

// Filter keeps records whose field satisfies op against value
func (c *Collection) Filter(field string, op query.Operator, value interface{}) *Collection {
	if !c.mt.schema.HasField(field) {
		return c.fail(field, "is not a field")
	}
	g := query.NewPredicateGroup(false)
	g.AddCondition(&query.Condition{Field: field, Operator: op, Value: value})
	return c.narrow(g)
}

// WithIDs keeps the records with the given ids
func (c *Collection) WithIDs(ids ...int64) *Collection {
	values := make([]interface{}, len(ids))
	for i, id := range ids {
		values[i] = id
	}
	g := query.NewPredicateGroup(false)
	g.AddCondition(&query.Condition{Field: schema.PrimaryKey, Operator: query.OpIn, Value: values})
	return c.narrow(g)
}

// Subset applies a named subset
func (c *Collection) Subset(name string) *Collection {
	fn, ok := c.mt.subsets[name]
	if !ok {
		return c.fail(name, "is not a subset")
	}
	cp := fn(c).clone()
	cp.subset = name
	return cp
}

// ApplyRoleScope narrows the collection to the records identity may see.
// Superusers see everything. Otherwise every matching scope rule
// contributes "field equals value"; a matching rule without a field lifts
// the restriction. Without any matching rule the result is empty.
func (c *Collection) ApplyRoleScope(id perm.Identity) *Collection {
	if id.Superuser {
		return c
	}
	g := query.NewPredicateGroup(true)
	for _, rule := range c.mt.scopes {
		if !rule.Matches(id) {
			continue
		}
		if rule.Field == "" {
			return c
		}
		g.AddCondition(&query.Condition{Field: rule.Field, Operator: query.OpEqual, Value: rule.Value(id), Or: true})
	}
	if len(g.Conditions) == 0 {
		return c.WithIDs()
	}
	return c.narrow(g)
}

// ApplyParams applies the query parameters clients send to a collection:
// q, subset, <filter>, <filter>__gte, <filter>__lte, ordering and page.
// Unknown or malformed values are ignored.
func (c *Collection) ApplyParams(params url.Values) *Collection {
	if len(params) == 0 {
		return c
	}
	out := c.Search(params.Get("q"))

	if s := params.Get("subset"); s != "" && contains(out.bag.Attachments(), s) {
		out = out.Subset(s)
	}

	for _, name := range out.bag.ResolveFilters(c.mt.schema) {
		f, ok := c.mt.schema.Field(name)
		if !ok {
			continue
		}
		for suffix, op := range map[string]query.Operator{
			"":      query.OpEqual,
			"__gte": query.OpGreaterThanOrEqual,
			"__lte": query.OpLessThanOrEqual,
		} {
			raw := params.Get(name + suffix)
			if raw == "" {
				continue
			}
			v, err := validation.Coerce(f.Type, raw)
			if err != nil {
				continue
			}
			out = out.Filter(name, op, v)
		}
	}

	if o := params.Get("ordering"); o != "" {
		var ordering []string
		for _, n := range strings.Split(o, ",") {
			n = strings.TrimSpace(n)
			if c.mt.schema.HasField(strings.TrimPrefix(n, "-")) {
				ordering = append(ordering, n)
			}
		}
		if len(ordering) > 0 {
			out = out.Ordering(ordering...)
		}
	}

	if p := params.Get("page"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			out = out.Paginate(n)
		}
	}

	out = out.clone()
	out.params = params
	return out
}

func (c *Collection) storeQuery() store.Query {
	where := query.NewPredicateGroup(false)
	for _, g := range c.where {
		where.AddGroup(g)
	}
	return store.Query{Where: where, OrderBy: c.bag.Ordering()}
}

// Count returns how many records the collection holds, ignoring pagination
func (c *Collection) Count(ctx context.Context) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	return c.mt.registry.store.Count(ctx, c.mt.Name(), c.storeQuery())
}

// All returns every record, ignoring pagination
func (c *Collection) All(ctx context.Context) ([]*record.Record, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.mt.registry.store.Find(ctx, c.mt.Name(), c.storeQuery())
}

// Get returns the record with id if the collection holds it
func (c *Collection) Get(ctx context.Context, id int64) (*record.Record, error) {
	recs, err := c.WithIDs(id).All(ctx)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, notFound("%s %d", c.mt.Name(), id)
	}
	return recs[0], nil
}

// Pagination computes the page window. The requested page is clamped to
// [1, pages]; an empty collection has a single page.
func (c *Collection) Pagination(ctx context.Context) (Pagination, error) {
	count, err := c.Count(ctx)
	if err != nil {
		return Pagination{}, err
	}
	return paginate(count, c.bag.Page(), c.bag.PageSize()), nil
}

func paginate(count, page, size int) Pagination {
	pages := (count + size - 1) / size
	if pages < 1 {
		pages = 1
	}
	if page > pages {
		page = pages
	}
	if page < 1 {
		page = 1
	}

	p := Pagination{Page: page, PageSize: size, Pages: pages, Count: count}
	if count == 0 {
		p.Interval = "0–0"
	} else {
		p.Interval = fmt.Sprintf("%d–%d", (page-1)*size+1, page*size)
	}
	if page > 1 {
		p.Previous = page - 1
	}
	if page < pages {
		p.Next = page + 1
	}
	return p
}

// Records returns the records of the selected page
func (c *Collection) Records(ctx context.Context) ([]*record.Record, error) {
	p, err := c.Pagination(ctx)
	if err != nil {
		return nil, err
	}
	return c.window(ctx, p)
}

func (c *Collection) window(ctx context.Context, p Pagination) ([]*record.Record, error) {
	q := c.storeQuery()
	q.Limit = p.PageSize
	q.Offset = (p.Page - 1) * p.PageSize
	return c.mt.registry.store.Find(ctx, c.mt.Name(), q)
}

// Exposed returns the action keys the collection advertises for the next path token
func (c *Collection) Exposed(batch bool) []string {
	if batch {
		return c.bag.Actions(meta.Batch)
	}
	return c.bag.Actions(meta.Global)
}

// Declared returns every action key the element type defines for the binding shape
func (c *Collection) Declared(batch bool) []string {
	if batch {
		return c.mt.ActionKeys(meta.Batch)
	}
	return c.mt.ActionKeys(meta.Global)
}

// Serialize returns the self-describing document of the selected page
func (c *Collection) Serialize(req *Request) (*CollectionDocument, error) {
	ctx := req.Context()
	p, err := c.Pagination(ctx)
	if err != nil {
		return nil, err
	}
	recs, err := c.window(ctx, p)
	if err != nil {
		return nil, err
	}
	rows, err := c.rows(req, recs, true)
	if err != nil {
		return nil, err
	}

	ms := c.mt.schema
	doc := &CollectionDocument{
		Type:     TypeCollection,
		Name:     c.name,
		Count:    p.Count,
		Path:     c.path,
		Template: c.bag.Template(),
		Data:     rows,
		Metadata: CollectionMetadata{
			Search:     SearchMetadata{Fields: nonNil(c.bag.ResolveSearch(ms)), Query: c.search},
			Display:    c.columns(),
			Filters:    c.filterFields(),
			Ordering:   nonNil(c.bag.Ordering()),
			Pagination: p,
		},
		Actions: CollectionActions{
			Model:    c.actionMetadata(req, meta.Global, c.path+"/"),
			Instance: c.actionMetadata(req, meta.Instance, c.path+"/{id}/"),
			Queryset: c.actionMetadata(req, meta.Batch, c.path+"/{ids}/"),
		},
		Attach: make(map[string]SubsetSummary),
	}

	for _, name := range c.bag.Attachments() {
		n, err := c.Subset(name).Count(ctx)
		if err != nil {
			return nil, err
		}
		label := c.mt.subsetTags[name]
		if label == "" {
			label = schema.Humanize(name)
		}
		doc.Attach[name] = SubsetSummary{Label: label, Path: c.path + "?subset=" + url.QueryEscape(name), Count: n}
	}
	return doc, nil
}

// Rows returns the selected page as bare rows, for embedding. With detail
// each row lists the instance actions the caller may run on it.
func (c *Collection) Rows(req *Request, detail bool) ([]RowDocument, error) {
	recs, err := c.Records(req.Context())
	if err != nil {
		return nil, err
	}
	return c.rows(req, recs, detail)
}

func (c *Collection) rows(req *Request, recs []*record.Record, detail bool) ([]RowDocument, error) {
	display := c.bag.ResolveDisplay(c.mt.schema)
	rows := make([]RowDocument, 0, len(recs))
	for _, rec := range recs {
		path := c.path + "/" + rec.Path()
		data, err := NewRecordView(c.mt, rec, c.mt.Title(rec), path).Declare(display...).Load(req)
		if err != nil {
			return nil, err
		}
		row := RowDocument{ID: rec.ID, Path: path, Data: data}
		if detail {
			for _, key := range c.bag.Actions(meta.Instance) {
				if a, ok := c.mt.actions[key]; ok && a.Allowed(req.Identity, c.mt, rec) {
					row.Actions = append(row.Actions, key)
				}
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (c *Collection) columns() []Column {
	display := c.bag.ResolveDisplay(c.mt.schema)
	out := make([]Column, 0, len(display))
	for _, name := range display {
		out = append(out, Column{Name: name, Label: c.mt.slots[name].Label})
	}
	return out
}

func (c *Collection) filterFields() []FilterField {
	names := c.bag.ResolveFilters(c.mt.schema)
	out := make([]FilterField, 0, len(names))
	for _, name := range names {
		f, ok := c.mt.schema.Field(name)
		if !ok {
			continue
		}
		ff := FilterField{Name: name, Label: f.Label, Type: filterType(f)}
		if c.params != nil {
			ff.Value = c.params.Get(name)
		}
		out = append(out, ff)
	}
	return out
}

func filterType(f *schema.Field) string {
	switch {
	case f.IsForeignKey():
		return "fk"
	case f.Type.HasChoices():
		return "choice"
	default:
		return f.Type.BaseType.String()
	}
}

func (c *Collection) actionMetadata(req *Request, kind meta.ActionKind, prefix string) []ActionMetadata {
	out := []ActionMetadata{}
	for _, key := range c.bag.Actions(kind) {
		a, ok := c.mt.actions[key]
		if !ok || !a.Allowed(req.Identity, c.mt, nil) {
			continue
		}
		out = append(out, a.Metadata(kindTarget(kind), prefix+key))
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
