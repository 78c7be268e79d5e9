// Package graph implements the self-describing object graph served by the
// admin: collections of records, record views made of slots, statistics and
// actions. Model types are declared once at start-up against a Registry; every
// request then builds its own short-lived nodes from that registry.
package graph

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/conduit-lang/admin/internal/admin/meta"
	"github.com/conduit-lang/admin/internal/admin/perm"
	"github.com/conduit-lang/admin/internal/admin/task"
	"github.com/conduit-lang/admin/internal/orm/query"
	"github.com/conduit-lang/admin/internal/orm/record"
	"github.com/conduit-lang/admin/internal/orm/schema"
	"github.com/conduit-lang/admin/internal/orm/store"
	"github.com/conduit-lang/admin/internal/web/cache"
	"go.uber.org/zap"
)

// DefaultNamespace is used by model configs that do not name one
const DefaultNamespace = "admin"

// Request carries everything a node needs to resolve itself for one caller
type Request struct {
	ctx      context.Context
	Registry *Registry
	Identity perm.Identity
	Params   url.Values
}

// NewRequest creates a request context for identity
func NewRequest(ctx context.Context, reg *Registry, identity perm.Identity, params url.Values) *Request {
	if params == nil {
		params = url.Values{}
	}
	return &Request{ctx: ctx, Registry: reg, Identity: identity, Params: params}
}

// Context returns the request context
func (r *Request) Context() context.Context {
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// SlotResolver computes the value of a slot for one record. The result is a
// primitive, a *Collection, a *RecordView, a *StatisticsView or a Document.
type SlotResolver func(req *Request, rec *record.Record) (interface{}, error)

// SlotSpec declares a named slot of a model type
type SlotSpec struct {
	Name  string
	Label string
	// Resolve computes the value; nil reads the field of the same name
	Resolve SlotResolver
	// CacheTTL caches the serialized value per caller and path when positive
	CacheTTL time.Duration
	// Deferred slots serialize as a placeholder; the value is computed when
	// the slot path itself is requested
	Deferred bool
}

// SubsetFunc narrows a collection to a named alternate subset
type SubsetFunc func(c *Collection) *Collection

// ModelConfig is everything a model type declares at registration
type ModelConfig struct {
	Schema      *schema.ModelSchema
	Namespace   string
	Collection  string
	Permissions *perm.Model
	// Scopes narrow the collections of non-superusers; no matching rule means no records
	Scopes  []perm.ScopeRule
	Slots   []*SlotSpec
	Actions []*ActionSpec
	Subsets map[string]SubsetFunc
	// SubsetLabels overrides the humanized label of subsets
	SubsetLabels map[string]string
	// List configures the collection served under the namespace
	List func(c *Collection) *Collection
	// View lays out the record view: one row per entry, several names share a row
	View [][]string
	// Bootstrap lists the generated actions to enable: add, edit, delete
	Bootstrap []string
}

// ModelType is a registered model with its slots, actions and permissions
type ModelType struct {
	registry   *Registry
	schema     *schema.ModelSchema
	namespace  string
	collection string
	perms      *perm.Model
	scopes     []perm.ScopeRule
	slots      map[string]*SlotSpec
	slotOrder  []string
	actions    map[string]*ActionSpec
	subsets    map[string]SubsetFunc
	subsetTags map[string]string
	list       func(c *Collection) *Collection
	view       [][]string
	bootstrap  []string
}

// Name returns the model name
func (mt *ModelType) Name() string { return mt.schema.Name }

// Schema returns the model schema
func (mt *ModelType) Schema() *schema.ModelSchema { return mt.schema }

// Permissions returns the capability rules of the model
func (mt *ModelType) Permissions() *perm.Model { return mt.perms }

// Path returns the path of the model's collection
func (mt *ModelType) Path() string {
	return "/" + mt.namespace + "/" + mt.collection
}

// Slot returns a declared or implicit slot
func (mt *ModelType) Slot(name string) (*SlotSpec, bool) {
	s, ok := mt.slots[name]
	return s, ok
}

// SlotNames returns every slot name in declaration order
func (mt *ModelType) SlotNames() []string {
	return append([]string(nil), mt.slotOrder...)
}

// Action returns a declared or bootstrap action
func (mt *ModelType) Action(key string) (*ActionSpec, bool) {
	a, ok := mt.actions[key]
	return a, ok
}

// ActionKeys returns the keys of the actions advertised under kind, sorted
func (mt *ModelType) ActionKeys(kind meta.ActionKind) []string {
	var keys []string
	for key, a := range mt.actions {
		if a.Advertised(kind) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// Title returns the display string of a record
func (mt *ModelType) Title(rec *record.Record) string {
	if mt.schema.Title != "" {
		if s := rec.String(mt.schema.Title); s != "" {
			return s
		}
	}
	return mt.schema.Label + " #" + strconv.FormatInt(rec.ID, 10)
}

// Base returns every record of the model visible to the caller, configured
// with the model's default metadata but not its List configuration
func (mt *ModelType) Base(req *Request) *Collection {
	return newCollection(mt, mt.collection, mt.Path()).
		defaultActions().
		ApplyRoleScope(req.Identity)
}

// All returns the collection served under the namespace
func (mt *ModelType) All(req *Request) *Collection {
	c := mt.Base(req)
	if mt.list != nil {
		c = mt.list(c)
	}
	return c
}

// View builds the default record view of rec. The instance actions come
// from the collection the record was selected from.
func (mt *ModelType) View(rec *record.Record, from *Collection) *RecordView {
	path := mt.Path() + "/" + rec.Path()
	if from != nil {
		path = from.Path() + "/" + rec.Path()
	}
	rv := NewRecordView(mt, rec, mt.Title(rec), path)
	for _, row := range mt.layout() {
		if len(row) == 1 {
			rv = rv.Declare(row[0])
		} else {
			rv = rv.DeclareGroup(row...)
		}
	}

	if from != nil {
		rv = rv.Actions(meta.Instance, from.bag.Actions(meta.Instance)...)
	} else {
		rv = rv.Actions(meta.Instance, mt.ActionKeys(meta.Instance)...)
	}
	return rv.Actions(meta.Inline, mt.ActionKeys(meta.Inline)...)
}

func (mt *ModelType) layout() [][]string {
	if len(mt.view) > 0 {
		return mt.view
	}
	var rows [][]string
	for _, name := range mt.slotOrder {
		if name != schema.PrimaryKey {
			rows = append(rows, []string{name})
		}
	}
	return rows
}

// Option configures a Registry
type Option func(*Registry)

// WithCache enables slot caching
func WithCache(c cache.Cache) Option {
	return func(r *Registry) { r.cache = c }
}

// WithTasks enables background actions
func WithTasks(runner *task.Runner) Option {
	return func(r *Registry) { r.tasks = runner }
}

// WithPageSize sets the page size of collections that do not choose one
func WithPageSize(n int) Option {
	return func(r *Registry) { r.pageSize = n }
}

// WithLogger sets the logger used by nodes
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// Registry maps model names to their types. It is populated by Register,
// sealed by Init and read concurrently afterwards.
type Registry struct {
	store  store.Store
	cache  cache.Cache
	tasks  *task.Runner
	logger *zap.Logger

	pageSize int

	mu         sync.RWMutex
	types      map[string]*ModelType
	namespaces map[string]*Namespace
	ready      bool
}

// NewRegistry creates an empty registry over st
func NewRegistry(st store.Store, opts ...Option) *Registry {
	r := &Registry{
		store:  st,
		cache:  cache.Nop{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.reset()
	return r
}

func (r *Registry) reset() {
	r.types = make(map[string]*ModelType)
	r.namespaces = make(map[string]*Namespace)
	r.ready = false
}

// Store returns the storage collaborator
func (r *Registry) Store() store.Store { return r.store }

// Cache returns the slot cache
func (r *Registry) Cache() cache.Cache { return r.cache }

// Tasks returns the task runner, nil when background actions are disabled
func (r *Registry) Tasks() *task.Runner { return r.tasks }

// Logger returns the registry logger
func (r *Registry) Logger() *zap.Logger { return r.logger }

// Register adds a model type. Types reference each other by name, so
// cross-type checks wait for Init.
func (r *Registry) Register(cfg ModelConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cfg.Schema == nil {
		return &ConfigurationError{Model: "?", Reason: "model config has no schema"}
	}
	if r.ready {
		return fmt.Errorf("registry is initialized; call Clear before registering %s", cfg.Schema.Name)
	}
	if _, exists := r.types[cfg.Schema.Name]; exists {
		return &ConfigurationError{Model: cfg.Schema.Name, Reason: "is registered twice"}
	}

	mt := &ModelType{
		registry:   r,
		schema:     cfg.Schema,
		namespace:  cfg.Namespace,
		collection: cfg.Collection,
		perms:      cfg.Permissions,
		scopes:     cfg.Scopes,
		slots:      make(map[string]*SlotSpec),
		actions:    make(map[string]*ActionSpec),
		subsets:    cfg.Subsets,
		subsetTags: cfg.SubsetLabels,
		list:       cfg.List,
		view:       cfg.View,
		bootstrap:  cfg.Bootstrap,
	}
	if mt.namespace == "" {
		mt.namespace = DefaultNamespace
	}
	if mt.collection == "" {
		mt.collection = cfg.Schema.TableName()
	}
	if mt.perms == nil {
		mt.perms = perm.NewModel()
	}

	for _, f := range cfg.Schema.Fields() {
		mt.addSlot(&SlotSpec{Name: f.Name, Label: f.Label})
	}
	for _, s := range cfg.Slots {
		if s.Resolve == nil && !cfg.Schema.HasField(s.Name) {
			return &ConfigurationError{Model: cfg.Schema.Name, Name: s.Name, Reason: "slot has no resolver and no field"}
		}
		mt.addSlot(s)
	}
	for _, a := range cfg.Actions {
		if a.Key == "" {
			return &ConfigurationError{Model: cfg.Schema.Name, Reason: "action without key"}
		}
		if err := a.check(mt); err != nil {
			return err
		}
		mt.actions[a.Key] = a
	}

	r.types[cfg.Schema.Name] = mt
	return nil
}

func (mt *ModelType) addSlot(s *SlotSpec) {
	if s.Label == "" {
		s.Label = schema.Humanize(s.Name)
	}
	if _, exists := mt.slots[s.Name]; !exists {
		mt.slotOrder = append(mt.slotOrder, s.Name)
	}
	mt.slots[s.Name] = s
}

// Init resolves cross-type references: foreign keys, reverse collection
// slots, bootstrap actions and layouts. Invalid metadata fails here, at
// start-up, rather than on the first request.
func (r *Registry) Init() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		mt := r.types[name]
		for _, fk := range mt.schema.ForeignKeys() {
			target, ok := r.types[fk.Relation.TargetModel]
			if !ok {
				return &ConfigurationError{Model: name, Name: fk.Name,
					Reason: "references unregistered model " + fk.Relation.TargetModel}
			}
			if fk.Relation.Reverse != "" {
				target.addSlot(reverseSlot(mt, fk.Name, fk.Relation.Reverse))
			}
		}
	}

	for _, name := range names {
		mt := r.types[name]
		for _, verb := range mt.bootstrap {
			a, err := bootstrapAction(mt, verb)
			if err != nil {
				return err
			}
			if _, custom := mt.actions[verb]; !custom {
				mt.actions[verb] = a
			}
		}
		if err := mt.check(); err != nil {
			return err
		}

		ns, ok := r.namespaces[mt.namespace]
		if !ok {
			ns = &Namespace{name: mt.namespace, registry: r}
			r.namespaces[mt.namespace] = ns
		}
		if _, dup := ns.lookup(mt.collection); dup {
			return &ConfigurationError{Model: name, Name: mt.collection, Reason: "collection name is taken in " + mt.namespace}
		}
		ns.entries = append(ns.entries, mt)
	}

	r.ready = true
	r.logger.Info("admin registry initialized",
		zap.Int("models", len(r.types)), zap.Int("namespaces", len(r.namespaces)))
	return nil
}

// check validates layouts and configured collections against the type
func (mt *ModelType) check() error {
	seen := make(map[string]bool)
	for _, row := range mt.view {
		for _, name := range row {
			if _, ok := mt.slots[name]; !ok {
				return &ConfigurationError{Model: mt.Name(), Name: name, Reason: "is not a slot"}
			}
			if seen[name] {
				return &ConfigurationError{Model: mt.Name(), Name: name, Reason: "is laid out twice"}
			}
			seen[name] = true
		}
	}

	probe := newCollection(mt, mt.collection, mt.Path()).defaultActions()
	if mt.list != nil {
		probe = mt.list(probe)
	}
	if err := probe.Err(); err != nil {
		return err
	}
	for name, fn := range mt.subsets {
		if err := fn(probe).Err(); err != nil {
			return fmt.Errorf("subset %s: %w", name, err)
		}
	}
	return nil
}

// reverseSlot exposes the records of owner pointing at a target record
func reverseSlot(owner *ModelType, fk, name string) *SlotSpec {
	return &SlotSpec{
		Name:  name,
		Label: owner.schema.PluralLabel,
		Resolve: func(req *Request, rec *record.Record) (interface{}, error) {
			return owner.All(req).
				Named(name).
				Filter(fk, query.OpEqual, rec.ID).
				instantiatedBy(rec), nil
		},
	}
}

// Clear forgets every registered type
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reset()
}

// Type returns a registered model type
func (r *Registry) Type(name string) (*ModelType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mt, ok := r.types[name]
	return mt, ok
}

// Namespace returns an initialized namespace
func (r *Registry) Namespace(name string) (*Namespace, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ns, ok := r.namespaces[name]
	return ns, ok
}

// Namespaces returns the namespace names, sorted
func (r *Registry) Namespaces() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.namespaces))
	for name := range r.namespaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Namespace is the root node of a path: a set of named collections
type Namespace struct {
	name     string
	registry *Registry
	entries  []*ModelType
}

// Name returns the namespace name
func (ns *Namespace) Name() string { return ns.name }

// Path returns the namespace path
func (ns *Namespace) Path() string { return "/" + ns.name }

func (ns *Namespace) lookup(collection string) (*ModelType, bool) {
	for _, mt := range ns.entries {
		if mt.collection == collection {
			return mt, true
		}
	}
	return nil, false
}

// Exposed returns the collection names the caller may list
func (ns *Namespace) Exposed(req *Request) []string {
	var out []string
	for _, mt := range ns.entries {
		if mt.perms.Check(perm.List, req.Identity, nil) {
			out = append(out, mt.collection)
		}
	}
	return out
}

// Declared returns every collection name of the namespace
func (ns *Namespace) Declared() []string {
	out := make([]string, len(ns.entries))
	for i, mt := range ns.entries {
		out[i] = mt.collection
	}
	return out
}

// Resolve returns the named collection. Listing is checked here; record
// visibility is narrowed by role scope.
func (ns *Namespace) Resolve(req *Request, name string) (*Collection, error) {
	mt, ok := ns.lookup(name)
	if !ok {
		return nil, notFound("%s/%s", ns.name, name)
	}
	if !mt.perms.Check(perm.List, req.Identity, nil) {
		return nil, forbidden("list %s", mt.Name())
	}
	return mt.All(req), nil
}

// Serialize lists the collections the caller may list
func (ns *Namespace) Serialize(req *Request) *NamespaceDocument {
	doc := &NamespaceDocument{Type: "namespace", Name: ns.name, Path: ns.Path(), Entries: []NamespaceEntry{}}
	for _, mt := range ns.entries {
		if !mt.perms.Check(perm.List, req.Identity, nil) {
			continue
		}
		doc.Entries = append(doc.Entries, NamespaceEntry{
			Name:  mt.collection,
			Label: mt.schema.PluralLabel,
			Icon:  mt.schema.Icon,
			Path:  mt.Path(),
		})
	}
	return doc
}
