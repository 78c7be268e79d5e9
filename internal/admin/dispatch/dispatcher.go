// Package dispatch resolves request paths against the registered object
// graph: one token at a time, each checked against the names the previous
// node exposes before anything is computed for it.
package dispatch

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/conduit-lang/admin/internal/admin/graph"
	"github.com/conduit-lang/admin/internal/admin/perm"
	"github.com/conduit-lang/admin/internal/orm/record"
	"go.uber.org/zap"
)

// IDSeparator joins the ids of a multi-record selector, as in /books/1-4-7
const IDSeparator = "-"

// Query parameters that turn a terminal collection into another document
const (
	ParamChoices  = "choices"
	ParamExport   = "export"
	ParamCalendar = "calendar"
	ParamDate     = "date"
)

// Request is one path to resolve for one caller
type Request struct {
	// Tokens are the path segments; the first names the namespace
	Tokens   []string
	Identity perm.Identity
	Params   url.Values
	// Input is the submitted action input
	Input map[string]interface{}
	// Submit runs a terminal action instead of describing its form
	Submit bool
}

// ParsePath splits an URL path into tokens
func ParsePath(p string) []string {
	var tokens []string
	for _, t := range strings.Split(p, "/") {
		if t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// Dispatcher maps request paths to documents
type Dispatcher struct {
	registry *graph.Registry
	logger   *zap.Logger
}

// New creates a dispatcher over an initialized registry
func New(reg *graph.Registry, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{registry: reg, logger: logger}
}

// Registry returns the registry the dispatcher resolves against
func (d *Dispatcher) Registry() *graph.Registry { return d.registry }

// Dispatch walks r.Tokens and returns the document of the last node, or the
// response of the action the path ends with.
func (d *Dispatcher) Dispatch(ctx context.Context, r Request) (graph.Document, error) {
	if len(r.Tokens) == 0 {
		return nil, fmt.Errorf("%w: empty path", graph.ErrNotFound)
	}
	ns, ok := d.registry.Namespace(r.Tokens[0])
	if !ok {
		return nil, fmt.Errorf("%w: namespace %s", graph.ErrNotFound, r.Tokens[0])
	}

	req := graph.NewRequest(ctx, d.registry, r.Identity, r.Params)
	st := &State{req: req, input: r.Input, submit: r.Submit}
	st.enter(ns)

	for i, token := range r.Tokens[1:] {
		out := st.Step(token, i == len(r.Tokens)-2)
		switch out.Kind {
		case KindFail:
			d.logger.Debug("dispatch rejected",
				zap.Strings("path", r.Tokens),
				zap.String("token", token),
				zap.String("identity", r.Identity.Key()),
				zap.Error(out.Err))
			return nil, out.Err
		case KindRespond:
			d.logger.Info("action dispatched",
				zap.Strings("path", r.Tokens),
				zap.String("identity", r.Identity.Key()),
				zap.String("document", out.Doc.DocumentType()))
			return out.Doc, nil
		}
	}
	return st.Terminal(r.Params)
}

// OutcomeKind tells the dispatch loop what to do after a step
type OutcomeKind int

const (
	// KindContinue moves on to the next token
	KindContinue OutcomeKind = iota
	// KindRespond ends the walk with a document
	KindRespond
	// KindFail ends the walk with an error
	KindFail
)

// Outcome is the result of one dispatch step
type Outcome struct {
	Kind OutcomeKind
	Node interface{}
	Doc  graph.Document
	Err  error
}

// Continue carries the node the next token resolves against
func Continue(node interface{}) Outcome { return Outcome{Kind: KindContinue, Node: node} }

// Respond ends the walk with doc
func Respond(doc graph.Document) Outcome { return Outcome{Kind: KindRespond, Doc: doc} }

// Fail ends the walk with err
func Fail(err error) Outcome { return Outcome{Kind: KindFail, Err: err} }

// State is the position reached so far in a path: the current node, the
// names the next token may take and the record the current collection was
// reached from.
type State struct {
	req    *graph.Request
	input  map[string]interface{}
	submit bool

	node         interface{}
	exposed      []string
	declared     []string
	instantiator *record.Record
	batch        bool

	// owner and slot locate a primitive node
	owner *graph.RecordView
	slot  string
}

// Node returns the current node
func (st *State) Node() interface{} { return st.node }

// Allowed reports whether token is on the whitelist of the current node.
// Anonymous callers reach exposed names only; authenticated callers also
// reach the names the node declares without advertising them.
func (st *State) Allowed(token string) bool {
	if contains(st.exposed, token) {
		return true
	}
	return !st.req.Identity.IsAnonymous() && contains(st.declared, token)
}

// reject fails a token that is off the whitelist. Every caller gets the same
// error whether or not the name exists.
func (st *State) reject(token, from string) Outcome {
	return Fail(fmt.Errorf("%w: %s is not reachable from %s", graph.ErrForbidden, token, from))
}

// path locates the current node in error messages
func (st *State) path() string {
	if p, ok := st.node.(interface{ Path() string }); ok {
		return p.Path()
	}
	if st.owner != nil {
		return st.owner.Path() + "/" + st.slot
	}
	return "?"
}

func (st *State) enter(node interface{}) {
	st.node = node
	st.exposed, st.declared = nil, nil
	st.batch = false
	switch n := node.(type) {
	case *graph.Namespace:
		st.exposed = n.Exposed(st.req)
		st.declared = n.Declared()
	case *graph.Collection:
		st.exposed = n.Exposed(false)
		st.declared = n.Declared(false)
		st.instantiator = n.Instantiator()
	case *graph.RecordView:
		st.exposed = n.Exposed(st.req)
		st.declared = n.Declared()
	}
}

// Step resolves token against the current node. Numeric tokens select a
// record, tokens joining ids select a batch, action keys bind a form and
// anything else names a slot.
func (st *State) Step(token string, last bool) Outcome {
	if ns, ok := st.node.(*graph.Namespace); ok {
		return st.collection(ns, token)
	}
	if id, err := strconv.ParseInt(token, 10, 64); err == nil {
		return st.record(id)
	}
	if strings.Contains(token, IDSeparator) {
		if ids, ok := parseIDs(token); ok {
			return st.selection(token, ids)
		}
	}
	if from, ok := st.isAction(token); ok {
		if !last {
			return Fail(fmt.Errorf("%w: path continues past action %s", graph.ErrForbidden, token))
		}
		return st.action(token, from)
	}
	return st.slotValue(token)
}

func (st *State) collection(ns *graph.Namespace, token string) Outcome {
	if !st.Allowed(token) {
		return st.reject(token, ns.Path())
	}
	c, err := ns.Resolve(st.req, token)
	if err != nil {
		return Fail(err)
	}
	st.enter(c)
	return Continue(c)
}

func (st *State) record(id int64) Outcome {
	c, ok := st.node.(*graph.Collection)
	if !ok || st.batch {
		return st.reject(strconv.FormatInt(id, 10), st.path())
	}
	rec, err := c.Get(st.req.Context(), id)
	if err != nil {
		return Fail(err)
	}
	mt := c.Type()
	if !mt.Permissions().Check(perm.View, st.req.Identity, rec) {
		return Fail(fmt.Errorf("%w: view %s %d", graph.ErrForbidden, mt.Name(), id))
	}
	rv := mt.View(rec, c)
	st.enter(rv)
	return Continue(rv)
}

func (st *State) selection(token string, ids []int64) Outcome {
	c, ok := st.node.(*graph.Collection)
	if !ok || st.batch {
		return st.reject(token, st.path())
	}
	sel := c.WithIDs(ids...).At(c.Path() + "/" + token)
	st.enter(sel)
	st.batch = true
	st.exposed = sel.Exposed(true)
	st.declared = sel.Declared(true)
	return Continue(sel)
}

// isAction reports whether token is an action key of the current node's
// type, and the path of the node
func (st *State) isAction(token string) (string, bool) {
	switch n := st.node.(type) {
	case *graph.Collection:
		_, ok := n.Type().Action(token)
		return n.Path(), ok
	case *graph.RecordView:
		_, ok := n.Type().Action(token)
		return n.Path(), ok
	}
	return "", false
}

func (st *State) action(key, from string) Outcome {
	if !st.Allowed(key) {
		return st.reject(key, from)
	}
	var (
		form *graph.ActionForm
		err  error
	)
	switch n := st.node.(type) {
	case *graph.Collection:
		form, err = n.Form(st.req, key, st.batch)
	case *graph.RecordView:
		form, err = n.Form(st.req, key, st.instantiator)
	}
	if err != nil {
		return Fail(err)
	}
	if err := form.CheckPermission(); err != nil {
		return Fail(err)
	}
	if !st.submit {
		return Respond(form.Document())
	}
	if !form.Validate(st.input) {
		return Respond(form.Document())
	}
	doc, err := form.Execute(st.req.Context())
	if err != nil {
		return Fail(err)
	}
	return Respond(doc)
}

func (st *State) slotValue(name string) Outcome {
	rv, ok := st.node.(*graph.RecordView)
	if !ok {
		return st.reject(name, st.path())
	}
	if !st.Allowed(name) {
		return st.reject(name, rv.Path())
	}
	v, err := rv.Resolve(st.req, name)
	if err != nil {
		return Fail(err)
	}
	st.enter(v)
	switch v.(type) {
	case *graph.Collection:
		// collections found on a record are instantiated by it
	case *graph.RecordView, *graph.StatisticsView, graph.Document:
		st.instantiator = rv.Record()
	default:
		st.owner, st.slot = rv, name
	}
	return Continue(v)
}

// Terminal serializes the node the path ended on
func (st *State) Terminal(params url.Values) (graph.Document, error) {
	switch n := st.node.(type) {
	case *graph.Namespace:
		return n.Serialize(st.req), nil
	case *graph.Collection:
		return st.terminalCollection(n, params)
	case *graph.RecordView:
		return n.Serialize(st.req)
	case *graph.StatisticsView:
		return n.Serialize(st.req.Context())
	case graph.Document:
		return n, nil
	}
	if st.owner == nil {
		return nil, fmt.Errorf("%w: nothing to serialize", graph.ErrNotFound)
	}
	return st.owner.Primitive(st.req, st.slot, st.node), nil
}

func (st *State) terminalCollection(c *graph.Collection, params url.Values) (graph.Document, error) {
	c = c.ApplyParams(params)
	if field := params.Get(ParamChoices); field != "" {
		return c.Choices(st.req, field)
	}
	if format := params.Get(ParamExport); format != "" {
		return c.Export(st.req, format)
	}
	if field := params.Get(ParamCalendar); field != "" {
		selected := time.Now().UTC()
		if raw := params.Get(ParamDate); raw != "" {
			t, err := time.Parse("2006-01-02", raw)
			if err != nil {
				return nil, &graph.ConfigurationError{Model: c.Type().Name(), Name: raw, Reason: "is not a date"}
			}
			selected = t
		}
		return c.ToCalendar(st.req.Context(), field, selected)
	}
	return c.Serialize(st.req)
}

func parseIDs(token string) ([]int64, bool) {
	parts := strings.Split(token, IDSeparator)
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, false
		}
		ids = append(ids, id)
	}
	return ids, true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
