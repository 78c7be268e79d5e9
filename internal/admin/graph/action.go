package graph

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/conduit-lang/admin/internal/admin/meta"
	"github.com/conduit-lang/admin/internal/admin/perm"
	"github.com/conduit-lang/admin/internal/admin/task"
	"github.com/conduit-lang/admin/internal/orm/record"
	"github.com/conduit-lang/admin/internal/orm/schema"
	"github.com/conduit-lang/admin/internal/orm/store"
	"github.com/conduit-lang/admin/internal/orm/validation"
	"go.uber.org/zap"
)

// Target is the binding shape of an action
type Target string

const (
	// TargetModel actions need no record
	TargetModel Target = "model"
	// TargetInstance actions are bound to one record
	TargetInstance Target = "instance"
	// TargetQueryset actions are bound to a set of records
	TargetQueryset Target = "queryset"
	// TargetInline actions are embedded in a record view
	TargetInline Target = "inline"
)

// Bootstrap verbs generated from the schema
const (
	VerbAdd    = "add"
	VerbEdit   = "edit"
	VerbDelete = "delete"
)

// FormField is one input of an action form
type FormField struct {
	Name       string
	Label      string
	Type       *schema.TypeSpec
	Required   bool
	Validators []validation.Validator
	Help       string
}

// ActionFunc runs an action. A nil document redirects to the bound node.
type ActionFunc func(ac *ActionContext) (Document, error)

// ActionSpec declares a command of a model type
type ActionSpec struct {
	Key    string
	Name   string
	Submit string
	Target Target
	// Batch also advertises an instance action in the batch list
	Batch  bool
	Method string
	Icon   string
	Style  string
	Modal  bool
	Fields []FormField

	// Permission overrides the model's capability rule
	Permission perm.Predicate
	// Capability checked against the model; defaults to action:<key>
	Capability perm.Capability

	Execute ActionFunc
	// Background actions run as a task; the response redirects to its poll path
	Background bool
	// Clean validates the cleaned input as a whole, after per-field rules
	Clean func(input map[string]interface{}) error
	// Partial forms take the bound record's value for every field the
	// input leaves out
	Partial bool
}

// Advertised reports whether the action is listed under kind
func (a *ActionSpec) Advertised(kind meta.ActionKind) bool {
	switch kind {
	case meta.Global:
		return a.Target == TargetModel
	case meta.Instance:
		return a.Target == TargetInstance
	case meta.Inline:
		return a.Target == TargetInline
	case meta.Batch:
		return a.Target == TargetQueryset || a.Batch
	}
	return false
}

// Allowed reports whether id may run the action on rec; a nil rec checks
// the model itself
func (a *ActionSpec) Allowed(id perm.Identity, mt *ModelType, rec *record.Record) bool {
	if id.Superuser {
		return true
	}
	var subject perm.Subject
	if rec != nil {
		subject = rec
	}
	if a.Permission != nil {
		return a.Permission(id, subject)
	}
	c := a.Capability
	if c == "" {
		c = perm.Action(a.Key)
	}
	return mt.perms.Check(c, id, subject)
}

func (a *ActionSpec) label() string {
	if a.Name != "" {
		return a.Name
	}
	return schema.Humanize(a.Key)
}

// Metadata describes the action as advertised under target at path
func (a *ActionSpec) Metadata(target Target, p string) ActionMetadata {
	md := ActionMetadata{
		Key:    a.Key,
		Name:   a.label(),
		Submit: a.Submit,
		Target: target,
		Method: a.Method,
		Icon:   a.Icon,
		Style:  a.Style,
		Path:   p,
		Modal:  a.Modal,
	}
	if md.Submit == "" {
		md.Submit = md.Name
	}
	if md.Method == "" {
		md.Method = "POST"
	}
	return md
}

func (a *ActionSpec) check(mt *ModelType) error {
	switch a.Target {
	case TargetModel, TargetInstance, TargetQueryset, TargetInline:
	default:
		return &ConfigurationError{Model: mt.Name(), Name: a.Key, Reason: fmt.Sprintf("has unknown target %q", a.Target)}
	}
	if a.Execute == nil {
		return &ConfigurationError{Model: mt.Name(), Name: a.Key, Reason: "has no Execute function"}
	}
	return nil
}

// ActionContext is what an action function sees
type ActionContext struct {
	ctx     context.Context
	Request *Request
	Action  *ActionSpec
	Model   *ModelType
	// Record is the bound record; each record in turn for batch forms
	Record       *record.Record
	Collection   *Collection
	Instantiator *record.Record
	// Path of the node the form is bound to
	Path  string
	Input map[string]interface{}
	// Reporter is set when the action runs as a task
	Reporter *task.Reporter
}

// Context returns the context of the run; it outlives the request for
// background actions
func (ac *ActionContext) Context() context.Context { return ac.ctx }

// Store returns the storage collaborator
func (ac *ActionContext) Store() store.Store { return ac.Model.registry.store }

// FormState is a step of the form lifecycle
type FormState int

const (
	StateCreated FormState = iota
	StateValidated
	StateExecuted
	StateRejected
)

func (s FormState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateValidated:
		return "validated"
	case StateExecuted:
		return "executed"
	case StateRejected:
		return "rejected"
	}
	return "unknown"
}

// BatchFailure names one record a batch action failed on
type BatchFailure struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Error string `json:"error"`
}

// BatchReport aggregates a batch run. Records after a cancellation are skipped.
type BatchReport struct {
	Succeeded int            `json:"succeeded"`
	Failed    []BatchFailure `json:"failed"`
	Skipped   int            `json:"skipped,omitempty"`
}

// ActionForm is one invocation of an action: bound to nothing, a record or
// a set of records. It is validated, executed at most once and discarded.
type ActionForm struct {
	spec         *ActionSpec
	req          *Request
	mt           *ModelType
	target       Target
	rec          *record.Record
	set          *Collection
	instantiator *record.Record
	path         string

	state   FormState
	input   map[string]interface{}
	cleaned map[string]interface{}
	errs    *validation.ValidationErrors
}

// Form binds action key of the collection's type. With batch the form is
// bound to every record of the collection, otherwise to none.
func (c *Collection) Form(req *Request, key string, batch bool) (*ActionForm, error) {
	if c.err != nil {
		return nil, c.err
	}
	a, ok := c.mt.actions[key]
	if !ok {
		return nil, notFound("action %s of %s", key, c.mt.Name())
	}
	f := &ActionForm{spec: a, req: req, mt: c.mt, instantiator: c.instantiator, path: c.path, set: c}
	if batch {
		if !a.Advertised(meta.Batch) {
			return nil, notFound("batch action %s of %s", key, c.mt.Name())
		}
		f.target = TargetQueryset
	} else {
		if !a.Advertised(meta.Global) {
			return nil, notFound("model action %s of %s", key, c.mt.Name())
		}
		f.target = TargetModel
	}
	return f, nil
}

// Form binds action key of the view's type to the view's record
func (rv *RecordView) Form(req *Request, key string, instantiator *record.Record) (*ActionForm, error) {
	if rv.err != nil {
		return nil, rv.err
	}
	a, ok := rv.mt.actions[key]
	if !ok || !(a.Advertised(meta.Instance) || a.Advertised(meta.Inline)) {
		return nil, notFound("action %s of %s", key, rv.mt.Name())
	}
	return &ActionForm{
		spec:         a,
		req:          req,
		mt:           rv.mt,
		target:       a.Target,
		rec:          rv.rec,
		instantiator: instantiator,
		path:         rv.path,
	}, nil
}

// Spec returns the bound action
func (f *ActionForm) Spec() *ActionSpec { return f.spec }

// State returns the lifecycle state
func (f *ActionForm) State() FormState { return f.state }

// Path returns the path of the node the form is bound to
func (f *ActionForm) Path() string { return f.path }

// CheckPermission must pass before the form is validated
func (f *ActionForm) CheckPermission() error {
	if !f.spec.Allowed(f.req.Identity, f.mt, f.rec) {
		return forbidden("action %s of %s", f.spec.Key, f.mt.Name())
	}
	return nil
}

// implied reports whether field is filled from the instantiator: a foreign
// key to the record the bound collection was reached from
func (f *ActionForm) implied(field string) bool {
	if f.instantiator == nil {
		return false
	}
	sf, ok := f.mt.schema.Field(field)
	return ok && sf.IsForeignKey() && sf.Relation.TargetModel == f.instantiator.Model
}

func (f *ActionForm) fields() []FormField {
	out := make([]FormField, 0, len(f.spec.Fields))
	for _, ff := range f.spec.Fields {
		if !f.implied(ff.Name) {
			out = append(out, ff)
		}
	}
	return out
}

// Validate cleans input against the form fields. A rejected form can be
// validated again with corrected input; nothing is applied either way.
func (f *ActionForm) Validate(input map[string]interface{}) bool {
	if f.state != StateCreated && f.state != StateRejected {
		return f.state == StateValidated
	}
	f.input = input
	if f.spec.Partial && f.rec != nil {
		input = f.withRecordValues(input)
	}

	fields := f.fields()
	rules := make([]validation.Rule, len(fields))
	for i, ff := range fields {
		rules[i] = validation.Rule{Field: ff.Name, Type: ff.Type, Required: ff.Required, Validators: ff.Validators}
	}

	cleaned, err := validation.Clean(rules, input)
	if err == nil && f.spec.Clean != nil {
		err = f.spec.Clean(cleaned)
	}
	if err != nil {
		f.errs = asValidationErrors(err)
		f.state = StateRejected
		return false
	}

	for _, ff := range f.spec.Fields {
		if f.implied(ff.Name) {
			cleaned[ff.Name] = f.instantiator.ID
		}
	}
	f.cleaned = cleaned
	f.errs = nil
	f.state = StateValidated
	return true
}

// withRecordValues returns input completed with the bound record's values
func (f *ActionForm) withRecordValues(input map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(f.spec.Fields))
	for _, ff := range f.spec.Fields {
		merged[ff.Name] = f.rec.Get(ff.Name)
	}
	for k, v := range input {
		merged[k] = v
	}
	return merged
}

func asValidationErrors(err error) *validation.ValidationErrors {
	var ve *validation.ValidationErrors
	if errors.As(err, &ve) {
		return ve
	}
	ve = validation.NewValidationErrors()
	ve.AddFormError(err.Error())
	return ve
}

// Errors returns the field errors of a rejected form
func (f *ActionForm) Errors() *validation.ValidationErrors { return f.errs }

// Document describes the form: its fields, current values and errors
func (f *ActionForm) Document() *FormDocument {
	doc := &FormDocument{
		Type:   "form",
		Action: f.spec.Metadata(f.target, f.path+"/"+f.spec.Key),
		Fields: []FormFieldDocument{},
		Errors: f.errs,
	}
	for _, ff := range f.fields() {
		fd := FormFieldDocument{
			Name:     ff.Name,
			Label:    ff.Label,
			Required: ff.Required || (ff.Type != nil && !ff.Type.Nullable && ff.Type.Default == nil),
			Help:     ff.Help,
		}
		if fd.Label == "" {
			fd.Label = schema.Humanize(ff.Name)
		}
		if ff.Type != nil {
			fd.Type = ff.Type.BaseType.String()
		}
		if sf, ok := f.mt.schema.Field(ff.Name); ok {
			fd.Type = filterType(sf)
			if sf.IsForeignKey() || sf.Type.HasChoices() {
				if ch, err := f.mt.Base(f.req).Choices(f.req, ff.Name); err == nil {
					fd.Choices = ch.Choices
				}
			}
		}
		fd.Value = f.initial(ff.Name)
		doc.Fields = append(doc.Fields, fd)
	}
	return doc
}

func (f *ActionForm) initial(name string) interface{} {
	if v, ok := f.input[name]; ok {
		return v
	}
	if f.rec != nil {
		sf, ok := f.mt.schema.Field(name)
		if ok {
			return normalize(sf.Type.BaseType, f.rec.Get(name))
		}
	}
	return nil
}

// Execute runs a validated form once. Background actions start a task and
// redirect to its poll path when the registry has a task runner.
func (f *ActionForm) Execute(ctx context.Context) (Document, error) {
	switch f.state {
	case StateExecuted:
		return nil, ErrAlreadyExecuted
	case StateValidated:
	default:
		return nil, ErrNotValidated
	}
	f.state = StateExecuted

	log := f.mt.registry.logger.With(
		zap.String("action", f.spec.Key),
		zap.String("model", f.mt.Name()),
		zap.String("target", string(f.target)))

	if runner := f.mt.registry.tasks; f.spec.Background && runner != nil {
		p, err := runner.Start(ctx, f.spec.Key, func(tctx context.Context, rep *task.Reporter) error {
			_, err := f.run(tctx, rep)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to start %s: %w", f.spec.Key, err)
		}
		log.Info("action started in background", zap.String("task_id", p.ID.String()))
		return &RedirectDocument{Type: "redirect", Path: p.Path()}, nil
	}

	doc, err := f.run(ctx, nil)
	if err != nil {
		log.Warn("action failed", zap.Error(err))
		return nil, err
	}
	log.Debug("action executed")
	return doc, nil
}

func (f *ActionForm) context(ctx context.Context, rep *task.Reporter) *ActionContext {
	return &ActionContext{
		ctx:          ctx,
		Request:      f.req,
		Action:       f.spec,
		Model:        f.mt,
		Record:       f.rec,
		Collection:   f.set,
		Instantiator: f.instantiator,
		Path:         f.path,
		Input:        f.cleaned,
		Reporter:     rep,
	}
}

func (f *ActionForm) run(ctx context.Context, rep *task.Reporter) (Document, error) {
	if f.target == TargetQueryset {
		return f.runBatch(ctx, rep)
	}

	doc, err := f.spec.Execute(f.context(ctx, rep))
	if err != nil {
		return nil, &ExecutionError{Action: f.spec.Key, Err: err}
	}
	if doc == nil {
		doc = &RedirectDocument{Type: "redirect", Path: f.path}
	}
	return doc, nil
}

// runBatch applies the action to every record independently. A failure is
// recorded and the next record is attempted; nothing is rolled back.
func (f *ActionForm) runBatch(ctx context.Context, rep *task.Reporter) (Document, error) {
	recs, err := f.set.All(ctx)
	if err != nil {
		return nil, err
	}

	report := &BatchReport{Failed: []BatchFailure{}}
	var stopped error
	for i, rec := range recs {
		if err := ctx.Err(); err != nil {
			stopped = err
		} else if rep != nil && rep.Stopped(ctx) {
			stopped = task.ErrStopped
		}
		if stopped != nil {
			report.Skipped = len(recs) - i
			break
		}

		title := f.mt.Title(rec)
		if !f.spec.Allowed(f.req.Identity, f.mt, rec) {
			report.Failed = append(report.Failed, BatchFailure{ID: rec.ID, Title: title, Error: ErrForbidden.Error()})
		} else {
			ac := f.context(ctx, rep)
			ac.Record = rec
			if _, err := f.spec.Execute(ac); err != nil {
				report.Failed = append(report.Failed, BatchFailure{ID: rec.ID, Title: title, Error: err.Error()})
			} else {
				report.Succeeded++
			}
		}

		if rep != nil {
			if err := rep.Report(ctx, i+1, len(recs), title); err != nil {
				f.mt.registry.logger.Warn("failed to report progress", zap.Error(err))
			}
		}
	}

	doc := &MessageDocument{
		Type:   "message",
		Text:   fmt.Sprintf("%s: %d succeeded, %d failed", f.spec.label(), report.Succeeded, len(report.Failed)),
		Style:  "success",
		Report: report,
	}
	if len(report.Failed) > 0 || report.Skipped > 0 {
		doc.Style = "warning"
	}
	if report.Skipped > 0 {
		doc.Text += fmt.Sprintf(", %d skipped", report.Skipped)
	}
	if errors.Is(stopped, task.ErrStopped) {
		return doc, task.ErrStopped
	}
	return doc, nil
}

// bootstrapAction generates one of the add, edit and delete actions from
// the model schema
func bootstrapAction(mt *ModelType, verb string) (*ActionSpec, error) {
	var fields []FormField
	for _, f := range mt.schema.Fields() {
		if f.Name == schema.PrimaryKey {
			continue
		}
		fields = append(fields, FormField{Name: f.Name, Label: f.Label, Type: f.Type})
	}

	switch verb {
	case VerbAdd:
		return &ActionSpec{
			Key:        VerbAdd,
			Name:       "Add " + mt.schema.Label,
			Submit:     "Save",
			Target:     TargetModel,
			Icon:       "plus",
			Modal:      true,
			Fields:     fields,
			Capability: perm.Add,
			Execute: func(ac *ActionContext) (Document, error) {
				created, err := ac.Store().Insert(ac.Context(), record.New(ac.Model.Name(), 0, ac.Input))
				if err != nil {
					return nil, err
				}
				return &RedirectDocument{Type: "redirect", Path: ac.Path + "/" + created.Path()}, nil
			},
		}, nil

	case VerbEdit:
		return &ActionSpec{
			Key:        VerbEdit,
			Name:       "Edit",
			Submit:     "Save",
			Target:     TargetInstance,
			Icon:       "pencil",
			Modal:      true,
			Fields:     fields,
			Partial:    true,
			Capability: perm.Edit,
			Execute: func(ac *ActionContext) (Document, error) {
				rec := ac.Record.Clone()
				for k, v := range ac.Input {
					rec.Set(k, v)
				}
				if err := ac.Store().Update(ac.Context(), rec); err != nil {
					return nil, err
				}
				return &RedirectDocument{Type: "redirect", Path: ac.Path}, nil
			},
		}, nil

	case VerbDelete:
		return &ActionSpec{
			Key:        VerbDelete,
			Name:       "Delete",
			Submit:     "Delete",
			Target:     TargetInstance,
			Batch:      true,
			Icon:       "trash",
			Style:      "danger",
			Modal:      true,
			Capability: perm.Delete,
			Execute: func(ac *ActionContext) (Document, error) {
				if err := ac.Store().Delete(ac.Context(), ac.Model.Name(), ac.Record.ID); err != nil {
					return nil, err
				}
				return &RedirectDocument{Type: "redirect", Path: path.Dir(ac.Path)}, nil
			},
		}, nil
	}
	return nil, &ConfigurationError{Model: mt.Name(), Name: verb, Reason: "is not a bootstrap verb"}
}
