package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"

	"github.com/conduit-lang/admin/internal/admin/meta"
	"github.com/conduit-lang/admin/internal/admin/perm"
	"github.com/conduit-lang/admin/internal/orm/query"
	"github.com/conduit-lang/admin/internal/orm/record"
	"github.com/conduit-lang/admin/internal/orm/schema"
	"github.com/conduit-lang/admin/internal/web/cache"
	"go.uber.org/zap"
)

// fullWidth is the width of a slot alone on its row
const fullWidth = 100

type slotRef struct {
	name  string
	width int
}

// RecordView is an ordered set of slots of one record. Slots are declared
// up front and resolved by Load. Builder methods return a new view.
type RecordView struct {
	mt     *ModelType
	rec    *record.Record
	name   string
	path   string
	slots  []slotRef
	bag    meta.Bag
	attach []string
	err    error
}

// NewRecordView creates an empty view of rec reached by path
func NewRecordView(mt *ModelType, rec *record.Record, name, path string) *RecordView {
	return &RecordView{mt: mt, rec: rec, name: name, path: path, bag: meta.New()}
}

func (rv *RecordView) clone() *RecordView {
	cp := *rv
	return &cp
}

func (rv *RecordView) fail(name, reason string) *RecordView {
	cp := rv.clone()
	if cp.err == nil {
		cp.err = &ConfigurationError{Model: rv.mt.Name(), Name: name, Reason: reason}
	}
	return cp
}

func (rv *RecordView) declared(name string) bool {
	for _, s := range rv.slots {
		if s.name == name {
			return true
		}
	}
	return false
}

func (rv *RecordView) add(names []string, width int) *RecordView {
	for i, n := range names {
		if _, ok := rv.mt.slots[n]; !ok {
			return rv.fail(n, "is not a slot")
		}
		if rv.declared(n) || contains(names[:i], n) {
			return rv.fail(n, "is declared twice")
		}
	}
	cp := rv.clone()
	cp.slots = rv.slots[:len(rv.slots):len(rv.slots)]
	for _, n := range names {
		cp.slots = append(cp.slots, slotRef{name: n, width: width})
	}
	return cp
}

// Declare adds slots that each take a full row
func (rv *RecordView) Declare(names ...string) *RecordView {
	return rv.add(names, fullWidth)
}

// DeclareGroup adds slots sharing one row in equal parts
func (rv *RecordView) DeclareGroup(names ...string) *RecordView {
	if len(names) == 0 {
		return rv
	}
	return rv.add(names, fullWidth/len(names))
}

// Actions sets the action keys advertised under kind
func (rv *RecordView) Actions(kind meta.ActionKind, keys ...string) *RecordView {
	for _, k := range keys {
		if _, ok := rv.mt.actions[k]; !ok {
			return rv.fail(k, "is not an action")
		}
	}
	cp := rv.clone()
	cp.bag = rv.bag.WithActions(kind, keys...)
	return cp
}

// Attach names slots clients render as separate tabs
func (rv *RecordView) Attach(names ...string) *RecordView {
	for _, n := range names {
		if _, ok := rv.mt.slots[n]; !ok {
			return rv.fail(n, "is not a slot")
		}
	}
	cp := rv.clone()
	cp.attach = append([]string(nil), names...)
	return cp
}

// At returns a copy reached by path
func (rv *RecordView) At(path string) *RecordView {
	cp := rv.clone()
	cp.path = path
	return cp
}

// Err returns the first configuration error
func (rv *RecordView) Err() error { return rv.err }

// Record returns the bound record
func (rv *RecordView) Record() *record.Record { return rv.rec }

// Type returns the model type of the record
func (rv *RecordView) Type() *ModelType { return rv.mt }

// Path returns the path of the view
func (rv *RecordView) Path() string { return rv.path }

// Name returns the display name
func (rv *RecordView) Name() string { return rv.name }

// Names returns the declared slot names in order
func (rv *RecordView) Names() []string {
	out := make([]string, len(rv.slots))
	for i, s := range rv.slots {
		out[i] = s.name
	}
	return out
}

// Widths returns the layout width of each declared slot
func (rv *RecordView) Widths() map[string]int {
	out := make(map[string]int, len(rv.slots))
	for _, s := range rv.slots {
		out[s.name] = s.width
	}
	return out
}

// Exposed returns the names a caller may reach from this view: the
// declared slots it may read and the advertised instance and inline actions
func (rv *RecordView) Exposed(req *Request) []string {
	var out []string
	for _, s := range rv.slots {
		if rv.mt.perms.Check(perm.Attr(s.name), req.Identity, rv.rec) {
			out = append(out, s.name)
		}
	}
	out = append(out, rv.bag.Actions(meta.Instance)...)
	return append(out, rv.bag.Actions(meta.Inline)...)
}

// Declared returns every slot and instance or inline action of the type
func (rv *RecordView) Declared() []string {
	out := rv.mt.SlotNames()
	out = append(out, rv.mt.ActionKeys(meta.Instance)...)
	return append(out, rv.mt.ActionKeys(meta.Inline)...)
}

// Load resolves every declared slot the caller may read, in order.
// Slots without attribute permission are left out.
func (rv *RecordView) Load(req *Request) ([]SlotValue, error) {
	if rv.err != nil {
		return nil, rv.err
	}
	out := make([]SlotValue, 0, len(rv.slots))
	for _, ref := range rv.slots {
		if !rv.mt.perms.Check(perm.Attr(ref.name), req.Identity, rv.rec) {
			continue
		}
		sv, err := rv.loadSlot(req, rv.mt.slots[ref.name], ref.width)
		if err != nil {
			return nil, fmt.Errorf("slot %s: %w", ref.name, err)
		}
		out = append(out, sv)
	}
	return out, nil
}

func (rv *RecordView) loadSlot(req *Request, spec *SlotSpec, width int) (SlotValue, error) {
	sv := SlotValue{Name: spec.Name, Label: spec.Label, Width: width, Path: rv.path + "/" + spec.Name}
	if spec.Deferred {
		sv.Type = TypeDeferred
		return sv, nil
	}
	if spec.CacheTTL <= 0 {
		return rv.compute(req, spec, sv)
	}

	ctx := req.Context()
	c := rv.mt.registry.cache
	key := cache.SlotKey(req.Identity.Key(), sv.Path)
	if data, err := c.Get(ctx, key); err == nil {
		var cached SlotValue
		if err := json.Unmarshal(data, &cached); err == nil {
			cached.Width = width
			return cached, nil
		}
	}

	sv, err := rv.compute(req, spec, sv)
	if err != nil {
		return sv, err
	}
	data, err := json.Marshal(sv)
	if err == nil {
		err = c.Set(ctx, key, data, spec.CacheTTL)
	}
	if err != nil {
		rv.mt.registry.logger.Warn("failed to cache slot", zap.String("path", sv.Path), zap.Error(err))
	}
	return sv, nil
}

func (rv *RecordView) value(req *Request, spec *SlotSpec) (interface{}, error) {
	if spec.Resolve == nil {
		return rv.rec.Get(spec.Name), nil
	}
	return spec.Resolve(req, rv.rec)
}

func (rv *RecordView) compute(req *Request, spec *SlotSpec, sv SlotValue) (SlotValue, error) {
	v, err := rv.value(req, spec)
	if err != nil {
		return sv, err
	}

	switch t := v.(type) {
	case *Collection:
		doc, err := t.At(sv.Path).Serialize(req)
		if err != nil {
			return sv, err
		}
		sv.Type, sv.Value = TypeCollection, doc
	case *RecordView:
		data, err := t.At(sv.Path).Load(req)
		if err != nil {
			return sv, err
		}
		sv.Type, sv.Value = fieldsetType(data), data
	case *StatisticsView:
		doc, err := t.At(sv.Path).Serialize(req.Context())
		if err != nil {
			return sv, err
		}
		sv.Type, sv.Value = TypeStatistics, doc
	case Document:
		sv.Type, sv.Value = t.DocumentType(), t
	default:
		sv.Type = TypePrimitive
		sv.Value = normalize(rv.fieldType(spec.Name), v)
		sv.Text = rv.text(req, spec.Name, v)
	}
	return sv, nil
}

func (rv *RecordView) fieldType(name string) schema.PrimitiveType {
	if f, ok := rv.mt.schema.Field(name); ok {
		return f.Type.BaseType
	}
	return schema.TypeString
}

// text returns the display string of foreign keys and choices
func (rv *RecordView) text(req *Request, name string, v interface{}) string {
	f, ok := rv.mt.schema.Field(name)
	if !ok || v == nil {
		return ""
	}
	switch {
	case f.Type.HasChoices():
		return f.Type.ChoiceLabel(fmt.Sprint(v))
	case f.IsForeignKey():
		return labelOf(req.Context(), rv.mt.registry, f.Relation.TargetModel, v)
	}
	return ""
}

// labelOf returns the title of a related record, empty when it cannot be read
func labelOf(ctx context.Context, reg *Registry, model string, id interface{}) string {
	target, ok := reg.Type(model)
	if !ok {
		return ""
	}
	n, ok := toInt64(id)
	if !ok {
		return ""
	}
	rec, err := reg.store.Get(ctx, model, n)
	if err != nil {
		return ""
	}
	return target.Title(rec)
}

func toInt64(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		return n, err == nil
	default:
		f, ok := query.ToFloat(v)
		return int64(f), ok
	}
}

// fieldsetType tags a loaded view by the kinds of its children. Deferred
// children carry no kind yet and are left out; a view with only deferred
// children is a plain fieldset.
func fieldsetType(data []SlotValue) string {
	allCollections, allFieldsets, n := true, true, 0
	for _, sv := range data {
		if sv.Type == TypeDeferred {
			continue
		}
		n++
		if sv.Type != TypeCollection {
			allCollections = false
		}
		if !isFieldset(sv.Type) {
			allFieldsets = false
		}
	}
	switch {
	case n == 0:
		return TypeFieldset
	case allCollections:
		return TypeFieldsetList
	case allFieldsets:
		return TypeFieldsetGroup
	default:
		return TypeFieldset
	}
}

func isFieldset(t string) bool {
	return t == TypeFieldset || t == TypeFieldsetList || t == TypeFieldsetGroup
}

// normalize converts a primitive to its JSON-stable form: whole numbers
// become int64, dates "2006-01-02", timestamps RFC 3339, lists []interface{}
func normalize(t schema.PrimitiveType, v interface{}) interface{} {
	switch x := v.(type) {
	case nil:
		return nil
	case string, bool, int64:
		return x
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float64:
		return normalizeFloat(x)
	case float32:
		return normalizeFloat(float64(x))
	case time.Time:
		if t == schema.TypeDate || (t != schema.TypeTimestamp && isMidnight(x)) {
			return x.Format("2006-01-02")
		}
		return x.UTC().Format(time.RFC3339)
	case *time.Time:
		if x == nil {
			return nil
		}
		return normalize(t, *x)
	case fmt.Stringer:
		return x.String()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]interface{}, rv.Len())
		for i := range out {
			out[i] = normalize(schema.TypeString, rv.Index(i).Interface())
		}
		return out
	case reflect.Int8, reflect.Int16:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	}
	return fmt.Sprint(v)
}

// maxExactInt is the largest integer a float64 holds exactly
const maxExactInt = 1 << 53

func normalizeFloat(f float64) interface{} {
	if f == math.Trunc(f) && math.Abs(f) < maxExactInt {
		return int64(f)
	}
	return f
}

func isMidnight(t time.Time) bool {
	return t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0
}

// Resolve returns the raw value of one slot, for path dispatch. Deferred
// slots are computed here. Nodes come back bound to the slot path.
func (rv *RecordView) Resolve(req *Request, name string) (interface{}, error) {
	spec, ok := rv.mt.slots[name]
	if !ok {
		return nil, notFound("slot %s of %s", name, rv.mt.Name())
	}
	if !rv.mt.perms.Check(perm.Attr(name), req.Identity, rv.rec) {
		return nil, forbidden("read %s.%s", rv.mt.Name(), name)
	}
	v, err := rv.value(req, spec)
	if err != nil {
		return nil, err
	}

	path := rv.path + "/" + name
	switch t := v.(type) {
	case *Collection:
		return t.At(path), nil
	case *RecordView:
		return t.At(path), nil
	case *StatisticsView:
		return t.At(path), nil
	}
	return v, nil
}

// Primitive wraps a resolved primitive slot value as a document
func (rv *RecordView) Primitive(req *Request, name string, v interface{}) *PrimitiveDocument {
	return &PrimitiveDocument{
		Type:  TypePrimitive,
		Name:  name,
		Path:  rv.path + "/" + name,
		Text:  rv.text(req, name, v),
		Value: normalize(rv.fieldType(name), v),
	}
}

// Serialize loads the view and wraps it with its actions and attachments
func (rv *RecordView) Serialize(req *Request) (*ObjectDocument, error) {
	data, err := rv.Load(req)
	if err != nil {
		return nil, err
	}
	doc := &ObjectDocument{
		Type: "object",
		Name: rv.name,
		Icon: rv.mt.schema.Icon,
		Path: rv.path,
		Data: data,
		Metadata: ObjectMetadata{
			Actions: []ActionMetadata{},
			Attach:  nonNil(rv.attach),
		},
	}
	for _, kind := range []meta.ActionKind{meta.Instance, meta.Inline} {
		for _, key := range rv.bag.Actions(kind) {
			a := rv.mt.actions[key]
			if a.Allowed(req.Identity, rv.mt, rv.rec) {
				doc.Metadata.Actions = append(doc.Metadata.Actions, a.Metadata(kindTarget(kind), rv.path+"/"+key))
			}
		}
	}
	return doc, nil
}
