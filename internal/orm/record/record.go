// Package record defines the single identified entity every store returns.
package record

import (
	"fmt"
	"strconv"
	"time"

	"github.com/conduit-lang/admin/internal/orm/query"
)

// Record is a single domain entity: an opaque id plus typed field values.
// Records are created and destroyed by the store; the admin graph reads and
// writes them through slot accessors.
type Record struct {
	ID     int64
	Model  string
	Fields map[string]interface{}
}

// New creates a record of the given model
func New(model string, id int64, fields map[string]interface{}) *Record {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	return &Record{ID: id, Model: model, Fields: fields}
}

// Get returns a field value; "id" resolves to the record id
func (r *Record) Get(name string) interface{} {
	if name == "id" {
		return r.ID
	}
	return r.Fields[name]
}

// Set assigns a field value
func (r *Record) Set(name string, value interface{}) {
	if r.Fields == nil {
		r.Fields = make(map[string]interface{})
	}
	r.Fields[name] = value
}

// String returns a field as a string, empty for nil
func (r *Record) String(name string) string {
	v := r.Get(name)
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Int returns a numeric field as int64
func (r *Record) Int(name string) (int64, bool) {
	v := r.Get(name)
	if f, ok := query.ToFloat(v); ok {
		return int64(f), true
	}
	if s, ok := v.(string); ok {
		n, err := strconv.ParseInt(s, 10, 64)
		return n, err == nil
	}
	return 0, false
}

// Bool returns a boolean field, false when unset
func (r *Record) Bool(name string) bool {
	b, _ := r.Get(name).(bool)
	return b
}

// Time returns a date or timestamp field
func (r *Record) Time(name string) (time.Time, bool) {
	t, ok := r.Get(name).(time.Time)
	return t, ok
}

// Snapshot returns a copy of the field map including the id,
// the shape stores and predicates operate on
func (r *Record) Snapshot() map[string]interface{} {
	out := make(map[string]interface{}, len(r.Fields)+1)
	for k, v := range r.Fields {
		out[k] = v
	}
	out["id"] = r.ID
	return out
}

// Clone returns a deep copy of the field map
func (r *Record) Clone() *Record {
	fields := make(map[string]interface{}, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	return &Record{ID: r.ID, Model: r.Model, Fields: fields}
}

// Path returns the path segment selecting the record
func (r *Record) Path() string {
	return strconv.FormatInt(r.ID, 10)
}
