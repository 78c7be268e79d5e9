package graph

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/conduit-lang/admin/internal/admin/meta"
	"github.com/conduit-lang/admin/internal/orm/validation"
)

// Document is a serialized node. Every document carries a "type" discriminator.
type Document interface {
	DocumentType() string
}

// Slot value types
const (
	TypePrimitive     = "primitive"
	TypeCollection    = "collection"
	TypeFieldset      = "fieldset"
	TypeFieldsetList  = "fieldset-list"
	TypeFieldsetGroup = "fieldset-group"
	TypeStatistics    = "statistics"
	TypeDeferred      = "deferred"
)

// SlotValue is one resolved slot of a record view
type SlotValue struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	Type  string `json:"type"`
	// Width is the share of a layout row the slot takes, in percent
	Width int    `json:"width"`
	Path  string `json:"path,omitempty"`
	// Text is the display string of foreign keys and choices
	Text  string      `json:"text,omitempty"`
	Value interface{} `json:"value"`
}

// UnmarshalJSON decodes numbers as int64 when they are whole, float64 otherwise
func (s *SlotValue) UnmarshalJSON(data []byte) error {
	type plain SlotValue
	var raw struct {
		plain
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = SlotValue(raw.plain)
	s.Value = nil
	if len(raw.Value) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw.Value))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("slot %s: %w", s.Name, err)
	}
	s.Value = fromJSONNumbers(v)
	return nil
}

func fromJSONNumbers(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		f, _ := t.Float64()
		return f
	case []interface{}:
		for i := range t {
			t[i] = fromJSONNumbers(t[i])
		}
		return t
	case map[string]interface{}:
		for k := range t {
			t[k] = fromJSONNumbers(t[k])
		}
		return t
	default:
		return v
	}
}

// ObjectDocument is the envelope of a serialized record view
type ObjectDocument struct {
	Type     string         `json:"type"`
	Name     string         `json:"name"`
	Icon     string         `json:"icon,omitempty"`
	Path     string         `json:"path"`
	Data     []SlotValue    `json:"data"`
	Metadata ObjectMetadata `json:"metadata"`
}

// ObjectMetadata lists what a client may do next with an object
type ObjectMetadata struct {
	Actions []ActionMetadata `json:"actions"`
	Attach  []string         `json:"attach"`
}

func (d *ObjectDocument) DocumentType() string { return d.Type }

// DecodeObject parses a serialized object document
func DecodeObject(data []byte) (*ObjectDocument, error) {
	var doc ObjectDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode object: %w", err)
	}
	if doc.Type != "object" {
		return nil, fmt.Errorf("failed to decode object: unexpected type %q", doc.Type)
	}
	return &doc, nil
}

// CollectionDocument is the self-describing form of a collection
type CollectionDocument struct {
	Type     string                   `json:"type"`
	Name     string                   `json:"name"`
	Count    int                      `json:"count"`
	Path     string                   `json:"path"`
	Template string                   `json:"template,omitempty"`
	Metadata CollectionMetadata       `json:"metadata"`
	Data     []RowDocument            `json:"data"`
	Actions  CollectionActions        `json:"actions"`
	Attach   map[string]SubsetSummary `json:"attach"`
}

func (d *CollectionDocument) DocumentType() string { return d.Type }

// CollectionMetadata describes how a client renders and queries a collection
type CollectionMetadata struct {
	Search     SearchMetadata `json:"search"`
	Display    []Column       `json:"display"`
	Filters    []FilterField  `json:"filters"`
	Ordering   []string       `json:"ordering"`
	Pagination Pagination     `json:"pagination"`
}

// SearchMetadata lists searchable fields and the active query
type SearchMetadata struct {
	Fields []string `json:"fields"`
	Query  string   `json:"q,omitempty"`
}

// Column is a displayed field or slot
type Column struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

// FilterField is a field clients may filter on
type FilterField struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	Type  string `json:"type"`
	// Value is the active filter value, if any
	Value string `json:"value,omitempty"`
}

// Pagination is the computed page window of a collection
type Pagination struct {
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
	Pages    int    `json:"pages"`
	Count    int    `json:"count"`
	Interval string `json:"interval"`
	Previous int    `json:"previous,omitempty"`
	Next     int    `json:"next,omitempty"`
}

// CollectionActions groups advertised actions by binding shape
type CollectionActions struct {
	Model    []ActionMetadata `json:"model"`
	Instance []ActionMetadata `json:"instance"`
	Queryset []ActionMetadata `json:"queryset"`
}

// SubsetSummary describes a named alternate subset
type SubsetSummary struct {
	Label string `json:"label"`
	Path  string `json:"path"`
	Count int    `json:"count"`
}

// RowDocument is one record of a collection, restricted to its display fields
type RowDocument struct {
	ID   int64       `json:"id"`
	Path string      `json:"path"`
	Data []SlotValue `json:"data"`
	// Actions are the instance action keys the caller may run on this row
	Actions []string `json:"actions,omitempty"`
}

// ActionMetadata describes an action so a generic client can render it
type ActionMetadata struct {
	Key    string `json:"key"`
	Name   string `json:"name"`
	Submit string `json:"submit"`
	Target Target `json:"target"`
	Method string `json:"method"`
	Icon   string `json:"icon,omitempty"`
	Style  string `json:"style,omitempty"`
	Path   string `json:"path"`
	Modal  bool   `json:"modal"`
}

// StatisticsDocument is chart-ready aggregated data
type StatisticsDocument struct {
	Type      string             `json:"type"`
	Name      string             `json:"name"`
	Path      string             `json:"path,omitempty"`
	X         string             `json:"x"`
	Y         string             `json:"y,omitempty"`
	Aggregate string             `json:"aggregate"`
	Labels    []string           `json:"labels"`
	Series    map[string][]Point `json:"series"`
	// Percentages is the share of each x value in the total
	Percentages []Point `json:"percentages"`
	Total       float64 `json:"total"`
}

func (d *StatisticsDocument) DocumentType() string { return d.Type }

// Point is one (label, value, color) triple of a series
type Point struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
	Color string  `json:"color"`
}

// FormDocument describes the input an action expects, with errors after a rejected submit
type FormDocument struct {
	Type   string                       `json:"type"`
	Action ActionMetadata               `json:"action"`
	Fields []FormFieldDocument          `json:"fields"`
	Errors *validation.ValidationErrors `json:"errors,omitempty"`
}

func (d *FormDocument) DocumentType() string { return d.Type }

// HasErrors reports whether the form was rejected
func (d *FormDocument) HasErrors() bool {
	return d.Errors != nil && d.Errors.HasErrors()
}

// FormFieldDocument is one input of a form
type FormFieldDocument struct {
	Name     string      `json:"name"`
	Label    string      `json:"label"`
	Type     string      `json:"type"`
	Required bool        `json:"required"`
	Help     string      `json:"help,omitempty"`
	Choices  []Choice    `json:"choices,omitempty"`
	Value    interface{} `json:"value,omitempty"`
}

// MessageDocument reports the result of an action
type MessageDocument struct {
	Type   string       `json:"type"`
	Text   string       `json:"text"`
	Style  string       `json:"style,omitempty"`
	Report *BatchReport `json:"report,omitempty"`
}

func (d *MessageDocument) DocumentType() string { return d.Type }

// RedirectDocument tells the client where to navigate next
type RedirectDocument struct {
	Type string `json:"type"`
	Path string `json:"path"`
}

func (d *RedirectDocument) DocumentType() string { return d.Type }

// PrimitiveDocument is a single scalar slot reached by path
type PrimitiveDocument struct {
	Type  string      `json:"type"`
	Name  string      `json:"name"`
	Path  string      `json:"path"`
	Text  string      `json:"text,omitempty"`
	Value interface{} `json:"value"`
}

func (d *PrimitiveDocument) DocumentType() string { return d.Type }

// ChoicesDocument is the pick-list of a field
type ChoicesDocument struct {
	Type    string   `json:"type"`
	Field   string   `json:"field"`
	Choices []Choice `json:"choices"`
}

func (d *ChoicesDocument) DocumentType() string { return d.Type }

// Choice is one selectable value
type Choice struct {
	Value interface{} `json:"value"`
	Label string      `json:"label"`
}

// FileDocument is a generated download
type FileDocument struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"-"`
}

func (d *FileDocument) DocumentType() string { return d.Type }

// CalendarDocument is a month grid of record counts
type CalendarDocument struct {
	Type     string           `json:"type"`
	Field    string           `json:"field"`
	Month    string           `json:"month"`
	Previous string           `json:"previous"`
	Next     string           `json:"next"`
	Weeks    [][]*CalendarDay `json:"weeks"`
}

func (d *CalendarDocument) DocumentType() string { return d.Type }

// CalendarDay is one cell of a calendar; cells outside the month are nil
type CalendarDay struct {
	Date     string `json:"date"`
	Day      int    `json:"day"`
	Count    int    `json:"count"`
	Selected bool   `json:"selected,omitempty"`
}

// NamespaceDocument lists the collections of a namespace
type NamespaceDocument struct {
	Type    string           `json:"type"`
	Name    string           `json:"name"`
	Path    string           `json:"path"`
	Entries []NamespaceEntry `json:"entries"`
}

func (d *NamespaceDocument) DocumentType() string { return d.Type }

// NamespaceEntry is one collection of a namespace
type NamespaceEntry struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	Icon  string `json:"icon,omitempty"`
	Path  string `json:"path"`
}

// kindTarget maps an action list to the target advertised in it
func kindTarget(kind meta.ActionKind) Target {
	switch kind {
	case meta.Global:
		return TargetModel
	case meta.Batch:
		return TargetQueryset
	case meta.Inline:
		return TargetInline
	default:
		return TargetInstance
	}
}
