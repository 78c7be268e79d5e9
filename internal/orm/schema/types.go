// Package schema provides type definitions for the models served by the admin graph.
// It defines the field types, choices and relations each model declares, which the
// metadata layer inspects to derive default display, filter and search lists.
package schema

import (
	"fmt"
	"strings"
)

// PrimitiveType represents the built-in primitive field types
type PrimitiveType int

const (
	// Text types
	TypeString PrimitiveType = iota
	TypeText

	// Numeric types
	TypeInt
	TypeFloat
	TypeDecimal

	// Boolean
	TypeBool

	// Time types
	TypeTimestamp
	TypeDate

	// Validated types
	TypeEmail
	TypeURL

	// Enum
	TypeEnum

	// TypeForeignKey holds the id of a related record
	TypeForeignKey
)

// String returns the string representation of the primitive type
func (p PrimitiveType) String() string {
	switch p {
	case TypeString:
		return "string"
	case TypeText:
		return "text"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeDecimal:
		return "decimal"
	case TypeBool:
		return "bool"
	case TypeTimestamp:
		return "timestamp"
	case TypeDate:
		return "date"
	case TypeEmail:
		return "email"
	case TypeURL:
		return "url"
	case TypeEnum:
		return "enum"
	case TypeForeignKey:
		return "fk"
	default:
		return "unknown"
	}
}

// ParsePrimitiveType converts a string to a PrimitiveType
func ParsePrimitiveType(s string) (PrimitiveType, error) {
	switch s {
	case "string":
		return TypeString, nil
	case "text":
		return TypeText, nil
	case "int":
		return TypeInt, nil
	case "float":
		return TypeFloat, nil
	case "decimal":
		return TypeDecimal, nil
	case "bool":
		return TypeBool, nil
	case "timestamp":
		return TypeTimestamp, nil
	case "date":
		return TypeDate, nil
	case "email":
		return TypeEmail, nil
	case "url":
		return TypeURL, nil
	case "enum":
		return TypeEnum, nil
	case "fk":
		return TypeForeignKey, nil
	default:
		return 0, fmt.Errorf("unknown primitive type: %s", s)
	}
}

// TypeSpec represents a complete type specification with nullability
type TypeSpec struct {
	BaseType PrimitiveType
	Nullable bool
	Default  interface{}

	// EnumValues lists the accepted values of an enum field, in display order
	EnumValues []string
	// EnumLabels maps enum values to human-readable labels
	EnumLabels map[string]string

	// Length bounds string(N)
	Length *int
}

// String returns a string representation of the TypeSpec
func (t *TypeSpec) String() string {
	var s string
	switch {
	case len(t.EnumValues) > 0:
		s = fmt.Sprintf("enum%v", t.EnumValues)
	default:
		s = t.BaseType.String()
		if t.Length != nil {
			s = fmt.Sprintf("%s(%d)", s, *t.Length)
		}
	}

	if t.Nullable {
		s += "?"
	} else {
		s += "!"
	}
	return s
}

// IsNumeric returns true if the type is a numeric type
func (t *TypeSpec) IsNumeric() bool {
	return t.BaseType == TypeInt ||
		t.BaseType == TypeFloat ||
		t.BaseType == TypeDecimal
}

// IsText returns true if the type is a free text type
func (t *TypeSpec) IsText() bool {
	return t.BaseType == TypeString ||
		t.BaseType == TypeText ||
		t.BaseType == TypeEmail ||
		t.BaseType == TypeURL
}

// IsTemporal returns true for date and timestamp types
func (t *TypeSpec) IsTemporal() bool {
	return t.BaseType == TypeDate || t.BaseType == TypeTimestamp
}

// HasChoices returns true if the field is restricted to a fixed pick-list
func (t *TypeSpec) HasChoices() bool {
	return len(t.EnumValues) > 0
}

// ChoiceLabel returns the label of an enum value, falling back to the value itself
func (t *TypeSpec) ChoiceLabel(value string) string {
	if label, ok := t.EnumLabels[value]; ok {
		return label
	}
	return value
}

// Relationship describes the record a foreign key points at
type Relationship struct {
	TargetModel string
	// Reverse is the name of the collection slot generated on the target model
	Reverse string
}

// Field represents a field in a model schema
type Field struct {
	Name     string
	Label    string
	Type     *TypeSpec
	Relation *Relationship
}

// IsForeignKey returns true if the field references another model
func (f *Field) IsForeignKey() bool {
	return f.Relation != nil
}

// ModelSchema represents the complete schema of a model.
// Fields keep their declaration order; the primary key is always "id".
type ModelSchema struct {
	Name        string
	Label       string
	PluralLabel string
	Icon        string
	// Title is the field used as the display string of a record
	Title string

	fields []*Field
	index  map[string]*Field
}

// PrimaryKey is the name of the identity field every model carries
const PrimaryKey = "id"

// NewModelSchema creates a new ModelSchema with an implicit id field
func NewModelSchema(name string) *ModelSchema {
	s := &ModelSchema{
		Name:        name,
		Label:       humanize(name),
		PluralLabel: humanize(name) + "s",
		index:       make(map[string]*Field),
	}
	s.addField(&Field{Name: PrimaryKey, Label: "ID", Type: &TypeSpec{BaseType: TypeInt}})
	return s
}

func (s *ModelSchema) addField(f *Field) {
	if f.Label == "" {
		f.Label = humanize(f.Name)
	}
	s.fields = append(s.fields, f)
	s.index[f.Name] = f
}

// Fields returns the fields in declaration order
func (s *ModelSchema) Fields() []*Field {
	out := make([]*Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Field returns the named field
func (s *ModelSchema) Field(name string) (*Field, bool) {
	f, ok := s.index[name]
	return f, ok
}

// HasField returns true if the model has a field with the given name
func (s *ModelSchema) HasField(name string) bool {
	_, exists := s.index[name]
	return exists
}

// FieldNames returns all field names in declaration order
func (s *ModelSchema) FieldNames() []string {
	names := make([]string, len(s.fields))
	for i, f := range s.fields {
		names[i] = f.Name
	}
	return names
}

// ForeignKeys returns the fields that reference other models
func (s *ModelSchema) ForeignKeys() []*Field {
	var out []*Field
	for _, f := range s.fields {
		if f.IsForeignKey() {
			out = append(out, f)
		}
	}
	return out
}

// TableName returns the storage table of the model
func (s *ModelSchema) TableName() string {
	return toSnakeCase(s.Name)
}

// Humanize turns "published_at" or "PublishedAt" into "Published at"
func Humanize(name string) string {
	return humanize(name)
}

func humanize(name string) string {
	s := strings.ReplaceAll(toSnakeCase(name), "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// toSnakeCase converts a string to snake_case
func toSnakeCase(s string) string {
	var result []rune
	runes := []rune(s)

	for i, r := range runes {
		if i > 0 && r >= 'A' && r <= 'Z' {
			prev := runes[i-1]
			if prev >= 'a' && prev <= 'z' {
				result = append(result, '_')
			} else if i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z' {
				result = append(result, '_')
			}
		}
		if r >= 'A' && r <= 'Z' {
			result = append(result, r+('a'-'A'))
		} else {
			result = append(result, r)
		}
	}
	return string(result)
}
