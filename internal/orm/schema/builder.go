package schema

import (
	"fmt"
	"strings"
)

// Builder builds a ModelSchema through a fluent API.
// Errors are collected and reported together by Build.
type Builder struct {
	schema *ModelSchema
	errors []error
}

// NewBuilder creates a new schema builder for the named model
func NewBuilder(name string) *Builder {
	b := &Builder{schema: NewModelSchema(name)}
	if name == "" {
		b.errors = append(b.errors, fmt.Errorf("model name cannot be empty"))
	}
	return b
}

// Label sets the singular and plural labels of the model
func (b *Builder) Label(singular, plural string) *Builder {
	b.schema.Label = singular
	b.schema.PluralLabel = plural
	return b
}

// Icon sets the icon name advertised in serialized documents
func (b *Builder) Icon(icon string) *Builder {
	b.schema.Icon = icon
	return b
}

// Title sets the field used as the display string of records
func (b *Builder) Title(field string) *Builder {
	b.schema.Title = field
	return b
}

// Field adds a field with an explicit type specification
func (b *Builder) Field(name, label string, spec *TypeSpec) *Builder {
	if name == "" {
		b.errors = append(b.errors, fmt.Errorf("field name cannot be empty"))
		return b
	}
	if b.schema.HasField(name) {
		b.errors = append(b.errors, fmt.Errorf("field %s is declared twice", name))
		return b
	}
	if spec == nil {
		b.errors = append(b.errors, fmt.Errorf("field %s has no type", name))
		return b
	}
	b.schema.addField(&Field{Name: name, Label: label, Type: spec})
	return b
}

// String adds a required string field
func (b *Builder) String(name string) *Builder {
	return b.Field(name, "", &TypeSpec{BaseType: TypeString})
}

// Text adds a nullable long text field
func (b *Builder) Text(name string) *Builder {
	return b.Field(name, "", &TypeSpec{BaseType: TypeText, Nullable: true})
}

// Int adds an integer field
func (b *Builder) Int(name string) *Builder {
	return b.Field(name, "", &TypeSpec{BaseType: TypeInt})
}

// Decimal adds a nullable decimal field
func (b *Builder) Decimal(name string) *Builder {
	return b.Field(name, "", &TypeSpec{BaseType: TypeDecimal, Nullable: true})
}

// Bool adds a boolean field defaulting to false
func (b *Builder) Bool(name string) *Builder {
	return b.Field(name, "", &TypeSpec{BaseType: TypeBool, Default: false})
}

// Date adds a nullable date field
func (b *Builder) Date(name string) *Builder {
	return b.Field(name, "", &TypeSpec{BaseType: TypeDate, Nullable: true})
}

// Timestamp adds a nullable timestamp field
func (b *Builder) Timestamp(name string) *Builder {
	return b.Field(name, "", &TypeSpec{BaseType: TypeTimestamp, Nullable: true})
}

// Email adds a required e-mail field
func (b *Builder) Email(name string) *Builder {
	return b.Field(name, "", &TypeSpec{BaseType: TypeEmail})
}

// Enum adds a nullable choice field. Choices are given as "value" or "value=Label".
func (b *Builder) Enum(name string, choices ...string) *Builder {
	if len(choices) == 0 {
		b.errors = append(b.errors, fmt.Errorf("enum field %s has no choices", name))
		return b
	}
	spec := &TypeSpec{BaseType: TypeEnum, Nullable: true, EnumLabels: make(map[string]string)}
	for _, c := range choices {
		value, label, found := strings.Cut(c, "=")
		if !found {
			label = humanize(value)
		}
		spec.EnumValues = append(spec.EnumValues, value)
		spec.EnumLabels[value] = label
	}
	return b.Field(name, "", spec)
}

// BelongsTo adds a nullable foreign key to the target model.
// reverse names the collection slot generated on the target; empty means none.
func (b *Builder) BelongsTo(name, target, reverse string) *Builder {
	b.Field(name, "", &TypeSpec{BaseType: TypeForeignKey, Nullable: true})
	if f, ok := b.schema.Field(name); ok && f.Type.BaseType == TypeForeignKey {
		f.Relation = &Relationship{TargetModel: target, Reverse: reverse}
	}
	return b
}

// Build returns the schema or every error collected while building it
func (b *Builder) Build() (*ModelSchema, error) {
	if b.schema.Title != "" && !b.schema.HasField(b.schema.Title) {
		b.errors = append(b.errors, fmt.Errorf("title field %s does not exist", b.schema.Title))
	}
	if len(b.errors) > 0 {
		var errMsgs []string
		for _, err := range b.errors {
			errMsgs = append(errMsgs, err.Error())
		}
		return nil, fmt.Errorf("schema building failed for %s with %d errors:\n%s",
			b.schema.Name, len(b.errors), strings.Join(errMsgs, "\n"))
	}
	return b.schema, nil
}

// MustBuild is like Build but panics on error. Intended for static model declarations.
func (b *Builder) MustBuild() *ModelSchema {
	s, err := b.Build()
	if err != nil {
		panic(err)
	}
	return s
}
