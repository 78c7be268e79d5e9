// Package query provides predicate construction for record filtering.
// Predicates are rendered to parameterized SQL for database stores and
// evaluated directly against field maps for in-memory stores.
package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/conduit-lang/admin/internal/orm/schema"
)

// Operator represents a comparison operator
type Operator int

const (
	OpEqual Operator = iota
	OpNotEqual
	OpGreaterThan
	OpGreaterThanOrEqual
	OpLessThan
	OpLessThanOrEqual
	OpIn
	OpNotIn
	OpLike
	OpILike
	OpIsNull
	OpIsNotNull
	OpBetween
	// OpContains is a case-insensitive substring match
	OpContains
)

var operatorNames = [...]string{
	OpEqual:              "=",
	OpNotEqual:           "!=",
	OpGreaterThan:        ">",
	OpGreaterThanOrEqual: ">=",
	OpLessThan:           "<",
	OpLessThanOrEqual:    "<=",
	OpIn:                 "IN",
	OpNotIn:              "NOT IN",
	OpLike:               "LIKE",
	OpILike:              "ILIKE",
	OpIsNull:             "IS NULL",
	OpIsNotNull:          "IS NOT NULL",
	OpBetween:            "BETWEEN",
	OpContains:           "CONTAINS",
}

func (o Operator) String() string {
	if o < 0 || int(o) >= len(operatorNames) {
		return "UNKNOWN"
	}
	return operatorNames[o]
}

// Condition represents a WHERE condition
type Condition struct {
	Field    string
	Operator Operator
	Value    interface{}
	Or       bool // true for OR, false for AND
}

// PredicateGroup represents a group of predicates combined with AND/OR
type PredicateGroup struct {
	Conditions []*Condition
	Groups     []*PredicateGroup
	Or         bool // true for OR, false for AND
}

// NewPredicateGroup creates a new predicate group
func NewPredicateGroup(or bool) *PredicateGroup {
	return &PredicateGroup{
		Conditions: make([]*Condition, 0),
		Groups:     make([]*PredicateGroup, 0),
		Or:         or,
	}
}

// AddCondition adds a condition to the group
func (pg *PredicateGroup) AddCondition(cond *Condition) {
	pg.Conditions = append(pg.Conditions, cond)
}

// AddGroup adds a nested group
func (pg *PredicateGroup) AddGroup(group *PredicateGroup) {
	pg.Groups = append(pg.Groups, group)
}

// ToSQL renders the group with numbered placeholders starting at
// *paramCounter and appends the bound values to args. An empty group
// renders as "".
func (pg *PredicateGroup) ToSQL(paramCounter *int, args *[]interface{}) (string, error) {
	parts := make([]string, 0, len(pg.Conditions)+len(pg.Groups))
	for _, cond := range pg.Conditions {
		sql, err := conditionToSQL(cond, paramCounter, args)
		if err != nil {
			return "", err
		}
		parts = append(parts, sql)
	}
	for _, group := range pg.Groups {
		sql, err := group.ToSQL(paramCounter, args)
		if err != nil {
			return "", err
		}
		if sql != "" {
			parts = append(parts, "("+sql+")")
		}
	}

	if pg.Or {
		return strings.Join(parts, " OR "), nil
	}
	return strings.Join(parts, " AND "), nil
}

func conditionToSQL(cond *Condition, paramCounter *int, args *[]interface{}) (string, error) {
	bind := func(v interface{}) string {
		*args = append(*args, v)
		ph := "$" + strconv.Itoa(*paramCounter)
		*paramCounter++
		return ph
	}

	switch cond.Operator {
	case OpEqual, OpNotEqual, OpGreaterThan, OpGreaterThanOrEqual, OpLessThan, OpLessThanOrEqual:
		return cond.Field + " " + cond.Operator.String() + " " + bind(cond.Value), nil

	case OpLike, OpILike:
		return cond.Field + " " + cond.Operator.String() + " " + bind(cond.Value) + ` ESCAPE '\'`, nil

	case OpIn, OpNotIn:
		values, ok := cond.Value.([]interface{})
		if !ok {
			return "", fmt.Errorf("%s operator requires []interface{} value", cond.Operator)
		}
		if len(values) == 0 {
			// x IN () is false for every row, x NOT IN () true
			if cond.Operator == OpIn {
				return "FALSE", nil
			}
			return "TRUE", nil
		}
		placeholders := make([]string, len(values))
		for i, v := range values {
			placeholders[i] = bind(v)
		}
		return fmt.Sprintf("%s %s (%s)", cond.Field, cond.Operator, strings.Join(placeholders, ", ")), nil

	case OpIsNull, OpIsNotNull:
		return cond.Field + " " + cond.Operator.String(), nil

	case OpBetween:
		bounds, ok := cond.Value.([]interface{})
		if !ok || len(bounds) != 2 {
			return "", fmt.Errorf("BETWEEN operator requires [min, max] values")
		}
		lo := bind(bounds[0])
		return fmt.Sprintf("%s BETWEEN %s AND %s", cond.Field, lo, bind(bounds[1])), nil

	case OpContains:
		pattern := "%" + EscapeLike(fmt.Sprint(cond.Value)) + "%"
		return fmt.Sprintf(`LOWER(%s) LIKE LOWER(%s) ESCAPE '\'`, cond.Field, bind(pattern)), nil
	}
	return "", fmt.Errorf("unsupported operator: %v", cond.Operator)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// EscapeLike quotes the LIKE wildcards of s so it matches literally
func EscapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// PredicateBuilder chains conditions onto a root group
type PredicateBuilder struct {
	root *PredicateGroup
}

// NewPredicateBuilder creates a builder whose root group is an AND
func NewPredicateBuilder() *PredicateBuilder {
	return &PredicateBuilder{root: NewPredicateGroup(false)}
}

// And adds a condition joined with AND
func (pb *PredicateBuilder) And(field string, op Operator, value interface{}) *PredicateBuilder {
	pb.root.AddCondition(&Condition{Field: field, Operator: op, Value: value})
	return pb
}

// Or adds a condition joined with OR
func (pb *PredicateBuilder) Or(field string, op Operator, value interface{}) *PredicateBuilder {
	pb.root.AddCondition(&Condition{Field: field, Operator: op, Value: value, Or: true})
	return pb
}

// AndGroup nests an AND group built by fn
func (pb *PredicateBuilder) AndGroup(fn func(*PredicateBuilder)) *PredicateBuilder {
	return pb.group(false, fn)
}

// OrGroup nests an OR group built by fn
func (pb *PredicateBuilder) OrGroup(fn func(*PredicateBuilder)) *PredicateBuilder {
	return pb.group(true, fn)
}

func (pb *PredicateBuilder) group(or bool, fn func(*PredicateBuilder)) *PredicateBuilder {
	nested := &PredicateBuilder{root: NewPredicateGroup(or)}
	fn(nested)
	pb.root.AddGroup(nested.root)
	return pb
}

// ToSQL renders the root group
func (pb *PredicateBuilder) ToSQL(paramCounter *int, args *[]interface{}) (string, error) {
	return pb.root.ToSQL(paramCounter, args)
}

// Root returns the group built so far
func (pb *PredicateBuilder) Root() *PredicateGroup {
	return pb.root
}

// ValidateOperator validates that an operator is compatible with a field type
func ValidateOperator(op Operator, fieldType schema.PrimitiveType) error {
	spec := &schema.TypeSpec{BaseType: fieldType}
	switch op {
	case OpLike, OpILike, OpContains:
		if !spec.IsText() {
			return fmt.Errorf("operator %s only works with text fields", op.String())
		}
	case OpBetween, OpGreaterThan, OpGreaterThanOrEqual, OpLessThan, OpLessThanOrEqual:
		if !spec.IsNumeric() && !spec.IsTemporal() {
			return fmt.Errorf("operator %s only works with numeric or date fields", op.String())
		}
	}
	return nil
}
