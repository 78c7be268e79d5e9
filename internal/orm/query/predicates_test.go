package query

import (
	"testing"
	"time"

	"github.com/conduit-lang/admin/internal/orm/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperator_String(t *testing.T) {
	assert.Equal(t, "=", OpEqual.String())
	assert.Equal(t, "NOT IN", OpNotIn.String())
	assert.Equal(t, "BETWEEN", OpBetween.String())
	assert.Equal(t, "CONTAINS", OpContains.String())
	assert.Equal(t, "UNKNOWN", Operator(99).String())
}

func TestConditionToSQL(t *testing.T) {
	tests := []struct {
		name     string
		cond     *Condition
		wantSQL  string
		wantArgs []interface{}
	}{
		{"equal", &Condition{Field: "status", Operator: OpEqual, Value: "published"}, "status = $1", []interface{}{"published"}},
		{"greater or equal", &Condition{Field: "pages", Operator: OpGreaterThanOrEqual, Value: 10}, "pages >= $1", []interface{}{10}},
		{"in", &Condition{Field: "id", Operator: OpIn, Value: []interface{}{1, 2}}, "id IN ($1, $2)", []interface{}{1, 2}},
		{"empty in", &Condition{Field: "id", Operator: OpIn, Value: []interface{}{}}, "FALSE", []interface{}{}},
		{"is null", &Condition{Field: "author", Operator: OpIsNull}, "author IS NULL", []interface{}{}},
		{"contains", &Condition{Field: "title", Operator: OpContains, Value: "go"}, "LOWER(title) LIKE LOWER($1) ESCAPE '\\'", []interface{}{"%go%"}},
		{"contains escapes wildcards", &Condition{Field: "title", Operator: OpContains, Value: `100%_a\b`}, "LOWER(title) LIKE LOWER($1) ESCAPE '\\'", []interface{}{`%100\%\_a\\b%`}},
		{"like keeps the pattern", &Condition{Field: "title", Operator: OpLike, Value: "Go_%"}, "title LIKE $1 ESCAPE '\\'", []interface{}{"Go_%"}},
		{"between", &Condition{Field: "pages", Operator: OpBetween, Value: []interface{}{1, 5}}, "pages BETWEEN $1 AND $2", []interface{}{1, 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter := 1
			args := make([]interface{}, 0)
			sql, err := conditionToSQL(tt.cond, &counter, &args)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestConditionToSQL_BetweenInvalid(t *testing.T) {
	counter := 1
	args := make([]interface{}, 0)
	_, err := conditionToSQL(&Condition{Field: "x", Operator: OpBetween, Value: 3}, &counter, &args)
	assert.Error(t, err)
}

func TestPredicateGroup_NestedSQL(t *testing.T) {
	pb := NewPredicateBuilder().
		And("available", OpEqual, true).
		OrGroup(func(b *PredicateBuilder) {
			b.Or("title", OpContains, "go").Or("summary", OpContains, "go")
		})

	counter := 1
	args := make([]interface{}, 0)
	sql, err := pb.ToSQL(&counter, &args)
	require.NoError(t, err)
	assert.Equal(t, `available = $1 AND (LOWER(title) LIKE LOWER($2) ESCAPE '\' OR LOWER(summary) LIKE LOWER($3) ESCAPE '\')`, sql)
	assert.Len(t, args, 3)
	assert.Equal(t, 4, counter)
}

func TestPredicateGroup_Match(t *testing.T) {
	row := map[string]interface{}{
		"title":     "Learning Go",
		"pages":     int64(320),
		"available": true,
		"author":    nil,
		"published": time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}

	tests := []struct {
		name string
		pg   *PredicateGroup
		want bool
	}{
		{"empty group", NewPredicateGroup(false), true},
		{"contains is case insensitive", NewPredicateBuilder().And("title", OpContains, "GO").Root(), true},
		{"numeric kinds compare", NewPredicateBuilder().And("pages", OpEqual, 320).Root(), true},
		{"range", NewPredicateBuilder().And("pages", OpGreaterThanOrEqual, 300).And("pages", OpLessThanOrEqual, 400).Root(), true},
		{"null", NewPredicateBuilder().And("author", OpIsNull, nil).Root(), true},
		{"date against string", NewPredicateBuilder().And("published", OpGreaterThan, "2024-01-01").Root(), true},
		{"in", NewPredicateBuilder().And("pages", OpIn, []interface{}{1, 320}).Root(), true},
		{"empty in never matches", NewPredicateBuilder().And("pages", OpIn, []interface{}{}).Root(), false},
		{"or group any", NewPredicateBuilder().OrGroup(func(b *PredicateBuilder) {
			b.Or("title", OpContains, "rust").Or("available", OpEqual, true)
		}).Root(), true},
		{"and fails on one", NewPredicateBuilder().And("available", OpEqual, true).And("pages", OpLessThan, 10).Root(), false},
		{"contains percent is literal", NewPredicateBuilder().And("title", OpContains, "Go%").Root(), false},
		{"contains underscore is literal", NewPredicateBuilder().And("title", OpContains, "g_").Root(), false},
		{"like wildcards", NewPredicateBuilder().And("title", OpLike, "Learn_ng %").Root(), true},
		{"like is case sensitive", NewPredicateBuilder().And("title", OpLike, "learning%").Root(), false},
		{"ilike folds case", NewPredicateBuilder().And("title", OpILike, "learning%").Root(), true},
		{"like escape", NewPredicateBuilder().And("title", OpLike, `Learning\_Go`).Root(), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.pg.Match(row))
		})
	}
}

func TestValidateOperator(t *testing.T) {
	assert.NoError(t, ValidateOperator(OpContains, schema.TypeString))
	assert.Error(t, ValidateOperator(OpContains, schema.TypeInt))
	assert.NoError(t, ValidateOperator(OpGreaterThanOrEqual, schema.TypeDate))
	assert.Error(t, ValidateOperator(OpLessThanOrEqual, schema.TypeBool))
	assert.NoError(t, ValidateOperator(OpEqual, schema.TypeBool))
}
