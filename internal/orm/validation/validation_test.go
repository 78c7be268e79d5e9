package validation

import (
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/conduit-lang/admin/internal/orm/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationErrors_Add(t *testing.T) {
	errs := NewValidationErrors()
	errs.Add("title", "must be at least 5 characters")
	errs.Add("email", "must be a valid email address")
	errs.Add("title", "must not contain special characters")

	assert.Len(t, errs.Fields, 2)
	assert.Len(t, errs.Fields["title"], 2)
	assert.Equal(t, 3, errs.Count())
	assert.True(t, errs.HasErrors())
}

func TestValidationErrors_Error(t *testing.T) {
	assert.Equal(t, "validation failed", NewValidationErrors().Error())

	errs := NewValidationErrors()
	errs.Add("title", "is required")
	assert.Equal(t, "validation failed: title: is required", errs.Error())

	errs.Add("email", "must be a valid email address")
	errs.AddFormError("dates overlap")
	assert.Equal(t,
		"validation failed:\n  - dates overlap\n  - email: must be a valid email address\n  - title: is required",
		errs.Error())
}

func TestValidationErrors_MarshalJSON(t *testing.T) {
	errs := NewValidationErrors()
	errs.Add("title", "is required")

	data, err := json.Marshal(errs)
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"validation_failed","fields":{"title":["is required"]}}`, string(data))
}

func TestValidators(t *testing.T) {
	tests := []struct {
		name      string
		validator Validator
		value     interface{}
		wantErr   bool
	}{
		{"min number ok", &MinValidator{Min: 5}, int64(10), false},
		{"min number low", &MinValidator{Min: 5}, 3.5, true},
		{"min string runes", &MinValidator{Min: 3}, "héé", false},
		{"min string short", &MinValidator{Min: 3}, "hé", true},
		{"max number high", &MaxValidator{Max: 5}, int64(6), true},
		{"max string ok", &MaxValidator{Max: 5}, "hello", false},
		{"max not numeric", &MaxValidator{Max: 5}, true, true},
		{"pattern ok", &PatternValidator{Pattern: regexp.MustCompile(`^[a-z]+$`)}, "abc", false},
		{"pattern mismatch", &PatternValidator{Pattern: regexp.MustCompile(`^[a-z]+$`)}, "Abc", true},
		{"email ok", &EmailValidator{}, "ann@example.com", false},
		{"email bad", &EmailValidator{}, "not-an-email", true},
		{"url ok", &URLValidator{}, "https://example.com/x", false},
		{"url no scheme", &URLValidator{}, "example.com", true},
		{"choice ok", &ChoiceValidator{Choices: []string{"a", "b"}}, "b", false},
		{"choice bad", &ChoiceValidator{Choices: []string{"a", "b"}}, "c", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.validator.Validate(tt.value)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCoerce(t *testing.T) {
	length := 4
	tests := []struct {
		name    string
		spec    *schema.TypeSpec
		raw     interface{}
		want    interface{}
		wantErr bool
	}{
		{"int from string", &schema.TypeSpec{BaseType: schema.TypeInt}, " 42 ", int64(42), false},
		{"int from json float", &schema.TypeSpec{BaseType: schema.TypeInt}, float64(7), int64(7), false},
		{"int fractional", &schema.TypeSpec{BaseType: schema.TypeInt}, 7.5, nil, true},
		{"int garbage", &schema.TypeSpec{BaseType: schema.TypeInt}, "seven", nil, true},
		{"decimal", &schema.TypeSpec{BaseType: schema.TypeDecimal}, "9.99", 9.99, false},
		{"bool on", &schema.TypeSpec{BaseType: schema.TypeBool}, "on", true, false},
		{"bool bad", &schema.TypeSpec{BaseType: schema.TypeBool}, "maybe", nil, true},
		{"date", &schema.TypeSpec{BaseType: schema.TypeDate}, "2024-03-01", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), false},
		{"date bad", &schema.TypeSpec{BaseType: schema.TypeDate}, "03/01/2024", nil, true},
		{"timestamp", &schema.TypeSpec{BaseType: schema.TypeTimestamp}, "2024-03-01T10:30", time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC), false},
		{"enum ok", &schema.TypeSpec{BaseType: schema.TypeEnum, EnumValues: []string{"draft", "live"}}, "live", "live", false},
		{"enum bad", &schema.TypeSpec{BaseType: schema.TypeEnum, EnumValues: []string{"draft", "live"}}, "gone", nil, true},
		{"email", &schema.TypeSpec{BaseType: schema.TypeEmail}, "x@y.io", "x@y.io", false},
		{"string length", &schema.TypeSpec{BaseType: schema.TypeString, Length: &length}, "hello", nil, true},
		{"nil spec", nil, 12, 12, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.spec, tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClean(t *testing.T) {
	rules := []Rule{
		{Field: "title", Type: &schema.TypeSpec{BaseType: schema.TypeString}, Validators: []Validator{&MinValidator{Min: 2}}},
		{Field: "pages", Type: &schema.TypeSpec{BaseType: schema.TypeInt, Nullable: true}},
		{Field: "available", Type: &schema.TypeSpec{BaseType: schema.TypeBool, Default: false}},
		{Field: "note", Type: &schema.TypeSpec{BaseType: schema.TypeText, Nullable: true}, Required: true},
	}

	t.Run("valid input", func(t *testing.T) {
		cleaned, err := Clean(rules, map[string]interface{}{
			"title": "Dune",
			"pages": "412",
			"note":  "classic",
			"extra": "dropped",
		})
		require.NoError(t, err)
		assert.Equal(t, map[string]interface{}{
			"title":     "Dune",
			"pages":     int64(412),
			"available": false,
			"note":      "classic",
		}, cleaned)
	})

	t.Run("collects every error", func(t *testing.T) {
		_, err := Clean(rules, map[string]interface{}{
			"title": "D",
			"pages": "many",
			"note":  "  ",
		})
		require.Error(t, err)

		var verrs *ValidationErrors
		require.ErrorAs(t, err, &verrs)
		assert.Equal(t, 3, verrs.Count())
		assert.Equal(t, []string{"is required"}, verrs.Fields["note"])
		assert.Equal(t, []string{"must be a whole number"}, verrs.Fields["pages"])
		assert.Contains(t, verrs.Fields, "title")
	})

	t.Run("missing required string", func(t *testing.T) {
		_, err := Clean(rules[:1], map[string]interface{}{})
		var verrs *ValidationErrors
		require.ErrorAs(t, err, &verrs)
		assert.Equal(t, []string{"is required"}, verrs.Fields["title"])
	})
}

func TestValidatorFunc(t *testing.T) {
	even := ValidatorFunc(func(v interface{}) error {
		if v.(int64)%2 != 0 {
			return assert.AnError
		}
		return nil
	})
	assert.NoError(t, even.Validate(int64(2)))
	assert.Error(t, even.Validate(int64(3)))
}
