package validation

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/conduit-lang/admin/internal/orm/schema"
)

// Rule describes one input field of a form
type Rule struct {
	Field string
	Type  *schema.TypeSpec
	// Required rejects empty input even when the type is nullable
	Required   bool
	Validators []Validator
}

// IsRequired reports whether empty input is an error for this rule
func (r Rule) IsRequired() bool {
	if r.Required {
		return true
	}
	return r.Type != nil && !r.Type.Nullable && r.Type.Default == nil
}

// Clean coerces raw input into typed values and runs every rule's validators.
// Fields that are not covered by a rule are dropped. All failures are collected
// and returned as *ValidationErrors.
func Clean(rules []Rule, input map[string]interface{}) (map[string]interface{}, error) {
	cleaned := make(map[string]interface{}, len(rules))
	errs := NewValidationErrors()

	for _, rule := range rules {
		raw, present := input[rule.Field]
		if !present || isEmpty(raw) {
			if rule.IsRequired() {
				errs.Add(rule.Field, "is required")
				continue
			}
			if rule.Type != nil && rule.Type.Default != nil {
				cleaned[rule.Field] = rule.Type.Default
			} else {
				cleaned[rule.Field] = nil
			}
			continue
		}

		value, err := Coerce(rule.Type, raw)
		if err != nil {
			errs.Add(rule.Field, err.Error())
			continue
		}

		valid := true
		for _, v := range rule.Validators {
			if err := v.Validate(value); err != nil {
				errs.Add(rule.Field, err.Error())
				valid = false
			}
		}
		if valid {
			cleaned[rule.Field] = value
		}
	}

	if errs.HasErrors() {
		return nil, errs
	}
	return cleaned, nil
}

// Coerce converts a raw input value to the Go type records carry for spec:
// int64, float64, bool, string or time.Time. String input is parsed, already
// typed input is checked. A nil spec passes the value through.
func Coerce(spec *schema.TypeSpec, raw interface{}) (interface{}, error) {
	if spec == nil {
		return raw, nil
	}
	if s, ok := raw.(string); ok {
		raw = strings.TrimSpace(s)
	}

	switch spec.BaseType {
	case schema.TypeInt, schema.TypeForeignKey:
		switch v := raw.(type) {
		case int:
			return int64(v), nil
		case int64:
			return v, nil
		case float64:
			if v != float64(int64(v)) {
				return nil, fmt.Errorf("must be a whole number")
			}
			return int64(v), nil
		case string:
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("must be a whole number")
			}
			return n, nil
		}
		return nil, fmt.Errorf("must be a whole number")

	case schema.TypeFloat, schema.TypeDecimal:
		switch v := raw.(type) {
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case float64:
			return v, nil
		case string:
			n, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("must be a number")
			}
			return n, nil
		}
		return nil, fmt.Errorf("must be a number")

	case schema.TypeBool:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			switch strings.ToLower(v) {
			case "1", "true", "on", "yes":
				return true, nil
			case "0", "false", "off", "no":
				return false, nil
			}
		}
		return nil, fmt.Errorf("must be true or false")

	case schema.TypeDate, schema.TypeTimestamp:
		switch v := raw.(type) {
		case time.Time:
			return v, nil
		case string:
			layouts := []string{"2006-01-02"}
			if spec.BaseType == schema.TypeTimestamp {
				layouts = []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02 15:04:05", "2006-01-02"}
			}
			for _, layout := range layouts {
				if t, err := time.Parse(layout, v); err == nil {
					return t, nil
				}
			}
		}
		if spec.BaseType == schema.TypeDate {
			return nil, fmt.Errorf("must be a date (YYYY-MM-DD)")
		}
		return nil, fmt.Errorf("must be a date and time")

	case schema.TypeEnum:
		s := fmt.Sprint(raw)
		if err := (&ChoiceValidator{Choices: spec.EnumValues}).Validate(s); err != nil {
			return nil, err
		}
		return s, nil

	case schema.TypeEmail:
		s := fmt.Sprint(raw)
		if err := (&EmailValidator{}).Validate(s); err != nil {
			return nil, err
		}
		return s, nil

	case schema.TypeURL:
		s := fmt.Sprint(raw)
		if err := (&URLValidator{}).Validate(s); err != nil {
			return nil, err
		}
		return s, nil

	default:
		s, ok := raw.(string)
		if !ok {
			s = fmt.Sprint(raw)
		}
		if spec.Length != nil && len([]rune(s)) > *spec.Length {
			return nil, fmt.Errorf("must be at most %d characters", *spec.Length)
		}
		return s, nil
	}
}

func isEmpty(v interface{}) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}
