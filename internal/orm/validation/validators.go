package validation

import (
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/conduit-lang/admin/internal/orm/query"
)

// Validator checks a cleaned, non-nil field value
type Validator interface {
	Validate(value interface{}) error
}

// ValidatorFunc adapts a function to the Validator interface
type ValidatorFunc func(value interface{}) error

// Validate implements the Validator interface
func (f ValidatorFunc) Validate(value interface{}) error {
	return f(value)
}

// MinValidator checks a lower bound: the value itself for numbers,
// the rune count for strings
type MinValidator struct {
	Min float64
}

// Validate implements the Validator interface
func (v *MinValidator) Validate(value interface{}) error {
	if s, ok := value.(string); ok {
		if float64(utf8.RuneCountInString(s)) < v.Min {
			return fmt.Errorf("must be at least %v characters", v.Min)
		}
		return nil
	}
	n, ok := query.ToFloat(value)
	if !ok {
		return fmt.Errorf("expected numeric value")
	}
	if n < v.Min {
		return fmt.Errorf("must be at least %v", v.Min)
	}
	return nil
}

// MaxValidator checks an upper bound: the value itself for numbers,
// the rune count for strings
type MaxValidator struct {
	Max float64
}

// Validate implements the Validator interface
func (v *MaxValidator) Validate(value interface{}) error {
	if s, ok := value.(string); ok {
		if float64(utf8.RuneCountInString(s)) > v.Max {
			return fmt.Errorf("must be at most %v characters", v.Max)
		}
		return nil
	}
	n, ok := query.ToFloat(value)
	if !ok {
		return fmt.Errorf("expected numeric value")
	}
	if n > v.Max {
		return fmt.Errorf("must be at most %v", v.Max)
	}
	return nil
}

// PatternValidator validates string values against a regex pattern
type PatternValidator struct {
	Pattern *regexp.Regexp
}

// Validate implements the Validator interface
func (v *PatternValidator) Validate(value interface{}) error {
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("pattern validation requires string value")
	}
	if !v.Pattern.MatchString(s) {
		return fmt.Errorf("does not match required pattern")
	}
	return nil
}

// EmailValidator validates email addresses
type EmailValidator struct{}

// Validate implements the Validator interface
func (v *EmailValidator) Validate(value interface{}) error {
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("email validation requires string value")
	}
	if _, err := mail.ParseAddress(s); err != nil {
		return fmt.Errorf("must be a valid email address")
	}
	return nil
}

// URLValidator validates absolute URLs
type URLValidator struct{}

// Validate implements the Validator interface
func (v *URLValidator) Validate(value interface{}) error {
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("URL validation requires string value")
	}
	parsed, err := url.Parse(strings.TrimSpace(s))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("must be a valid URL")
	}
	return nil
}

// ChoiceValidator restricts a value to a fixed set of choices
type ChoiceValidator struct {
	Choices []string
}

// Validate implements the Validator interface
func (v *ChoiceValidator) Validate(value interface{}) error {
	s := fmt.Sprint(value)
	for _, c := range v.Choices {
		if c == s {
			return nil
		}
	}
	return fmt.Errorf("%q is not a valid choice", s)
}
