// Package validation cleans and validates action form input. Every problem
// found in one pass is collected into a ValidationErrors keyed by field name.
package validation

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// FormErrorKey collects errors that do not belong to a single field
const FormErrorKey = "__all__"

// ValidationErrors contains every validation error found in a form submission
type ValidationErrors struct {
	Fields map[string][]string `json:"fields"`
}

// NewValidationErrors creates an empty ValidationErrors
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{
		Fields: make(map[string][]string),
	}
}

// Add adds a validation error for a specific field
func (ve *ValidationErrors) Add(field, message string) {
	if ve.Fields == nil {
		ve.Fields = make(map[string][]string)
	}
	ve.Fields[field] = append(ve.Fields[field], message)
}

// AddFormError adds an error that concerns the submission as a whole
func (ve *ValidationErrors) AddFormError(message string) {
	ve.Add(FormErrorKey, message)
}

// Merge copies every error of other into ve
func (ve *ValidationErrors) Merge(other *ValidationErrors) {
	if other == nil {
		return
	}
	for field, messages := range other.Fields {
		for _, msg := range messages {
			ve.Add(field, msg)
		}
	}
}

// HasErrors returns true if there are any validation errors
func (ve *ValidationErrors) HasErrors() bool {
	return len(ve.Fields) > 0
}

// Count returns the total number of errors across all fields
func (ve *ValidationErrors) Count() int {
	count := 0
	for _, messages := range ve.Fields {
		count += len(messages)
	}
	return count
}

// Error lists the errors sorted by field name
func (ve *ValidationErrors) Error() string {
	if !ve.HasErrors() {
		return "validation failed"
	}

	fields := make([]string, 0, len(ve.Fields))
	for field := range ve.Fields {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var messages []string
	for _, field := range fields {
		for _, msg := range ve.Fields[field] {
			if field == FormErrorKey {
				messages = append(messages, msg)
				continue
			}
			messages = append(messages, fmt.Sprintf("%s: %s", field, msg))
		}
	}

	if len(messages) == 1 {
		return "validation failed: " + messages[0]
	}
	return "validation failed:\n  - " + strings.Join(messages, "\n  - ")
}

// MarshalJSON renders the errors as a form error document body
func (ve *ValidationErrors) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Error  string              `json:"error"`
		Fields map[string][]string `json:"fields"`
	}{
		Error:  "validation_failed",
		Fields: ve.Fields,
	})
}
