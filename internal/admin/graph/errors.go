package graph

import (
	"errors"
	"fmt"
)

var (
	// ErrForbidden is returned when a capability check or the path whitelist rejects the caller
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound is returned when a selector resolves to nothing
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExecuted is returned by a second Execute on the same form
	ErrAlreadyExecuted = errors.New("action already executed")

	// ErrNotValidated is returned by Execute before a successful Validate
	ErrNotValidated = errors.New("action input not validated")
)

// ConfigurationError reports invalid metadata: an unknown field, slot,
// action or subset name given to a fluent builder or a model config.
type ConfigurationError struct {
	Model  string
	Name   string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("configuration error in %s: %s", e.Model, e.Reason)
	}
	return fmt.Sprintf("configuration error in %s: %q %s", e.Model, e.Name, e.Reason)
}

// ExecutionError wraps the failure of an action's own logic after its input validated
type ExecutionError struct {
	Action string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("action %s failed: %v", e.Action, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// IsConfigurationError reports whether err carries a *ConfigurationError
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

func forbidden(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

func notFound(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}
