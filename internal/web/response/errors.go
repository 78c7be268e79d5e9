package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/conduit-lang/admin/internal/admin/graph"
	"github.com/conduit-lang/admin/internal/admin/task"
	"github.com/conduit-lang/admin/internal/orm/store"
	"github.com/conduit-lang/admin/internal/orm/validation"
)

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ValidationErrorResponse represents validation errors
type ValidationErrorResponse struct {
	Error   string              `json:"error"`
	Message string              `json:"message"`
	Code    string              `json:"code"`
	Fields  map[string][]string `json:"fields"`
}

// StatusFor maps a dispatch error to its HTTP status. Forbidden becomes 401
// for anonymous callers so clients know to authenticate.
func StatusFor(err error, anonymous bool) int {
	var ve *validation.ValidationErrors
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, graph.ErrForbidden):
		if anonymous {
			return http.StatusUnauthorized
		}
		return http.StatusForbidden
	case errors.Is(err, graph.ErrNotFound),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, task.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, graph.ErrAlreadyExecuted):
		return http.StatusConflict
	case graph.IsConfigurationError(err), errors.As(err, &ve):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// RenderError renders err with the status StatusFor gives it. Internal errors
// are reported with a generic message.
func RenderError(w http.ResponseWriter, err error, anonymous bool) {
	status := StatusFor(err, anonymous)

	var ve *validation.ValidationErrors
	if errors.As(err, &ve) {
		RenderValidationError(w, ve)
		return
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "Internal server error"
	}
	RenderErrorWithCode(w, status, message, errorCodeFromStatus(status))
}

// RenderErrorWithCode renders an error with a specific error code
func RenderErrorWithCode(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, &ErrorResponse{
		Error:   "error",
		Message: message,
		Code:    code,
	})
}

// RenderValidationError renders validation errors as a 400 with the failing fields
func RenderValidationError(w http.ResponseWriter, ve *validation.ValidationErrors) {
	writeJSON(w, http.StatusBadRequest, &ValidationErrorResponse{
		Error:   "validation_failed",
		Message: "The request contains invalid data",
		Code:    "validation_error",
		Fields:  ve.Fields,
	})
}

// RenderBadRequest renders a 400 Bad Request error
func RenderBadRequest(w http.ResponseWriter, message string) {
	RenderErrorWithCode(w, http.StatusBadRequest, message, errorCodeFromStatus(http.StatusBadRequest))
}

// RenderUnauthorized renders a 401 Unauthorized error
func RenderUnauthorized(w http.ResponseWriter, message string) {
	if message == "" {
		message = "Authentication required"
	}
	RenderErrorWithCode(w, http.StatusUnauthorized, message, errorCodeFromStatus(http.StatusUnauthorized))
}

// RenderTooManyRequests renders a 429 Too Many Requests error
func RenderTooManyRequests(w http.ResponseWriter, retryAfter string) {
	w.Header().Set("Retry-After", retryAfter)
	RenderErrorWithCode(w, http.StatusTooManyRequests, "Too many attempts", errorCodeFromStatus(http.StatusTooManyRequests))
}

// RenderInternalError renders a 500 without exposing err
func RenderInternalError(w http.ResponseWriter) {
	RenderErrorWithCode(w, http.StatusInternalServerError, "Internal server error", errorCodeFromStatus(http.StatusInternalServerError))
}

// errorCodeFromStatus maps HTTP status codes to error codes
func errorCodeFromStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusConflict:
		return "conflict"
	case http.StatusTooManyRequests:
		return "too_many_requests"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return "error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
