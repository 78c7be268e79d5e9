package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/conduit-lang/admin/internal/admin/graph"
	"github.com/conduit-lang/admin/internal/admin/task"
	"github.com/conduit-lang/admin/internal/orm/store"
	"github.com/conduit-lang/admin/internal/orm/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusFor(t *testing.T) {
	ve := validation.NewValidationErrors()
	ve.Add("title", "is required")

	tests := []struct {
		name      string
		err       error
		anonymous bool
		want      int
	}{
		{"nil", nil, false, http.StatusOK},
		{"forbidden anonymous", fmt.Errorf("%w: list Book", graph.ErrForbidden), true, http.StatusUnauthorized},
		{"forbidden authenticated", fmt.Errorf("%w: list Book", graph.ErrForbidden), false, http.StatusForbidden},
		{"not found", fmt.Errorf("%w: Book 9", graph.ErrNotFound), false, http.StatusNotFound},
		{"record not found", store.ErrNotFound, false, http.StatusNotFound},
		{"task not found", task.ErrTaskNotFound, true, http.StatusNotFound},
		{"configuration", &graph.ConfigurationError{Model: "Book", Name: "nope", Reason: "is not a field"}, false, http.StatusBadRequest},
		{"validation", fmt.Errorf("add: %w", ve), false, http.StatusBadRequest},
		{"executed twice", graph.ErrAlreadyExecuted, false, http.StatusConflict},
		{"execution", &graph.ExecutionError{Action: "archive", Err: errors.New("disk full")}, false, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.err, tt.anonymous))
		})
	}
}

func TestRenderError(t *testing.T) {
	w := httptest.NewRecorder()
	RenderError(w, &graph.ExecutionError{Action: "archive", Err: errors.New("password=hunter2")}, false)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "Internal server error", resp.Message)
	assert.Equal(t, "internal_error", resp.Code)

	w = httptest.NewRecorder()
	RenderError(w, fmt.Errorf("%w: list Book", graph.ErrForbidden), true)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "unauthorized", resp.Code)
	assert.Contains(t, resp.Message, "list Book")
}

func TestRenderValidationError(t *testing.T) {
	ve := validation.NewValidationErrors()
	ve.Add("pages", "must be a number")

	w := httptest.NewRecorder()
	RenderError(w, ve, false)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp ValidationErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "validation_error", resp.Code)
	assert.Equal(t, []string{"must be a number"}, resp.Fields["pages"])
}

func TestRenderDocument_ETag(t *testing.T) {
	doc := &graph.MessageDocument{Type: "message", Text: "done"}

	w := httptest.NewRecorder()
	require.NoError(t, RenderDocument(w, httptest.NewRequest(http.MethodGet, "/admin", nil), doc, ""))
	assert.Equal(t, http.StatusOK, w.Code)
	etag := w.Header().Get("ETag")
	require.NotEmpty(t, etag)
	assert.JSONEq(t, `{"type":"message","text":"done"}`, w.Body.String())

	r := httptest.NewRequest(http.MethodGet, "/admin", nil)
	r.Header.Set("If-None-Match", etag)
	w = httptest.NewRecorder()
	require.NoError(t, RenderDocument(w, r, doc, ""))
	assert.Equal(t, http.StatusNotModified, w.Code)
	assert.Empty(t, w.Body.Bytes())

	// submissions are never answered with 304
	r = httptest.NewRequest(http.MethodPost, "/admin", nil)
	r.Header.Set("If-None-Match", etag)
	w = httptest.NewRecorder()
	require.NoError(t, RenderDocument(w, r, doc, ""))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRenderDocument_Kinds(t *testing.T) {
	get := httptest.NewRequest(http.MethodGet, "/admin/books", nil)

	w := httptest.NewRecorder()
	file := &graph.FileDocument{Type: "file", Name: "books.csv", ContentType: "text/csv; charset=utf-8", Data: []byte("Title\nDune\n")}
	require.NoError(t, RenderDocument(w, get, file, ""))
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="books.csv"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "Title\nDune\n", w.Body.String())

	ve := validation.NewValidationErrors()
	ve.Add("title", "is required")
	w = httptest.NewRecorder()
	require.NoError(t, RenderDocument(w, get, &graph.FormDocument{Type: "form", Errors: ve}, ""))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	require.NoError(t, RenderDocument(w, get, &graph.RedirectDocument{Type: "redirect", Path: "/admin/books"}, "row-7"))
	var frag struct {
		UUID     string                 `json:"uuid"`
		Document graph.RedirectDocument `json:"document"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &frag))
	assert.Equal(t, "row-7", frag.UUID)
	assert.Equal(t, "/admin/books", frag.Document.Path)
}
