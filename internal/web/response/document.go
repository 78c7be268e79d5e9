package response

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/conduit-lang/admin/internal/admin/graph"
	"github.com/conduit-lang/admin/internal/web/cache"
)

// Fragment wraps a document requested to refresh one node of a rendered page
type Fragment struct {
	UUID     string         `json:"uuid"`
	Document graph.Document `json:"document"`
}

// RenderDocument writes doc. Files are sent as attachments; rejected forms
// come back as 400 with their errors; everything else is JSON with an ETag,
// answered with 304 when the client already holds it. A non-empty fragment
// id wraps the document in a Fragment.
func RenderDocument(w http.ResponseWriter, r *http.Request, doc graph.Document, fragment string) error {
	if file, ok := doc.(*graph.FileDocument); ok {
		w.Header().Set("Content-Type", file.ContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
		w.WriteHeader(http.StatusOK)
		_, err := w.Write(file.Data)
		return err
	}

	var payload interface{} = doc
	if fragment != "" {
		payload = &Fragment{UUID: fragment, Document: doc}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s document: %w", doc.DocumentType(), err)
	}

	status := http.StatusOK
	if form, ok := doc.(*graph.FormDocument); ok && form.HasErrors() {
		status = http.StatusBadRequest
	}
	if status == http.StatusOK && cache.NotModified(w, r, cache.GenerateETag(data)) {
		w.WriteHeader(http.StatusNotModified)
		return nil
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, err = w.Write(data)
	return err
}

// RenderJSON writes v as JSON with status
func RenderJSON(w http.ResponseWriter, status int, v interface{}) {
	writeJSON(w, status, v)
}
