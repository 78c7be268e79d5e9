package graph

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/conduit-lang/admin/internal/orm/schema"
)

// Export formats
const (
	ExportCSV = "csv"
	ExportXLS = "xls"
)

// Choices returns the pick-list of a field: enum values, yes/no for
// booleans, or the visible records of the related model for foreign keys.
func (c *Collection) Choices(req *Request, field string) (*ChoicesDocument, error) {
	f, ok := c.mt.schema.Field(field)
	if !ok {
		return nil, &ConfigurationError{Model: c.mt.Name(), Name: field, Reason: "is not a field"}
	}

	doc := &ChoicesDocument{Type: "choices", Field: field, Choices: []Choice{}}
	switch {
	case f.Type.HasChoices():
		for _, v := range f.Type.EnumValues {
			doc.Choices = append(doc.Choices, Choice{Value: v, Label: f.Type.ChoiceLabel(v)})
		}
	case f.Type.BaseType == schema.TypeBool:
		doc.Choices = append(doc.Choices, Choice{Value: true, Label: "Yes"}, Choice{Value: false, Label: "No"})
	case f.IsForeignKey():
		target, ok := c.mt.registry.Type(f.Relation.TargetModel)
		if !ok {
			return nil, notFound("model %s", f.Relation.TargetModel)
		}
		recs, err := target.Base(req).All(req.Context())
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			doc.Choices = append(doc.Choices, Choice{Value: rec.ID, Label: target.Title(rec)})
		}
	default:
		return nil, &ConfigurationError{Model: c.mt.Name(), Name: field, Reason: "has no choices"}
	}
	return doc, nil
}

// Export renders every record of the collection, display columns only, as
// csv or as tab-separated text Excel opens as a sheet.
func (c *Collection) Export(req *Request, format string) (*FileDocument, error) {
	doc := &FileDocument{Type: "file"}
	var buf bytes.Buffer
	var w *csv.Writer
	switch format {
	case ExportCSV:
		w = csv.NewWriter(&buf)
		doc.Name = c.name + ".csv"
		doc.ContentType = "text/csv; charset=utf-8"
	case ExportXLS:
		w = csv.NewWriter(&buf)
		w.Comma = '\t'
		doc.Name = c.name + ".xls"
		doc.ContentType = "application/vnd.ms-excel"
	default:
		return nil, &ConfigurationError{Model: c.mt.Name(), Name: format, Reason: "is not an export format"}
	}

	recs, err := c.All(req.Context())
	if err != nil {
		return nil, err
	}

	columns := c.columns()
	header := make([]string, len(columns))
	names := make([]string, len(columns))
	for i, col := range columns {
		header[i] = col.Label
		names[i] = col.Name
	}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write export header: %w", err)
	}

	for _, rec := range recs {
		data, err := NewRecordView(c.mt, rec, c.mt.Title(rec), c.path+"/"+rec.Path()).
			Declare(names...).
			Load(req)
		if err != nil {
			return nil, err
		}
		byName := make(map[string]SlotValue, len(data))
		for _, sv := range data {
			byName[sv.Name] = sv
		}
		row := make([]string, len(names))
		for i, n := range names {
			row[i] = cellText(byName[n])
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write export row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to export %s: %w", c.name, err)
	}
	doc.Data = buf.Bytes()
	return doc, nil
}

func cellText(sv SlotValue) string {
	if sv.Text != "" {
		return sv.Text
	}
	switch v := sv.Value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		if v {
			return "Yes"
		}
		return "No"
	case []interface{}:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = fmt.Sprint(item)
		}
		return strings.Join(parts, ", ")
	case Document, []SlotValue:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
