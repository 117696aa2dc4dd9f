// Package catalog is the client for the experience catalog, the tabular
// system of record maintained by content editors. The backend only reads it;
// records are created, edited, and deleted upstream.
package catalog

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrNotFound is returned when a record id does not exist in the catalog.
var ErrNotFound = errors.New("catalog: record not found")

// Well-known field names in the experiences table.
const (
	FieldName        = "Experience Name"
	FieldDescription = "Description"
	FieldDuration    = "Duration"
	FieldPrice       = "Price"
	FieldType        = "Type"
	FieldURL         = "URL"
	FieldVendor      = "Vendor"
	FieldImageURL    = "Image URL"
	FieldFeatured    = "Featured"
)

// Record is one catalog row. The record id is stable across edits and doubles
// as the vector-index join key. Fields is kept loosely typed because editors
// control the table schema; accessors coerce to the expected shapes.
type Record struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// str returns a field coerced to string. Single-select fields sometimes come
// back as one-element lists; those collapse to their first element.
func (r Record) str(key string) string {
	v, ok := r.Fields[key]
	if !ok || v == nil {
		return ""
	}
	switch tv := v.(type) {
	case string:
		return tv
	case []any:
		if len(tv) == 0 {
			return ""
		}
		return fmt.Sprint(tv[0])
	default:
		return fmt.Sprint(tv)
	}
}

func (r Record) Name() string        { return r.str(FieldName) }
func (r Record) Description() string { return r.str(FieldDescription) }
func (r Record) Duration() string    { return r.str(FieldDuration) }
func (r Record) Price() string       { return r.str(FieldPrice) }
func (r Record) Type() string        { return r.str(FieldType) }
func (r Record) URL() string         { return r.str(FieldURL) }
func (r Record) Vendor() string      { return r.str(FieldVendor) }
func (r Record) ImageURL() string    { return r.str(FieldImageURL) }

// Featured reports whether the record is flagged for the default list.
func (r Record) Featured() bool {
	b, _ := r.Fields[FieldFeatured].(bool)
	return b
}

// EmbeddingText is the exact string embedded into the vector index:
// name and description joined with " - ". Empty when there is nothing
// meaningful to embed.
func (r Record) EmbeddingText() string {
	name, desc := r.Name(), r.Description()
	if name == "" && desc == "" {
		return ""
	}
	return name + " - " + desc
}

// payloadFields maps vector-index metadata keys to catalog field names.
var payloadFields = map[string]string{
	"experience_name": FieldName,
	"description":     FieldDescription,
	"duration":        FieldDuration,
	"price":           FieldPrice,
	"type":            FieldType,
	"url":             FieldURL,
	"vendor":          FieldVendor,
}

// Payload projects a record into vector-index metadata. The index only
// accepts primitive metadata values, so everything is coerced to string;
// composite values are stringified with a warning.
func Payload(r Record) map[string]any {
	meta := make(map[string]any, len(payloadFields))
	for key, field := range payloadFields {
		switch r.Fields[field].(type) {
		case nil, string, bool, float64, int, int64:
		default:
			slog.Warn("catalog: metadata field has composite type, stringified",
				"record_id", r.ID, "field", field)
		}
		meta[key] = r.str(field)
	}
	return meta
}
