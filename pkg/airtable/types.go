package airtable

import "encoding/json"

// AttachmentFieldType is the field type whose values are arrays of attachment objects.
const AttachmentFieldType = "multipleAttachments"

// Base is a top-level Airtable container of tables.
// Name is empty when the base was resolved directly from its ID.
type Base struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	PermissionLevel string `json:"permissionLevel,omitempty"`
}

// BasesResponse is one page of the meta bases listing.
type BasesResponse struct {
	Bases  []Base `json:"bases"`
	Offset string `json:"offset,omitempty"`
}

// TableSchema describes one table of a base as returned by the meta tables endpoint.
// A decoded TableSchema encodes back to the exact JSON object it was read from, so keys
// that are not modeled here survive into the table snapshot.
type TableSchema struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Description    string        `json:"description,omitempty"`
	PrimaryFieldID string        `json:"primaryFieldId,omitempty"`
	Fields         []FieldSchema `json:"fields"`
	Views          []View        `json:"views,omitempty"`

	raw json.RawMessage
}

type tableSchemaJSON TableSchema

func (t *TableSchema) UnmarshalJSON(data []byte) error {
	var v tableSchemaJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*t = TableSchema(v)
	t.raw = append(json.RawMessage(nil), data...)
	return nil
}

func (t TableSchema) MarshalJSON() ([]byte, error) {
	if len(t.raw) > 0 {
		return t.raw, nil
	}
	return json.Marshal(tableSchemaJSON(t))
}

// FieldSchema describes a single table field. Options are kept opaque.
type FieldSchema struct {
	ID          string          `json:"id,omitempty"`
	Name        string          `json:"name"`
	Type        string          `json:"type"`
	Description string          `json:"description,omitempty"`
	Options     json.RawMessage `json:"options,omitempty"`
}

// View is a saved view of a table.
type View struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// AttachmentFields returns the names of the table's attachment-collection fields
// in schema order.
func (t TableSchema) AttachmentFields() []string {
	names := make([]string, 0)
	for _, f := range t.Fields {
		if f.Type == AttachmentFieldType {
			names = append(names, f.Name)
		}
	}
	return names
}

// TablesResponse is the response of the meta tables endpoint.
type TablesResponse struct {
	Tables []TableSchema `json:"tables"`
}

// Record is one row of a table. Fields holds decoded JSON values keyed by field name
// (string, float64, bool, []any, map[string]any or nil) since schemas are only known at run time.
//
// Attachment values are []any of map[string]any; the mirror annotates those maps
// with a "localPath" key in place.
type Record struct {
	ID          string         `json:"id"`
	CreatedTime string         `json:"createdTime,omitempty"`
	Fields      map[string]any `json:"fields"`
}

// RecordsResponse is one page of the records endpoint.
type RecordsResponse struct {
	Records []Record `json:"records"`
	Offset  string   `json:"offset,omitempty"`
}
