package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	// JSONFileName and TextFileName are written into the base output directory.
	JSONFileName = "migration-report.json"
	TextFileName = "migration-report.txt"

	rule = "============================================================"
)

// ErrorEntry is one failure captured during a table's processing. Record and File are
// empty for table-level failures.
type ErrorEntry struct {
	Record string `json:"record,omitempty"`
	File   string `json:"file,omitempty"`
	Error  string `json:"error"`
}

// TableOutcome summarizes the processing of a single table.
type TableOutcome struct {
	TableName             string       `json:"tableName"`
	TableID               string       `json:"tableId"`
	RecordCount           int          `json:"recordCount"`
	AttachmentFields      []string     `json:"attachmentFields"`
	AttachmentsDownloaded int          `json:"attachmentsDownloaded"`
	AttachmentsSkipped    int          `json:"attachmentsSkipped"`
	Errors                []ErrorEntry `json:"errors"`
}

// BaseInfo identifies the extracted base. Name is nil when the base was given by ID.
type BaseInfo struct {
	ID   string  `json:"id"`
	Name *string `json:"name"`
}

// Summary holds run-wide totals.
type Summary struct {
	TotalTables      int `json:"totalTables"`
	TotalRecords     int `json:"totalRecords"`
	TotalAttachments int `json:"totalAttachments"`
	TotalErrors      int `json:"totalErrors"`
}

// Report is the auditable summary of one extraction run.
type Report struct {
	Timestamp time.Time      `json:"timestamp"`
	Base      BaseInfo       `json:"base"`
	Tables    []TableOutcome `json:"tables"`
	Summary   Summary        `json:"summary"`
}

// Build aggregates table outcomes into a Report. It does no I/O.
func Build(base BaseInfo, tables []TableOutcome, ts time.Time) *Report {
	if tables == nil {
		tables = []TableOutcome{}
	}

	r := &Report{
		Timestamp: ts.UTC(),
		Base:      base,
		Tables:    tables,
	}
	r.Summary.TotalTables = len(tables)
	for _, t := range tables {
		r.Summary.TotalRecords += t.RecordCount
		r.Summary.TotalAttachments += t.AttachmentsDownloaded
		r.Summary.TotalErrors += len(t.Errors)
	}
	return r
}

// Render returns the human-readable form of the report.
func Render(r *Report) string {
	var sb strings.Builder

	name := r.Base.ID
	if r.Base.Name != nil {
		name = *r.Base.Name
	}

	sb.WriteString(rule + "\n")
	sb.WriteString("AIRTABLE EXTRACTION REPORT\n")
	sb.WriteString(rule + "\n")
	sb.WriteString(fmt.Sprintf("Date: %s\n", r.Timestamp.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Base: %s\n", name))
	sb.WriteString(fmt.Sprintf("Base ID: %s\n", r.Base.ID))
	sb.WriteString("\n")

	sb.WriteString("TABLES:\n")
	for _, t := range r.Tables {
		sb.WriteString(fmt.Sprintf("  - %s: %d records, %d attachments\n", t.TableName, t.RecordCount, t.AttachmentsDownloaded))
	}
	sb.WriteString("\n")

	sb.WriteString("SUMMARY:\n")
	sb.WriteString(fmt.Sprintf("  Total Tables: %d\n", r.Summary.TotalTables))
	sb.WriteString(fmt.Sprintf("  Total Records: %d\n", r.Summary.TotalRecords))
	sb.WriteString(fmt.Sprintf("  Total Attachments: %d\n", r.Summary.TotalAttachments))
	sb.WriteString(fmt.Sprintf("  Total Errors: %d\n", r.Summary.TotalErrors))
	sb.WriteString("\n")

	if r.Summary.TotalErrors > 0 {
		sb.WriteString("ERRORS:\n")
		for _, t := range r.Tables {
			for _, e := range t.Errors {
				switch {
				case e.File != "":
					sb.WriteString(fmt.Sprintf("  - [%s] %s (record %s): %s\n", t.TableName, e.File, e.Record, e.Error))
				default:
					sb.WriteString(fmt.Sprintf("  - [%s] %s\n", t.TableName, e.Error))
				}
			}
		}
	} else {
		sb.WriteString("All data extracted successfully!\n")
	}

	sb.WriteString(rule + "\n")
	return sb.String()
}

// WriteText writes the rendered report to w.
func WriteText(w io.Writer, r *Report) error {
	_, err := io.WriteString(w, Render(r))
	return err
}

// WriteJSON writes the report to w as indented JSON. Table names and error messages
// are written as is, without HTML escaping.
func WriteJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(r)
}
