// Package airtableextractor mirrors an entire Airtable base to the local
// filesystem: one JSON snapshot per table, every attachment as a local file,
// and a JSON plus plain-text report of what happened.
//
// The CLI lives in cmd/airtable-extractor; this root package exposes the same
// pipeline as a Go API so that callers can embed extraction in their own
// tools without shelling out.
//
// # Import
//
// The module path contains a hyphen but Go package names cannot, so the
// package is named airtableextractor:
//
//	import "github.com/kataras/airtable-extractor" // package airtableextractor
//
// # Quick start
//
//	result, err := airtableextractor.Run(ctx, airtableextractor.Options{
//	    AccessToken:    os.Getenv("AIRTABLE_API_TOKEN"),
//	    BaseIdentifier: "Stay Home Travel", // or "apphIp20oHxZ7JbW1"
//	    OutputDir:      "airtable-export",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(result.Report.Summary.TotalRecords)
//
// # Output layout
//
//	<OutputDir>/<baseId>/data/<table-slug>.json
//	<OutputDir>/<baseId>/images/<table-slug>/<recordId>_<filename>
//	<OutputDir>/<baseId>/migration-report.json
//	<OutputDir>/<baseId>/migration-report.txt
//
// Re-running against the same directory never downloads an attachment whose
// file is already present.
//
// # Failures
//
// Resolving the base, fetching the schema and creating the output layout are
// preconditions: their errors abort [Run]. A table whose records cannot be
// fetched is reported with zero records and no snapshot; an attachment that
// cannot be downloaded is reported and skipped. Use errors.As with the types
// in package airtable to classify an error.
//
// # Logging
//
// Pass a [Logger] implementation in [Options.Logger] to receive progress
// messages. A nil Logger silences all output.
package airtableextractor
