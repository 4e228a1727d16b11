package airtableextractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kataras/airtable-extractor/pkg/airtable"
	"github.com/kataras/airtable-extractor/pkg/mirror"
	"github.com/kataras/airtable-extractor/pkg/report"
)

// Options configures the extraction.
type Options struct {
	AccessToken     string
	BaseIdentifier  string // base ID ("app...") or display name
	APIBaseURL      string // empty = airtable.DefaultBaseURL
	OutputDir       string // parent of the per-base directory, default "airtable-export"
	PageDelay       time.Duration
	MaxPages        int
	PageSize        int
	DownloadWorkers int
	HTTPClient      *http.Client
	Logger          Logger           // nil = no logging
	Now             func() time.Time // nil = time.Now
}

// Logger receives progress messages. A nil Logger means silent operation.
type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// Result contains the extraction output.
type Result struct {
	Base      airtable.Base
	Tables    []airtable.TableSchema
	OutputDir string // <OutputDir>/<baseId>
	Report    *report.Report
}

// Snapshot is the JSON document written for each table.
type Snapshot struct {
	TableID   string               `json:"tableId"`
	TableName string               `json:"tableName"`
	Schema    airtable.TableSchema `json:"schema"`
	Records   []airtable.Record    `json:"records"`
}

func (o *Options) logInfo(f string, a ...any) {
	if o.Logger != nil {
		o.Logger.Infof(f, a...)
	}
}

func (o *Options) logWarn(f string, a ...any) {
	if o.Logger != nil {
		o.Logger.Warnf(f, a...)
	}
}

func (o *Options) logError(f string, a ...any) {
	if o.Logger != nil {
		o.Logger.Errorf(f, a...)
	}
}

func (o *Options) applyDefaults() {
	if o.OutputDir == "" {
		o.OutputDir = "airtable-export"
	}
	if o.MaxPages <= 0 {
		o.MaxPages = airtable.DefaultMaxPages
	}
	if o.PageDelay < 0 {
		o.PageDelay = 0
	}
	if o.DownloadWorkers <= 0 {
		o.DownloadWorkers = 1
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// NewClient builds the API client described by opts.
// It fails with a *airtable.ConfigurationError when no token is set.
func NewClient(opts Options) (*airtable.Client, error) {
	clientOpts := []airtable.Option{airtable.WithHTTPClient(opts.HTTPClient)}
	if opts.APIBaseURL != "" {
		clientOpts = append(clientOpts, airtable.WithBaseURL(opts.APIBaseURL))
	}
	return airtable.NewClient(opts.AccessToken, clientOpts...)
}

// ListBases returns every base visible to the token.
func ListBases(ctx context.Context, opts Options) ([]airtable.Base, error) {
	client, err := NewClient(opts)
	if err != nil {
		return nil, err
	}
	return client.ListBases(ctx)
}

// Run executes the extraction pipeline for opts.BaseIdentifier.
//
// Failures to resolve the base, fetch its schema or prepare the output layout abort
// the run. A table that cannot be fetched, or an attachment that cannot be downloaded,
// is recorded in the report and the run moves on.
func Run(ctx context.Context, opts Options) (*Result, error) {
	opts.applyDefaults()

	client, err := NewClient(opts)
	if err != nil {
		return nil, err
	}

	opts.logInfo("Looking for base: %s...", opts.BaseIdentifier)
	base, err := client.ResolveBase(ctx, opts.BaseIdentifier)
	if err != nil {
		return nil, err
	}
	opts.logInfo("Found base: %s (%s)", displayName(base), base.ID)

	opts.logInfo("Fetching base schema...")
	tables, err := client.FetchSchema(ctx, base.ID)
	if err != nil {
		return nil, fmt.Errorf("fetch schema: %w", err)
	}
	opts.logInfo("Found %d tables", len(tables))

	outDir := filepath.Join(opts.OutputDir, base.ID)
	dataDir, imagesDir, err := setupDirectories(outDir, tables)
	if err != nil {
		return nil, err
	}
	opts.logInfo("Output directory: %s", outDir)

	fetcher := airtable.NewFetcher(client)
	fetcher.PageDelay = opts.PageDelay
	fetcher.MaxPages = opts.MaxPages
	fetcher.PageSize = opts.PageSize

	m := mirror.New(client)
	m.Workers = opts.DownloadWorkers

	outcomes := make([]report.TableOutcome, 0, len(tables))
	for _, table := range tables {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		outcome, err := processTable(ctx, &opts, fetcher, m, base, table, dataDir, imagesDir)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, outcome)
	}

	opts.logInfo("Generating report...")
	rep := report.Build(baseInfo(base), outcomes, opts.Now())
	if err := writeReports(outDir, rep); err != nil {
		return nil, err
	}
	opts.logInfo("Report saved to %s", filepath.Join(outDir, report.TextFileName))

	return &Result{
		Base:      base,
		Tables:    tables,
		OutputDir: outDir,
		Report:    rep,
	}, nil
}

// processTable fetches, mirrors and snapshots a single table. Only filesystem layout
// failures are returned; everything else ends up in the outcome.
func processTable(ctx context.Context, opts *Options, fetcher *airtable.Fetcher, m *mirror.Mirror, base airtable.Base, table airtable.TableSchema, dataDir, imagesDir string) (report.TableOutcome, error) {
	outcome := report.TableOutcome{
		TableName:        table.Name,
		TableID:          table.ID,
		AttachmentFields: []string{},
		Errors:           []report.ErrorEntry{},
	}

	opts.logInfo("Fetching records from %s...", table.Name)
	fetcher.OnPage = func(page, total int) {
		opts.logInfo("  Fetched %d records...", total)
	}
	records, err := fetcher.FetchAll(ctx, base.ID, table.ID)
	if err != nil {
		opts.logError("Error processing %s: %v", table.Name, err)
		outcome.Errors = append(outcome.Errors, report.ErrorEntry{Error: err.Error()})
		return outcome, nil
	}
	opts.logInfo("Completed %s: %d total records", table.Name, len(records))
	outcome.RecordCount = len(records)

	outcome.AttachmentFields = table.AttachmentFields()
	if len(outcome.AttachmentFields) > 0 {
		opts.logInfo("Downloading attachments from %s (fields: %s)...", table.Name, strings.Join(outcome.AttachmentFields, ", "))
	}
	m.OnEvent = func(ev mirror.Event) {
		switch ev.Kind {
		case mirror.Downloaded:
			opts.logInfo("  Downloaded %s", ev.FileName)
		case mirror.Skipped:
			opts.logInfo("  Skipping %s (already exists)", ev.FileName)
		case mirror.Failed:
			opts.logWarn("  Failed to download %s: %v", ev.FileName, ev.Err)
		}
	}
	mirrored, err := m.Mirror(ctx, records, table.Name, outcome.AttachmentFields, imagesDir)
	if err != nil {
		return outcome, err
	}
	outcome.AttachmentsDownloaded = mirrored.Downloaded
	outcome.AttachmentsSkipped = mirrored.Skipped
	for _, fe := range mirrored.Errors {
		outcome.Errors = append(outcome.Errors, report.ErrorEntry{Record: fe.Record, File: fe.File, Error: fe.Error})
	}

	dataPath := filepath.Join(dataDir, mirror.Slug(table.Name)+".json")
	if err := writeJSONFile(dataPath, Snapshot{
		TableID:   table.ID,
		TableName: table.Name,
		Schema:    table,
		Records:   records,
	}); err != nil {
		opts.logError("Failed to save %s: %v", dataPath, err)
		outcome.Errors = append(outcome.Errors, report.ErrorEntry{Error: err.Error()})
		return outcome, nil
	}
	opts.logInfo("Saved data to %s", dataPath)

	return outcome, nil
}

// setupDirectories creates the output layout: root, data, images and one image
// directory per table.
func setupDirectories(outDir string, tables []airtable.TableSchema) (dataDir, imagesDir string, err error) {
	dataDir = filepath.Join(outDir, "data")
	imagesDir = filepath.Join(outDir, "images")

	dirs := []string{outDir, dataDir, imagesDir}
	for _, t := range tables {
		dirs = append(dirs, filepath.Join(imagesDir, mirror.Slug(t.Name)))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", "", &airtable.FilesystemError{Op: "mkdir", Path: dir, Err: err}
		}
	}
	return dataDir, imagesDir, nil
}

func writeReports(outDir string, rep *report.Report) error {
	if err := writeFile(filepath.Join(outDir, report.JSONFileName), func(w io.Writer) error {
		return report.WriteJSON(w, rep)
	}); err != nil {
		return err
	}

	return writeFile(filepath.Join(outDir, report.TextFileName), func(w io.Writer) error {
		return report.WriteText(w, rep)
	})
}

// writeFile creates path and fills it with write.
func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return &airtable.FilesystemError{Op: "write", Path: path, Err: err}
	}
	if err := errors.Join(write(f), f.Close()); err != nil {
		return &airtable.FilesystemError{Op: "write", Path: path, Err: err}
	}
	return nil
}

func writeJSONFile(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func baseInfo(b airtable.Base) report.BaseInfo {
	info := report.BaseInfo{ID: b.ID}
	if b.Name != "" {
		name := b.Name
		info.Name = &name
	}
	return info
}

func displayName(b airtable.Base) string {
	if b.Name != "" {
		return b.Name
	}
	return b.ID
}
