package mirror

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kataras/airtable-extractor/pkg/airtable"

	"golang.org/x/sync/errgroup"
)

// LocalPathKey is the key set on an attachment object once its file is on disk.
const LocalPathKey = "localPath"

// Downloader streams a remote blob to a local file. *airtable.Client implements it.
type Downloader interface {
	DownloadBlob(ctx context.Context, url, destPath string) error
}

// EventKind classifies a progress event.
type EventKind int

const (
	Downloaded EventKind = iota
	Skipped
	Failed
)

// Event reports what happened to a single attachment.
type Event struct {
	Kind     EventKind
	RecordID string
	FileName string // destination file name
	Err      error
}

// FileError is a non-fatal failure to mirror one attachment.
type FileError struct {
	Record string `json:"record"`
	File   string `json:"file,omitempty"`
	Error  string `json:"error"`
}

// Result holds the outcome of mirroring one table's attachments.
type Result struct {
	Downloaded int
	Skipped    int
	Errors     []FileError
}

// Mirror copies attachment blobs referenced by records to local files.
type Mirror struct {
	dl Downloader

	// Workers bounds parallel downloads. Values below 2 download sequentially.
	Workers int
	// OnEvent, if set, receives one event per download attempt or skip. It may be called
	// concurrently when Workers > 1.
	OnEvent func(Event)
}

// New returns a sequential Mirror.
func New(dl Downloader) *Mirror {
	return &Mirror{dl: dl, Workers: 1}
}

// source is one attachment object and the URL it is fetched from.
type source struct {
	filename string // as reported in errors
	url      string
	att      map[string]any
}

// job is one destination file and every attachment object that maps to it, in
// record/field/attachment order. A job with a non-empty invalid message stands for
// an array element that is not an attachment object.
type job struct {
	recordID string
	dest     string
	sources  []source
	invalid  string
}

// outcome is what happened to one job.
type outcome struct {
	downloaded bool
	errors     []FileError
}

// Mirror downloads every attachment found in attachmentFields of records into
// imagesRoot/Slug(tableName). Files already present are skipped and never requested.
// Each mirrored attachment object gets a localPath relative to imagesRoot's parent.
//
// Attachments sharing a destination are tried in order until one download succeeds;
// every failed attempt is reported. Per-attachment failures are collected in
// Result.Errors and never stop the table. The only returned error is a
// *airtable.FilesystemError when the table directory is missing.
func (m *Mirror) Mirror(ctx context.Context, records []airtable.Record, tableName string, attachmentFields []string, imagesRoot string) (*Result, error) {
	result := &Result{Errors: []FileError{}}
	if len(attachmentFields) == 0 {
		return result, nil
	}

	tableDir := filepath.Join(imagesRoot, Slug(tableName))
	info, err := os.Stat(tableDir)
	if err == nil && !info.IsDir() {
		err = fmt.Errorf("not a directory")
	}
	if err != nil {
		return nil, &airtable.FilesystemError{Op: "mirror", Path: tableDir, Err: err}
	}

	rootParent := filepath.Dir(imagesRoot)
	jobs, existing := plan(records, attachmentFields, tableDir)

	for _, j := range existing {
		result.Skipped++
		annotate(j, rootParent)
		m.emit(Event{Kind: Skipped, RecordID: j.recordID, FileName: filepath.Base(j.dest)})
	}

	// Outcomes are stored by job index so their order does not depend on scheduling.
	outcomes := make([]outcome, len(jobs))
	download := func(i int) {
		outcomes[i] = m.download(ctx, jobs[i], rootParent)
	}

	if m.Workers > 1 {
		var g errgroup.Group
		g.SetLimit(m.Workers)
		for i := range jobs {
			g.Go(func() error {
				download(i)
				return nil
			})
		}
		g.Wait()
	} else {
		for i := range jobs {
			download(i)
		}
	}

	for _, o := range outcomes {
		if o.downloaded {
			result.Downloaded++
		}
		result.Errors = append(result.Errors, o.errors...)
	}

	return result, nil
}

// download fetches one destination, falling back to the next source after a failure.
func (m *Mirror) download(ctx context.Context, j *job, rootParent string) outcome {
	var o outcome
	if j.invalid != "" {
		o.errors = append(o.errors, FileError{Record: j.recordID, Error: j.invalid})
		m.emit(Event{Kind: Failed, RecordID: j.recordID, Err: errors.New(j.invalid)})
		return o
	}

	for _, src := range j.sources {
		var err error
		if src.url == "" {
			err = errors.New("attachment has no url")
		} else {
			err = m.dl.DownloadBlob(ctx, src.url, j.dest)
		}
		if err != nil {
			o.errors = append(o.errors, FileError{Record: j.recordID, File: src.filename, Error: err.Error()})
			m.emit(Event{Kind: Failed, RecordID: j.recordID, FileName: filepath.Base(j.dest), Err: err})
			continue
		}

		o.downloaded = true
		annotate(j, rootParent)
		m.emit(Event{Kind: Downloaded, RecordID: j.recordID, FileName: filepath.Base(j.dest)})
		break
	}
	return o
}

func (m *Mirror) emit(ev Event) {
	if m.OnEvent != nil {
		m.OnEvent(ev)
	}
}

// plan walks records in order and groups attachments by destination path. Destinations
// that already exist are returned separately; the existence check happens here, once,
// before any download starts.
func plan(records []airtable.Record, fields []string, tableDir string) (pending, existing []*job) {
	byDest := make(map[string]*job)

	for _, rec := range records {
		for _, field := range fields {
			items, ok := rec.Fields[field].([]any)
			if !ok {
				continue
			}
			for _, item := range items {
				att, ok := item.(map[string]any)
				if !ok {
					pending = append(pending, &job{recordID: rec.ID, invalid: "malformed attachment"})
					continue
				}
				filename, _ := att["filename"].(string)
				rawURL, _ := att["url"].(string)
				src := source{filename: filename, url: rawURL, att: att}
				dest := filepath.Join(tableDir, rec.ID+"_"+SanitizeFilename(filename))

				if j, seen := byDest[dest]; seen {
					j.sources = append(j.sources, src)
					continue
				}

				j := &job{recordID: rec.ID, dest: dest, sources: []source{src}}
				byDest[dest] = j

				if _, err := os.Stat(dest); err == nil {
					existing = append(existing, j)
					continue
				}
				pending = append(pending, j)
			}
		}
	}

	return pending, existing
}

// annotate sets localPath on attachments that do not carry one yet.
func annotate(j *job, rootParent string) {
	rel, err := filepath.Rel(rootParent, j.dest)
	if err != nil {
		rel = j.dest
	}
	rel = filepath.ToSlash(rel)

	for _, src := range j.sources {
		if _, ok := src.att[LocalPathKey]; ok {
			continue
		}
		src.att[LocalPathKey] = rel
	}
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// Slug lower-cases s and replaces every run of whitespace with a single hyphen.
func Slug(s string) string {
	return whitespaceRun.ReplaceAllString(strings.ToLower(s), "-")
}

// SanitizeFilename replaces every character outside [A-Za-z0-9.-] with an underscore.
func SanitizeFilename(name string) string {
	var sb strings.Builder
	sb.Grow(len(name))
	for _, r := range name {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '.' || r == '-' {
			sb.WriteRune(r)
			continue
		}
		sb.WriteByte('_')
	}
	return sb.String()
}
