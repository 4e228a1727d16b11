package mirror

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/kataras/airtable-extractor/pkg/airtable"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDownloader writes the URL as file content and fails for URLs in failURLs.
type fakeDownloader struct {
	mu       sync.Mutex
	failURLs map[string]bool
	calls    []string
}

func (d *fakeDownloader) DownloadBlob(ctx context.Context, url, destPath string) error {
	d.mu.Lock()
	d.calls = append(d.calls, url)
	fail := d.failURLs[url]
	d.mu.Unlock()

	if fail {
		return &airtable.DownloadError{URL: url, Err: errors.New("connection reset by peer")}
	}
	return os.WriteFile(destPath, []byte(url), 0o644)
}

func (d *fakeDownloader) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func attachment(url, filename string) map[string]any {
	return map[string]any{"id": "att" + filename, "url": url, "filename": filename, "size": float64(10)}
}

// threeRecords returns 3 records with 2 attachments each in the "Photos" field.
func threeRecords() []airtable.Record {
	records := make([]airtable.Record, 0, 3)
	for i := 1; i <= 3; i++ {
		id := fmt.Sprintf("rec%d", i)
		records = append(records, airtable.Record{
			ID: id,
			Fields: map[string]any{
				"Name": "Row " + id,
				"Photos": []any{
					attachment(fmt.Sprintf("https://dl.example/%s/a", id), "front view.jpg"),
					attachment(fmt.Sprintf("https://dl.example/%s/b", id), "back.png"),
				},
			},
		})
	}
	return records
}

func setupImages(t *testing.T, tableName string) (imagesRoot string) {
	t.Helper()
	imagesRoot = filepath.Join(t.TempDir(), "appBase", "images")
	require.NoError(t, os.MkdirAll(filepath.Join(imagesRoot, Slug(tableName)), 0o755))
	return imagesRoot
}

func TestMirror_NoAttachmentFields(t *testing.T) {
	dl := &fakeDownloader{}
	m := New(dl)

	// The images root does not exist: no filesystem access may happen.
	missing := filepath.Join(t.TempDir(), "does-not-exist")
	res, err := m.Mirror(context.Background(), threeRecords(), "Listings", nil, missing)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Downloaded)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 0, dl.callCount())

	_, statErr := os.Stat(missing)
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestMirror_MissingTableDirectory(t *testing.T) {
	m := New(&fakeDownloader{})
	_, err := m.Mirror(context.Background(), threeRecords(), "Listings", []string{"Photos"}, t.TempDir())

	var fsErr *airtable.FilesystemError
	require.ErrorAs(t, err, &fsErr)
	assert.Equal(t, "mirror", fsErr.Op)
}

func TestMirror_IsolatesSingleFailure(t *testing.T) {
	for _, workers := range []int{1, 4} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			imagesRoot := setupImages(t, "Guest Listings")
			records := threeRecords()

			// The 4th attachment in record/field/attachment order.
			dl := &fakeDownloader{failURLs: map[string]bool{"https://dl.example/rec2/b": true}}
			m := New(dl)
			m.Workers = workers

			res, err := m.Mirror(context.Background(), records, "Guest Listings", []string{"Photos"}, imagesRoot)
			require.NoError(t, err)

			assert.Equal(t, 5, res.Downloaded)
			assert.Equal(t, 0, res.Skipped)
			require.Len(t, res.Errors, 1)
			assert.Equal(t, "rec2", res.Errors[0].Record)
			assert.Equal(t, "back.png", res.Errors[0].File)
			assert.Contains(t, res.Errors[0].Error, "connection reset")
			assert.Equal(t, 6, dl.callCount())

			failed := records[1].Fields["Photos"].([]any)[1].(map[string]any)
			assert.NotContains(t, failed, LocalPathKey)

			ok := records[0].Fields["Photos"].([]any)[0].(map[string]any)
			assert.Equal(t, "images/guest-listings/rec1_front_view.jpg", ok[LocalPathKey])
			assert.Equal(t, "att"+"front view.jpg", ok["id"], "other attachment keys are preserved")

			data, err := os.ReadFile(filepath.Join(imagesRoot, "guest-listings", "rec3_back.png"))
			require.NoError(t, err)
			assert.Equal(t, "https://dl.example/rec3/b", string(data))
		})
	}
}

func TestMirror_SkipsExistingFiles(t *testing.T) {
	imagesRoot := setupImages(t, "Listings")
	tableDir := filepath.Join(imagesRoot, "listings")

	first := &fakeDownloader{}
	res, err := New(first).Mirror(context.Background(), threeRecords(), "Listings", []string{"Photos"}, imagesRoot)
	require.NoError(t, err)
	assert.Equal(t, 6, res.Downloaded)

	// Re-run against identical remote data.
	second := &fakeDownloader{}
	records := threeRecords()
	res, err = New(second).Mirror(context.Background(), records, "Listings", []string{"Photos"}, imagesRoot)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Downloaded)
	assert.Equal(t, 6, res.Skipped)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 0, second.callCount(), "existing files must never be requested again")

	att := records[2].Fields["Photos"].([]any)[1].(map[string]any)
	assert.Equal(t, "images/listings/rec3_back.png", att[LocalPathKey])

	entries, err := os.ReadDir(tableDir)
	require.NoError(t, err)
	assert.Len(t, entries, 6)
}

func TestMirror_PartialPreexisting(t *testing.T) {
	imagesRoot := setupImages(t, "Listings")
	pre := filepath.Join(imagesRoot, "listings", "rec1_back.png")
	require.NoError(t, os.WriteFile(pre, []byte("old"), 0o644))

	dl := &fakeDownloader{}
	res, err := New(dl).Mirror(context.Background(), threeRecords(), "Listings", []string{"Photos"}, imagesRoot)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Downloaded)
	assert.Equal(t, 1, res.Skipped)
	assert.NotContains(t, dl.calls, "https://dl.example/rec1/b")

	data, err := os.ReadFile(pre)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
}

func TestMirror_NonAttachmentValues(t *testing.T) {
	imagesRoot := setupImages(t, "T")
	records := []airtable.Record{
		{ID: "rec1", Fields: map[string]any{"Photos": nil}},
		{ID: "rec2", Fields: map[string]any{}},
		{ID: "rec3", Fields: map[string]any{"Photos": "not-an-array"}},
		{ID: "rec4", Fields: map[string]any{"Photos": []any{"junk", attachment("https://dl.example/x", "x.txt")}}},
	}

	dl := &fakeDownloader{}
	res, err := New(dl).Mirror(context.Background(), records, "T", []string{"Photos", "Missing"}, imagesRoot)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Downloaded)
	assert.Equal(t, []string{"https://dl.example/x"}, dl.calls)

	// A non-object array element is reported, not dropped.
	require.Len(t, res.Errors, 1)
	assert.Equal(t, FileError{Record: "rec4", Error: "malformed attachment"}, res.Errors[0])
}

func TestMirror_DuplicateDestinationDownloadedOnce(t *testing.T) {
	imagesRoot := setupImages(t, "T")
	a := attachment("https://dl.example/1", "same.pdf")
	b := attachment("https://dl.example/2", "same.pdf")
	records := []airtable.Record{
		{ID: "rec1", Fields: map[string]any{"Docs": []any{a}, "Backup": []any{b}}},
	}

	dl := &fakeDownloader{}
	res, err := New(dl).Mirror(context.Background(), records, "T", []string{"Docs", "Backup"}, imagesRoot)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Downloaded)
	assert.Equal(t, 1, dl.callCount())
	assert.Equal(t, "images/t/rec1_same.pdf", a[LocalPathKey])
	assert.Equal(t, "images/t/rec1_same.pdf", b[LocalPathKey])
}

func TestMirror_DuplicateDestinationFallsBackToNextURL(t *testing.T) {
	for _, workers := range []int{1, 4} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			imagesRoot := setupImages(t, "T")
			bad := attachment("https://dl.example/bad", "photo.png")
			good := attachment("https://dl.example/good", "photo.png")
			other := attachment("https://dl.example/other", "other.png")
			records := []airtable.Record{
				{ID: "rec1", Fields: map[string]any{"F": []any{bad, good, other}}},
			}

			dl := &fakeDownloader{failURLs: map[string]bool{"https://dl.example/bad": true}}
			m := New(dl)
			m.Workers = workers

			res, err := m.Mirror(context.Background(), records, "T", []string{"F"}, imagesRoot)
			require.NoError(t, err)
			assert.Equal(t, 2, res.Downloaded)
			require.Len(t, res.Errors, 1)
			assert.Equal(t, "rec1", res.Errors[0].Record)
			assert.Equal(t, "photo.png", res.Errors[0].File)
			assert.ElementsMatch(t, []string{"https://dl.example/bad", "https://dl.example/good", "https://dl.example/other"}, dl.calls)

			assert.Equal(t, "images/t/rec1_photo.png", good[LocalPathKey])
			assert.Equal(t, "images/t/rec1_photo.png", bad[LocalPathKey])

			data, err := os.ReadFile(filepath.Join(imagesRoot, "t", "rec1_photo.png"))
			require.NoError(t, err)
			assert.Equal(t, "https://dl.example/good", string(data))
		})
	}
}

func TestMirror_DuplicateDestinationAllFail(t *testing.T) {
	imagesRoot := setupImages(t, "T")
	a := attachment("https://dl.example/1", "a b.png")
	b := attachment("https://dl.example/2", "a_b.png")
	records := []airtable.Record{{ID: "rec1", Fields: map[string]any{"F": []any{a, b}}}}

	dl := &fakeDownloader{failURLs: map[string]bool{"https://dl.example/1": true, "https://dl.example/2": true}}
	res, err := New(dl).Mirror(context.Background(), records, "T", []string{"F"}, imagesRoot)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Downloaded)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, "a b.png", res.Errors[0].File)
	assert.Equal(t, "a_b.png", res.Errors[1].File)
	assert.NotContains(t, a, LocalPathKey)
	assert.NotContains(t, b, LocalPathKey)
}

func TestMirror_KeepsExistingLocalPath(t *testing.T) {
	imagesRoot := setupImages(t, "T")
	att := attachment("https://dl.example/1", "a.png")
	att[LocalPathKey] = "custom/a.png"
	records := []airtable.Record{{ID: "rec1", Fields: map[string]any{"F": []any{att}}}}

	_, err := New(&fakeDownloader{}).Mirror(context.Background(), records, "T", []string{"F"}, imagesRoot)
	require.NoError(t, err)
	assert.Equal(t, "custom/a.png", att[LocalPathKey])
}

func TestMirror_MissingURLIsAnError(t *testing.T) {
	imagesRoot := setupImages(t, "T")
	records := []airtable.Record{{ID: "rec1", Fields: map[string]any{"F": []any{map[string]any{"filename": "a.png"}}}}}

	dl := &fakeDownloader{}
	res, err := New(dl).Mirror(context.Background(), records, "T", []string{"F"}, imagesRoot)
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "a.png", res.Errors[0].File)
	assert.Equal(t, 0, dl.callCount())
}

func TestMirror_Events(t *testing.T) {
	imagesRoot := setupImages(t, "T")
	require.NoError(t, os.WriteFile(filepath.Join(imagesRoot, "t", "rec1_front_view.jpg"), nil, 0o644))

	dl := &fakeDownloader{failURLs: map[string]bool{"https://dl.example/rec1/b": true}}
	m := New(dl)
	counts := map[EventKind]int{}
	m.OnEvent = func(ev Event) { counts[ev.Kind]++ }

	records := threeRecords()[:1]
	_, err := m.Mirror(context.Background(), records, "T", []string{"Photos"}, imagesRoot)
	require.NoError(t, err)
	assert.Equal(t, map[EventKind]int{Skipped: 1, Failed: 1}, counts)
}

func TestSlug(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "Listings", want: "listings"},
		{in: "Guest Listings", want: "guest-listings"},
		{in: "Guest   \t Listings", want: "guest-listings"},
		{in: " Padded ", want: "-padded-"},
		{in: "Café Menu", want: "café-menu"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Slug(tt.in); got != tt.want {
				t.Errorf("Slug(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "photo.jpg", want: "photo.jpg"},
		{in: "front view (1).jpg", want: "front_view__1_.jpg"},
		{in: "my-file_v2.PDF", want: "my-file_v2.PDF"},
		{in: "../../etc/passwd", want: ".._.._etc_passwd"},
		{in: "résumé.pdf", want: "r_sum_.pdf"},
		{in: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := SanitizeFilename(tt.in); got != tt.want {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
