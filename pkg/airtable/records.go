package airtable

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

const (
	// DefaultPageDelay keeps the records endpoint under Airtable's 5 requests/second limit.
	DefaultPageDelay = 200 * time.Millisecond
	// DefaultMaxPages bounds a single table fetch.
	DefaultMaxPages = 10000
)

// Requester issues a JSON GET request. *Client implements it.
type Requester interface {
	Get(ctx context.Context, path string, query url.Values, v any) error
}

// Fetcher drives the cursor-based pagination of the records endpoint.
type Fetcher struct {
	client Requester

	// PageDelay is waited before every page request except the first.
	PageDelay time.Duration
	// MaxPages aborts a fetch that keeps returning cursors. Zero means DefaultMaxPages.
	MaxPages int
	// PageSize is sent as the pageSize parameter when positive.
	PageSize int
	// OnPage, if set, is called after each page with the page number and the number
	// of records fetched so far.
	OnPage func(page, total int)

	sleep func(ctx context.Context, d time.Duration) error
}

// NewFetcher returns a Fetcher using DefaultPageDelay and DefaultMaxPages.
func NewFetcher(client Requester) *Fetcher {
	return &Fetcher{
		client:    client,
		PageDelay: DefaultPageDelay,
		MaxPages:  DefaultMaxPages,
		sleep:     sleepContext,
	}
}

// FetchAll returns every record of a table in response order.
//
// The first page is requested without a cursor; each response's offset becomes the
// next request's cursor, and the fetch ends when a response carries none. Any failure
// discards what was accumulated: a table is either fetched completely or not at all.
func (f *Fetcher) FetchAll(ctx context.Context, baseID, tableID string) ([]Record, error) {
	maxPages := f.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	sleep := f.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	path := url.PathEscape(baseID) + "/" + url.PathEscape(tableID)

	var (
		records []Record
		offset  string
	)
	for page := 1; ; page++ {
		if page > maxPages {
			return nil, &RemoteError{
				Path: path,
				Body: fmt.Sprintf("pagination did not terminate after %d pages", maxPages),
			}
		}

		query := url.Values{}
		if f.PageSize > 0 {
			query.Set("pageSize", strconv.Itoa(f.PageSize))
		}
		if offset != "" {
			if err := sleep(ctx, f.PageDelay); err != nil {
				return nil, err
			}
			query.Set("offset", offset)
		}

		var resp RecordsResponse
		if err := f.client.Get(ctx, path, query, &resp); err != nil {
			return nil, err
		}

		records = append(records, resp.Records...)
		if f.OnPage != nil {
			f.OnPage(page, len(records))
		}

		if resp.Offset == "" {
			break
		}
		offset = resp.Offset
	}

	if records == nil {
		records = []Record{}
	}
	return records, nil
}
