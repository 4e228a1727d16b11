package airtable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Version is the current version of the extractor.
const Version = "0.1.0"

const (
	// DefaultBaseURL is the Airtable REST API root.
	DefaultBaseURL = "https://api.airtable.com/v0"

	defaultMaxRetries   = 3
	defaultRetryBackoff = 2 * time.Second
	maxErrorBody        = 4096
)

// Client is an Airtable API client. It attaches the bearer token to every JSON request,
// retries rate-limited and server-side failures, and streams attachment blobs to disk.
type Client struct {
	baseURL      string
	token        string
	httpClient   *http.Client
	maxRetries   int
	retryBackoff time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API root, e.g. to point at a test server.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithRetry sets how many times a 429 or 5xx JSON response is retried and the base
// backoff between attempts (multiplied by the attempt number).
func WithRetry(maxRetries int, backoff time.Duration) Option {
	return func(c *Client) {
		if maxRetries < 0 {
			maxRetries = 0
		}
		c.maxRetries = maxRetries
		c.retryBackoff = backoff
	}
}

// NewClient creates a new Airtable API client for the given personal access token.
// An empty token fails with a *ConfigurationError; this is the only credential check.
func NewClient(token string, opts ...Option) (*Client, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, &ConfigurationError{
			Setting: "AIRTABLE_API_TOKEN",
			Message: "environment variable is not set",
		}
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		MaxIdleConnsPerHost: 10,
	}

	c := &Client{
		baseURL: DefaultBaseURL,
		token:   token,
		httpClient: &http.Client{
			// Attachments can be large; per-request deadlines come from the context.
			Timeout:   10 * time.Minute,
			Transport: transport,
		},
		maxRetries:   defaultMaxRetries,
		retryBackoff: defaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Get issues an authenticated GET against path (relative to the API root) and decodes
// the JSON response into v. A non-2xx response fails with a *RemoteError. 429 and 5xx
// responses and transport faults are retried up to the configured limit.
func (c *Client) Get(ctx context.Context, path string, query url.Values, v any) error {
	endpoint := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepContext(ctx, time.Duration(attempt)*c.retryBackoff); err != nil {
				return err
			}
		}

		body, retry, err := c.do(ctx, path, endpoint)
		if err == nil {
			if err := json.Unmarshal(body, v); err != nil {
				return fmt.Errorf("failed to parse response from %s: %w", path, err)
			}
			return nil
		}

		lastErr = err
		if !retry || ctx.Err() != nil {
			return err
		}
	}

	return lastErr
}

// do performs a single request attempt. retry reports whether the failure is transient.
func (c *Client) do(ctx context.Context, path, endpoint string) (body []byte, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		transient := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, transient, &RemoteError{Path: path, StatusCode: resp.StatusCode, Body: string(data)}
	}

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, false, nil
}

// DownloadBlob streams the resource at rawURL into destPath. Attachment URLs are
// pre-signed, so no credential is sent. The body is written to a temporary sibling
// file that is renamed into place only after a complete copy; on any failure the
// temporary file is removed and a *DownloadError is returned.
func (c *Client) DownloadBlob(ctx context.Context, rawURL, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return &DownloadError{URL: rawURL, Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &DownloadError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return &DownloadError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	tmpPath := filepath.Join(filepath.Dir(destPath), "."+filepath.Base(destPath)+"."+uuid.NewString()+".part")
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return &DownloadError{URL: rawURL, Err: fmt.Errorf("failed to create file %q: %w", tmpPath, err)}
	}

	_, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		os.Remove(tmpPath)
		return &DownloadError{URL: rawURL, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to write file %q: %w", destPath, err)}
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return &DownloadError{URL: rawURL, StatusCode: resp.StatusCode, Err: err}
	}

	return nil
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
