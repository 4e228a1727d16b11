package airtable

import (
	"fmt"
	"strings"
)

// ConfigurationError reports a missing or invalid setting detected before any network call,
// such as an absent API token.
type ConfigurationError struct {
	Setting string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Setting, e.Message)
}

// BaseNotFoundError is returned by ResolveBase when a display name matches zero bases,
// or more than one. Available holds every base visible to the token so the caller
// can show them to the operator.
type BaseNotFoundError struct {
	Identifier string
	Matches    int
	Available  []Base
}

func (e *BaseNotFoundError) Error() string {
	if e.Matches > 1 {
		return fmt.Sprintf("base %q is ambiguous: %d bases share that name", e.Identifier, e.Matches)
	}
	return fmt.Sprintf("could not find base %q", e.Identifier)
}

// RemoteError is a non-2xx response from the JSON API. StatusCode is zero when the
// failure was detected client side (for example a pagination that never ends).
type RemoteError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	body := strings.TrimSpace(e.Body)
	if e.StatusCode == 0 {
		return fmt.Sprintf("airtable API error (%s): %s", e.Path, body)
	}
	return fmt.Sprintf("airtable API error (%d) %s: %s", e.StatusCode, e.Path, body)
}

// DownloadError is a failed attachment download. It never leaves a partial file behind.
type DownloadError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *DownloadError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("failed to download: %d", e.StatusCode)
	}
	return fmt.Sprintf("failed to download: %v", e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// FilesystemError is a failure to prepare or use the local output layout.
// It is fatal to the run.
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error {
	return e.Err
}
