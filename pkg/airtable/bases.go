package airtable

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// baseIDPattern matches Airtable base IDs such as "apphIp20oHxZ7JbW1".
var baseIDPattern = regexp.MustCompile(`^app[A-Za-z0-9]+$`)

// IsBaseID reports whether identifier has the lexical shape of a base ID.
func IsBaseID(identifier string) bool {
	return baseIDPattern.MatchString(identifier)
}

// ListBases returns every base visible to the token, following the listing cursor.
func (c *Client) ListBases(ctx context.Context) ([]Base, error) {
	var (
		bases  []Base
		offset string
	)
	for {
		var query url.Values
		if offset != "" {
			query = url.Values{"offset": {offset}}
		}

		var page BasesResponse
		if err := c.Get(ctx, "meta/bases", query, &page); err != nil {
			return nil, err
		}
		bases = append(bases, page.Bases...)

		if page.Offset == "" {
			return bases, nil
		}
		offset = page.Offset
	}
}

// ResolveBase turns a human-supplied identifier into a Base.
//
// A string shaped like a base ID is trusted as-is and costs no request. Anything else
// is matched case-insensitively against the display names of all visible bases; no
// match, or more than one, fails with a *BaseNotFoundError listing what is available.
func (c *Client) ResolveBase(ctx context.Context, identifier string) (Base, error) {
	identifier = strings.TrimSpace(identifier)
	if IsBaseID(identifier) {
		return Base{ID: identifier}, nil
	}

	bases, err := c.ListBases(ctx)
	if err != nil {
		return Base{}, fmt.Errorf("list bases: %w", err)
	}

	var matches []Base
	for _, b := range bases {
		if strings.EqualFold(b.Name, identifier) {
			matches = append(matches, b)
		}
	}

	if len(matches) != 1 {
		return Base{}, &BaseNotFoundError{
			Identifier: identifier,
			Matches:    len(matches),
			Available:  bases,
		}
	}

	return matches[0], nil
}

// FetchSchema returns the table definitions of a base in the order the API lists them.
func (c *Client) FetchSchema(ctx context.Context, baseID string) ([]TableSchema, error) {
	var resp TablesResponse
	if err := c.Get(ctx, "meta/bases/"+url.PathEscape(baseID)+"/tables", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tables, nil
}
