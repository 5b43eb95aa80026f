package notion

import (
	"context"
	"strings"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// QueryAll fetches all pages from a Notion database, following cursors.
// Rate limiting is enforced by the Client.
func QueryAll(ctx context.Context, c Client, dbID string, filter *notionapi.DatabaseQueryRequest) ([]notionapi.Page, error) {
	var all []notionapi.Page
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{StartCursor: cursor}
		if filter != nil {
			req.Filter = filter.Filter
			req.Sorts = filter.Sorts
			req.PageSize = filter.PageSize
		}

		resp, err := c.QueryDatabase(ctx, dbID, req)
		if err != nil {
			return nil, eris.Wrap(err, "notion: query all page")
		}
		all = append(all, resp.Results...)

		if !resp.HasMore || resp.NextCursor == "" {
			return all, nil
		}
		cursor = resp.NextCursor
	}
}

// ExistingTitles returns the lower-cased title of every page in the database.
func ExistingTitles(ctx context.Context, c Client, dbID string) (map[string]struct{}, error) {
	pages, err := QueryAll(ctx, c, dbID, nil)
	if err != nil {
		return nil, eris.Wrap(err, "notion: list existing titles")
	}

	out := make(map[string]struct{}, len(pages))
	for _, p := range pages {
		if title := PageTitle(p); title != "" {
			out[strings.ToLower(title)] = struct{}{}
		}
	}
	return out, nil
}

// PageTitle returns the plain text of the page's title property.
func PageTitle(p notionapi.Page) string {
	for _, prop := range p.Properties {
		var rich []notionapi.RichText
		switch tp := prop.(type) {
		case *notionapi.TitleProperty:
			rich = tp.Title
		case notionapi.TitleProperty:
			rich = tp.Title
		default:
			continue
		}
		var sb strings.Builder
		for _, rt := range rich {
			if rt.PlainText != "" {
				sb.WriteString(rt.PlainText)
			} else if rt.Text != nil {
				sb.WriteString(rt.Text.Content)
			}
		}
		return strings.TrimSpace(sb.String())
	}
	return ""
}
