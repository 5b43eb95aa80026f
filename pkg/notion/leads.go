package notion

import (
	"context"
	"strings"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// LeadRow is one lead to write as a database page.
type LeadRow struct {
	Name    string
	Contact string
	Phone   string
	Address string
	URL     string
	Query   string
}

// CreateLeadPages creates one page per row in the lead database, skipping
// rows whose name already exists there or repeats earlier in rows. Returns
// the number of pages created.
func CreateLeadPages(ctx context.Context, c Client, dbID string, rows []LeadRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	seen, err := ExistingTitles(ctx, c, dbID)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, row := range rows {
		key := strings.ToLower(strings.TrimSpace(row.Name))
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		if ctx.Err() != nil {
			return created, eris.Wrap(ctx.Err(), "notion: create lead pages cancelled")
		}

		req := &notionapi.PageCreateRequest{
			Parent: notionapi.Parent{
				Type:       notionapi.ParentTypeDatabaseID,
				DatabaseID: notionapi.DatabaseID(dbID),
			},
			Properties: leadProperties(row),
		}
		if _, err := c.CreatePage(ctx, req); err != nil {
			return created, eris.Wrap(err, "notion: create lead page")
		}
		seen[key] = struct{}{}
		created++
	}
	return created, nil
}

// leadProperties maps a row to page properties. Blank optional values are
// left out.
func leadProperties(row LeadRow) notionapi.Properties {
	props := notionapi.Properties{
		"Name": notionapi.TitleProperty{
			Type:  notionapi.PropertyTypeTitle,
			Title: richText(strings.TrimSpace(row.Name)),
		},
		"Status": notionapi.StatusProperty{
			Status: notionapi.Status{Name: "New"},
		},
	}
	if row.Contact != "" {
		props["Contact"] = notionapi.RichTextProperty{Type: notionapi.PropertyTypeRichText, RichText: richText(row.Contact)}
	}
	if row.Address != "" {
		props["Address"] = notionapi.RichTextProperty{Type: notionapi.PropertyTypeRichText, RichText: richText(row.Address)}
	}
	if row.Query != "" {
		props["Query"] = notionapi.RichTextProperty{Type: notionapi.PropertyTypeRichText, RichText: richText(row.Query)}
	}
	if row.Phone != "" {
		props["Phone"] = notionapi.PhoneNumberProperty{Type: notionapi.PropertyTypePhoneNumber, PhoneNumber: row.Phone}
	}
	if u := normalizeURL(row.URL); u != "" {
		props["URL"] = notionapi.URLProperty{Type: notionapi.PropertyTypeURL, URL: u}
	}
	return props
}

func richText(s string) []notionapi.RichText {
	return []notionapi.RichText{
		{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: s}},
	}
}

// normalizeURL ensures a domain has an https:// scheme prefix.
func normalizeURL(domain string) string {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return ""
	}
	if !strings.Contains(domain, "://") {
		return "https://" + domain
	}
	return domain
}
