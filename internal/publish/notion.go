package publish

import (
	"context"

	"github.com/sells-group/lexleads/internal/model"
	"github.com/sells-group/lexleads/pkg/notion"
)

// Notion publishes leads as pages in a Notion database.
type Notion struct {
	client notion.Client
	dbID   string
}

// NewNotion creates a Notion publisher for the given database.
func NewNotion(client notion.Client, dbID string) *Notion {
	return &Notion{client: client, dbID: dbID}
}

// Name implements Publisher.
func (n *Notion) Name() string { return "notion" }

// Publish implements Publisher.
func (n *Notion) Publish(ctx context.Context, query string, leads []model.Lead) (int, error) {
	rows := make([]notion.LeadRow, 0, len(leads))
	for _, l := range leads {
		name := known(l.LawFirm)
		if name == "" {
			continue
		}
		rows = append(rows, notion.LeadRow{
			Name:    name,
			Contact: known(l.Contact),
			Phone:   known(l.Phone),
			Address: known(l.Address),
			URL:     known(l.SourceURL),
			Query:   query,
		})
	}
	return notion.CreateLeadPages(ctx, n.client, n.dbID, rows)
}
