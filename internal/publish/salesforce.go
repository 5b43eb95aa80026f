package publish

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lexleads/internal/model"
	"github.com/sells-group/lexleads/pkg/salesforce"
)

// unknownLastName fills the required Lead.LastName when no contact is known.
const unknownLastName = "Unknown"

// Salesforce publishes leads as Salesforce Lead records. Firms that already
// exist as a Lead are skipped.
type Salesforce struct {
	client     salesforce.Client
	leadSource string
}

// NewSalesforce creates a Salesforce publisher.
func NewSalesforce(client salesforce.Client, leadSource string) *Salesforce {
	return &Salesforce{client: client, leadSource: leadSource}
}

// Name implements Publisher.
func (s *Salesforce) Name() string { return "salesforce" }

// Publish implements Publisher.
func (s *Salesforce) Publish(ctx context.Context, query string, leads []model.Lead) (int, error) {
	var records []salesforce.Lead
	seen := map[string]bool{}
	for _, l := range leads {
		rec, ok := s.toRecord(query, l)
		if !ok || seen[strings.ToLower(rec.Company)] {
			continue
		}
		seen[strings.ToLower(rec.Company)] = true

		existing, err := salesforce.FindLeadByCompany(ctx, s.client, rec.Company)
		if err != nil {
			return 0, err
		}
		if existing != nil {
			continue
		}
		records = append(records, rec)
	}

	results, err := salesforce.InsertLeads(ctx, s.client, records)
	created := 0
	for _, r := range results {
		if r.Success {
			created++
		}
	}
	if err != nil {
		return created, err
	}
	if failed := len(results) - created; failed > 0 {
		return created, eris.Errorf("sf: %d of %d leads rejected", failed, len(results))
	}
	return created, nil
}

func (s *Salesforce) toRecord(query string, l model.Lead) (salesforce.Lead, bool) {
	company := known(l.LawFirm)
	if company == "" {
		return salesforce.Lead{}, false
	}
	first, last := splitName(known(l.Contact))
	if last == "" {
		last = unknownLastName
	}
	return salesforce.Lead{
		Company:     company,
		FirstName:   first,
		LastName:    last,
		Phone:       known(l.Phone),
		Street:      known(l.Address),
		Website:     known(l.SourceURL),
		LeadSource:  s.leadSource,
		Description: "Discovered for: " + query,
	}, true
}

// splitName splits a contact into first and last name on the final space.
func splitName(name string) (first, last string) {
	name = strings.TrimSpace(name)
	i := strings.LastIndex(name, " ")
	if i < 0 {
		return "", name
	}
	return strings.TrimSpace(name[:i]), name[i+1:]
}
