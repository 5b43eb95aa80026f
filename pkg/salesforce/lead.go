package salesforce

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// maxBatchSize is the Salesforce Collections API limit per request.
const maxBatchSize = 200

// Lead is the subset of the Salesforce Lead object we read and write.
type Lead struct {
	ID          string `json:"Id,omitempty" salesforce:"Id"`
	Company     string `json:"Company" salesforce:"Company"`
	LastName    string `json:"LastName" salesforce:"LastName"`
	FirstName   string `json:"FirstName,omitempty" salesforce:"FirstName"`
	Phone       string `json:"Phone,omitempty" salesforce:"Phone"`
	Street      string `json:"Street,omitempty" salesforce:"Street"`
	Website     string `json:"Website,omitempty" salesforce:"Website"`
	LeadSource  string `json:"LeadSource,omitempty" salesforce:"LeadSource"`
	Description string `json:"Description,omitempty" salesforce:"Description"`
}

// Record returns the field map sent to the API. Empty optional fields are
// omitted.
func (l Lead) Record() map[string]any {
	rec := map[string]any{
		"Company":  l.Company,
		"LastName": l.LastName,
	}
	for k, v := range map[string]string{
		"FirstName":   l.FirstName,
		"Phone":       l.Phone,
		"Street":      l.Street,
		"Website":     l.Website,
		"LeadSource":  l.LeadSource,
		"Description": l.Description,
	} {
		if v != "" {
			rec[k] = v
		}
	}
	return rec
}

// FindLeadByCompany returns the first Lead with the given company name, or
// nil when none exists.
func FindLeadByCompany(ctx context.Context, c Client, company string) (*Lead, error) {
	soql := fmt.Sprintf(
		"SELECT Id, Company, LastName, Phone, Website FROM Lead WHERE Company = '%s' LIMIT 1",
		escapeSoql(company),
	)

	var leads []Lead
	if err := c.Query(ctx, soql, &leads); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("sf: find lead by company %s", company))
	}
	if len(leads) == 0 {
		return nil, nil
	}
	return &leads[0], nil
}

// InsertLeads creates leads in batches of 200 (Collections API limit).
// Results are returned in input order.
func InsertLeads(ctx context.Context, c Client, leads []Lead) ([]CollectionResult, error) {
	if len(leads) == 0 {
		return nil, nil
	}

	var all []CollectionResult
	for start := 0; start < len(leads); start += maxBatchSize {
		end := min(start+maxBatchSize, len(leads))

		records := make([]map[string]any, 0, end-start)
		for _, l := range leads[start:end] {
			records = append(records, l.Record())
		}

		results, err := c.InsertCollection(ctx, "Lead", records)
		if err != nil {
			return all, eris.Wrap(err, fmt.Sprintf("sf: insert leads batch %d-%d", start, end))
		}
		all = append(all, results...)
	}
	return all, nil
}

// escapeSoql escapes single quotes in SOQL string literals to prevent injection.
func escapeSoql(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}
