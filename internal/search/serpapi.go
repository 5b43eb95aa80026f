package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lexleads/internal/model"
	"github.com/sells-group/lexleads/internal/resilience"
	"github.com/sells-group/lexleads/pkg/serpapi"
)

// SerpAPIStrategy searches through SerpApi's Google engine.
type SerpAPIStrategy struct {
	client serpapi.Client
	inv    *resilience.Invoker
	params serpapi.Params
}

// NewSerpAPIStrategy creates a SerpAPIStrategy. A nil client leaves it
// unconfigured.
func NewSerpAPIStrategy(client serpapi.Client, inv *resilience.Invoker, params serpapi.Params) *SerpAPIStrategy {
	return &SerpAPIStrategy{client: client, inv: inv, params: params}
}

func (s *SerpAPIStrategy) Name() string { return "serpapi" }

func (s *SerpAPIStrategy) Configured() bool { return s.client != nil }

func (s *SerpAPIStrategy) Attempt(ctx context.Context, query string) (*model.RawSearchPayload, error) {
	resp, err := resilience.Invoke(ctx, s.inv, "serpapi", "search", func(ctx context.Context) (*serpapi.SearchResponse, error) {
		return s.client.Search(ctx, query, s.params)
	})
	if err != nil {
		return nil, err
	}

	text, links := digestSerpAPI(resp)
	if text == "" {
		return nil, eris.Wrap(ErrEmptyResult, "serpapi")
	}
	return &model.RawSearchPayload{Text: text, Links: links, Grounded: true}, nil
}

// digestSerpAPI renders local business results first, then organic results,
// as readable text. Links follow the same order.
func digestSerpAPI(resp *serpapi.SearchResponse) (string, []model.SearchResult) {
	if resp == nil {
		return "", nil
	}

	var (
		b     strings.Builder
		links []model.SearchResult
	)

	if len(resp.LocalResults) > 0 {
		b.WriteString("Local business results:\n")
		for i, r := range resp.LocalResults {
			fmt.Fprintf(&b, "%d. %s\n", i+1, r.Title)
			writeField(&b, "Phone", r.Phone)
			writeField(&b, "Address", r.Address)
			if r.Rating > 0 {
				writeField(&b, "Rating", formatRating(r.Rating, r.Reviews))
			}
			writeField(&b, "Type", r.Type)
			if site := r.WebsiteURL(); site != "" {
				writeField(&b, "Website", site)
				links = append(links, model.SearchResult{Title: r.Title, URL: site})
			}
		}
	}

	if len(resp.OrganicResults) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Web results:\n")
		for i, r := range resp.OrganicResults {
			fmt.Fprintf(&b, "%d. %s\n", i+1, r.Title)
			writeField(&b, "URL", r.Link)
			writeField(&b, "Snippet", r.Snippet)
			if r.Link != "" {
				links = append(links, model.SearchResult{Title: r.Title, URL: r.Link})
			}
		}
	}

	return strings.TrimSpace(b.String()), links
}

func writeField(b *strings.Builder, label, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	fmt.Fprintf(b, "   %s: %s\n", label, value)
}

func formatRating(rating float64, reviews int) string {
	if reviews > 0 {
		return fmt.Sprintf("%.1f (%d reviews)", rating, reviews)
	}
	return fmt.Sprintf("%.1f", rating)
}
