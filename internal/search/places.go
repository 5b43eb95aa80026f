package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lexleads/internal/model"
	"github.com/sells-group/lexleads/internal/resilience"
	"github.com/sells-group/lexleads/pkg/google"
)

// PlacesStrategy searches local businesses through Google Places Text Search.
type PlacesStrategy struct {
	client google.Client
	inv    *resilience.Invoker
}

// NewPlacesStrategy creates a PlacesStrategy. A nil client leaves it
// unconfigured.
func NewPlacesStrategy(client google.Client, inv *resilience.Invoker) *PlacesStrategy {
	return &PlacesStrategy{client: client, inv: inv}
}

func (s *PlacesStrategy) Name() string { return "google_places" }

func (s *PlacesStrategy) Configured() bool { return s.client != nil }

func (s *PlacesStrategy) Attempt(ctx context.Context, query string) (*model.RawSearchPayload, error) {
	resp, err := resilience.Invoke(ctx, s.inv, "google_places", "text_search", func(ctx context.Context) (*google.TextSearchResponse, error) {
		return s.client.TextSearch(ctx, query)
	})
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Places) == 0 {
		return nil, eris.Wrap(ErrEmptyResult, "google_places")
	}

	var (
		b     strings.Builder
		links []model.SearchResult
	)
	b.WriteString("Local business results:\n")
	for i, p := range resp.Places {
		fmt.Fprintf(&b, "%d. %s\n", i+1, p.DisplayName.Text)
		writeField(&b, "Phone", p.Phone())
		writeField(&b, "Address", p.FormattedAddress)
		if p.Rating > 0 {
			writeField(&b, "Rating", formatRating(p.Rating, p.UserRatingCount))
		}
		site := p.WebsiteURI
		if site == "" {
			site = p.GoogleMapsURI
		}
		if site != "" {
			writeField(&b, "Website", site)
			links = append(links, model.SearchResult{Title: p.DisplayName.Text, URL: site})
		}
	}

	return &model.RawSearchPayload{Text: strings.TrimSpace(b.String()), Links: links, Grounded: true}, nil
}
