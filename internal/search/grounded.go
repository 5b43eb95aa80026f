package search

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lexleads/internal/model"
	"github.com/sells-group/lexleads/internal/resilience"
	"github.com/sells-group/lexleads/pkg/anthropic"
	"github.com/sells-group/lexleads/pkg/perplexity"
)

const groundedSystemPrompt = `You are a research assistant that finds legal service providers.
Search the web for law firms and lawyers matching the user's request.
For every firm you find, report the firm name, a named contact person if one is listed,
the phone number, the street address and the page where you found it.
Report only what your sources state. Do not invent contact details.`

func groundedPrompt(query string) string {
	return "Find law firms and lawyers for: " + query +
		"\nList each firm with its name, contact person, phone, address and website."
}

// AnthropicGroundedStrategy answers with Claude using the web search tool.
type AnthropicGroundedStrategy struct {
	client    anthropic.Client
	inv       *resilience.Invoker
	model     string
	maxTokens int64
	maxUses   int64
}

// NewAnthropicGroundedStrategy creates an AnthropicGroundedStrategy.
func NewAnthropicGroundedStrategy(client anthropic.Client, inv *resilience.Invoker, model string, maxTokens, maxUses int) *AnthropicGroundedStrategy {
	return &AnthropicGroundedStrategy{
		client:    client,
		inv:       inv,
		model:     model,
		maxTokens: int64(maxTokens),
		maxUses:   int64(maxUses),
	}
}

func (s *AnthropicGroundedStrategy) Name() string { return "grounded" }

func (s *AnthropicGroundedStrategy) Configured() bool { return s.client != nil }

func (s *AnthropicGroundedStrategy) Attempt(ctx context.Context, query string) (*model.RawSearchPayload, error) {
	resp, err := resilience.Invoke(ctx, s.inv, "anthropic", "web_search", func(ctx context.Context) (*anthropic.SearchResponse, error) {
		return s.client.SearchMessage(ctx, anthropic.SearchRequest{
			Model:     s.model,
			MaxTokens: s.maxTokens,
			System:    anthropic.CachedSystem(groundedSystemPrompt),
			Query:     groundedPrompt(query),
			MaxUses:   s.maxUses,
		})
	})
	if err != nil {
		return nil, err
	}
	resp.Usage.LogCost(s.model, "search")

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return nil, eris.Wrap(ErrEmptyResult, "grounded")
	}

	links := make([]model.SearchResult, 0, len(resp.Citations)+len(resp.Results))
	for _, c := range resp.Citations {
		links = append(links, model.SearchResult{Title: c.Title, URL: c.URL})
	}
	for _, r := range resp.Results {
		links = append(links, model.SearchResult{Title: r.Title, URL: r.URL})
	}

	return &model.RawSearchPayload{Text: text, Links: links, Grounded: true}, nil
}

// PerplexityGroundedStrategy answers with a Perplexity sonar model.
type PerplexityGroundedStrategy struct {
	client perplexity.Client
	inv    *resilience.Invoker
	model  string
}

// NewPerplexityGroundedStrategy creates a PerplexityGroundedStrategy. An empty
// model uses the client default.
func NewPerplexityGroundedStrategy(client perplexity.Client, inv *resilience.Invoker, model string) *PerplexityGroundedStrategy {
	return &PerplexityGroundedStrategy{client: client, inv: inv, model: model}
}

func (s *PerplexityGroundedStrategy) Name() string { return "grounded" }

func (s *PerplexityGroundedStrategy) Configured() bool { return s.client != nil }

func (s *PerplexityGroundedStrategy) Attempt(ctx context.Context, query string) (*model.RawSearchPayload, error) {
	resp, err := resilience.Invoke(ctx, s.inv, "perplexity", "chat_completion", func(ctx context.Context) (*perplexity.ChatCompletionResponse, error) {
		return s.client.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
			Model: s.model,
			Messages: []perplexity.Message{
				{Role: "system", Content: groundedSystemPrompt},
				{Role: "user", Content: groundedPrompt(query)},
			},
			WebSearchOptions: &perplexity.WebSearchOptions{SearchContextSize: "medium"},
		})
	})
	if err != nil {
		return nil, err
	}

	text := strings.TrimSpace(resp.Content())
	if text == "" {
		return nil, eris.Wrap(ErrEmptyResult, "grounded")
	}

	var links []model.SearchResult
	if len(resp.SearchResults) > 0 {
		for _, r := range resp.SearchResults {
			links = append(links, model.SearchResult{Title: r.Title, URL: r.URL})
		}
	} else {
		for _, u := range resp.Citations {
			links = append(links, model.SearchResult{Title: u, URL: u})
		}
	}

	return &model.RawSearchPayload{Text: text, Links: links, Grounded: true}, nil
}
