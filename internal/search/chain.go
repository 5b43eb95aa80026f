package search

import (
	"github.com/sells-group/lexleads/internal/config"
	"github.com/sells-group/lexleads/internal/resilience"
	"github.com/sells-group/lexleads/pkg/anthropic"
	"github.com/sells-group/lexleads/pkg/google"
	"github.com/sells-group/lexleads/pkg/perplexity"
	"github.com/sells-group/lexleads/pkg/serpapi"
)

// Search answers list many firms; the shared anthropic.max_tokens default is
// sized for intent extraction.
const minSearchTokens = 4096

// Clients are the provider clients available to the chain. Nil clients
// leave their strategies unconfigured.
type Clients struct {
	SerpAPI    serpapi.Client
	Google     google.Client
	Perplexity perplexity.Client
	Anthropic  anthropic.Client
}

// NewChain builds the ordered strategy list: serpapi, google_places,
// grounded, then ungrounded.
func NewChain(cfg *config.Config, clients Clients, inv *resilience.Invoker) []Strategy {
	maxTokens := cfg.Anthropic.MaxTokens
	if maxTokens < minSearchTokens {
		maxTokens = minSearchTokens
	}

	chain := []Strategy{
		NewSerpAPIStrategy(clients.SerpAPI, inv, serpapi.Params{
			Engine: cfg.SerpAPI.Engine,
			Num:    cfg.SerpAPI.Num,
			HL:     cfg.SerpAPI.HL,
			GL:     cfg.SerpAPI.GL,
		}),
		NewPlacesStrategy(clients.Google, inv),
	}

	switch cfg.Search.GroundedProvider {
	case "perplexity":
		chain = append(chain, NewPerplexityGroundedStrategy(clients.Perplexity, inv, cfg.Perplexity.Model))
	case "none":
	default:
		chain = append(chain, NewAnthropicGroundedStrategy(clients.Anthropic, inv,
			cfg.Anthropic.SearchModel, maxTokens, cfg.Search.MaxUses))
	}

	if !cfg.Search.DisableUngrounded {
		chain = append(chain, NewUngroundedStrategy(clients.Anthropic, inv,
			cfg.Anthropic.SearchModel, maxTokens))
	}
	return chain
}
