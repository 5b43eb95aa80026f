package search

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lexleads/internal/model"
	"github.com/sells-group/lexleads/internal/resilience"
	"github.com/sells-group/lexleads/pkg/anthropic"
)

// UngroundedBanner prefixes text produced without live web access.
const UngroundedBanner = "[UNVERIFIED] Live search was unavailable. The results below come from the model's general knowledge and may be outdated or wrong. Verify every contact before use."

const ungroundedSystemPrompt = `You are a research assistant that lists legal service providers.
You have no web access. Using only your general knowledge, list well known law firms
that match the user's request with any name, contact person, phone, address and website you know.
Say "unknown" for anything you are not sure of.`

// UngroundedStrategy asks Claude without tools. It is the last resort.
type UngroundedStrategy struct {
	client    anthropic.Client
	inv       *resilience.Invoker
	model     string
	maxTokens int64
}

// NewUngroundedStrategy creates an UngroundedStrategy.
func NewUngroundedStrategy(client anthropic.Client, inv *resilience.Invoker, model string, maxTokens int) *UngroundedStrategy {
	return &UngroundedStrategy{client: client, inv: inv, model: model, maxTokens: int64(maxTokens)}
}

func (s *UngroundedStrategy) Name() string { return "ungrounded" }

func (s *UngroundedStrategy) Configured() bool { return s.client != nil }

func (s *UngroundedStrategy) Attempt(ctx context.Context, query string) (*model.RawSearchPayload, error) {
	resp, err := resilience.Invoke(ctx, s.inv, "anthropic", "ungrounded_search", func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return s.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     s.model,
			MaxTokens: s.maxTokens,
			System:    anthropic.System(ungroundedSystemPrompt),
			Messages:  []anthropic.Message{{Role: "user", Content: groundedPrompt(query)}},
		})
	})
	if err != nil {
		return nil, err
	}
	resp.Usage.LogCost(s.model, "search")

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, eris.Wrap(ErrEmptyResult, "ungrounded")
	}
	return &model.RawSearchPayload{Text: UngroundedBanner + "\n\n" + text}, nil
}
