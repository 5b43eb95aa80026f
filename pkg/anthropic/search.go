package anthropic

import (
	"context"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
)

// SearchRequest asks the model to answer Query using the web search tool.
type SearchRequest struct {
	Model     string
	MaxTokens int64
	System    []SystemBlock
	Query     string
	MaxUses   int64
}

// Citation is a web source the model cited or retrieved.
type Citation struct {
	Title     string
	URL       string
	CitedText string
}

// SearchResponse holds the grounded answer and its sources in the order
// they appeared.
type SearchResponse struct {
	Text      string
	Citations []Citation
	Results   []Citation
	Searches  int
	Usage     TokenUsage
}

func (c *sdkClient) SearchMessage(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	params := toSDKParams(MessageRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		System:    req.System,
		Messages:  []Message{{Role: "user", Content: req.Query}},
	})

	tool := &sdk.WebSearchTool20250305Param{}
	if req.MaxUses > 0 {
		tool.MaxUses = sdk.Int(req.MaxUses)
	}
	params.Tools = []sdk.ToolUnionParam{{OfWebSearchTool20250305: tool}}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, wrapErr(err, "anthropic: web search")
	}
	return fromSDKSearchMessage(msg), nil
}

func fromSDKSearchMessage(msg *sdk.Message) *SearchResponse {
	out := &SearchResponse{Usage: fromSDKUsage(msg.Usage)}
	var text strings.Builder
	for _, b := range msg.Content {
		switch b.Type {
		case "text":
			text.WriteString(b.Text)
			for _, cit := range b.Citations {
				if cit.Type == "web_search_result_location" && cit.URL != "" {
					out.Citations = append(out.Citations, Citation{Title: cit.Title, URL: cit.URL, CitedText: cit.CitedText})
				}
			}
		case "server_tool_use":
			out.Searches++
		case "web_search_tool_result":
			for _, r := range b.Content.AsWebSearchResultBlockArray() {
				out.Results = append(out.Results, Citation{Title: r.Title, URL: r.URL})
			}
		}
	}
	out.Text = strings.TrimSpace(text.String())
	return out
}
