// Package intent extracts a structured search intent from a free-text query.
package intent

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lexleads/internal/model"
	"github.com/sells-group/lexleads/internal/resilience"
	"github.com/sells-group/lexleads/pkg/anthropic"
)

const systemPrompt = `You extract search intent from requests for legal services.
Return a single JSON object with exactly these string fields:
  "event": the legal matter or practice area (e.g. "Divorce", "Patent infringement")
  "location": the city, region or country where the lawyer is needed
  "contactPerson": a specific lawyer or contact named in the request
  "phone": a phone number given in the request
Use "-" for any field the request does not state. Do not guess.
Respond with JSON only, no prose and no markdown.`

// Extractor turns queries into intents with one LLM call.
type Extractor struct {
	client    anthropic.Client
	inv       *resilience.Invoker
	model     string
	maxTokens int64
}

// NewExtractor creates an Extractor.
func NewExtractor(client anthropic.Client, inv *resilience.Invoker, model string, maxTokens int) *Extractor {
	if maxTokens <= 0 {
		maxTokens = 512
	}
	return &Extractor{client: client, inv: inv, model: model, maxTokens: int64(maxTokens)}
}

// Extract returns the normalized intent for query. Any failure, including an
// unparsable response, is an intent-extraction StageError.
func (e *Extractor) Extract(ctx context.Context, query string) (model.Intent, error) {
	start := time.Now()
	log := zap.L().With(zap.String("stage", "intent"))

	query = strings.TrimSpace(query)
	if query == "" {
		return model.Intent{}, model.NewStageError(model.KindIntentExtraction, "query is blank", nil)
	}

	resp, err := resilience.Invoke(ctx, e.inv, "anthropic", "extract_intent", func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return e.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     e.model,
			MaxTokens: e.maxTokens,
			System:    anthropic.CachedSystem(systemPrompt),
			Messages:  []anthropic.Message{{Role: "user", Content: query}},
		})
	})
	if err != nil {
		return model.Intent{}, model.NewStageError(model.KindIntentExtraction, "could not understand the query", err)
	}
	resp.Usage.LogCost(e.model, "intent")

	in, err := Parse(resp.Text())
	if err != nil {
		return model.Intent{}, model.NewStageError(model.KindIntentExtraction, "could not understand the query", err)
	}

	log.Info("intent extracted",
		zap.String("event", in.Event),
		zap.String("location", in.Location),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return in, nil
}

// Parse decodes a model response into a normalized intent.
func Parse(text string) (model.Intent, error) {
	cleaned := cleanJSON(text)
	if cleaned == "" {
		return model.Intent{}, eris.New("intent: empty response")
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return model.Intent{}, eris.Wrap(err, "intent: parse response")
	}

	in := model.Intent{
		Event:         field(raw, "event"),
		Location:      field(raw, "location"),
		ContactPerson: field(raw, "contactPerson"),
		Phone:         field(raw, "phone"),
	}
	return in.Normalize(), nil
}

// field reads a value as text. Models occasionally emit phone numbers as
// JSON numbers and unknowns as null.
func field(raw map[string]any, key string) string {
	switch v := raw[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// cleanJSON strips markdown fences and extracts the outermost JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
