// Package structure streams an LLM extraction of leads from search text and
// decodes the result leniently.
package structure

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/sells-group/lexleads/internal/config"
	"github.com/sells-group/lexleads/internal/metrics"
	"github.com/sells-group/lexleads/internal/model"
	"github.com/sells-group/lexleads/internal/resilience"
	"github.com/sells-group/lexleads/pkg/anthropic"
)

const (
	defaultMaxInputChars         = 20000
	defaultExpectedResponseChars = 4000
	defaultMaxTokens             = 8192
)

const systemPrompt = `You convert web search results about legal service providers into structured leads.
Return a JSON array only. Each element is an object with these string fields:
  "lawFirm": the firm or practice name
  "contact": a named lawyer or contact person
  "phone": a phone number
  "address": the street address
  "sourceUrl": the page the information came from
Use "-" for any field the text does not state. Include every distinct firm mentioned.
Never invent details. Do not wrap the array in markdown or add commentary.`

// ProgressFunc receives the number of characters streamed so far and a
// percentage estimate that stays below 100 until the stream ends.
type ProgressFunc func(receivedChars, percent int)

// Structurer turns search text into leads.
type Structurer struct {
	client    anthropic.Client
	inv       *resilience.Invoker
	model     string
	maxTokens int64
	maxInput  int
	expected  int
}

// New creates a Structurer from the structure config section.
func New(client anthropic.Client, inv *resilience.Invoker, model string, cfg config.StructureConfig) *Structurer {
	s := &Structurer{
		client:    client,
		inv:       inv,
		model:     model,
		maxTokens: int64(cfg.MaxTokens),
		maxInput:  cfg.MaxInputChars,
		expected:  cfg.ExpectedResponseChars,
	}
	if s.maxTokens <= 0 {
		s.maxTokens = defaultMaxTokens
	}
	if s.maxInput <= 0 {
		s.maxInput = defaultMaxInputChars
	}
	if s.expected <= 0 {
		s.expected = defaultExpectedResponseChars
	}
	return s
}

// Structure streams the extraction for text and returns the decoded leads.
// A failure to open the stream is a structuring StageError. A stream that
// breaks after opening keeps what arrived and is decoded anyway.
func (s *Structurer) Structure(ctx context.Context, text string, onProgress ProgressFunc) ([]model.Lead, error) {
	start := time.Now()
	log := zap.L().With(zap.String("stage", "structure"))

	input := Truncate(text, s.maxInput)
	if len(input) < len(text) {
		log.Info("search text truncated",
			zap.Int("original_chars", utf8.RuneCountInString(text)),
			zap.Int("max_chars", s.maxInput),
		)
	}

	stream, err := resilience.Invoke(ctx, s.inv, "anthropic", "structure_stream", func(ctx context.Context) (anthropic.TextStream, error) {
		return s.client.StreamMessage(ctx, anthropic.MessageRequest{
			Model:     s.model,
			MaxTokens: s.maxTokens,
			System:    anthropic.CachedSystem(systemPrompt),
			Messages: []anthropic.Message{{
				Role:    "user",
				Content: "Extract the leads from these search results:\n\n" + input,
			}},
		})
	})
	if err != nil {
		return nil, model.NewStageError(model.KindStructuring, "could not start lead extraction", err)
	}
	defer stream.Close() //nolint:errcheck

	var (
		buf      strings.Builder
		received int
	)
	for stream.Next() {
		chunk := stream.Text()
		buf.WriteString(chunk)
		received += utf8.RuneCountInString(chunk)
		if onProgress != nil {
			onProgress(received, Percent(received, s.expected))
		}
	}
	if err := stream.Err(); err != nil {
		log.Warn("lead stream interrupted, decoding partial output",
			zap.Int("received_chars", received),
			zap.Error(err),
		)
	}

	stream.Usage().LogCost(s.model, "structure")
	metrics.StreamChars.Observe(float64(received))

	leads := DecodeLeads(buf.String())
	log.Info("leads structured",
		zap.Int("leads", len(leads)),
		zap.Int("received_chars", received),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return leads, nil
}

// Percent estimates stream progress, clamped to [0, 99].
func Percent(received, expected int) int {
	if expected <= 0 || received <= 0 {
		return 0
	}
	p := received * 100 / expected
	if p > 99 {
		return 99
	}
	return p
}

// Truncate cuts text to at most maxRunes runes.
func Truncate(text string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(text) <= maxRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxRunes])
}
