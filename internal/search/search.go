// Package search runs the ordered chain of search strategies that turns a
// query into a raw text payload for the structurer.
package search

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lexleads/internal/metrics"
	"github.com/sells-group/lexleads/internal/model"
	"github.com/sells-group/lexleads/internal/resilience"
)

// Strategy is one way of searching the web. Attempt returns an error (never
// an error payload) when it cannot produce usable text.
type Strategy interface {
	Name() string
	Configured() bool
	Attempt(ctx context.Context, query string) (*model.RawSearchPayload, error)
}

// ErrEmptyResult is returned by strategies that succeeded but found nothing.
var ErrEmptyResult = eris.New("search returned no usable results")

// Selector tries strategies in order and returns the first usable payload.
type Selector struct {
	strategies []Strategy
	keyHint    string
}

// NewSelector creates a Selector. keyHint is the masked key shown in the
// exhaustion message (e.g. "…a1b2"); empty omits it.
func NewSelector(strategies []Strategy, keyHint string) *Selector {
	return &Selector{strategies: strategies, keyHint: keyHint}
}

// Strategies returns the names of the configured strategies in order.
func (s *Selector) Strategies() []string {
	var names []string
	for _, st := range s.strategies {
		if st.Configured() {
			names = append(names, st.Name())
		}
	}
	return names
}

type failure struct {
	strategy string
	err      error
}

// Select runs the chain. It never returns an error: when every strategy
// fails the payload has Error set and an explanatory ErrorMessage.
func (s *Selector) Select(ctx context.Context, query string) *model.RawSearchPayload {
	log := zap.L().With(zap.String("stage", "search"))

	var failures []failure
	for _, st := range s.strategies {
		name := st.Name()
		if !st.Configured() {
			metrics.StrategyAttempts.WithLabelValues(name, "skipped").Inc()
			continue
		}
		if ctx.Err() != nil {
			failures = append(failures, failure{strategy: name, err: ctx.Err()})
			break
		}

		start := time.Now()
		payload, err := attempt(ctx, st, query)
		if err == nil && (payload == nil || payload.Error || strings.TrimSpace(payload.Text) == "") {
			err = ErrEmptyResult
		}
		if err != nil {
			outcome := "error"
			if eris.Is(err, ErrEmptyResult) {
				outcome = "empty"
			}
			metrics.StrategyAttempts.WithLabelValues(name, outcome).Inc()
			log.Warn("search strategy failed, trying next",
				zap.String("strategy", name),
				zap.Duration("duration", time.Since(start)),
				zap.Error(err),
			)
			failures = append(failures, failure{strategy: name, err: err})
			continue
		}

		metrics.StrategyAttempts.WithLabelValues(name, "success").Inc()
		payload.Strategy = name
		log.Info("search strategy succeeded",
			zap.String("strategy", name),
			zap.Int("chars", len(payload.Text)),
			zap.Int("links", len(payload.Links)),
			zap.Duration("duration", time.Since(start)),
		)
		return payload
	}

	msg := s.exhaustedMessage(failures)
	log.Error("all search strategies failed", zap.String("message", msg))
	return &model.RawSearchPayload{Error: true, ErrorMessage: msg}
}

// attempt isolates a strategy so a panic counts as a failure.
func attempt(ctx context.Context, st Strategy, query string) (p *model.RawSearchPayload, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("%s: panic: %v", st.Name(), r)
		}
	}()
	return st.Attempt(ctx, query)
}

func (s *Selector) exhaustedMessage(failures []failure) string {
	if len(failures) == 0 {
		return "No search strategy is configured. Set a SerpApi, Google Places or Anthropic key."
	}

	var b strings.Builder
	last := failures[len(failures)-1].err
	if resilience.IsRateLimited(last) {
		b.WriteString("All search strategies failed: rate limit or quota exhausted")
	} else {
		b.WriteString("All search strategies failed")
	}
	if s.keyHint != "" {
		fmt.Fprintf(&b, " (key ending in %s)", s.keyHint)
	}
	b.WriteString(". ")

	parts := make([]string, 0, len(failures))
	for _, f := range failures {
		parts = append(parts, fmt.Sprintf("%s: %s", f.strategy, strings.TrimPrefix(shortError(f.err), f.strategy+": ")))
	}
	b.WriteString(strings.Join(parts, "; "))
	return b.String()
}

// shortError keeps provider errors readable in the UI.
func shortError(err error) string {
	msg := err.Error()
	if utf8.RuneCountInString(msg) > 160 {
		return string([]rune(msg)[:160]) + "…"
	}
	return msg
}
