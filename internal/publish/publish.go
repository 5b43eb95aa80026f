// Package publish pushes discovered leads to CRM destinations.
package publish

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/lexleads/internal/model"
)

// Publisher writes leads to one destination.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, query string, leads []model.Lead) (int, error)
}

// Result is the outcome of one destination.
type Result struct {
	Target  string `json:"target" yaml:"target"`
	Created int    `json:"created" yaml:"created"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`
}

// ParseTargets splits a comma-separated target list, lower-cased and
// de-duplicated.
func ParseTargets(s string) []string {
	var out []string
	seen := map[string]bool{}
	for _, t := range strings.Split(s, ",") {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// All publishes to every destination concurrently. A failing destination
// does not stop the others; the first error is returned alongside every
// result.
func All(ctx context.Context, pubs []Publisher, query string, leads []model.Lead) ([]Result, error) {
	results := make([]Result, len(pubs))

	// A plain Group rather than WithContext: one destination failing must
	// not cancel the others.
	var g errgroup.Group
	for i, p := range pubs {
		g.Go(func() error {
			n, err := p.Publish(ctx, query, leads)
			results[i] = Result{Target: p.Name(), Created: n}
			if err != nil {
				results[i].Error = err.Error()
				zap.L().Warn("publish failed", zap.String("target", p.Name()), zap.Error(err))
				return eris.Wrapf(err, "publish to %s", p.Name())
			}
			zap.L().Info("published leads", zap.String("target", p.Name()), zap.Int("created", n))
			return nil
		})
	}
	return results, g.Wait()
}

// known returns v unless it is blank or the unknown-field marker.
func known(v string) string {
	if !model.IsKnown(v) {
		return ""
	}
	return strings.TrimSpace(v)
}
