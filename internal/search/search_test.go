package search

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lexleads/internal/config"
	"github.com/sells-group/lexleads/internal/metrics"
	"github.com/sells-group/lexleads/internal/model"
	"github.com/sells-group/lexleads/internal/resilience"
	"github.com/sells-group/lexleads/pkg/serpapi"
)

type fakeStrategy struct {
	name       string
	configured bool
	payload    *model.RawSearchPayload
	err        error
	panicWith  any
	calls      int
}

func (f *fakeStrategy) Name() string     { return f.name }
func (f *fakeStrategy) Configured() bool { return f.configured }

func (f *fakeStrategy) Attempt(_ context.Context, _ string) (*model.RawSearchPayload, error) {
	f.calls++
	if f.panicWith != nil {
		panic(f.panicWith)
	}
	return f.payload, f.err
}

func ok(name, text string) *fakeStrategy {
	return &fakeStrategy{
		name:       name,
		configured: true,
		payload:    &model.RawSearchPayload{Text: text, Links: []model.SearchResult{{Title: "t", URL: "https://x.example.com"}}, Grounded: true},
	}
}

func failing(name string, err error) *fakeStrategy {
	return &fakeStrategy{name: name, configured: true, err: err}
}

func TestSelect_FirstSuccessWins(t *testing.T) {
	first := ok("serpapi", "Local business results: ...")
	second := ok("grounded", "unused")

	p := NewSelector([]Strategy{first, second}, "…a1b2").Select(context.Background(), "Divorce lawyer in Beijing")

	require.False(t, p.Error)
	assert.Equal(t, "serpapi", p.Strategy)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 0, second.calls)
}

func TestSelect_SkipsUnconfigured(t *testing.T) {
	skipped := &fakeStrategy{name: "serpapi"}
	grounded := ok("grounded", "Grounded answer")

	before := testutil.ToFloat64(metrics.StrategyAttempts.WithLabelValues("serpapi", "skipped"))
	p := NewSelector([]Strategy{skipped, grounded}, "").Select(context.Background(), "q")

	assert.Equal(t, "grounded", p.Strategy)
	assert.Equal(t, 0, skipped.calls)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.StrategyAttempts.WithLabelValues("serpapi", "skipped")))
}

func TestSelect_FallsThroughErrorsAndEmptyText(t *testing.T) {
	serp := failing("serpapi", errors.New("serpapi: status 500: boom"))
	places := ok("google_places", "   ")
	errPayload := &fakeStrategy{name: "grounded", configured: true, payload: &model.RawSearchPayload{Error: true, ErrorMessage: "x", Text: "ignored"}}
	fallback := ok("ungrounded", UngroundedBanner+"\n\nsome firms")

	p := NewSelector([]Strategy{serp, places, errPayload, fallback}, "").Select(context.Background(), "q")

	require.False(t, p.Error)
	assert.Equal(t, "ungrounded", p.Strategy)
	assert.Equal(t, 1, serp.calls)
	assert.Equal(t, 1, places.calls)
	assert.Equal(t, 1, errPayload.calls)
}

func TestSelect_AllFailGeneric(t *testing.T) {
	p := NewSelector([]Strategy{
		failing("serpapi", errors.New("serpapi: status 401: Invalid API key.")),
		failing("grounded", errors.New("anthropic: status 400")),
	}, "…a1b2").Select(context.Background(), "q")

	require.True(t, p.Error)
	assert.Empty(t, p.Text)
	assert.Contains(t, p.ErrorMessage, "All search strategies failed")
	assert.NotContains(t, p.ErrorMessage, "quota")
	assert.Contains(t, p.ErrorMessage, "key ending in …a1b2")
	assert.Contains(t, p.ErrorMessage, "serpapi: status 401")
	assert.NotContains(t, p.ErrorMessage, "serpapi: serpapi:")
	assert.Contains(t, p.ErrorMessage, "grounded: anthropic: status 400")
}

func TestSelect_AllFailQuotaWording(t *testing.T) {
	p := NewSelector([]Strategy{
		failing("serpapi", errors.New("boom")),
		failing("grounded", resilience.NewProviderError("anthropic", 429, errors.New("too many requests"))),
	}, "…a1b2").Select(context.Background(), "q")

	require.True(t, p.Error)
	assert.Contains(t, p.ErrorMessage, "rate limit or quota exhausted")
	assert.Contains(t, p.ErrorMessage, "…a1b2")
}

func TestSelect_NothingConfigured(t *testing.T) {
	p := NewSelector([]Strategy{&fakeStrategy{name: "serpapi"}}, "").Select(context.Background(), "q")

	require.True(t, p.Error)
	assert.Contains(t, p.ErrorMessage, "No search strategy is configured")
}

func TestSelect_PanicIsAFailure(t *testing.T) {
	bad := &fakeStrategy{name: "serpapi", configured: true, panicWith: "nil map"}
	good := ok("grounded", "text")

	p := NewSelector([]Strategy{bad, good}, "").Select(context.Background(), "q")
	assert.Equal(t, "grounded", p.Strategy)
}

func TestSelect_CancelledContextStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := ok("serpapi", "text")
	p := NewSelector([]Strategy{s}, "").Select(ctx, "q")

	require.True(t, p.Error)
	assert.Equal(t, 0, s.calls)
	assert.Contains(t, p.ErrorMessage, "context canceled")
}

func TestSelector_Strategies(t *testing.T) {
	sel := NewSelector([]Strategy{&fakeStrategy{name: "serpapi"}, ok("grounded", "x"), ok("ungrounded", "y")}, "")
	assert.Equal(t, []string{"grounded", "ungrounded"}, sel.Strategies())
}

func TestSelect_ExhaustedMessageHidesSerpAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	base := srv.URL
	srv.Close()

	const key = "SECRETSERPKEY1234567890abcd"
	client := serpapi.NewClient(key, serpapi.WithBaseURL(base))
	sel := NewSelector([]Strategy{NewSerpAPIStrategy(client, nil, serpapi.Params{})}, config.MaskKey(key))

	p := sel.Select(context.Background(), "Divorce lawyer in Beijing")

	require.True(t, p.Error)
	assert.NotContains(t, p.ErrorMessage, key)
	assert.Contains(t, p.ErrorMessage, "key ending in …abcd")
	assert.Contains(t, p.ErrorMessage, "serpapi: send request")
	assert.NotContains(t, p.ErrorMessage, "serpapi: serpapi:")
}

func TestShortError_RuneSafe(t *testing.T) {
	msg := shortError(errors.New(strings.Repeat("北京离婚律师", 40)))

	assert.True(t, utf8.ValidString(msg))
	assert.Equal(t, 161, utf8.RuneCountInString(msg))
	assert.True(t, strings.HasSuffix(msg, "…"))
	assert.Equal(t, "short", shortError(errors.New("short")))
}
