package workflow

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lexleads/internal/config"
	"github.com/sells-group/lexleads/internal/export"
	"github.com/sells-group/lexleads/internal/intent"
	"github.com/sells-group/lexleads/internal/model"
	"github.com/sells-group/lexleads/internal/resilience"
	"github.com/sells-group/lexleads/internal/search"
	"github.com/sells-group/lexleads/internal/structure"
	"github.com/sells-group/lexleads/pkg/anthropic"
	anthropicmocks "github.com/sells-group/lexleads/pkg/anthropic/mocks"
	"github.com/sells-group/lexleads/pkg/serpapi"
	serpmocks "github.com/sells-group/lexleads/pkg/serpapi/mocks"
)

const testKey = "sk-ant-test"

type fakeIntent struct {
	in  model.Intent
	err error
}

func (f *fakeIntent) Extract(_ context.Context, _ string) (model.Intent, error) {
	return f.in, f.err
}

type fakeSearcher struct {
	mu      sync.Mutex
	payload *model.RawSearchPayload
	queries []string
	release chan struct{}
}

func (f *fakeSearcher) Select(_ context.Context, query string) *model.RawSearchPayload {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	if f.release != nil {
		<-f.release
	}
	return f.payload
}

type fakeStructurer struct {
	leads    []model.Lead
	err      error
	panicMsg string
	calls    int
}

func (f *fakeStructurer) Structure(_ context.Context, _ string, onProgress structure.ProgressFunc) ([]model.Lead, error) {
	f.calls++
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if onProgress != nil {
		onProgress(100, 50)
	}
	return f.leads, f.err
}

type fakeUsage struct {
	mu      sync.Mutex
	leads   int
	queries int
}

func (f *fakeUsage) IncrementStats(_ context.Context, leads, queries int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leads += leads
	f.queries += queries
	return nil
}

type fakeRecorder struct {
	mu   sync.Mutex
	runs []*model.Run
}

func (f *fakeRecorder) SaveRun(_ context.Context, run *model.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, run)
	return nil
}

func beijingIntent() model.Intent {
	return model.Intent{Event: "Divorce", Location: "Beijing", ContactPerson: "-", Phone: "-"}
}

func okPayload() *model.RawSearchPayload {
	return &model.RawSearchPayload{
		Text:     "Local business results:\n1. Smith Law",
		Links:    []model.SearchResult{{Title: "Smith Law", URL: "https://smith.example"}},
		Strategy: "serpapi",
		Grounded: true,
	}
}

func TestRun_Complete(t *testing.T) {
	st := &fakeStructurer{leads: []model.Lead{{LawFirm: "Smith Law", Contact: "-", Phone: "1", Address: "-", SourceURL: "-"}}}
	searcher := &fakeSearcher{payload: okPayload()}
	sink := &fakeUsage{}
	rec := &fakeRecorder{}

	o := New(&fakeIntent{in: beijingIntent()}, searcher, st, Options{APIKey: testKey, Usage: sink, Runs: rec})
	snap, err := o.Run(context.Background(), "  Divorce lawyer in Beijing ")
	require.NoError(t, err)
	o.Wait()

	assert.Equal(t, model.StatusComplete, snap.Status)
	assert.Equal(t, "Divorce lawyer in Beijing", snap.Query)
	assert.Equal(t, 100, snap.Telemetry.ProgressPercent)
	assert.Empty(t, snap.Telemetry.ErrorMessage)
	assert.Equal(t, "serpapi", snap.Strategy)
	assert.True(t, snap.Grounded)
	assert.Len(t, snap.Links, 1)
	assert.Len(t, snap.Leads, 1)
	require.NotNil(t, snap.Intent)
	assert.Equal(t, "Beijing", snap.Intent.Location)
	assert.NotNil(t, snap.FinishedAt)
	assert.NotEmpty(t, snap.RunID)

	assert.Equal(t, []string{"Divorce lawyer in Beijing"}, searcher.queries)

	assert.Equal(t, 1, sink.leads)
	assert.Equal(t, 1, sink.queries)

	require.Len(t, rec.runs, 1)
	assert.Equal(t, snap.RunID, rec.runs[0].ID)
	assert.Equal(t, model.StatusComplete, rec.runs[0].Status)
}

func TestRun_BlankQuery(t *testing.T) {
	o := New(&fakeIntent{}, &fakeSearcher{}, &fakeStructurer{}, Options{APIKey: testKey})
	snap, err := o.Run(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrBlankQuery)
	assert.Equal(t, model.StatusIdle, snap.Status)
}

func TestRun_MissingKey(t *testing.T) {
	searcher := &fakeSearcher{payload: okPayload()}
	o := New(&fakeIntent{in: beijingIntent()}, searcher, &fakeStructurer{}, Options{})

	snap, err := o.Run(context.Background(), "Divorce lawyer in Beijing")
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.KindConfiguration))
	assert.Equal(t, model.StatusError, snap.Status)
	assert.Contains(t, snap.Telemetry.ErrorMessage, "API key is not configured")
	assert.Empty(t, searcher.queries)
}

func TestRun_IntentFailure(t *testing.T) {
	searcher := &fakeSearcher{payload: okPayload()}
	ix := &fakeIntent{err: model.NewStageError(model.KindIntentExtraction, "extract intent", errors.New("bad request"))}
	rec := &fakeRecorder{}

	o := New(ix, searcher, &fakeStructurer{}, Options{APIKey: testKey, Runs: rec})
	snap, err := o.Run(context.Background(), "Divorce lawyer in Beijing")
	require.Error(t, err)

	assert.Equal(t, model.StatusError, snap.Status)
	assert.Equal(t, "Could not understand the query (bad request): check provider keys and configuration.", snap.Telemetry.ErrorMessage)
	assert.Empty(t, searcher.queries)
	assert.Nil(t, snap.Intent)

	require.Len(t, rec.runs, 1)
	assert.Equal(t, model.StatusError, rec.runs[0].Status)
	assert.Equal(t, snap.Telemetry.ErrorMessage, rec.runs[0].ErrorMessage)
}

func TestRun_QuotaWording(t *testing.T) {
	ix := &fakeIntent{err: resilience.NewProviderError("anthropic", 429, errors.New("too many requests"))}
	o := New(ix, &fakeSearcher{}, &fakeStructurer{}, Options{APIKey: testKey})

	snap, err := o.Run(context.Background(), "Divorce lawyer in Beijing")
	require.Error(t, err)
	assert.Contains(t, snap.Telemetry.ErrorMessage, quotaAdvice)
	assert.NotContains(t, snap.Telemetry.ErrorMessage, genericAdvice)
}

func TestRun_SearchExhausted(t *testing.T) {
	st := &fakeStructurer{}
	searcher := &fakeSearcher{payload: &model.RawSearchPayload{
		Error:        true,
		ErrorMessage: "All search strategies failed: rate limit or quota exhausted. serpapi: status 429",
		Text:         "must not be used",
	}}

	o := New(&fakeIntent{in: beijingIntent()}, searcher, st, Options{APIKey: testKey})
	snap, err := o.Run(context.Background(), "Divorce lawyer in Beijing")
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.KindSearch))

	assert.Equal(t, model.StatusError, snap.Status)
	assert.Zero(t, st.calls)
	assert.Empty(t, snap.Leads)
	assert.True(t, strings.HasSuffix(snap.Telemetry.ErrorMessage, "Wait a minute and retry."))
}

func TestRun_SearchFailedGeneric(t *testing.T) {
	searcher := &fakeSearcher{payload: &model.RawSearchPayload{Error: true, ErrorMessage: "All search strategies failed. grounded: boom."}}
	o := New(&fakeIntent{in: beijingIntent()}, searcher, &fakeStructurer{}, Options{APIKey: testKey})

	snap, _ := o.Run(context.Background(), "Divorce lawyer in Beijing")
	assert.Equal(t, "All search strategies failed. grounded: boom. Check provider keys and configuration.", snap.Telemetry.ErrorMessage)
}

func TestRun_ZeroLeadsIsComplete(t *testing.T) {
	sink := &fakeUsage{}
	o := New(&fakeIntent{in: beijingIntent()}, &fakeSearcher{payload: okPayload()}, &fakeStructurer{}, Options{APIKey: testKey, Usage: sink})

	snap, err := o.Run(context.Background(), "Divorce lawyer in Beijing")
	require.NoError(t, err)
	o.Wait()

	assert.Equal(t, model.StatusComplete, snap.Status)
	assert.NotNil(t, snap.Leads)
	assert.Empty(t, snap.Leads)
	assert.Equal(t, 1, sink.queries)
	assert.Zero(t, sink.leads)
}

func TestRun_StructurerPanic(t *testing.T) {
	o := New(&fakeIntent{in: beijingIntent()}, &fakeSearcher{payload: okPayload()},
		&fakeStructurer{panicMsg: "nil map"}, Options{APIKey: testKey})

	snap, err := o.Run(context.Background(), "Divorce lawyer in Beijing")
	require.Error(t, err)
	assert.Equal(t, model.StatusError, snap.Status)
	assert.True(t, strings.HasPrefix(snap.Telemetry.ErrorMessage, "Internal error: nil map."))
}

func TestRun_OnChangeTransitions(t *testing.T) {
	var mu sync.Mutex
	var statuses []model.WorkflowStatus
	onChange := func(s model.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if n := len(statuses); n == 0 || statuses[n-1] != s.Status {
			statuses = append(statuses, s.Status)
		}
	}

	o := New(&fakeIntent{in: beijingIntent()}, &fakeSearcher{payload: okPayload()},
		&fakeStructurer{}, Options{APIKey: testKey, OnChange: onChange})
	_, err := o.Run(context.Background(), "Divorce lawyer in Beijing")
	require.NoError(t, err)

	assert.Equal(t, []model.WorkflowStatus{
		model.StatusIdentifying,
		model.StatusSearching,
		model.StatusProcessing,
		model.StatusComplete,
	}, statuses)
}

func TestStart_RunActiveAndCancel(t *testing.T) {
	searcher := &fakeSearcher{payload: okPayload(), release: make(chan struct{})}
	st := &fakeStructurer{}
	o := New(&fakeIntent{in: beijingIntent()}, searcher, st, Options{APIKey: testKey, TickInterval: 5 * time.Millisecond})

	runID, err := o.Start(context.Background(), "Divorce lawyer in Beijing")
	require.NoError(t, err)
	assert.NotEmpty(t, runID)

	require.Eventually(t, func() bool {
		return o.Snapshot().Status == model.StatusSearching
	}, time.Second, 5*time.Millisecond)

	_, err = o.Start(context.Background(), "Another query")
	assert.ErrorIs(t, err, ErrRunActive)
	_, err = o.Retry(context.Background())
	assert.ErrorIs(t, err, ErrRunActive)

	assert.True(t, o.Cancel())
	assert.False(t, o.Cancel())
	close(searcher.release)
	o.Wait()

	snap := o.Snapshot()
	assert.Equal(t, runID, snap.RunID)
	assert.Equal(t, model.StatusError, snap.Status)
	assert.Equal(t, "Run cancelled.", snap.Telemetry.ErrorMessage)
	assert.Zero(t, st.calls)
	assert.False(t, o.Cancel())
}

func TestBoundary_CancelInterruptsStageDelay(t *testing.T) {
	searcher := &fakeSearcher{payload: okPayload()}
	o := New(&fakeIntent{in: beijingIntent()}, searcher, &fakeStructurer{}, Options{APIKey: testKey, StageDelay: time.Hour})

	_, err := o.Start(context.Background(), "Divorce lawyer in Beijing")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return o.Snapshot().Intent != nil
	}, time.Second, 5*time.Millisecond)

	assert.True(t, o.Cancel())
	o.Wait()

	assert.Equal(t, model.StatusError, o.Snapshot().Status)
	assert.Empty(t, searcher.queries)
}

func TestRetry(t *testing.T) {
	o := New(&fakeIntent{in: beijingIntent()}, &fakeSearcher{payload: okPayload()}, &fakeStructurer{}, Options{APIKey: testKey})

	_, err := o.Retry(context.Background())
	assert.ErrorIs(t, err, ErrNothingToRetry)

	ix := &fakeIntent{err: errors.New("boom")}
	o.intent = ix
	first, err := o.Run(context.Background(), "Divorce lawyer in Beijing")
	require.Error(t, err)
	require.NotEmpty(t, first.Telemetry.ErrorMessage)

	ix.err = nil
	ix.in = beijingIntent()
	runID, err := o.Retry(context.Background())
	require.NoError(t, err)
	o.Wait()

	snap := o.Snapshot()
	assert.NotEqual(t, first.RunID, runID)
	assert.Equal(t, "Divorce lawyer in Beijing", snap.Query)
	assert.Equal(t, model.StatusComplete, snap.Status)
	assert.Empty(t, snap.Telemetry.ErrorMessage)
	assert.Equal(t, 100, snap.Telemetry.ProgressPercent)
}

// cancellingStructurer cancels the run context mid-stream and still
// returns leads.
type cancellingStructurer struct {
	cancel context.CancelFunc
}

func (c *cancellingStructurer) Structure(_ context.Context, _ string, onProgress structure.ProgressFunc) ([]model.Lead, error) {
	onProgress(40, 20)
	c.cancel()
	return []model.Lead{{LawFirm: "Smith Law", Contact: "-", Phone: "-", Address: "-", SourceURL: "-"}}, nil
}

func TestRun_ContextCancelledDuringProcessing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := &fakeUsage{}
	rec := &fakeRecorder{}

	o := New(&fakeIntent{in: beijingIntent()}, &fakeSearcher{payload: okPayload()},
		&cancellingStructurer{cancel: cancel}, Options{APIKey: testKey, Usage: sink, Runs: rec})

	snap, err := o.Run(ctx, "Divorce lawyer in Beijing")
	require.Error(t, err)
	o.Wait()

	assert.True(t, model.IsKind(err, model.KindCancelled))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, model.StatusError, snap.Status)
	assert.Equal(t, "Run cancelled.", snap.Telemetry.ErrorMessage)
	assert.Empty(t, snap.Leads)

	sink.mu.Lock()
	assert.Zero(t, sink.queries)
	assert.Zero(t, sink.leads)
	sink.mu.Unlock()

	rec.mu.Lock()
	require.Len(t, rec.runs, 1)
	assert.Equal(t, model.StatusError, rec.runs[0].Status)
	rec.mu.Unlock()
}

func TestRetry_ResetsTelemetry(t *testing.T) {
	var mu sync.Mutex
	var seen []model.Snapshot
	onChange := func(s model.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s)
	}

	st := &fakeStructurer{err: model.NewStageError(model.KindStructuring, "open stream", errors.New("status 529 overloaded"))}
	o := New(&fakeIntent{in: beijingIntent()}, &fakeSearcher{payload: okPayload()}, st,
		Options{APIKey: testKey, StageDelay: 80 * time.Millisecond, TickInterval: 5 * time.Millisecond, OnChange: onChange})

	first, err := o.Run(context.Background(), "Divorce lawyer in Beijing")
	require.Error(t, err)
	require.Equal(t, model.StatusError, first.Status)
	require.Equal(t, 50, first.Telemetry.ProgressPercent)
	require.Positive(t, first.Telemetry.ElapsedSeconds)
	require.NotEmpty(t, first.Telemetry.ErrorMessage)
	require.NotNil(t, first.Intent)

	mu.Lock()
	mark := len(seen)
	mu.Unlock()

	st.err = nil
	runID, err := o.Retry(context.Background())
	require.NoError(t, err)
	o.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Greater(t, len(seen), mark)
	reset := seen[mark]
	assert.Equal(t, runID, reset.RunID)
	assert.Equal(t, model.StatusIdentifying, reset.Status)
	assert.Zero(t, reset.Telemetry.ElapsedSeconds)
	assert.Zero(t, reset.Telemetry.ProgressPercent)
	assert.Empty(t, reset.Telemetry.ErrorMessage)
	assert.Nil(t, reset.Intent)
	assert.Nil(t, reset.FinishedAt)
	assert.Empty(t, reset.Leads)
	assert.Empty(t, reset.Links)
	assert.Equal(t, "Divorce lawyer in Beijing", reset.Query)

	last := seen[len(seen)-1]
	assert.Equal(t, model.StatusComplete, last.Status)
	assert.Empty(t, last.Telemetry.ErrorMessage)
}

func TestSnapshotIsCopy(t *testing.T) {
	st := &fakeStructurer{leads: []model.Lead{{LawFirm: "A"}}}
	o := New(&fakeIntent{in: beijingIntent()}, &fakeSearcher{payload: okPayload()}, st, Options{APIKey: testKey})
	_, err := o.Run(context.Background(), "Divorce lawyer in Beijing")
	require.NoError(t, err)

	snap := o.Snapshot()
	snap.Leads[0].LawFirm = "changed"
	snap.Intent.Location = "changed"

	again := o.Snapshot()
	assert.Equal(t, "A", again.Leads[0].LawFirm)
	assert.Equal(t, "Beijing", again.Intent.Location)
}

func TestStageMessage(t *testing.T) {
	err := model.NewStageError(model.KindStructuring, "open stream", errors.New("status 529 overloaded."))
	assert.Equal(t, "Lead extraction failed (status 529 overloaded): check provider keys and configuration.",
		stageMessage("Lead extraction failed", err))

	assert.Equal(t, "Search failed. Check provider keys and configuration.", withAdvice("Search failed."))
	assert.Equal(t, 1.3, roundTenth(1.25))
}

func TestDetail_TruncatesOnRuneBoundary(t *testing.T) {
	msg := detail(model.NewStageError(model.KindStructuring, "open stream", errors.New(strings.Repeat("北京离婚律师", 50))))

	assert.True(t, utf8.ValidString(msg))
	assert.Equal(t, 201, utf8.RuneCountInString(msg))
	assert.True(t, strings.HasSuffix(msg, "…"))
}

func TestEndToEnd_DivorceLawyerInBeijing(t *testing.T) {
	client := anthropicmocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(&anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: "```json\n{\"event\":\"Divorce\",\"location\":\"Beijing\",\"contactPerson\":\"\",\"phone\":\"\"}\n```"}},
	}, nil).Once()
	client.On("StreamMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		if len(req.Messages) != 1 {
			return false
		}
		in := req.Messages[0].Content
		return strings.Contains(in, "1. Beijing Family Law Group") && strings.Contains(in, "2. Capital Divorce Counsel")
	})).Return(anthropicmocks.NewTextStream(
		`[{"lawFirm":"Beijing Family Law Group","contact":"Li Wei","phone":"+86 10 5555 0101",`,
		`"address":"Chaoyang District, Beijing","sourceUrl":"https://bflg.example"},`,
		`{"lawFirm":"Capital Divorce Counsel","phone":"+86 10 5555 0202"}]`,
	), nil).Once()

	serp := serpmocks.NewMockClient(t)
	serp.On("Search", mock.Anything, "Divorce lawyer in Beijing", serpapi.Params{}).Return(&serpapi.SearchResponse{
		LocalResults: serpapi.LocalResults{
			{Title: "Beijing Family Law Group", Phone: "+86 10 5555 0101", Address: "Chaoyang District, Beijing", Website: "https://bflg.example"},
			{Title: "Capital Divorce Counsel", Phone: "+86 10 5555 0202"},
		},
	}, nil).Once()

	sink := &fakeUsage{}
	o := New(
		intent.NewExtractor(client, nil, "claude-haiku-4-5-20251001", 0),
		search.NewSelector([]search.Strategy{search.NewSerpAPIStrategy(serp, nil, serpapi.Params{})}, ""),
		structure.New(client, nil, "claude-sonnet-4-5-20250929", config.StructureConfig{}),
		Options{APIKey: testKey, Usage: sink},
	)

	snap, err := o.Run(context.Background(), "Divorce lawyer in Beijing")
	require.NoError(t, err)
	o.Wait()

	require.Equal(t, model.StatusComplete, snap.Status)
	assert.Equal(t, "serpapi", snap.Strategy)
	assert.True(t, snap.Grounded)
	assert.Equal(t, []model.SearchResult{{Title: "Beijing Family Law Group", URL: "https://bflg.example"}}, snap.Links)
	require.Len(t, snap.Leads, 2)
	assert.Equal(t, "Li Wei", snap.Leads[0].Contact)
	assert.Equal(t, "-", snap.Leads[1].Contact)
	assert.Equal(t, 2, sink.leads)
	assert.Equal(t, 1, sink.queries)

	var buf bytes.Buffer
	require.NoError(t, export.WriteCSV(&buf, snap.Leads, nil))
	out := buf.String()
	require.True(t, strings.HasPrefix(out, "\xef\xbb\xbf"))
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, `Capital Divorce Counsel,-,+86 10 5555 0202,-,-`, lines[2])
}
