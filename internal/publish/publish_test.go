package publish

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lexleads/internal/model"
	"github.com/sells-group/lexleads/pkg/salesforce"
)

type mockSF struct {
	mock.Mock
}

func (m *mockSF) Query(ctx context.Context, soql string, out any) error {
	args := m.Called(ctx, soql, out)
	return args.Error(0)
}

func (m *mockSF) InsertOne(ctx context.Context, obj string, rec map[string]any) (string, error) {
	args := m.Called(ctx, obj, rec)
	return args.String(0), args.Error(1)
}

func (m *mockSF) InsertCollection(ctx context.Context, obj string, recs []map[string]any) ([]salesforce.CollectionResult, error) {
	args := m.Called(ctx, obj, recs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]salesforce.CollectionResult), args.Error(1)
}

type mockNotion struct {
	mock.Mock
}

func (m *mockNotion) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	args := m.Called(ctx, dbID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.DatabaseQueryResponse), args.Error(1)
}

func (m *mockNotion) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Page), args.Error(1)
}

type stubPublisher struct {
	name string
	n    int
	err  error
}

func (s stubPublisher) Name() string { return s.name }

func (s stubPublisher) Publish(context.Context, string, []model.Lead) (int, error) {
	return s.n, s.err
}

func sampleLeads() []model.Lead {
	return []model.Lead{
		{LawFirm: "Smith Law", Contact: "Jane Smith", Phone: "010-1234", Address: "-", SourceURL: "https://smith.example"},
		{LawFirm: "-", Contact: "Nobody", Phone: "-", Address: "-", SourceURL: "-"},
		{LawFirm: "Beijing Family Law", Contact: "-", Phone: "-", Address: "Chaoyang", SourceURL: "-"},
		{LawFirm: "smith law", Contact: "-", Phone: "-", Address: "-", SourceURL: "-"},
	}
}

func TestParseTargets(t *testing.T) {
	assert.Equal(t, []string{"salesforce", "notion"}, ParseTargets(" Salesforce, notion ,salesforce,,"))
	assert.Nil(t, ParseTargets(""))
}

func TestAll_CollectsEveryResult(t *testing.T) {
	pubs := []Publisher{
		stubPublisher{name: "salesforce", n: 2},
		stubPublisher{name: "notion", err: errors.New("unauthorized")},
	}

	results, err := All(context.Background(), pubs, "q", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish to notion")
	require.Len(t, results, 2)
	assert.Equal(t, Result{Target: "salesforce", Created: 2}, results[0])
	assert.Equal(t, "notion", results[1].Target)
	assert.Equal(t, "unauthorized", results[1].Error)
}

// gatedPublisher waits for gate before checking its context.
type gatedPublisher struct {
	name string
	gate <-chan struct{}
}

func (g gatedPublisher) Name() string { return g.name }

func (g gatedPublisher) Publish(ctx context.Context, _ string, leads []model.Lead) (int, error) {
	<-g.gate
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return len(leads), nil
}

type closingPublisher struct {
	gate chan struct{}
	err  error
}

func (c closingPublisher) Name() string { return "salesforce" }

func (c closingPublisher) Publish(context.Context, string, []model.Lead) (int, error) {
	defer close(c.gate)
	return 0, c.err
}

func TestAll_FailureDoesNotCancelOthers(t *testing.T) {
	gate := make(chan struct{})
	pubs := []Publisher{
		closingPublisher{gate: gate, err: errors.New("session expired")},
		gatedPublisher{name: "notion", gate: gate},
	}

	results, err := All(context.Background(), pubs, "q", sampleLeads())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish to salesforce")
	assert.Contains(t, err.Error(), "session expired")
	require.Len(t, results, 2)
	assert.Equal(t, "session expired", results[0].Error)
	assert.Equal(t, Result{Target: "notion", Created: 4}, results[1])
}

func TestAll_NoErrors(t *testing.T) {
	results, err := All(context.Background(), []Publisher{
		stubPublisher{name: "salesforce", n: 1},
		stubPublisher{name: "notion", n: 3},
	}, "q", nil)
	require.NoError(t, err)
	assert.Equal(t, []Result{{Target: "salesforce", Created: 1}, {Target: "notion", Created: 3}}, results)
}

func TestSalesforce_Publish(t *testing.T) {
	sf := new(mockSF)
	ctx := context.Background()

	sf.On("Query", ctx, mock.MatchedBy(func(soql string) bool {
		return soql != "" && !strings.Contains(soql, "Beijing Family Law")
	}), mock.Anything).Return(nil).Once()
	sf.On("Query", ctx, mock.MatchedBy(func(soql string) bool {
		return strings.Contains(soql, "Beijing Family Law")
	}), mock.Anything).Run(func(args mock.Arguments) {
		*(args.Get(2).(*[]salesforce.Lead)) = []salesforce.Lead{{ID: "00Qold"}}
	}).Return(nil).Once()

	var sent []map[string]any
	sf.On("InsertCollection", ctx, "Lead", mock.Anything).Run(func(args mock.Arguments) {
		sent = args.Get(2).([]map[string]any)
	}).Return([]salesforce.CollectionResult{{ID: "00Qnew", Success: true}}, nil).Once()

	created, err := NewSalesforce(sf, "Lead Discovery Agent").Publish(ctx, "Divorce lawyer in Beijing", sampleLeads())
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	require.Len(t, sent, 1)
	assert.Equal(t, "Smith Law", sent[0]["Company"])
	assert.Equal(t, "Jane", sent[0]["FirstName"])
	assert.Equal(t, "Smith", sent[0]["LastName"])
	assert.Equal(t, "Lead Discovery Agent", sent[0]["LeadSource"])
	_, hasStreet := sent[0]["Street"]
	assert.False(t, hasStreet)
	sf.AssertExpectations(t)
}

func TestSalesforce_PublishRejected(t *testing.T) {
	sf := new(mockSF)
	ctx := context.Background()

	sf.On("Query", ctx, mock.Anything, mock.Anything).Return(nil)
	sf.On("InsertCollection", ctx, "Lead", mock.Anything).Return([]salesforce.CollectionResult{
		{ID: "00Q1", Success: true},
		{Success: false, Errors: []string{"duplicate"}},
	}, nil).Once()

	created, err := NewSalesforce(sf, "").Publish(ctx, "q", sampleLeads()[:3])
	require.Error(t, err)
	assert.Equal(t, 1, created)
	assert.Contains(t, err.Error(), "1 of 2 leads rejected")
}

func TestSalesforce_QueryError(t *testing.T) {
	sf := new(mockSF)
	sf.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("session expired")).Once()

	_, err := NewSalesforce(sf, "").Publish(context.Background(), "q", sampleLeads())
	require.Error(t, err)
	sf.AssertNotCalled(t, "InsertCollection", mock.Anything, mock.Anything, mock.Anything)
}

func TestSalesforce_UnknownContact(t *testing.T) {
	s := NewSalesforce(nil, "src")
	rec, ok := s.toRecord("q", model.Lead{LawFirm: "Firm", Contact: "-", Phone: "-", Address: "-", SourceURL: "-"})
	require.True(t, ok)
	assert.Equal(t, unknownLastName, rec.LastName)
	assert.Empty(t, rec.FirstName)
	assert.Empty(t, rec.Phone)

	_, ok = s.toRecord("q", model.Lead{LawFirm: "-"})
	assert.False(t, ok)
}

func TestSplitName(t *testing.T) {
	first, last := splitName("Mary Ann Lee")
	assert.Equal(t, "Mary Ann", first)
	assert.Equal(t, "Lee", last)

	first, last = splitName("Li")
	assert.Empty(t, first)
	assert.Equal(t, "Li", last)
}

func TestNotion_Publish(t *testing.T) {
	nc := new(mockNotion)
	ctx := context.Background()

	nc.On("QueryDatabase", ctx, "db-leads", mock.Anything).Return(&notionapi.DatabaseQueryResponse{}, nil).Once()
	nc.On("CreatePage", ctx, mock.Anything).Return(&notionapi.Page{ID: "p"}, nil).Twice()

	created, err := NewNotion(nc, "db-leads").Publish(ctx, "Divorce lawyer in Beijing", sampleLeads())
	require.NoError(t, err)
	assert.Equal(t, 2, created)
	nc.AssertExpectations(t)
}
