package salesforce

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// mockClient implements Client for testing.
type mockClient struct {
	queryFn            func(ctx context.Context, soql string, out any) error
	insertOneFn        func(ctx context.Context, sObjectName string, record map[string]any) (string, error)
	insertCollectionFn func(ctx context.Context, sObjectName string, records []map[string]any) ([]CollectionResult, error)
}

func (m *mockClient) Query(ctx context.Context, soql string, out any) error {
	if m.queryFn != nil {
		return m.queryFn(ctx, soql, out)
	}
	return nil
}

func (m *mockClient) InsertOne(ctx context.Context, sObjectName string, record map[string]any) (string, error) {
	if m.insertOneFn != nil {
		return m.insertOneFn(ctx, sObjectName, record)
	}
	return "00Q000000000001", nil
}

func (m *mockClient) InsertCollection(ctx context.Context, sObjectName string, records []map[string]any) ([]CollectionResult, error) {
	if m.insertCollectionFn != nil {
		return m.insertCollectionFn(ctx, sObjectName, records)
	}
	results := make([]CollectionResult, len(records))
	for i := range records {
		results[i] = CollectionResult{ID: "00Q" + string(rune('A'+i%26)), Success: true}
	}
	return results, nil
}

func TestMockClientImplementsInterface(t *testing.T) {
	t.Parallel()
	var _ Client = (*mockClient)(nil)
}

func TestNewClientReturnsClient(t *testing.T) {
	var _ Client = (*sfClient)(nil)

	client := NewClient(nil)
	require.NotNil(t, client)
}

func TestDial_Validation(t *testing.T) {
	_, err := Dial(Creds{PrivateKey: "pem"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client id is required")

	_, err = Dial(Creds{ClientID: "abc"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "private key is required")
}

func TestWithRateLimit(t *testing.T) {
	t.Run("sets limiter", func(t *testing.T) {
		c := NewClient(nil, WithRateLimit(10)).(*sfClient)
		require.NotNil(t, c.limiter)
		assert.Equal(t, rate.Limit(10), c.limiter.Limit())
		assert.Equal(t, 10, c.limiter.Burst())
	})

	t.Run("zero rate skips limiter", func(t *testing.T) {
		c := NewClient(nil, WithRateLimit(0)).(*sfClient)
		assert.Nil(t, c.limiter)
	})

	t.Run("fractional rate gets burst of 1", func(t *testing.T) {
		c := NewClient(nil, WithRateLimit(0.5)).(*sfClient)
		require.NotNil(t, c.limiter)
		assert.Equal(t, 1, c.limiter.Burst())
	})
}

func TestRateLimiter_CancelledContext(t *testing.T) {
	c := &sfClient{
		limiter: rate.NewLimiter(rate.Every(time.Hour), 0),
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, c.wait(ctx))
}

func TestLeadRecord(t *testing.T) {
	rec := Lead{Company: "Smith Law", LastName: "Smith", Phone: "010-1234"}.Record()
	assert.Equal(t, map[string]any{
		"Company":  "Smith Law",
		"LastName": "Smith",
		"Phone":    "010-1234",
	}, rec)
}

func TestFindLeadByCompany(t *testing.T) {
	var gotSOQL string
	mc := &mockClient{queryFn: func(_ context.Context, soql string, out any) error {
		gotSOQL = soql
		*(out.(*[]Lead)) = []Lead{{ID: "00Qxx", Company: "O'Brien Law"}}
		return nil
	}}

	lead, err := FindLeadByCompany(context.Background(), mc, "O'Brien Law")
	require.NoError(t, err)
	require.NotNil(t, lead)
	assert.Equal(t, "00Qxx", lead.ID)
	assert.Contains(t, gotSOQL, `Company = 'O\'Brien Law'`)
}

func TestFindLeadByCompany_NotFound(t *testing.T) {
	lead, err := FindLeadByCompany(context.Background(), &mockClient{}, "Nobody")
	require.NoError(t, err)
	assert.Nil(t, lead)
}

func TestFindLeadByCompany_Error(t *testing.T) {
	mc := &mockClient{queryFn: func(context.Context, string, any) error { return errors.New("timeout") }}
	_, err := FindLeadByCompany(context.Background(), mc, "X")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "find lead by company")
}

func TestInsertLeads_Batches(t *testing.T) {
	var batches []int
	mc := &mockClient{insertCollectionFn: func(_ context.Context, obj string, records []map[string]any) ([]CollectionResult, error) {
		assert.Equal(t, "Lead", obj)
		batches = append(batches, len(records))
		out := make([]CollectionResult, len(records))
		for i := range out {
			out[i] = CollectionResult{Success: true}
		}
		return out, nil
	}}

	leads := make([]Lead, 450)
	for i := range leads {
		leads[i] = Lead{Company: "Firm", LastName: "Unknown"}
	}

	results, err := InsertLeads(context.Background(), mc, leads)
	require.NoError(t, err)
	assert.Len(t, results, 450)
	assert.Equal(t, []int{200, 200, 50}, batches)
}

func TestInsertLeads_Empty(t *testing.T) {
	results, err := InsertLeads(context.Background(), &mockClient{}, nil)
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestInsertLeads_BatchError(t *testing.T) {
	calls := 0
	mc := &mockClient{insertCollectionFn: func(_ context.Context, _ string, records []map[string]any) ([]CollectionResult, error) {
		calls++
		if calls == 2 {
			return nil, errors.New("limit exceeded")
		}
		return make([]CollectionResult, len(records)), nil
	}}

	results, err := InsertLeads(context.Background(), mc, make([]Lead, 250))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch 200-250")
	assert.Len(t, results, 200)
}
