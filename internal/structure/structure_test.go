package structure

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lexleads/internal/config"
	"github.com/sells-group/lexleads/internal/model"
	"github.com/sells-group/lexleads/pkg/anthropic"
	anthropicmocks "github.com/sells-group/lexleads/pkg/anthropic/mocks"
)

func newTestStructurer(client anthropic.Client, cfg config.StructureConfig) *Structurer {
	return New(client, nil, "claude-sonnet-4-5-20250929", cfg)
}

func TestStructure_SplitChunks(t *testing.T) {
	client := anthropicmocks.NewMockClient(t)
	stream := anthropicmocks.NewTextStream(`[{"lawFirm":"A","con`, `tact":"B"}]`)
	client.On("StreamMessage", mock.Anything, mock.Anything).Return(stream, nil)

	var progress [][2]int
	leads, err := newTestStructurer(client, config.StructureConfig{ExpectedResponseChars: 10}).
		Structure(context.Background(), "search text", func(received, percent int) {
			progress = append(progress, [2]int{received, percent})
		})
	require.NoError(t, err)

	require.Len(t, leads, 1)
	assert.Equal(t, model.Lead{LawFirm: "A", Contact: "B", Phone: "-", Address: "-", SourceURL: "-"}, leads[0])
	assert.True(t, stream.Closed)

	require.Len(t, progress, 2)
	assert.Equal(t, 20, progress[0][0])
	assert.Equal(t, 31, progress[1][0])
	assert.Equal(t, 99, progress[1][1])
}

func TestStructure_RequestShape(t *testing.T) {
	client := anthropicmocks.NewMockClient(t)
	long := strings.Repeat("界", 50)

	client.On("StreamMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		content := req.Messages[0].Content
		return req.Model == "claude-sonnet-4-5-20250929" &&
			req.MaxTokens == defaultMaxTokens &&
			len(req.System) == 1 && req.System[0].CacheControl != nil &&
			strings.HasSuffix(content, strings.Repeat("界", 10)) &&
			!strings.HasSuffix(content, strings.Repeat("界", 11))
	})).Return(anthropicmocks.NewTextStream("[]"), nil)

	leads, err := newTestStructurer(client, config.StructureConfig{MaxInputChars: 10}).
		Structure(context.Background(), long, nil)
	require.NoError(t, err)
	assert.Empty(t, leads)
}

func TestStructure_PartialStreamIsDecoded(t *testing.T) {
	client := anthropicmocks.NewMockClient(t)
	stream := anthropicmocks.NewTextStream(`[{"lawFirm":"A","phone":"1"},`, `{"lawFirm":"B"`)
	stream.FinalErr = errors.New("connection reset")
	client.On("StreamMessage", mock.Anything, mock.Anything).Return(stream, nil)

	leads, err := newTestStructurer(client, config.StructureConfig{}).Structure(context.Background(), "text", nil)
	require.NoError(t, err)
	require.Len(t, leads, 2)
	assert.Equal(t, "A", leads[0].LawFirm)
	assert.Equal(t, "B", leads[1].LawFirm)
}

func TestStructure_OpenFailure(t *testing.T) {
	client := anthropicmocks.NewMockClient(t)
	client.On("StreamMessage", mock.Anything, mock.Anything).
		Return(nil, &anthropic.APIError{StatusCode: 400, Err: errors.New("bad request")})

	_, err := newTestStructurer(client, config.StructureConfig{}).Structure(context.Background(), "text", nil)
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.KindStructuring))
}

func TestStructure_UnparsableCompletesEmpty(t *testing.T) {
	client := anthropicmocks.NewMockClient(t)
	client.On("StreamMessage", mock.Anything, mock.Anything).
		Return(anthropicmocks.NewTextStream("I found no law firms."), nil)

	leads, err := newTestStructurer(client, config.StructureConfig{}).Structure(context.Background(), "text", nil)
	require.NoError(t, err)
	assert.Empty(t, leads)
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 0, Percent(0, 4000))
	assert.Equal(t, 25, Percent(1000, 4000))
	assert.Equal(t, 99, Percent(4000, 4000))
	assert.Equal(t, 99, Percent(9000, 4000))
	assert.Equal(t, 0, Percent(10, 0))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab", Truncate("abc", 2))
	assert.Equal(t, "北京", Truncate("北京市", 2))
	assert.Equal(t, "abc", Truncate("abc", 0))
}
