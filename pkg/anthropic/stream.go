package anthropic

import (
	"context"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

// StreamMessage opens a streaming request. The first event is read before
// returning so that connection and HTTP errors surface here rather than on
// the first Next call.
func (c *sdkClient) StreamMessage(ctx context.Context, req MessageRequest) (TextStream, error) {
	stream := c.client.Messages.NewStreaming(ctx, toSDKParams(req))
	it := &sdkTextStream{stream: stream}
	if !stream.Next() {
		if err := stream.Err(); err != nil {
			stream.Close() //nolint:errcheck
			return nil, wrapErr(err, "anthropic: open stream")
		}
		it.done = true
		return it, nil
	}
	it.pending = true
	return it, nil
}

// sdkTextStream adapts the SDK's SSE stream to TextStream, skipping events
// that carry no text.
type sdkTextStream struct {
	stream  *ssestream.Stream[sdk.MessageStreamEventUnion]
	acc     sdk.Message
	text    string
	pending bool
	done    bool
	err     error
}

func (s *sdkTextStream) Next() bool {
	if s.done {
		return false
	}
	for {
		if s.pending {
			s.pending = false
		} else if !s.stream.Next() {
			s.done = true
			if err := s.stream.Err(); err != nil {
				s.err = wrapErr(err, "anthropic: read stream")
			}
			return false
		}

		event := s.stream.Current()
		if err := s.acc.Accumulate(event); err != nil {
			s.done = true
			s.err = wrapErr(err, "anthropic: accumulate stream")
			return false
		}
		if event.Type == "content_block_delta" && event.Delta.Type == "text_delta" && event.Delta.Text != "" {
			s.text = event.Delta.Text
			return true
		}
	}
}

func (s *sdkTextStream) Text() string { return s.text }

func (s *sdkTextStream) Usage() TokenUsage { return fromSDKUsage(s.acc.Usage) }

func (s *sdkTextStream) Err() error { return s.err }

func (s *sdkTextStream) Close() error { return s.stream.Close() }
