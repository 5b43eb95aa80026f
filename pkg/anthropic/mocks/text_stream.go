package mocks

import anthropic "github.com/sells-group/lexleads/pkg/anthropic"

// TextStream replays fixed chunks, then reports Err.
type TextStream struct {
	Chunks   []string
	FinalErr error
	TokenUse anthropic.TokenUsage
	Closed   bool

	idx int
	cur string
}

// NewTextStream returns a stream that yields chunks in order.
func NewTextStream(chunks ...string) *TextStream {
	return &TextStream{Chunks: chunks}
}

func (s *TextStream) Next() bool {
	if s.idx >= len(s.Chunks) {
		return false
	}
	s.cur = s.Chunks[s.idx]
	s.idx++
	return true
}

func (s *TextStream) Text() string { return s.cur }

func (s *TextStream) Usage() anthropic.TokenUsage { return s.TokenUse }

func (s *TextStream) Err() error {
	if s.idx < len(s.Chunks) {
		return nil
	}
	return s.FinalErr
}

func (s *TextStream) Close() error {
	s.Closed = true
	return nil
}
