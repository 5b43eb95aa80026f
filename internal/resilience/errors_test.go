package resilience

import (
	"errors"
	"fmt"
	"testing"

	"github.com/rotisserie/eris"
)

func TestIsRateLimited(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"status 429", NewProviderError("serpapi", 429, errors.New("slow down")), true},
		{"wrapped status 429", eris.Wrap(NewProviderError("anthropic", 429, errors.New("x")), "intent"), true},
		{"text 429", errors.New("perplexity: unexpected status 429: {}"), true},
		{"resource exhausted", errors.New("Resource Exhausted"), true},
		{"quota", errors.New("quota exceeded for this project"), true},
		{"rate_limit_error", errors.New(`{"type":"rate_limit_error"}`), true},
		{"bad request", NewProviderError("anthropic", 400, errors.New("invalid")), false},
		{"plain", errors.New("invalid input: missing field"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRateLimited(tt.err); got != tt.want {
				t.Errorf("IsRateLimited(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsOverloaded(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"status 503", NewProviderError("google", 503, errors.New("down")), true},
		{"status 529", NewProviderError("anthropic", 529, errors.New("busy")), true},
		{"text overloaded", errors.New("overloaded_error: Overloaded"), true},
		{"text 503", fmt.Errorf("call: %w", errors.New("503 Service Unavailable")), true},
		{"status 500", NewProviderError("serpapi", 500, errors.New("boom")), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsOverloaded(tt.err); got != tt.want {
				t.Errorf("IsOverloaded(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(errors.New("429")) {
		t.Error("rate limit should be retryable")
	}
	if !IsRetryable(errors.New("overloaded")) {
		t.Error("overload should be retryable")
	}
	if IsRetryable(errors.New("unauthorized")) {
		t.Error("auth failure should not be retryable")
	}
}

func TestStatusCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewProviderError("serpapi", 401, errors.New("bad key")))
	if got := StatusCode(err); got != 401 {
		t.Errorf("expected 401, got %d", got)
	}
	if got := StatusCode(errors.New("plain")); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}
}

func TestRetryReason(t *testing.T) {
	if got := RetryReason(errors.New("429")); got != "rate_limited" {
		t.Errorf("got %q", got)
	}
	if got := RetryReason(errors.New("overloaded")); got != "overloaded" {
		t.Errorf("got %q", got)
	}
	if got := RetryReason(errors.New("nope")); got != "other" {
		t.Errorf("got %q", got)
	}
}

func TestProviderError_Unwrap(t *testing.T) {
	inner := errors.New("inner")
	pe := NewProviderError("anthropic", 429, inner)
	if !errors.Is(pe, inner) {
		t.Error("expected Unwrap to expose inner error")
	}
	if pe.Error() != "inner" {
		t.Errorf("unexpected message %q", pe.Error())
	}
}
