package resilience

import (
	"errors"
	"net/http"
	"strings"
)

// ProviderError is a failed provider call that carries the HTTP status the
// provider answered with.
type ProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	return e.Err.Error()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the provider's HTTP status code.
func (e *ProviderError) HTTPStatus() int {
	return e.StatusCode
}

// NewProviderError wraps err with the provider name and HTTP status code.
func NewProviderError(provider string, statusCode int, err error) *ProviderError {
	return &ProviderError{Provider: provider, StatusCode: statusCode, Err: err}
}

// statusCoder is implemented by the API error types of the provider clients.
type statusCoder interface {
	HTTPStatus() int
}

// StatusCode returns the HTTP status carried by err, or 0 if none.
func StatusCode(err error) int {
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatus()
	}
	return 0
}

var rateLimitMarkers = []string{
	"429",
	"resource exhausted",
	"resource_exhausted",
	"quota exceeded",
	"exceeded your current quota",
	"rate limit",
	"rate_limit",
	"too many requests",
}

var overloadMarkers = []string{
	"503",
	"529",
	"overloaded",
	"service unavailable",
}

// IsRateLimited reports whether err signals a rate limit or exhausted quota,
// either by status code or by the provider's error text.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if StatusCode(err) == http.StatusTooManyRequests {
		return true
	}
	return containsAny(err.Error(), rateLimitMarkers)
}

// IsOverloaded reports whether err signals a temporarily overloaded provider.
func IsOverloaded(err error) bool {
	if err == nil {
		return false
	}
	switch StatusCode(err) {
	case http.StatusServiceUnavailable, 529:
		return true
	}
	return containsAny(err.Error(), overloadMarkers)
}

// IsRetryable reports whether the invoker should retry err. Only rate-limit
// and overload signals qualify; everything else is returned to the caller.
func IsRetryable(err error) bool {
	return IsRateLimited(err) || IsOverloaded(err)
}

// RetryReason labels a retryable error for logs and metrics.
func RetryReason(err error) string {
	switch {
	case IsRateLimited(err):
		return "rate_limited"
	case IsOverloaded(err):
		return "overloaded"
	default:
		return "other"
	}
}

func containsAny(msg string, markers []string) bool {
	msg = strings.ToLower(msg)
	for _, m := range markers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
