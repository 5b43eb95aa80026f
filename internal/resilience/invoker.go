package resilience

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/lexleads/internal/metrics"
)

// Invoker runs provider calls under the retry policy, an optional
// per-provider rate limiter and an optional per-provider circuit breaker.
// It is safe for concurrent use.
type Invoker struct {
	retry    RetryConfig
	limiters map[string]*rate.Limiter
	breakers *ServiceBreakers
}

// InvokerOption configures an Invoker.
type InvokerOption func(*Invoker)

// WithLimiter paces every attempt against provider through l.
func WithLimiter(provider string, l *rate.Limiter) InvokerOption {
	return func(i *Invoker) { i.limiters[provider] = l }
}

// WithBreakers guards each provider with a circuit breaker from sb.
func WithBreakers(sb *ServiceBreakers) InvokerOption {
	return func(i *Invoker) { i.breakers = sb }
}

// NewInvoker creates an Invoker using cfg as the retry policy.
func NewInvoker(cfg RetryConfig, opts ...InvokerOption) *Invoker {
	inv := &Invoker{retry: cfg, limiters: make(map[string]*rate.Limiter)}
	for _, o := range opts {
		o(inv)
	}
	return inv
}

// Do runs fn with retries. op names the call in logs.
func (i *Invoker) Do(ctx context.Context, provider, op string, fn func(ctx context.Context) error) error {
	_, err := Invoke(ctx, i, provider, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Breakers returns the breaker registry, or nil when none is configured.
func (i *Invoker) Breakers() *ServiceBreakers {
	return i.breakers
}

// Invoke runs fn through inv and returns its value. A nil inv calls fn once.
func Invoke[T any](ctx context.Context, inv *Invoker, provider, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	if inv == nil {
		return fn(ctx)
	}

	cfg := inv.retry
	logRetry := RetryLogger(provider, op)
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		metrics.ProviderRetries.WithLabelValues(provider, RetryReason(err)).Inc()
		logRetry(attempt, err, delay)
	}

	attempt := func(ctx context.Context) (T, error) {
		var zero T
		if l, ok := inv.limiters[provider]; ok {
			if err := l.Wait(ctx); err != nil {
				return zero, eris.Wrapf(err, "%s: rate limiter wait", provider)
			}
		}
		if inv.breakers != nil {
			return ExecuteVal(ctx, inv.breakers.Get(provider), fn)
		}
		return fn(ctx)
	}

	val, err := DoVal(ctx, cfg, attempt)
	if err != nil && IsRetryable(err) {
		zap.L().Warn("provider retries exhausted",
			zap.String("provider", provider),
			zap.String("operation", op),
			zap.Error(err),
		)
	}
	return val, err
}
