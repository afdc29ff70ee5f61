package errors

import (
	"context"
	"errors"
	"time"
)

// Policy governs a single outbound call (an LLM request or a tool call):
// each attempt gets Timeout, and transient failures are retried per Retry.
// The zero Policy makes one attempt with no timeout.
type Policy struct {
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	Retry   RetryConfig   `json:"retry" yaml:"retry" mapstructure:"retry"`
}

// Do runs fn under the policy. An attempt whose own deadline elapsed while
// ctx is still live fails with *TimeoutError naming op. The returned error
// is the last attempt's error, not the retry wrapper.
func Do[T any](ctx context.Context, p Policy, op string, fn func(context.Context) (T, error)) (T, int, error) {
	res := WithRetryContext(ctx, p.Retry, func(ctx context.Context) (T, error) {
		return attempt(ctx, p.Timeout, op, fn)
	})
	if res.Err == nil {
		return res.Value, res.Attempts, nil
	}
	var cat *CategorizedError
	if errors.As(res.Err, &cat) && cat.Err != nil {
		return res.Value, res.Attempts, cat.Err
	}
	return res.Value, res.Attempts, res.Err
}

func attempt[T any](ctx context.Context, timeout time.Duration, op string, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	v, err := fn(callCtx)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		var zero T
		return zero, &TimeoutError{Operation: op, Duration: timeout}
	}
	return v, err
}
