package llm

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy configures exponential backoff for transient provider errors.
type RetryPolicy struct {
	MaxRetries        int     // attempts after the first
	BaseDelay         float64 // seconds
	MaxDelay          float64 // seconds
	BackoffMultiplier float64
	Jitter            bool
	OnRetry           func(err error, attempt int, delay time.Duration)
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        2,
		BaseDelay:         1.0,
		MaxDelay:          60.0,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// Delay returns the wait before retry attempt n (0-indexed).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	delay := math.Min(p.BaseDelay*math.Pow(p.BackoffMultiplier, float64(attempt)), p.MaxDelay)
	if p.Jitter {
		delay *= 0.5 + rand.Float64()
	}
	return time.Duration(delay * float64(time.Second))
}

// Retry runs fn until it succeeds, returns a non-retryable error, or the
// policy is exhausted.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	result, err := fn(ctx)
	if err == nil {
		return result, nil
	}

	for attempt := 0; attempt < policy.MaxRetries; attempt++ {
		if !IsRetryable(err) {
			return zero, err
		}

		delay := policy.Delay(attempt)
		var rl *RateLimitError
		if errors.As(err, &rl) && rl.RetryAfter != nil {
			retryAfter := time.Duration(*rl.RetryAfter * float64(time.Second))
			if retryAfter > time.Duration(policy.MaxDelay*float64(time.Second)) {
				return zero, err
			}
			delay = retryAfter
		}

		if policy.OnRetry != nil {
			policy.OnRetry(err, attempt+1, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, &AbortError{SDKError: SDKError{Message: "request cancelled during retry", Cause: ctx.Err()}}
		case <-timer.C:
		}

		result, err = fn(ctx)
		if err == nil {
			return result, nil
		}
	}
	return zero, err
}

// RetryMiddleware retries every completion under policy.
func RetryMiddleware(policy RetryPolicy) Middleware {
	return func(ctx context.Context, req Request, next CompleteFunc) (*Response, error) {
		return Retry(ctx, policy, func(ctx context.Context) (*Response, error) {
			return next(ctx, req)
		})
	}
}

// TimeoutMiddleware bounds each attempt to d. Zero disables it.
func TimeoutMiddleware(d time.Duration) Middleware {
	return func(ctx context.Context, req Request, next CompleteFunc) (*Response, error) {
		if d <= 0 {
			return next(ctx, req)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		resp, err := next(ctx, req)
		if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
			return nil, &RequestTimeoutError{SDKError: SDKError{Message: "request timed out", Cause: err}}
		}
		return resp, err
	}
}
