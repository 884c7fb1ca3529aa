package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy(retries int) RetryPolicy {
	return RetryPolicy{MaxRetries: retries, BaseDelay: 0.001, BackoffMultiplier: 1, MaxDelay: 0.001}
}

func serverErr() error {
	return &ServerError{ProviderError: ProviderError{SDKError: SDKError{Message: "server error"}, Retryable: true}}
}

func TestRetryPolicyDelay(t *testing.T) {
	policy := RetryPolicy{BaseDelay: 1.0, BackoffMultiplier: 2.0, MaxDelay: 60.0}
	for i, want := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second} {
		if got := policy.Delay(i); got != want {
			t.Errorf("attempt %d: expected %v, got %v", i, want, got)
		}
	}

	policy.MaxDelay = 5.0
	if got := policy.Delay(10); got != 5*time.Second {
		t.Errorf("expected capped delay of 5s, got %v", got)
	}
}

func TestRetryPolicyDelayWithJitter(t *testing.T) {
	policy := RetryPolicy{BaseDelay: 1.0, BackoffMultiplier: 2.0, MaxDelay: 60.0, Jitter: true}
	for i := 0; i < 100; i++ {
		got := policy.Delay(0)
		if got < 500*time.Millisecond || got > 1500*time.Millisecond {
			t.Fatalf("jittered delay out of range: %v", got)
		}
	}
}

func TestRetrySucceedsAfterTransientErrors(t *testing.T) {
	calls := 0
	var retries []int
	policy := fastPolicy(3)
	policy.OnRetry = func(err error, attempt int, delay time.Duration) { retries = append(retries, attempt) }

	result, err := Retry(context.Background(), policy, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", serverErr()
		}
		return "success", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "success" || calls != 3 {
		t.Errorf("expected success after 3 calls, got %q after %d", result, calls)
	}
	if len(retries) != 2 {
		t.Errorf("expected 2 retry callbacks, got %v", retries)
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastPolicy(3), func(ctx context.Context) (int, error) {
		calls++
		return 0, &AuthenticationError{ProviderError: ProviderError{SDKError: SDKError{Message: "bad key"}}}
	})
	if err == nil || calls != 1 {
		t.Errorf("expected a single call and an error, got %d calls, err=%v", calls, err)
	}
}

func TestRetryExhausted(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastPolicy(2), func(ctx context.Context) (int, error) {
		calls++
		return 0, serverErr()
	})
	var se *ServerError
	if !errors.As(err, &se) {
		t.Fatalf("expected ServerError, got %T", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryHonoursRetryAfterCeiling(t *testing.T) {
	after := 120.0
	calls := 0
	_, err := Retry(context.Background(), fastPolicy(3), func(ctx context.Context) (int, error) {
		calls++
		return 0, &RateLimitError{ProviderError: ProviderError{SDKError: SDKError{Message: "slow down"}, Retryable: true, RetryAfter: &after}}
	})
	if err == nil || calls != 1 {
		t.Errorf("expected immediate failure when Retry-After exceeds max delay, got %d calls", calls)
	}
}

func TestRetryCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	policy := RetryPolicy{MaxRetries: 3, BaseDelay: 10, BackoffMultiplier: 1, MaxDelay: 10}
	_, err := Retry(ctx, policy, func(ctx context.Context) (int, error) {
		return 0, serverErr()
	})
	var ae *AbortError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AbortError, got %T", err)
	}
}

func TestRetryMiddleware(t *testing.T) {
	mock := newMockAdapter("p", "ok")
	mock.errs = []error{serverErr(), serverErr()}
	client := NewClient(WithProvider(mock), WithMiddleware(RetryMiddleware(fastPolicy(2))))

	resp, err := client.Complete(context.Background(), Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "ok" || len(mock.requests) != 3 {
		t.Errorf("expected success on third call, got %q after %d", resp.Text(), len(mock.requests))
	}
}

func TestTimeoutMiddleware(t *testing.T) {
	slow := func(ctx context.Context, req Request) (*Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	_, err := TimeoutMiddleware(10*time.Millisecond)(context.Background(), Request{}, slow)
	var rt *RequestTimeoutError
	if !errors.As(err, &rt) {
		t.Fatalf("expected RequestTimeoutError, got %T: %v", err, err)
	}
	if !IsRetryable(err) {
		t.Error("expected timeout to be retryable")
	}

	fast := func(ctx context.Context, req Request) (*Response, error) {
		if _, ok := ctx.Deadline(); ok {
			t.Error("expected no deadline when timeout is zero")
		}
		return &Response{ID: "ok"}, nil
	}
	resp, err := TimeoutMiddleware(0)(context.Background(), Request{}, fast)
	if err != nil || resp.ID != "ok" {
		t.Fatalf("unexpected result %v, %v", resp, err)
	}
}
