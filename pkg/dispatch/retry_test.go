package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/unifiedai/airelay/pkg/provider"
)

func TestRetryConfigDelayGrowsExponentially(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, InitialDelay: time.Second, BackoffFactor: 2}

	testCases := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
	}
	for _, tc := range testCases {
		if got := cfg.delay(tc.attempt); got != tc.expected {
			t.Errorf("delay(%d) = %v, expected %v", tc.attempt, got, tc.expected)
		}
	}
}

func TestRetryConfigDelayDefaultsFactor(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 500 * time.Millisecond}
	if got := cfg.delay(1); got != time.Second {
		t.Errorf("delay(1) with zero factor = %v, expected 1s", got)
	}
}

func TestRetryableErrorExhaustsBudget(t *testing.T) {
	h := newHarness()
	h.main.generate = failWith(&provider.APIError{Status: 429, Message: "too many requests"})

	cfg := DefaultRetryConfig()
	_, err := h.svc.invokeWithRetry(context.Background(), h.svc.log, h.main, kindGenerateText, provider.CallParams{}, cfg)
	if err == nil {
		t.Fatal("expected error after retries exhausted")
	}

	if got := h.main.callCount(); got != 3 {
		t.Errorf("provider invoked %d times, expected 3", got)
	}

	expectedDelays := []time.Duration{time.Second, 2 * time.Second}
	if len(h.sleeps) != len(expectedDelays) {
		t.Fatalf("got %d sleeps, expected %d: %v", len(h.sleeps), len(expectedDelays), h.sleeps)
	}
	for i, d := range expectedDelays {
		if h.sleeps[i] != d {
			t.Errorf("sleep %d = %v, expected %v", i+1, h.sleeps[i], d)
		}
	}

	var cerr *ClassifiedError
	if !errors.As(err, &cerr) || cerr.Kind != ErrorKindRetryable {
		t.Errorf("final error should be the classified retryable error, got %v", err)
	}
}

func TestRetrySucceedsMidBudget(t *testing.T) {
	h := newHarness()

	attempts := 0
	h.main.generate = func(provider.CallParams) (*provider.Result, error) {
		attempts++
		if attempts < 2 {
			return nil, &provider.APIError{Status: 503, Message: "overloaded"}
		}
		return &provider.Result{Text: "recovered"}, nil
	}

	raw, err := h.svc.invokeWithRetry(context.Background(), h.svc.log, h.main, kindGenerateText, provider.CallParams{}, DefaultRetryConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if raw.(*provider.Result).Text != "recovered" {
		t.Errorf("result = %q, expected the recovered text", raw.(*provider.Result).Text)
	}
	if attempts != 2 {
		t.Errorf("provider invoked %d times, expected 2", attempts)
	}
	if len(h.sleeps) != 1 || h.sleeps[0] != time.Second {
		t.Errorf("sleeps = %v, expected exactly [1s]", h.sleeps)
	}
}

func TestUnknownErrorIsNotRetried(t *testing.T) {
	h := newHarness()
	h.main.generate = failWith(errors.New("something odd happened"))

	_, err := h.svc.invokeWithRetry(context.Background(), h.svc.log, h.main, kindGenerateText, provider.CallParams{}, DefaultRetryConfig())
	if err == nil {
		t.Fatal("expected error")
	}
	if got := h.main.callCount(); got != 1 {
		t.Errorf("unknown error retried: %d invocations, expected 1", got)
	}
}

func TestSleepErrorAbortsRetryLoop(t *testing.T) {
	h := newHarness()
	h.main.generate = failWith(&provider.APIError{Status: 429, Message: "rate limit"})
	h.svc.sleep = func(context.Context, time.Duration) error {
		return context.Canceled
	}

	_, err := h.svc.invokeWithRetry(context.Background(), h.svc.log, h.main, kindGenerateText, provider.CallParams{}, DefaultRetryConfig())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, expected context.Canceled from the aborted sleep", err)
	}
	if got := h.main.callCount(); got != 1 {
		t.Errorf("provider invoked %d times after canceled sleep, expected 1", got)
	}
}

func TestDefaultSleepHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := defaultSleep(ctx, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, expected context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("defaultSleep blocked %v on a canceled context", elapsed)
	}
}
