package reliability

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoStopsOnSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 5, time.Millisecond, 4*time.Millisecond, func(attempt int) error {
		calls++
		if attempt < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestDoReturnsLastErrorAfterExhaustion(t *testing.T) {
	wantErr := errors.New("still down")
	calls := 0
	err := Do(context.Background(), 3, time.Millisecond, 2*time.Millisecond, func(int) error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Do() error = %v, want %v", err, wantErr)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestDoPermanentShortCircuits(t *testing.T) {
	rejected := errors.New("quota exhausted")
	calls := 0
	err := Do(context.Background(), 5, time.Millisecond, 2*time.Millisecond, func(int) error {
		calls++
		return Permanent(rejected)
	})
	if !errors.Is(err, rejected) {
		t.Fatalf("Do() error = %v, want %v", err, rejected)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retries on permanent error)", calls)
	}
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, 10, 50*time.Millisecond, time.Second, func(int) error {
		calls++
		cancel()
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do() error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestExponentialBackoffCaps(t *testing.T) {
	base := 100 * time.Millisecond
	limit := time.Second
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{9, time.Second},
	}
	for _, tc := range cases {
		if got := ExponentialBackoff(tc.attempt, base, limit); got != tc.want {
			t.Fatalf("ExponentialBackoff(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestIsRetryableHTTPStatusExcludesRateLimit(t *testing.T) {
	if IsRetryableHTTPStatus(429) {
		t.Fatalf("429 must not be retryable")
	}
	for _, code := range []int{500, 502, 503, 504} {
		if !IsRetryableHTTPStatus(code) {
			t.Fatalf("status %d should be retryable", code)
		}
	}
	for _, code := range []int{200, 400, 402, 403, 404, 409} {
		if IsRetryableHTTPStatus(code) {
			t.Fatalf("status %d should not be retryable", code)
		}
	}
}
