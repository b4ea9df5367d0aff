package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"mailtriage/pkg/util"
)

func fastPolicy(maxAttempts int) Policy {
	return Policy{
		MaxAttempts:       maxAttempts,
		InitialDelay:      time.Millisecond,
		MaxDelay:          10 * time.Millisecond,
		BackoffMultiplier: 2,
		ShouldRetry:       DefaultShouldRetry,
	}
}

func TestDoSucceedsAfterRetryableFailures(t *testing.T) {
	calls := 0
	result, err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", &util.HTTPError{StatusCode: 429}
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if result != "ok" {
		t.Fatalf("expected ok, got %q", result)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoFailsFastOnNonRetryable(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(5), func(ctx context.Context) (int, error) {
		calls++
		return 0, &util.HTTPError{StatusCode: 400}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	wantErr := &util.HTTPError{StatusCode: 503}
	_, err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) (int, error) {
		calls++
		return 0, wantErr
	})
	var httpErr *util.HTTPError
	if !errors.As(err, &httpErr) || httpErr != wantErr {
		t.Fatalf("expected last error to propagate, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoRetries500OnlyTwice(t *testing.T) {
	// 500 is retryable on the first two attempts only
	calls := 0
	_, err := Do(context.Background(), fastPolicy(5), func(ctx context.Context) (int, error) {
		calls++
		return 0, &util.HTTPError{StatusCode: 500}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls (fail fast after attempt 3), got %d", calls)
	}
}

func TestDoBackoffDelaysGrow(t *testing.T) {
	var delays []time.Duration
	p := Policy{
		MaxAttempts:       4,
		InitialDelay:      time.Millisecond,
		MaxDelay:          100 * time.Millisecond,
		BackoffMultiplier: 2,
		ShouldRetry:       func(err error, attempt int) bool { return true },
		OnRetry: func(err error, attempt int, delay time.Duration) {
			delays = append(delays, delay)
		},
	}
	_, _ = Do(context.Background(), p, func(ctx context.Context) (int, error) {
		return 0, errors.New("boom")
	})
	if len(delays) != 3 {
		t.Fatalf("expected 3 retries, got %d", len(delays))
	}
	for i := 1; i < len(delays); i++ {
		if delays[i] != delays[i-1]*2 {
			t.Fatalf("expected delay %v to be double of %v", delays[i], delays[i-1])
		}
	}
}

func TestDoMaxDelayCap(t *testing.T) {
	var delays []time.Duration
	p := Policy{
		MaxAttempts:       5,
		InitialDelay:      4 * time.Millisecond,
		MaxDelay:          8 * time.Millisecond,
		BackoffMultiplier: 2,
		ShouldRetry:       func(err error, attempt int) bool { return true },
		OnRetry: func(err error, attempt int, delay time.Duration) {
			delays = append(delays, delay)
		},
	}
	_, _ = Do(context.Background(), p, func(ctx context.Context) (int, error) {
		return 0, errors.New("boom")
	})
	for _, d := range delays {
		if d > 8*time.Millisecond {
			t.Fatalf("delay %v exceeds max delay", d)
		}
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := Policy{
		MaxAttempts:       10,
		InitialDelay:      50 * time.Millisecond,
		BackoffMultiplier: 2,
		ShouldRetry:       func(err error, attempt int) bool { return true },
	}
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := Do(ctx, p, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("boom")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call before cancellation, got %d", calls)
	}
}
