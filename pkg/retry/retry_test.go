package retry

import (
	"context"
	stderr "errors"
	"testing"
	"time"

	"github.com/pkgfast/pkgfast/pkg/errors"
)

func quickConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetriesRetryableErrorUntilSuccess(t *testing.T) {
	r := New(quickConfig())

	attempts := 0
	err := r.Do(func() error {
		attempts++
		if attempts < 3 {
			return errors.New(errors.ErrCodeNetwork, "transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestNonRetryableFailsImmediately(t *testing.T) {
	r := New(quickConfig())

	attempts := 0
	err := r.Do(func() error {
		attempts++
		return errors.New(errors.ErrCodeParse, "bad payload")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("expected a single attempt for a non-retryable error, got %d", attempts)
	}
}

func TestPlainErrorsAreNotRetried(t *testing.T) {
	r := New(quickConfig())

	attempts := 0
	err := r.Do(func() error {
		attempts++
		return stderr.New("not structured")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestExhaustedAttemptsWrapLastError(t *testing.T) {
	r := New(quickConfig())

	err := r.Do(func() error {
		return errors.New(errors.ErrCodeConnectionTimeout, "still busy")
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if !stderr.Is(err, errors.New(errors.ErrCodeConnectionTimeout, "")) {
		t.Errorf("expected the last error to be preserved in the chain, got %v", err)
	}
}

func TestContextCancelStopsRetrying(t *testing.T) {
	r := New(Config{
		MaxAttempts:  10,
		InitialDelay: 50 * time.Millisecond,
		Multiplier:   1.0,
	})

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := r.DoWithContext(ctx, func(ctx context.Context) error {
		attempts++
		return errors.New(errors.ErrCodeNetwork, "down")
	})
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if !stderr.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled in chain, got %v", err)
	}
	if attempts >= 10 {
		t.Errorf("expected cancellation to cut retries short, got %d attempts", attempts)
	}
}

func TestRetryableFlagOverridesCodeList(t *testing.T) {
	r := New(Config{
		MaxAttempts:     2,
		InitialDelay:    time.Millisecond,
		RetryableErrors: nil,
	})

	attempts := 0
	_ = r.Do(func() error {
		attempts++
		return errors.New(errors.ErrCodeParse, "flagged").WithRetryable(true)
	})
	if attempts != 2 {
		t.Errorf("expected the explicit retryable flag to trigger a retry, got %d attempts", attempts)
	}
}
