package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryWithBackoff_SucceedsOnThirdAttempt(t *testing.T) {
	ctx := context.Background()
	policy := BackoffPolicy{InitialMs: 1, MaxMs: 5, Factor: 2, Jitter: 0}
	attempts := 0

	result, err := RetryWithBackoff(ctx, policy, 3, func(attempt int) (string, error) {
		attempts++
		if attempt < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})

	if err != nil {
		t.Fatalf("RetryWithBackoff() error = %v, want nil", err)
	}
	if result.Value != "ok" {
		t.Errorf("RetryWithBackoff() value = %q, want %q", result.Value, "ok")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryWithBackoff_ExhaustsAttempts(t *testing.T) {
	ctx := context.Background()
	policy := BackoffPolicy{InitialMs: 1, MaxMs: 5, Factor: 2, Jitter: 0}

	_, err := RetryWithBackoff(ctx, policy, 2, func(int) (int, error) {
		return 0, errors.New("always fails")
	})

	if !errors.Is(err, ErrMaxAttemptsExhausted) {
		t.Fatalf("RetryWithBackoff() error = %v, want ErrMaxAttemptsExhausted", err)
	}
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	policy := BackoffPolicy{InitialMs: 1, MaxMs: 5, Factor: 2, Jitter: 0}

	_, err := RetryWithBackoff(ctx, policy, 3, func(int) (int, error) {
		return 0, errors.New("should not matter")
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("RetryWithBackoff() error = %v, want context.Canceled", err)
	}
}

func TestProviderPolicy_MatchesSpec(t *testing.T) {
	p := ProviderPolicy()
	if p.InitialMs != 2000 {
		t.Errorf("InitialMs = %v, want 2000", p.InitialMs)
	}
	if p.Factor != 2 {
		t.Errorf("Factor = %v, want 2", p.Factor)
	}

	d1 := ComputeBackoffWithRand(p, 1, 0)
	d2 := ComputeBackoffWithRand(p, 2, 0)
	if d1 != 2*time.Second {
		t.Errorf("first backoff = %v, want 2s", d1)
	}
	if d2 != 4*time.Second {
		t.Errorf("second backoff = %v, want 4s", d2)
	}
}
