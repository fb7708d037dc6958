package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	var calls int
	err := Do(context.Background(), DefaultRetryConfig(), func(_ context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_SuccessAfterRetry(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastConfig(3), func(_ context.Context) error {
		calls++
		if calls < 3 {
			return NewTransientError(errors.New("temporary"), 503)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_ExhaustsRetries(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastConfig(3), func(_ context.Context) error {
		calls++
		return NewTransientError(errors.New("always fails"), 500)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_NonTransientError_NoRetry(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastConfig(5), func(_ context.Context) error {
		calls++
		return errors.New("bad request")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_ContextCancelled_StopsRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	err := Do(ctx, fastConfig(5), func(_ context.Context) error {
		calls++
		cancel()
		return NewTransientError(errors.New("temporary"), 503)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call after cancel, got %d", calls)
	}
}

func TestDo_OnRetryCallback(t *testing.T) {
	var attempts []int
	cfg := fastConfig(3)
	cfg.OnRetry = func(attempt int, _ error) { attempts = append(attempts, attempt) }

	_ = Do(context.Background(), cfg, func(_ context.Context) error {
		return NewTransientError(errors.New("x"), 502)
	})
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("unexpected retry attempts: %v", attempts)
	}
}

func TestDoVal_ReturnsValueOnSuccess(t *testing.T) {
	var calls int
	v, err := DoVal(context.Background(), fastConfig(3), func(_ context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", NewTransientError(errors.New("temporary"), 503)
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "ok" {
		t.Errorf("expected ok, got %q", v)
	}
}

func TestDoVal_CustomShouldRetry(t *testing.T) {
	var calls int
	cfg := fastConfig(4)
	cfg.ShouldRetry = func(error) bool { return true }

	_, err := DoVal(context.Background(), cfg, func(_ context.Context) (int, error) {
		calls++
		return 0, errors.New("anything")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 4 {
		t.Errorf("expected 4 calls, got %d", calls)
	}
}

func TestComputeBackoff_CapsAtMax(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: time.Second, MaxBackoff: 3 * time.Second, Multiplier: 2}
	if got := computeBackoff(0, cfg); got != time.Second {
		t.Errorf("attempt 0: got %v", got)
	}
	if got := computeBackoff(1, cfg); got != 2*time.Second {
		t.Errorf("attempt 1: got %v", got)
	}
	if got := computeBackoff(5, cfg); got != 3*time.Second {
		t.Errorf("attempt 5: got %v", got)
	}
}

func TestComputeBackoff_JitterWithinRange(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: time.Second, MaxBackoff: time.Minute, Multiplier: 2, JitterFraction: 0.25}
	for range 50 {
		got := computeBackoff(0, cfg)
		if got < 750*time.Millisecond || got > 1250*time.Millisecond {
			t.Fatalf("jittered delay out of range: %v", got)
		}
	}
}
