package retrier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vietddude/faultline/internal/core/domain"
)

func fastPolicy(maxAttempts int) Policy {
	return Policy{
		MaxAttempts:       maxAttempts,
		InitialDelay:      time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		BackoffMultiple:   2.0,
		BreakerThreshold:  3,
		BreakerResetAfter: 50 * time.Millisecond,
	}
}

// =============================================================================
// Retry Behavior
// =============================================================================

func TestExecute_SucceedsFirstTry(t *testing.T) {
	e := NewExecutor()
	e.RegisterPolicy("op", fastPolicy(3))

	calls := 0
	err := e.ExecuteWithRetry(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestExecute_RetriesRetryableFault(t *testing.T) {
	e := NewExecutor()
	e.RegisterPolicy("op", fastPolicy(3))

	f := domain.NewFault("POS_SYNC_FAILED", "terminal offline")
	f.Context = map[string]any{"retryable": true}

	calls := 0
	err := e.ExecuteWithRetry(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return f
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestExecute_NonRetryableFaultStopsImmediately(t *testing.T) {
	e := NewExecutor()
	e.RegisterPolicy("op", fastPolicy(5))

	calls := 0
	err := e.ExecuteWithRetry(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return domain.NewFault("VALIDATION_FAILED", "amount must be positive")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 for non-retryable fault", calls)
	}

	var typed *domain.Fault
	if !errors.As(err, &typed) || typed.Code != "VALIDATION_FAILED" {
		t.Error("original fault should be reachable through the wrapped error")
	}
}

func TestExecute_PolicyCodesOverrideContextFlag(t *testing.T) {
	p := fastPolicy(3)
	p.RetryableCodes = []string{"NETWORK_TIMEOUT"}

	e := NewExecutor()
	e.RegisterPolicy("op", p)

	calls := 0
	err := e.ExecuteWithRetry(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return domain.NewFault("NETWORK_TIMEOUT", "gateway timed out")
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestExecute_ForeignErrorsAreRetried(t *testing.T) {
	e := NewExecutor()
	e.RegisterPolicy("op", fastPolicy(2))

	calls := 0
	sentinel := errors.New("socket reset")
	err := e.ExecuteWithRetry(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Errorf("original error not wrapped: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestExecute_ContextCancellation(t *testing.T) {
	p := fastPolicy(3)
	p.InitialDelay = time.Second
	e := NewExecutor()
	e.RegisterPolicy("op", p)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	f := domain.NewFault("X", "y")
	f.Context = map[string]any{"retryable": true}
	err := e.ExecuteWithRetry(ctx, "op", func(ctx context.Context) error { return f })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

// =============================================================================
// Circuit Breaker
// =============================================================================

func failUntilBreakerOpens(t *testing.T, e *Executor, operation string, times int) {
	t.Helper()
	for i := 0; i < times; i++ {
		_ = e.ExecuteWithRetry(context.Background(), operation, func(ctx context.Context) error {
			return domain.NewFault("HARD_FAILURE", "not retryable")
		})
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	e := NewExecutor()
	e.RegisterPolicy("op", fastPolicy(1))

	failUntilBreakerOpens(t, e, "op", 3)

	if state := e.BreakerState("op"); state != StateOpen {
		t.Fatalf("state = %s, want open", state)
	}

	err := e.ExecuteWithRetry(context.Background(), "op", func(ctx context.Context) error {
		t.Error("operation should not run while breaker is open")
		return nil
	})
	if !errors.Is(err, ErrBreakerOpen) {
		t.Errorf("expected ErrBreakerOpen, got %v", err)
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	e := NewExecutor()
	e.RegisterPolicy("op", fastPolicy(1))

	failUntilBreakerOpens(t, e, "op", 3)
	time.Sleep(60 * time.Millisecond) // past BreakerResetAfter

	if state := e.BreakerState("op"); state != StateHalfOpen {
		t.Fatalf("state = %s, want half_open after reset window", state)
	}

	// A successful probe closes the breaker.
	err := e.ExecuteWithRetry(context.Background(), "op", func(ctx context.Context) error { return nil })
	if err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if state := e.BreakerState("op"); state != StateClosed {
		t.Errorf("state = %s, want closed after successful probe", state)
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	e := NewExecutor()
	e.RegisterPolicy("op", fastPolicy(1))

	failUntilBreakerOpens(t, e, "op", 3)
	time.Sleep(60 * time.Millisecond)

	_ = e.ExecuteWithRetry(context.Background(), "op", func(ctx context.Context) error {
		return domain.NewFault("STILL_BROKEN", "x")
	})
	if state := e.BreakerState("op"); state != StateOpen {
		t.Errorf("state = %s, want open after failed probe", state)
	}
}

func TestBreaker_ManualReset(t *testing.T) {
	e := NewExecutor()
	e.RegisterPolicy("op", fastPolicy(1))

	failUntilBreakerOpens(t, e, "op", 3)
	e.ResetBreaker("op")

	if state := e.BreakerState("op"); state != StateClosed {
		t.Errorf("state = %s, want closed after reset", state)
	}
}

// =============================================================================
// Backoff
// =============================================================================

func TestBackoff_ExponentialWithCap(t *testing.T) {
	p := Policy{InitialDelay: 100 * time.Millisecond, MaxDelay: 500 * time.Millisecond, BackoffMultiple: 2.0}

	if d := backoff(0, p); d != 100*time.Millisecond {
		t.Errorf("attempt 0 = %v, want 100ms", d)
	}
	if d := backoff(1, p); d != 200*time.Millisecond {
		t.Errorf("attempt 1 = %v, want 200ms", d)
	}
	if d := backoff(10, p); d != 500*time.Millisecond {
		t.Errorf("attempt 10 = %v, want capped at 500ms", d)
	}
}

func TestRegisterPolicy_FillsDefaults(t *testing.T) {
	e := NewExecutor()
	e.RegisterPolicy("op", Policy{})

	p := e.policyFor("op")
	if p.MaxAttempts != DefaultPolicy.MaxAttempts {
		t.Errorf("MaxAttempts = %d, want default %d", p.MaxAttempts, DefaultPolicy.MaxAttempts)
	}
	if p.BreakerThreshold != DefaultPolicy.BreakerThreshold {
		t.Errorf("BreakerThreshold = %d, want default %d", p.BreakerThreshold, DefaultPolicy.BreakerThreshold)
	}
}
