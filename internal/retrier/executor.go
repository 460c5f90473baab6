// Package retrier wraps individual operations with retry and circuit
// breaking. The orchestrator registers one policy per business module at
// startup.
package retrier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/vietddude/faultline/internal/core/domain"
	"github.com/vietddude/faultline/internal/metrics"
)

// ErrBreakerOpen is returned when the operation's circuit breaker rejects
// the call.
var ErrBreakerOpen = errors.New("circuit breaker open")

// Policy defines retry behavior for one operation.
type Policy struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiple   float64
	RetryableCodes    []string
	BreakerThreshold  int
	BreakerResetAfter time.Duration
}

// DefaultPolicy provides sensible defaults.
var DefaultPolicy = Policy{
	MaxAttempts:       3,
	InitialDelay:      1 * time.Second,
	MaxDelay:          30 * time.Second,
	BackoffMultiple:   2.0,
	BreakerThreshold:  5,
	BreakerResetAfter: 60 * time.Second,
}

// Executor runs operations with retry and per-operation circuit breakers.
type Executor struct {
	mu       sync.RWMutex
	policies map[string]Policy
	breakers map[string]*breaker
	log      *slog.Logger
}

// NewExecutor creates an executor with no registered policies.
func NewExecutor() *Executor {
	return &Executor{
		policies: make(map[string]Policy),
		breakers: make(map[string]*breaker),
		log:      slog.Default().With("component", "retrier"),
	}
}

// RegisterPolicy sets the retry policy for an operation.
func (e *Executor) RegisterPolicy(operation string, p Policy) {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultPolicy.MaxAttempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = DefaultPolicy.InitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultPolicy.MaxDelay
	}
	if p.BackoffMultiple <= 1 {
		p.BackoffMultiple = DefaultPolicy.BackoffMultiple
	}
	if p.BreakerThreshold <= 0 {
		p.BreakerThreshold = DefaultPolicy.BreakerThreshold
	}
	if p.BreakerResetAfter <= 0 {
		p.BreakerResetAfter = DefaultPolicy.BreakerResetAfter
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies[operation] = p
}

func (e *Executor) policyFor(operation string) Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if p, ok := e.policies[operation]; ok {
		return p
	}
	return DefaultPolicy
}

func (e *Executor) breakerFor(operation string) *breaker {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.breakers[operation]
	if !ok {
		p, has := e.policies[operation]
		if !has {
			p = DefaultPolicy
		}
		b = newBreaker(p.BreakerThreshold, p.BreakerResetAfter)
		e.breakers[operation] = b
	}
	return b
}

// ExecuteWithRetry runs the operation under its registered policy.
func (e *Executor) ExecuteWithRetry(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	policy := e.policyFor(operation)
	brk := e.breakerFor(operation)

	if !brk.Allow() {
		e.publishState(operation, brk)
		return fmt.Errorf("%w: %s", ErrBreakerOpen, operation)
	}

	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		metrics.RetryAttempts.WithLabelValues(operation).Inc()

		err := fn(ctx)
		if err == nil {
			brk.RecordSuccess()
			e.publishState(operation, brk)
			return nil
		}
		lastErr = err

		if !e.retryable(policy, err) {
			break
		}
		if attempt == policy.MaxAttempts-1 {
			break
		}

		delay := backoff(attempt, policy)
		e.log.Debug("Retrying operation", "operation", operation, "attempt", attempt+1, "delay", delay)
		select {
		case <-ctx.Done():
			brk.RecordFailure()
			e.publishState(operation, brk)
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	brk.RecordFailure()
	e.publishState(operation, brk)
	return fmt.Errorf("operation %s failed: %w", operation, lastErr)
}

// retryable checks the fault's code against the policy and its retryable
// context flag. Foreign errors are retried by default.
func (e *Executor) retryable(policy Policy, err error) bool {
	var f *domain.Fault
	if !errors.As(err, &f) {
		return true
	}
	for _, code := range policy.RetryableCodes {
		if code == f.Code {
			return true
		}
	}
	return f.Retryable()
}

// BreakerState returns the breaker state for an operation.
func (e *Executor) BreakerState(operation string) State {
	e.mu.RLock()
	b, ok := e.breakers[operation]
	e.mu.RUnlock()
	if !ok {
		return StateClosed
	}
	return b.State()
}

// ResetBreaker forces the operation's breaker closed.
func (e *Executor) ResetBreaker(operation string) {
	e.mu.RLock()
	b, ok := e.breakers[operation]
	e.mu.RUnlock()
	if ok {
		b.Reset()
		e.publishState(operation, b)
	}
}

func (e *Executor) publishState(operation string, b *breaker) {
	var v float64
	switch b.State() {
	case StateHalfOpen:
		v = 1
	case StateOpen:
		v = 2
	}
	metrics.BreakerState.WithLabelValues(operation).Set(v)
}

func backoff(attempt int, policy Policy) time.Duration {
	delay := float64(policy.InitialDelay) * math.Pow(policy.BackoffMultiple, float64(attempt))
	if delay > float64(policy.MaxDelay) {
		delay = float64(policy.MaxDelay)
	}
	return time.Duration(delay)
}
