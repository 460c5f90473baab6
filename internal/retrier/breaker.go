package retrier

import (
	"sync"
	"time"
)

// State is a circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateHalfOpen State = "half_open"
	StateOpen     State = "open"
)

// breaker is a per-operation circuit breaker: closed until Threshold
// consecutive failures, open for ResetAfter, then half-open until one
// probe succeeds or fails.
type breaker struct {
	mu         sync.Mutex
	state      State
	failures   int
	openedAt   time.Time
	threshold  int
	resetAfter time.Duration
}

func newBreaker(threshold int, resetAfter time.Duration) *breaker {
	return &breaker{
		state:      StateClosed,
		threshold:  threshold,
		resetAfter: resetAfter,
	}
}

// Allow reports whether a call may proceed, moving an expired open breaker
// to half-open.
func (b *breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if time.Since(b.openedAt) >= b.resetAfter {
			b.state = StateHalfOpen
			return true
		}
		return false
	}
	return true
}

// RecordSuccess closes the breaker.
func (b *breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
}

// RecordFailure counts a failure, tripping the breaker at the threshold.
// A half-open probe failure reopens immediately.
func (b *breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.threshold {
		b.state = StateOpen
		b.openedAt = time.Now()
	}
}

// State returns the current state, accounting for reset expiry.
func (b *breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && time.Since(b.openedAt) >= b.resetAfter {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed.
func (b *breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
}
