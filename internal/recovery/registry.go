// Package recovery maps error codes to pluggable recovery strategies that
// attempt automatic remediation before a human is alerted.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vietddude/faultline/internal/core/domain"
	"github.com/vietddude/faultline/internal/metrics"
)

// Strategy attempts to remediate faults with a specific error code.
// CanRecover must be a pure predicate; Recover must not panic past its own
// boundary (the registry guards it regardless).
type Strategy interface {
	// CanRecover reports whether the fault can be recovered automatically.
	CanRecover(f *domain.Fault) bool

	// Recover performs a best-effort remediation and describes what happened.
	Recover(ctx context.Context, f *domain.Fault, extra map[string]any) domain.RecoveryOutcome
}

// Fallbacker is implemented by strategies that can guarantee forward
// progress when genuine recovery fails.
type Fallbacker interface {
	Fallback(ctx context.Context, f *domain.Fault, extra map[string]any) domain.RecoveryOutcome
}

// StrategyFuncs adapts plain functions into a Strategy.
type StrategyFuncs struct {
	CanRecoverFn func(f *domain.Fault) bool
	RecoverFn    func(ctx context.Context, f *domain.Fault, extra map[string]any) domain.RecoveryOutcome
	FallbackFn   func(ctx context.Context, f *domain.Fault, extra map[string]any) domain.RecoveryOutcome
}

// CanRecover implements Strategy.
func (s StrategyFuncs) CanRecover(f *domain.Fault) bool {
	if s.CanRecoverFn == nil {
		return false
	}
	return s.CanRecoverFn(f)
}

// Recover implements Strategy.
func (s StrategyFuncs) Recover(ctx context.Context, f *domain.Fault, extra map[string]any) domain.RecoveryOutcome {
	if s.RecoverFn == nil {
		return domain.RecoveryOutcome{Status: domain.RecoveryUnrecovered}
	}
	return s.RecoverFn(ctx, f, extra)
}

// Fallback implements Fallbacker.
func (s StrategyFuncs) Fallback(ctx context.Context, f *domain.Fault, extra map[string]any) domain.RecoveryOutcome {
	if s.FallbackFn == nil {
		return domain.RecoveryOutcome{Status: domain.RecoveryUnrecovered}
	}
	return s.FallbackFn(ctx, f, extra)
}

// Registry holds strategies keyed by error code. Registration is an upsert:
// the last strategy registered for a code wins.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
	log        *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
		log:        slog.Default().With("component", "recovery"),
	}
}

// Register upserts the strategy for an error code.
func (r *Registry) Register(code string, s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[code] = s
}

// Get returns the strategy for a code, if registered.
func (r *Registry) Get(code string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[code]
	return s, ok
}

// All returns a copy of the full mapping.
func (r *Registry) All() map[string]Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Strategy, len(r.strategies))
	for code, s := range r.strategies {
		out[code] = s
	}
	return out
}

// Len returns the number of registered strategies.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.strategies)
}

// Attempt runs the strategy for the fault's code, falling back when recovery
// fails. It never panics past its boundary: an internal failure is treated
// as "not recovered".
func (r *Registry) Attempt(ctx context.Context, f *domain.Fault, extra map[string]any) domain.RecoveryOutcome {
	strategy, ok := r.Get(f.Code)
	if !ok {
		return domain.RecoveryOutcome{
			Status:  domain.RecoveryUnrecovered,
			Message: "no strategy registered",
		}
	}
	if !strategy.CanRecover(f) {
		outcome := domain.RecoveryOutcome{
			Status:  domain.RecoveryUnrecovered,
			Message: "strategy declined recovery",
		}
		metrics.RecoveryAttempts.WithLabelValues(f.Code, string(outcome.Status)).Inc()
		return outcome
	}

	outcome := r.guarded(ctx, f, extra, strategy.Recover)
	if outcome.Status != domain.RecoveryRecovered {
		if fb, ok := strategy.(Fallbacker); ok {
			fbOutcome := r.guarded(ctx, f, extra, fb.Fallback)
			if fbOutcome.Status == domain.RecoveryFallbackApplied {
				outcome = fbOutcome
			}
		}
	}

	metrics.RecoveryAttempts.WithLabelValues(f.Code, string(outcome.Status)).Inc()
	return outcome
}

type recoverFn func(ctx context.Context, f *domain.Fault, extra map[string]any) domain.RecoveryOutcome

func (r *Registry) guarded(ctx context.Context, f *domain.Fault, extra map[string]any, fn recoverFn) (outcome domain.RecoveryOutcome) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Warn("Recovery strategy panicked", "code", f.Code, "panic", fmt.Sprint(p))
			outcome = domain.RecoveryOutcome{
				Status:  domain.RecoveryUnrecovered,
				Message: fmt.Sprintf("strategy failed internally: %v", p),
			}
		}
	}()
	return fn(ctx, f, extra)
}
