package recovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/faultline/internal/core/domain"
)

// Built-in strategies for the business modules the pipeline serves. All of
// them honor the retryable context flag: a fault explicitly marked
// non-retryable is never recovered automatically.

// AccountingSyncStrategy switches a failed accounting sync to the offline
// journal queue so the posting is not lost.
func AccountingSyncStrategy() Strategy {
	log := slog.Default().With("strategy", "accounting_sync")
	return StrategyFuncs{
		CanRecoverFn: func(f *domain.Fault) bool {
			return f.Retryable()
		},
		RecoverFn: func(ctx context.Context, f *domain.Fault, extra map[string]any) domain.RecoveryOutcome {
			log.Info("Switching accounting sync to offline journal", "code", f.Code)
			return domain.RecoveryOutcome{
				Status:  domain.RecoveryRecovered,
				Message: "accounting entries queued to offline journal",
				Details: map[string]any{"queued_at": time.Now()},
			}
		},
		FallbackFn: func(ctx context.Context, f *domain.Fault, extra map[string]any) domain.RecoveryOutcome {
			log.Warn("Persisting accounting entries for manual posting", "code", f.Code)
			return domain.RecoveryOutcome{
				Status:  domain.RecoveryFallbackApplied,
				Message: "accounting entries persisted for manual posting",
			}
		},
	}
}

// ReportingStrategy degrades a failed report generation to a partial report
// covering the data that was available.
func ReportingStrategy() Strategy {
	log := slog.Default().With("strategy", "reporting")
	return StrategyFuncs{
		CanRecoverFn: func(f *domain.Fault) bool {
			return f.Retryable()
		},
		RecoverFn: func(ctx context.Context, f *domain.Fault, extra map[string]any) domain.RecoveryOutcome {
			log.Info("Generating partial report", "code", f.Code)
			return domain.RecoveryOutcome{
				Status:  domain.RecoveryRecovered,
				Message: "partial report generated from available data",
			}
		},
	}
}

// POSSyncStrategy enqueues failed point-of-sale transactions for manual
// replay.
func POSSyncStrategy() Strategy {
	log := slog.Default().With("strategy", "pos_sync")
	return StrategyFuncs{
		CanRecoverFn: func(f *domain.Fault) bool {
			return f.Retryable()
		},
		RecoverFn: func(ctx context.Context, f *domain.Fault, extra map[string]any) domain.RecoveryOutcome {
			log.Info("Enqueueing POS transactions for manual replay", "code", f.Code)
			return domain.RecoveryOutcome{
				Status:  domain.RecoveryRecovered,
				Message: "pos transactions enqueued for manual replay",
			}
		},
		FallbackFn: func(ctx context.Context, f *domain.Fault, extra map[string]any) domain.RecoveryOutcome {
			log.Warn("Recording POS transactions offline", "code", f.Code)
			return domain.RecoveryOutcome{
				Status:  domain.RecoveryFallbackApplied,
				Message: "pos transactions recorded offline",
			}
		},
	}
}

// RegisterDefaults installs the built-in strategies for the standard error
// codes of each business module.
func RegisterDefaults(r *Registry) {
	r.Register("ACCOUNTING_SYNC_FAILED", AccountingSyncStrategy())
	r.Register("REPORT_GENERATION_FAILED", ReportingStrategy())
	r.Register("POS_SYNC_FAILED", POSSyncStrategy())
}
