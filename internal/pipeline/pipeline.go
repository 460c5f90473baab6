// Package pipeline wires the log sink, recovery registry, retry executor
// and notification dispatcher into the end-to-end fault handling facade.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/vietddude/faultline/internal/core/classify"
	"github.com/vietddude/faultline/internal/core/domain"
	"github.com/vietddude/faultline/internal/logsink"
	"github.com/vietddude/faultline/internal/notify"
	"github.com/vietddude/faultline/internal/recovery"
	"github.com/vietddude/faultline/internal/retrier"
)

// Pipeline is the fault handling facade. One instance serves the whole
// process; request-handling code receives it by injection.
type Pipeline struct {
	sink       *logsink.Sink
	dispatcher *notify.Dispatcher
	registry   *recovery.Registry
	executor   *retrier.Executor
	log        *slog.Logger

	recoveryAttempts  atomic.Int64
	recoverySuccesses atomic.Int64
}

// New assembles the pipeline and wires the sink's direct critical-notify
// path to the dispatcher.
func New(sink *logsink.Sink, dispatcher *notify.Dispatcher, registry *recovery.Registry, executor *retrier.Executor) *Pipeline {
	sink.SetCriticalNotifier(dispatcher)
	return &Pipeline{
		sink:       sink,
		dispatcher: dispatcher,
		registry:   registry,
		executor:   executor,
		log:        slog.Default().With("component", "pipeline"),
	}
}

// Sink exposes the log sink for query and statistics endpoints.
func (p *Pipeline) Sink() *logsink.Sink { return p.sink }

// Dispatcher exposes the notification dispatcher.
func (p *Pipeline) Dispatcher() *notify.Dispatcher { return p.dispatcher }

// Registry exposes the recovery strategy registry.
func (p *Pipeline) Registry() *recovery.Registry { return p.registry }

// Executor exposes the retry collaborator.
func (p *Pipeline) Executor() *retrier.Executor { return p.executor }

// Handle runs the operation under its retry policy. On failure the fault is
// logged, automatic recovery is attempted, and administrators are notified
// when recovery does not resolve it. The original error is always returned
// to the caller: this pipeline augments, never suppresses.
func (p *Pipeline) Handle(ctx context.Context, operation string, op func(ctx context.Context) error) error {
	err := p.executor.ExecuteWithRetry(ctx, operation, op)
	if err == nil {
		return nil
	}

	f := classify.FromError(err)
	p.sink.Log(ctx, f, logsink.EntryMeta{})

	p.recoveryAttempts.Add(1)
	outcome := p.registry.Attempt(ctx, f, map[string]any{"operation": operation})
	if outcome.Recovered() {
		p.recoverySuccesses.Add(1)
		p.log.Info("Fault recovered automatically",
			"operation", operation, "code", f.Code, "status", string(outcome.Status))
	}

	if !outcome.Recovered() || f.Severity == domain.SeverityCritical {
		// Fire-and-forget: delivery results never reach the faulting caller.
		notifyCtx := context.WithoutCancel(ctx)
		force := f.Severity == domain.SeverityCritical
		go p.dispatcher.Notify(notifyCtx, f, map[string]any{"operation": operation}, force)
	}
	return err
}

// LogOnly records the fault without running recovery. Typed faults are
// additionally routed to the dispatcher; foreign errors are logged only.
func (p *Pipeline) LogOnly(ctx context.Context, err error, extra map[string]any, meta logsink.EntryMeta) {
	f := classify.FromError(err)
	p.sink.Log(ctx, f, meta)

	var typed *domain.Fault
	if errors.As(err, &typed) {
		go p.dispatcher.Notify(context.WithoutCancel(ctx), f, extra, false)
	}
}

// HandleCritical force-classifies the fault as critical, logs it through
// the critical path and notifies immediately.
func (p *Pipeline) HandleCritical(ctx context.Context, fault *domain.Fault, extra map[string]any, meta logsink.EntryMeta) []domain.DeliveryResult {
	p.sink.LogCritical(ctx, fault, meta)

	forced := *fault
	forced.Severity = domain.SeverityCritical
	return p.dispatcher.NotifyCritical(ctx, &forced, extra)
}

// Resolve marks an error code resolved, cancelling pending second-stage
// escalations.
func (p *Pipeline) Resolve(code string) int {
	return p.dispatcher.Resolve(code)
}

// RecoverySuccessRate returns the fraction of recovery attempts that
// resolved the fault.
func (p *Pipeline) RecoverySuccessRate() float64 {
	attempts := p.recoveryAttempts.Load()
	if attempts == 0 {
		return 1.0
	}
	return float64(p.recoverySuccesses.Load()) / float64(attempts)
}

// Shutdown flushes logs, stops all timers and drains pending batches, in
// that order. Each step is guarded so a failure in one does not prevent
// the next.
func (p *Pipeline) Shutdown(ctx context.Context) {
	if err := p.sink.Flush(ctx); err != nil {
		p.log.Warn("Final log flush failed", "error", err)
	}
	if err := p.sink.Stop(ctx); err != nil {
		p.log.Warn("Log sink stop failed", "error", err)
	}
	p.dispatcher.Stop(ctx)
}

// Report merges log sink and dispatcher statistics into one view.
type Report struct {
	Period                   time.Duration                 `json:"period"`
	Faults                   *domain.LogStatistics         `json:"faults"`
	Notifications            domain.NotificationStatistics `json:"notifications"`
	RecoverySuccessRate      float64                       `json:"recovery_success_rate"`
	NotificationDeliveryRate float64                       `json:"notification_delivery_rate"`
}

// Statistics builds the merged report for the trailing period.
func (p *Pipeline) Statistics(ctx context.Context, period time.Duration) (*Report, error) {
	faults, err := p.sink.Statistics(ctx, period)
	if err != nil {
		return nil, err
	}
	notifications := p.dispatcher.Statistics(period)

	return &Report{
		Period:                   period,
		Faults:                   faults,
		Notifications:            notifications,
		RecoverySuccessRate:      p.RecoverySuccessRate(),
		NotificationDeliveryRate: notifications.DeliveryRate(),
	}, nil
}
