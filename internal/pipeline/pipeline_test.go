package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vietddude/faultline/internal/core/domain"
	"github.com/vietddude/faultline/internal/logsink"
	"github.com/vietddude/faultline/internal/notify"
	"github.com/vietddude/faultline/internal/notify/channel"
	"github.com/vietddude/faultline/internal/recovery"
	"github.com/vietddude/faultline/internal/retrier"
)

// =============================================================================
// Fixture
// =============================================================================

func newTestPipeline(dispatcherEnabled bool) (*Pipeline, *channel.InAppSender) {
	sink := logsink.New(logsink.Config{FlushInterval: time.Hour}, nil, nil)

	inapp := channel.NewInAppSender()
	dispatcher := notify.NewDispatcher(
		notify.Config{Enabled: dispatcherEnabled, RateLimitPerHour: 100},
		[]channel.Sender{inapp},
		nil, nil, nil,
	)
	dispatcher.RegisterAdministrator(&domain.Administrator{
		ID:       "a1",
		Name:     "Admin",
		Email:    "a1@example.com",
		IsActive: true,
		Preferences: domain.NotificationPreferences{
			Channels:   []domain.Channel{domain.ChannelInApp},
			Severities: []domain.Severity{domain.SeverityLow, domain.SeverityMedium, domain.SeverityHigh, domain.SeverityCritical},
		},
	})

	registry := recovery.NewRegistry()
	recovery.RegisterDefaults(registry)

	executor := retrier.NewExecutor()
	executor.RegisterPolicy("test-op", retrier.Policy{MaxAttempts: 1})

	return New(sink, dispatcher, registry, executor), inapp
}

// =============================================================================
// Handle
// =============================================================================

func TestHandle_SuccessPassesThrough(t *testing.T) {
	p, _ := newTestPipeline(true)

	err := p.Handle(context.Background(), "test-op", func(ctx context.Context) error { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Sink().BufferLen() != 0 {
		t.Error("successful operation should log nothing")
	}
}

func TestHandle_ReturnsOriginalError(t *testing.T) {
	p, _ := newTestPipeline(true)

	fault := domain.NewFault("VALIDATION_FAILED", "validation error on amount")
	err := p.Handle(context.Background(), "test-op", func(ctx context.Context) error { return fault })

	if err == nil {
		t.Fatal("error must be re-raised to the caller")
	}
	var typed *domain.Fault
	if !errors.As(err, &typed) || typed.Code != "VALIDATION_FAILED" {
		t.Errorf("original fault not reachable: %v", err)
	}
	if p.Sink().BufferLen() != 1 {
		t.Errorf("buffer = %d, want 1 logged fault", p.Sink().BufferLen())
	}
}

func TestHandle_RecoverySuccessRate(t *testing.T) {
	p, _ := newTestPipeline(false)

	if rate := p.RecoverySuccessRate(); rate != 1.0 {
		t.Errorf("rate with no attempts = %f, want 1.0", rate)
	}

	// Retryable accounting fault recovers through the built-in strategy.
	recoverable := domain.NewFault("ACCOUNTING_SYNC_FAILED", "accounting sync failed")
	recoverable.Context = map[string]any{"retryable": false} // no retry, but strategy declines too
	_ = p.Handle(context.Background(), "test-op", func(ctx context.Context) error { return recoverable })

	if rate := p.RecoverySuccessRate(); rate != 0.0 {
		t.Errorf("rate after declined recovery = %f, want 0.0", rate)
	}

	recovered := domain.NewFault("ACCOUNTING_SYNC_FAILED", "accounting sync failed")
	recovered.Context = map[string]any{"retryable": true}
	p.Executor().RegisterPolicy("recover-op", retrier.Policy{MaxAttempts: 1})
	_ = p.Handle(context.Background(), "recover-op", func(ctx context.Context) error { return recovered })

	if rate := p.RecoverySuccessRate(); rate != 0.5 {
		t.Errorf("rate = %f, want 0.5", rate)
	}
}

func TestHandleCritical_ForcesSeverityAndNotifies(t *testing.T) {
	p, inapp := newTestPipeline(true)

	fault := domain.NewFault("LEDGER_CORRUPT", "ledger checksum mismatch")
	fault.Severity = domain.SeverityMedium
	results := p.HandleCritical(context.Background(), fault, nil, logsink.EntryMeta{})

	if len(results) == 0 {
		t.Fatal("critical handling must notify immediately")
	}
	if fault.Severity != domain.SeverityMedium {
		t.Error("caller's fault was mutated")
	}
	if len(inapp.Pending("a1")) == 0 {
		t.Error("no in-app notification stored")
	}
}

func TestLogOnly_ForeignErrorNotNotified(t *testing.T) {
	p, inapp := newTestPipeline(true)

	p.LogOnly(context.Background(), errors.New("just noise"), nil, logsink.EntryMeta{})
	if p.Sink().BufferLen() != 1 {
		t.Errorf("buffer = %d, want 1", p.Sink().BufferLen())
	}

	time.Sleep(50 * time.Millisecond)
	if len(inapp.Pending("a1")) != 0 {
		t.Error("foreign errors should be logged without notification")
	}
}

// =============================================================================
// Health
// =============================================================================

func TestHealthStatus_Healthy(t *testing.T) {
	p, _ := newTestPipeline(true)

	report := p.HealthStatus(context.Background())
	if report.Status != StatusHealthy {
		t.Errorf("status = %s, want healthy (issues: %v)", report.Status, report.Issues)
	}
}

func TestHealthStatus_DegradedWithoutStrategies(t *testing.T) {
	sink := logsink.New(logsink.Config{FlushInterval: time.Hour}, nil, nil)
	dispatcher := notify.NewDispatcher(notify.Config{Enabled: false}, nil, nil, nil, nil)
	p := New(sink, dispatcher, recovery.NewRegistry(), retrier.NewExecutor())

	report := p.HealthStatus(context.Background())
	if report.Status != StatusDegraded {
		t.Errorf("status = %s, want degraded", report.Status)
	}
	if report.Components["recovery"] != StatusDegraded {
		t.Error("recovery component should be degraded with no strategies")
	}
}

type stubSender struct{ ch domain.Channel }

func (s stubSender) Name() domain.Channel { return s.ch }

func (s stubSender) Deliver(ctx context.Context, admin *domain.Administrator, msg channel.Message) domain.DeliveryResult {
	return domain.DeliveryResult{AdminID: admin.ID, Channel: s.ch, Success: true, SentAt: time.Now()}
}

func TestHealthStatus_ProbesPreferredChannel(t *testing.T) {
	// Email-only deployment: no in-app sender anywhere.
	sink := logsink.New(logsink.Config{FlushInterval: time.Hour}, nil, nil)
	dispatcher := notify.NewDispatcher(
		notify.Config{Enabled: true, RateLimitPerHour: 100},
		[]channel.Sender{stubSender{ch: domain.ChannelEmail}},
		nil, nil, nil,
	)
	dispatcher.RegisterAdministrator(&domain.Administrator{
		ID:       "ops",
		Name:     "Ops",
		Email:    "ops@example.com",
		IsActive: true,
		Preferences: domain.NotificationPreferences{
			Channels:   []domain.Channel{domain.ChannelEmail},
			Severities: []domain.Severity{domain.SeverityCritical},
		},
	})
	registry := recovery.NewRegistry()
	recovery.RegisterDefaults(registry)
	p := New(sink, dispatcher, registry, retrier.NewExecutor())

	report := p.HealthStatus(context.Background())
	if report.Components["dispatcher"] != StatusHealthy {
		t.Errorf("email-only dispatcher should be healthy, issues: %v", report.Issues)
	}
}

func TestHealthStatus_NoReachableChannelDegradesDispatcher(t *testing.T) {
	sink := logsink.New(logsink.Config{FlushInterval: time.Hour}, nil, nil)
	dispatcher := notify.NewDispatcher(
		notify.Config{Enabled: true, RateLimitPerHour: 100},
		[]channel.Sender{stubSender{ch: domain.ChannelEmail}},
		nil, nil, nil,
	)
	dispatcher.RegisterAdministrator(&domain.Administrator{
		ID:       "ops",
		Name:     "Ops",
		Email:    "ops@example.com",
		IsActive: true,
		Preferences: domain.NotificationPreferences{
			Channels:   []domain.Channel{domain.ChannelSMS},
			Severities: []domain.Severity{domain.SeverityCritical},
		},
	})
	registry := recovery.NewRegistry()
	recovery.RegisterDefaults(registry)
	p := New(sink, dispatcher, registry, retrier.NewExecutor())

	report := p.HealthStatus(context.Background())
	if report.Components["dispatcher"] != StatusDegraded {
		t.Error("admin without a configured channel should degrade the dispatcher")
	}
}

func TestHealthStatus_NoAdminsDegradesDispatcher(t *testing.T) {
	sink := logsink.New(logsink.Config{FlushInterval: time.Hour}, nil, nil)
	dispatcher := notify.NewDispatcher(notify.Config{Enabled: true}, nil, nil, nil, nil)
	registry := recovery.NewRegistry()
	recovery.RegisterDefaults(registry)
	p := New(sink, dispatcher, registry, retrier.NewExecutor())

	report := p.HealthStatus(context.Background())
	if report.Components["dispatcher"] != StatusDegraded {
		t.Error("enabled dispatcher without administrators should be degraded")
	}
}

// =============================================================================
// Statistics
// =============================================================================

func TestStatistics_MergesSinkAndDispatcher(t *testing.T) {
	p, _ := newTestPipeline(true)

	fault := domain.NewFault("POS_SYNC_FAILED", "pos terminal offline")
	_ = p.Handle(context.Background(), "test-op", func(ctx context.Context) error { return fault })

	report, err := p.Statistics(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("Statistics failed: %v", err)
	}
	if report.Faults.Total != 1 {
		t.Errorf("faults total = %d, want 1", report.Faults.Total)
	}
	if report.Faults.ByModule["pos"] != 1 {
		t.Errorf("pos faults = %d, want 1", report.Faults.ByModule["pos"])
	}
	if report.Period != time.Hour {
		t.Errorf("period = %v", report.Period)
	}
}

// =============================================================================
// Shutdown
// =============================================================================

func TestShutdown_FlushesAndStops(t *testing.T) {
	p, _ := newTestPipeline(true)
	p.Sink().Start(context.Background())
	p.Dispatcher().Start(context.Background())

	p.Sink().Log(context.Background(), domain.NewFault("X", "y"), logsink.EntryMeta{})
	p.Shutdown(context.Background())

	if p.Sink().BufferLen() != 0 {
		t.Errorf("buffer = %d after shutdown, want 0", p.Sink().BufferLen())
	}
}
