package pipeline

import (
	"context"
	"fmt"

	"github.com/vietddude/faultline/internal/core/domain"
	"github.com/vietddude/faultline/internal/logsink"
)

// Status is the aggregate health of the pipeline.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// HealthReport describes the pipeline's component health.
type HealthReport struct {
	Status     Status            `json:"status"`
	Components map[string]Status `json:"components"`
	Issues     []string          `json:"issues,omitempty"`
}

// HealthStatus probes the log sink, dispatcher and recovery registry. A
// probe failure downgrades only its own component and never panics out.
func (p *Pipeline) HealthStatus(ctx context.Context) *HealthReport {
	report := &HealthReport{
		Components: map[string]Status{
			"logsink":    StatusHealthy,
			"dispatcher": StatusHealthy,
			"recovery":   StatusHealthy,
		},
	}

	p.probe("logsink", report, func() error {
		f := domain.NewFault("HEALTH_CHECK", "pipeline health probe")
		f.Severity = domain.SeverityLow
		f.Category = domain.CategorySystem
		f.Module = "system"
		p.sink.Log(ctx, f, logsink.EntryMeta{})
		return nil
	})

	p.probe("dispatcher", report, func() error {
		if !p.dispatcher.Enabled() {
			return nil // disabled is a configuration choice, not a failure
		}
		if len(p.dispatcher.AdminIDs()) == 0 {
			return fmt.Errorf("no administrators registered")
		}
		adminID, ch, ok := p.dispatcher.ProbeTarget()
		if !ok {
			return fmt.Errorf("no administrator reachable on a configured channel")
		}
		result := p.dispatcher.TestNotification(ctx, adminID, ch)
		if !result.Success && result.Error != "rate limited" {
			return fmt.Errorf("test notification failed: %s", result.Error)
		}
		return nil
	})

	p.probe("recovery", report, func() error {
		if p.registry.Len() == 0 {
			return fmt.Errorf("no recovery strategies registered")
		}
		return nil
	})

	failed := 0
	for _, status := range report.Components {
		if status == StatusDegraded {
			failed++
		}
	}
	switch {
	case failed == 0:
		report.Status = StatusHealthy
	case failed == len(report.Components):
		report.Status = StatusUnhealthy
	default:
		report.Status = StatusDegraded
	}
	return report
}

func (p *Pipeline) probe(component string, report *HealthReport, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			report.Components[component] = StatusDegraded
			report.Issues = append(report.Issues, fmt.Sprintf("%s: probe panicked: %v", component, r))
		}
	}()
	if err := fn(); err != nil {
		report.Components[component] = StatusDegraded
		report.Issues = append(report.Issues, fmt.Sprintf("%s: %v", component, err))
	}
}
