package domain

import (
	"fmt"
	"time"
)

// Severity is the urgency level of a fault.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRank orders severities for filtering and escalation.
var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// AtLeast reports whether s is at least as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// Category groups faults by the kind of failure.
type Category string

const (
	CategoryValidation     Category = "validation"
	CategoryAuthentication Category = "authentication"
	CategoryDatabase       Category = "database"
	CategoryNetwork        Category = "network"
	CategoryIntegration    Category = "integration"
	CategoryBusinessLogic  Category = "business_logic"
	CategorySystem         Category = "system"
)

// Fault is an immutable classified error value flowing through the pipeline.
// Severity, Category and Module may be empty on construction; classification
// fills them in exactly once before the fault reaches the log sink.
type Fault struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Severity   Severity       `json:"severity"`
	Category   Category       `json:"category"`
	Module     string         `json:"module"`
	Context    map[string]any `json:"context,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	StatusCode int            `json:"status_code,omitempty"`
}

// NewFault creates a fault with the given code and message, stamped now.
func NewFault(code, message string) *Fault {
	return &Fault{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Error implements the error interface.
func (f *Fault) Error() string {
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

// Retryable reports the retryable flag from the fault context, if present.
func (f *Fault) Retryable() bool {
	v, ok := f.Context["retryable"]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// WithContext returns a copy of the fault with the given key set. The
// receiver is not mutated.
func (f *Fault) WithContext(key string, value any) *Fault {
	c := *f
	c.Context = make(map[string]any, len(f.Context)+1)
	for k, v := range f.Context {
		c.Context[k] = v
	}
	c.Context[key] = value
	return &c
}
