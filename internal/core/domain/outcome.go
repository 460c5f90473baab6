package domain

// RecoveryStatus is the terminal state of one recovery invocation.
type RecoveryStatus string

const (
	RecoveryAttempted       RecoveryStatus = "attempted"
	RecoveryRecovered       RecoveryStatus = "recovered"
	RecoveryFallbackApplied RecoveryStatus = "fallback_applied"
	RecoveryUnrecovered     RecoveryStatus = "unrecovered"
)

// RecoveryOutcome describes what a recovery strategy did with a fault.
type RecoveryOutcome struct {
	Status  RecoveryStatus `json:"status"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Recovered reports whether the outcome resolved the fault, either through
// genuine recovery or an applied fallback.
func (o RecoveryOutcome) Recovered() bool {
	return o.Status == RecoveryRecovered || o.Status == RecoveryFallbackApplied
}
