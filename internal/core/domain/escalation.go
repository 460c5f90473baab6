package domain

import "time"

// EscalationRule maps fault conditions to a notification action. Rules are
// static configuration; runtime escalation state lives in the dispatcher.
type EscalationRule struct {
	Name       string               `json:"name"`
	Conditions EscalationConditions `json:"conditions"`
	Actions    EscalationActions    `json:"actions"`
}

// EscalationConditions qualify which faults a rule applies to. Empty
// Modules or ErrorCodes act as wildcards.
type EscalationConditions struct {
	Severities []Severity    `json:"severities"`
	Modules    []string      `json:"modules,omitempty"`
	ErrorCodes []string      `json:"error_codes,omitempty"`
	Frequency  int           `json:"frequency,omitempty"`
	Period     time.Duration `json:"period,omitempty"`
}

// EscalationActions describe who to notify and how, plus the optional
// second-stage escalation for faults left unresolved.
type EscalationActions struct {
	NotifyAdmins     []string      `json:"notify_admins"`
	Channels         []Channel     `json:"channels"`
	EscalateAfter    time.Duration `json:"escalate_after,omitempty"`
	EscalateToAdmins []string      `json:"escalate_to_admins,omitempty"`
}

// Matches reports whether the fault satisfies the rule's qualifying
// conditions. Frequency gating is handled separately by the dispatcher's
// per-rule counters.
func (r *EscalationRule) Matches(f *Fault) bool {
	matched := false
	for _, s := range r.Conditions.Severities {
		if s == f.Severity {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	if len(r.Conditions.Modules) > 0 {
		found := false
		for _, m := range r.Conditions.Modules {
			if m == f.Module {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(r.Conditions.ErrorCodes) > 0 {
		found := false
		for _, c := range r.Conditions.ErrorCodes {
			if c == f.Code {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
