// Package classify derives severity, category and module for faults.
// Classification is pure: the same input always yields the same result, so
// it can run identically at log time and at notification time.
package classify

import (
	"errors"
	"strings"

	"github.com/vietddude/faultline/internal/core/domain"
)

// categoryRules are evaluated top to bottom against the lowercased message;
// the first match wins.
var categoryRules = []struct {
	substr string
	result domain.Category
}{
	{"validation", domain.CategoryValidation},
	{"auth", domain.CategoryAuthentication},
	{"database", domain.CategoryDatabase},
	{"network", domain.CategoryNetwork},
}

// moduleRules are evaluated against the lowercased code and message.
var moduleRules = []struct {
	substr string
	result string
}{
	{"accounting", "accounting"},
	{"reporting", "reporting"},
	{"pos", "pos"},
	{"notification", "notification"},
}

// Severity resolves the fault's severity. An explicit value wins; otherwise
// it is derived from the HTTP-like status code.
func Severity(f *domain.Fault) domain.Severity {
	if f.Severity.Valid() {
		return f.Severity
	}
	switch {
	case f.StatusCode >= 500:
		return domain.SeverityCritical
	case f.StatusCode >= 400:
		return domain.SeverityHigh
	default:
		return domain.SeverityMedium
	}
}

// Category resolves the fault's category. An explicit value wins; otherwise
// the message text is pattern-matched in priority order.
func Category(f *domain.Fault) domain.Category {
	if f.Category != "" {
		return f.Category
	}
	msg := strings.ToLower(f.Message)
	for _, rule := range categoryRules {
		if strings.Contains(msg, rule.substr) {
			return rule.result
		}
	}
	return domain.CategorySystem
}

// Module resolves the fault's owning module. An explicit value (field or
// context) wins; otherwise the code and message are pattern-matched.
func Module(f *domain.Fault) string {
	if f.Module != "" {
		return f.Module
	}
	if m, ok := f.Context["module"].(string); ok && m != "" {
		return m
	}
	text := strings.ToLower(f.Code + " " + f.Message)
	for _, rule := range moduleRules {
		if strings.Contains(text, rule.substr) {
			return rule.result
		}
	}
	return "unknown"
}

// Fault returns a classified copy of f. The input is never mutated; a fault
// that is already fully classified is returned as-is.
func Fault(f *domain.Fault) *domain.Fault {
	if f.Severity.Valid() && f.Category != "" && f.Module != "" {
		return f
	}
	c := *f
	c.Severity = Severity(f)
	c.Category = Category(f)
	c.Module = Module(f)
	return &c
}

// FromError converts an arbitrary error into a classified fault. Typed
// faults pass through classification unchanged; foreign errors default to
// high severity in the "unknown" module.
func FromError(err error) *domain.Fault {
	var f *domain.Fault
	if errors.As(err, &f) {
		return Fault(f)
	}
	foreign := domain.NewFault("UNCLASSIFIED_ERROR", err.Error())
	foreign.Severity = domain.SeverityHigh
	foreign.Category = Category(foreign)
	foreign.Module = Module(foreign)
	return foreign
}
