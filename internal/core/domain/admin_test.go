package domain

import (
	"testing"
	"time"
)

// =============================================================================
// Quiet Hours
// =============================================================================

func TestQuietHours_Contains(t *testing.T) {
	at := func(hour, min int) time.Time {
		return time.Date(2026, 3, 10, hour, min, 0, 0, time.UTC)
	}

	q := &QuietHours{Start: "09:00", End: "17:00", Timezone: "UTC"}
	if !q.Contains(at(12, 0)) {
		t.Error("12:00 should be inside 09:00-17:00")
	}
	if q.Contains(at(8, 59)) {
		t.Error("08:59 should be outside 09:00-17:00")
	}
	if q.Contains(at(17, 0)) {
		t.Error("end boundary is exclusive")
	}
	if !q.Contains(at(9, 0)) {
		t.Error("start boundary is inclusive")
	}
}

func TestQuietHours_WrapsMidnight(t *testing.T) {
	q := &QuietHours{Start: "22:00", End: "07:00", Timezone: "UTC"}

	late := time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)
	early := time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)
	midday := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	if !q.Contains(late) {
		t.Error("23:30 should be inside 22:00-07:00")
	}
	if !q.Contains(early) {
		t.Error("03:00 should be inside 22:00-07:00")
	}
	if q.Contains(midday) {
		t.Error("12:00 should be outside 22:00-07:00")
	}
}

func TestQuietHours_MalformedAndNil(t *testing.T) {
	var q *QuietHours
	if q.Contains(time.Now()) {
		t.Error("nil quiet hours should never match")
	}

	malformed := &QuietHours{Start: "banana", End: "07:00", Timezone: "UTC"}
	if malformed.Contains(time.Now()) {
		t.Error("malformed window should be treated as no quiet hours")
	}

	outOfRange := &QuietHours{Start: "25:00", End: "07:00", Timezone: "UTC"}
	if outOfRange.Contains(time.Now()) {
		t.Error("out-of-range clock should be treated as no quiet hours")
	}
}

// =============================================================================
// Preferences
// =============================================================================

func TestPreferences_AllowsModule(t *testing.T) {
	empty := NotificationPreferences{}
	if !empty.AllowsModule("accounting") {
		t.Error("empty module filter should accept every module")
	}

	scoped := NotificationPreferences{Modules: []string{"accounting", "pos"}}
	if !scoped.AllowsModule("pos") {
		t.Error("pos should be allowed")
	}
	if scoped.AllowsModule("reporting") {
		t.Error("reporting should be rejected")
	}
}

func TestPreferences_AllowsSeverity(t *testing.T) {
	p := NotificationPreferences{Severities: []Severity{SeverityHigh, SeverityCritical}}
	if !p.AllowsSeverity(SeverityCritical) {
		t.Error("critical should be allowed")
	}
	if p.AllowsSeverity(SeverityMedium) {
		t.Error("medium should be rejected")
	}
}
