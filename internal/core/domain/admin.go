package domain

import (
	"fmt"
	"time"
)

// Channel identifies a notification delivery channel.
type Channel string

const (
	ChannelEmail   Channel = "email"
	ChannelSMS     Channel = "sms"
	ChannelChat    Channel = "chat"
	ChannelWebhook Channel = "webhook"
	ChannelInApp   Channel = "in_app"
)

// Administrator is a human recipient of pipeline notifications.
type Administrator struct {
	ID          string                  `json:"id"`
	Name        string                  `json:"name"`
	Email       string                  `json:"email"`
	Phone       string                  `json:"phone,omitempty"`
	ChatHandle  string                  `json:"chat_handle,omitempty"`
	Role        string                  `json:"role"`
	IsActive    bool                    `json:"is_active"`
	Preferences NotificationPreferences `json:"preferences"`
}

// NotificationPreferences controls which notifications reach an
// administrator. An empty Modules list means all modules.
type NotificationPreferences struct {
	Channels   []Channel   `json:"channels"`
	Severities []Severity  `json:"severities"`
	Modules    []string    `json:"modules,omitempty"`
	QuietHours *QuietHours `json:"quiet_hours,omitempty"`
}

// AllowsSeverity reports whether the preferences accept the severity.
func (p NotificationPreferences) AllowsSeverity(s Severity) bool {
	for _, allowed := range p.Severities {
		if allowed == s {
			return true
		}
	}
	return false
}

// AllowsModule reports whether the preferences accept the module.
// An empty filter accepts every module.
func (p NotificationPreferences) AllowsModule(module string) bool {
	if len(p.Modules) == 0 {
		return true
	}
	for _, m := range p.Modules {
		if m == module {
			return true
		}
	}
	return false
}

// QuietHours is a daily local-time window during which only critical
// notifications are delivered. Start and End are "HH:MM"; a window may wrap
// past midnight (e.g. 22:00 to 07:00).
type QuietHours struct {
	Start    string `json:"start"`
	End      string `json:"end"`
	Timezone string `json:"timezone"`
}

// Contains reports whether the instant falls inside the quiet window.
// Malformed windows are treated as no quiet hours.
func (q *QuietHours) Contains(at time.Time) bool {
	if q == nil {
		return false
	}
	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := at.In(loc)

	start, err1 := parseClock(q.Start)
	end, err2 := parseClock(q.End)
	if err1 != nil || err2 != nil {
		return false
	}

	now := local.Hour()*60 + local.Minute()
	if start <= end {
		return now >= start && now < end
	}
	// Window wraps past midnight.
	return now >= start || now < end
}

func parseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, err
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid clock value %q", s)
	}
	return h*60 + m, nil
}
