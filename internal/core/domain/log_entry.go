package domain

import "time"

// LogEntry is a fault plus delivery metadata, created when a fault is logged.
type LogEntry struct {
	ID        string    `json:"id"`
	Fault     *Fault    `json:"fault"`
	UserID    string    `json:"user_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	IPAddress string    `json:"ip_address,omitempty"`
	LoggedAt  time.Time `json:"logged_at"`
}

// LogFilter selects log entries for queries and statistics.
type LogFilter struct {
	From     time.Time
	To       time.Time
	Severity Severity
	Category Category
	Module   string
	UserID   string
	Offset   int
	Limit    int
}

// LogStatistics summarizes logged faults over a period.
type LogStatistics struct {
	Total      int              `json:"total"`
	BySeverity map[Severity]int `json:"by_severity"`
	ByCategory map[Category]int `json:"by_category"`
	ByModule   map[string]int   `json:"by_module"`
	TopCodes   []CodeFrequency  `json:"top_codes"`
}

// CodeFrequency is an error code with its occurrence count and a
// representative message.
type CodeFrequency struct {
	Code    string `json:"code"`
	Count   int    `json:"count"`
	Message string `json:"message"`
}
