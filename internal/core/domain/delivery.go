package domain

import "time"

// DeliveryResult is the outcome of one delivery attempt to one
// administrator through one channel.
type DeliveryResult struct {
	AdminID   string    `json:"admin_id"`
	Channel   Channel   `json:"channel"`
	Success   bool      `json:"success"`
	MessageID string    `json:"message_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	SentAt    time.Time `json:"sent_at"`
}

// NotificationStatistics summarizes dispatcher activity over a period.
type NotificationStatistics struct {
	Sent        int             `json:"sent"`
	Failed      int             `json:"failed"`
	RateLimited int             `json:"rate_limited"`
	Batched     int             `json:"batched"`
	ByChannel   map[Channel]int `json:"by_channel"`
}

// DeliveryRate returns the fraction of attempts that succeeded.
func (s NotificationStatistics) DeliveryRate() float64 {
	total := s.Sent + s.Failed
	if total == 0 {
		return 1.0
	}
	return float64(s.Sent) / float64(total)
}
