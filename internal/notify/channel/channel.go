// Package channel implements the delivery boundary for each notification
// channel. Senders never panic: a missing contact field or a gateway error
// is a normal failure result.
package channel

import (
	"context"
	"time"

	"github.com/vietddude/faultline/internal/core/domain"
)

// Message is a rendered notification ready for delivery.
type Message struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Sender delivers messages to one administrator through one channel.
type Sender interface {
	// Name returns the channel this sender serves.
	Name() domain.Channel

	// Deliver attempts delivery and reports the result. It must not panic;
	// absence of a required contact field is a failure result, not an error.
	Deliver(ctx context.Context, admin *domain.Administrator, msg Message) domain.DeliveryResult
}

func failure(admin *domain.Administrator, ch domain.Channel, reason string) domain.DeliveryResult {
	return domain.DeliveryResult{
		AdminID: admin.ID,
		Channel: ch,
		Success: false,
		Error:   reason,
		SentAt:  time.Now(),
	}
}

func success(admin *domain.Administrator, ch domain.Channel, messageID string) domain.DeliveryResult {
	return domain.DeliveryResult{
		AdminID:   admin.ID,
		Channel:   ch,
		Success:   true,
		MessageID: messageID,
		SentAt:    time.Now(),
	}
}
