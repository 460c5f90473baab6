package channel

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/vietddude/faultline/internal/core/domain"
)

const inAppRetained = 100

// InAppSender stores notifications in memory for the admin UI to poll.
// Delivery always succeeds; only the most recent messages are retained per
// administrator.
type InAppSender struct {
	mu       sync.Mutex
	messages map[string][]StoredMessage
}

// StoredMessage is an in-app notification awaiting pickup.
type StoredMessage struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewInAppSender creates an empty in-app store.
func NewInAppSender() *InAppSender {
	return &InAppSender{messages: make(map[string][]StoredMessage)}
}

// Name implements Sender.
func (s *InAppSender) Name() domain.Channel {
	return domain.ChannelInApp
}

// Deliver stores the message for the administrator.
func (s *InAppSender) Deliver(ctx context.Context, admin *domain.Administrator, msg Message) domain.DeliveryResult {
	id := uuid.NewString()

	s.mu.Lock()
	queue := append(s.messages[admin.ID], StoredMessage{
		ID:      id,
		Subject: msg.Subject,
		Body:    msg.Body,
	})
	if len(queue) > inAppRetained {
		queue = queue[len(queue)-inAppRetained:]
	}
	s.messages[admin.ID] = queue
	s.mu.Unlock()

	return success(admin, domain.ChannelInApp, id)
}

// Pending returns and clears the stored messages for an administrator.
func (s *InAppSender) Pending(adminID string) []StoredMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	queue := s.messages[adminID]
	delete(s.messages, adminID)
	return queue
}
