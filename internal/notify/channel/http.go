package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/faultline/internal/core/domain"
)

// GatewayConfig holds settings for an HTTP-gateway-backed channel
// (SMS, chat, webhook).
type GatewayConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

func postJSON(ctx context.Context, client *http.Client, cfg GatewayConfig, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}
	return nil
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

// SMSSender delivers notifications through an SMS gateway.
type SMSSender struct {
	cfg  GatewayConfig
	http *http.Client
}

// NewSMSSender creates an SMS sender.
func NewSMSSender(cfg GatewayConfig) *SMSSender {
	return &SMSSender{cfg: cfg, http: newHTTPClient()}
}

// Name implements Sender.
func (s *SMSSender) Name() domain.Channel {
	return domain.ChannelSMS
}

// Deliver sends the message body to the administrator's phone number.
func (s *SMSSender) Deliver(ctx context.Context, admin *domain.Administrator, msg Message) domain.DeliveryResult {
	if admin.Phone == "" {
		return failure(admin, domain.ChannelSMS, "no phone number on record")
	}
	payload := map[string]string{
		"to":   admin.Phone,
		"body": msg.Subject + "\n" + msg.Body,
	}
	if err := postJSON(ctx, s.http, s.cfg, payload); err != nil {
		return failure(admin, domain.ChannelSMS, err.Error())
	}
	return success(admin, domain.ChannelSMS, uuid.NewString())
}

// ChatSender delivers notifications to a chat workspace webhook.
type ChatSender struct {
	cfg  GatewayConfig
	http *http.Client
}

// NewChatSender creates a chat sender.
func NewChatSender(cfg GatewayConfig) *ChatSender {
	return &ChatSender{cfg: cfg, http: newHTTPClient()}
}

// Name implements Sender.
func (s *ChatSender) Name() domain.Channel {
	return domain.ChannelChat
}

// Deliver posts the message mentioning the administrator's chat handle.
func (s *ChatSender) Deliver(ctx context.Context, admin *domain.Administrator, msg Message) domain.DeliveryResult {
	if admin.ChatHandle == "" {
		return failure(admin, domain.ChannelChat, "no chat handle on record")
	}
	payload := map[string]string{
		"channel": admin.ChatHandle,
		"title":   msg.Subject,
		"text":    msg.Body,
	}
	if err := postJSON(ctx, s.http, s.cfg, payload); err != nil {
		return failure(admin, domain.ChannelChat, err.Error())
	}
	return success(admin, domain.ChannelChat, uuid.NewString())
}

// WebhookSender posts the full notification as JSON to a fixed webhook URL.
type WebhookSender struct {
	cfg  GatewayConfig
	http *http.Client
}

// NewWebhookSender creates a webhook sender.
func NewWebhookSender(cfg GatewayConfig) *WebhookSender {
	return &WebhookSender{cfg: cfg, http: newHTTPClient()}
}

// Name implements Sender.
func (s *WebhookSender) Name() domain.Channel {
	return domain.ChannelWebhook
}

// Deliver posts the rendered notification with recipient metadata.
func (s *WebhookSender) Deliver(ctx context.Context, admin *domain.Administrator, msg Message) domain.DeliveryResult {
	payload := map[string]any{
		"admin_id":  admin.ID,
		"subject":   msg.Subject,
		"body":      msg.Body,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if err := postJSON(ctx, s.http, s.cfg, payload); err != nil {
		return failure(admin, domain.ChannelWebhook, err.Error())
	}
	return success(admin, domain.ChannelWebhook, uuid.NewString())
}
