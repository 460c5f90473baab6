package channel

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/google/uuid"

	"github.com/vietddude/faultline/internal/core/domain"
)

// EmailConfig holds SMTP settings.
type EmailConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// EmailSender delivers notifications over SMTP.
type EmailSender struct {
	cfg EmailConfig
}

// NewEmailSender creates an email sender.
func NewEmailSender(cfg EmailConfig) *EmailSender {
	return &EmailSender{cfg: cfg}
}

// Name implements Sender.
func (s *EmailSender) Name() domain.Channel {
	return domain.ChannelEmail
}

// Deliver sends the message to the administrator's email address.
func (s *EmailSender) Deliver(ctx context.Context, admin *domain.Administrator, msg Message) domain.DeliveryResult {
	if admin.Email == "" {
		return failure(admin, domain.ChannelEmail, "no email address on record")
	}

	body := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s",
		s.cfg.From, admin.Email, msg.Subject, msg.Body,
	)

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	if err := smtp.SendMail(addr, auth, s.cfg.From, []string{admin.Email}, []byte(body)); err != nil {
		return failure(admin, domain.ChannelEmail, err.Error())
	}
	return success(admin, domain.ChannelEmail, uuid.NewString())
}
