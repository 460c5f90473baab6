package config

import (
	"time"

	"github.com/vietddude/faultline/internal/core/domain"
	"github.com/vietddude/faultline/internal/infra/external"
	redisclient "github.com/vietddude/faultline/internal/infra/redis"
	"github.com/vietddude/faultline/internal/infra/storage/postgres"
	"github.com/vietddude/faultline/internal/notify/channel"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Environment    string                 `yaml:"environment"` // production, staging, development
	Server         ServerConfig           `yaml:"server"`
	Logging        LoggingConfig          `yaml:"logging"`
	Notifications  NotificationConfig     `yaml:"notifications"`
	Database       postgres.Config        `yaml:"database"`
	Redis          redisclient.Config     `yaml:"redis"`
	External       external.Config        `yaml:"external_logging"`
	Channels       ChannelConfig          `yaml:"channels"`
	Escalations    []EscalationRuleConfig `yaml:"escalations"`
	Templates      []TemplateConfig       `yaml:"templates"`
	Administrators []AdministratorConfig  `yaml:"administrators"`
	Retry          map[string]RetryConfig `yaml:"retry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds log sink settings.
type LoggingConfig struct {
	Level          string        `yaml:"level"` // low, medium, high, critical
	EnableConsole  bool          `yaml:"enable_console"`
	EnableDatabase bool          `yaml:"enable_database"`
	EnableExternal bool          `yaml:"enable_external"`
	MaxEntries     int           `yaml:"max_entries"`
	RetentionDays  int           `yaml:"retention_days"`
	FlushInterval  time.Duration `yaml:"flush_interval"`
}

// NotificationConfig holds dispatcher settings.
type NotificationConfig struct {
	Enabled          bool          `yaml:"enabled"`
	RateLimitPerHour int           `yaml:"rate_limit_per_hour"`
	BatchingEnabled  bool          `yaml:"batching_enabled"`
	BatchingInterval time.Duration `yaml:"batching_interval"`
	MaxBatchSize     int           `yaml:"max_batch_size"`
}

// ChannelConfig holds per-channel sender settings. A channel with no
// configuration is not constructed.
type ChannelConfig struct {
	Email   *channel.EmailConfig   `yaml:"email"`
	SMS     *channel.GatewayConfig `yaml:"sms"`
	Chat    *channel.GatewayConfig `yaml:"chat"`
	Webhook *channel.GatewayConfig `yaml:"webhook"`
	InApp   bool                   `yaml:"in_app"`
}

// EscalationRuleConfig declares one escalation rule.
type EscalationRuleConfig struct {
	Name             string        `yaml:"name"`
	Severities       []string      `yaml:"severities"`
	Modules          []string      `yaml:"modules"`
	ErrorCodes       []string      `yaml:"error_codes"`
	Frequency        int           `yaml:"frequency"`
	Period           time.Duration `yaml:"period"`
	NotifyAdmins     []string      `yaml:"notify_admins"`
	Channels         []string      `yaml:"channels"`
	EscalateAfter    time.Duration `yaml:"escalate_after"`
	EscalateToAdmins []string      `yaml:"escalate_to_admins"`
}

// TemplateConfig declares one notification template.
type TemplateConfig struct {
	Channel  string `yaml:"channel"`
	Severity string `yaml:"severity"`
	Batch    bool   `yaml:"batch"`
	Subject  string `yaml:"subject"`
	Body     string `yaml:"body"`
}

// AdministratorConfig declares one administrator and their preferences.
type AdministratorConfig struct {
	ID         string   `yaml:"id"`
	Name       string   `yaml:"name"`
	Email      string   `yaml:"email"`
	Phone      string   `yaml:"phone"`
	ChatHandle string   `yaml:"chat_handle"`
	Role       string   `yaml:"role"`
	IsActive   bool     `yaml:"is_active"`
	Channels   []string `yaml:"channels"`
	Severities []string `yaml:"severities"`
	Modules    []string `yaml:"modules"`
	QuietHours *struct {
		Start    string `yaml:"start"`
		End      string `yaml:"end"`
		Timezone string `yaml:"timezone"`
	} `yaml:"quiet_hours"`
}

// RetryConfig declares the retry policy for one business module.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	InitialDelay      time.Duration `yaml:"initial_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffMultiple   float64       `yaml:"backoff_multiple"`
	RetryableCodes    []string      `yaml:"retryable_codes"`
	BreakerThreshold  int           `yaml:"breaker_threshold"`
	BreakerResetAfter time.Duration `yaml:"breaker_reset_after"`
}

// DomainRule converts the config rule to its domain form.
func (c EscalationRuleConfig) DomainRule() domain.EscalationRule {
	return domain.EscalationRule{
		Name: c.Name,
		Conditions: domain.EscalationConditions{
			Severities: toSeverities(c.Severities),
			Modules:    c.Modules,
			ErrorCodes: c.ErrorCodes,
			Frequency:  c.Frequency,
			Period:     c.Period,
		},
		Actions: domain.EscalationActions{
			NotifyAdmins:     c.NotifyAdmins,
			Channels:         toChannels(c.Channels),
			EscalateAfter:    c.EscalateAfter,
			EscalateToAdmins: c.EscalateToAdmins,
		},
	}
}

// DomainTemplate converts the config template to its domain form.
func (c TemplateConfig) DomainTemplate() domain.NotificationTemplate {
	return domain.NotificationTemplate{
		Channel:  domain.Channel(c.Channel),
		Severity: domain.Severity(c.Severity),
		Batch:    c.Batch,
		Subject:  c.Subject,
		Body:     c.Body,
	}
}

// DomainAdministrator converts the config administrator to its domain form.
func (c AdministratorConfig) DomainAdministrator() *domain.Administrator {
	admin := &domain.Administrator{
		ID:         c.ID,
		Name:       c.Name,
		Email:      c.Email,
		Phone:      c.Phone,
		ChatHandle: c.ChatHandle,
		Role:       c.Role,
		IsActive:   c.IsActive,
		Preferences: domain.NotificationPreferences{
			Channels:   toChannels(c.Channels),
			Severities: toSeverities(c.Severities),
			Modules:    c.Modules,
		},
	}
	if c.QuietHours != nil {
		admin.Preferences.QuietHours = &domain.QuietHours{
			Start:    c.QuietHours.Start,
			End:      c.QuietHours.End,
			Timezone: c.QuietHours.Timezone,
		}
	}
	return admin
}

func toSeverities(values []string) []domain.Severity {
	out := make([]domain.Severity, 0, len(values))
	for _, v := range values {
		out = append(out, domain.Severity(v))
	}
	return out
}

func toChannels(values []string) []domain.Channel {
	out := make([]domain.Channel, 0, len(values))
	for _, v := range values {
		out = append(out, domain.Channel(v))
	}
	return out
}
