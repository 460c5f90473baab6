// Package control assembles the fault pipeline from configuration and
// manages its lifecycle.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/vietddude/faultline/internal/core/config"
	"github.com/vietddude/faultline/internal/core/domain"
	"github.com/vietddude/faultline/internal/infra/external"
	redisclient "github.com/vietddude/faultline/internal/infra/redis"
	"github.com/vietddude/faultline/internal/infra/storage"
	"github.com/vietddude/faultline/internal/infra/storage/memory"
	"github.com/vietddude/faultline/internal/infra/storage/postgres"
	"github.com/vietddude/faultline/internal/logsink"
	"github.com/vietddude/faultline/internal/notify"
	"github.com/vietddude/faultline/internal/notify/channel"
	"github.com/vietddude/faultline/internal/pipeline"
	"github.com/vietddude/faultline/internal/recovery"
	"github.com/vietddude/faultline/internal/retrier"
)

// App is the main application struct that manages the pipeline lifecycle.
type App struct {
	cfg         *config.AppConfig
	pipe        *pipeline.Pipeline
	server      *Server
	db          *postgres.DB
	redisClient *redisclient.Client
	log         *slog.Logger
}

// NewApp creates an App with all dependencies initialized.
func NewApp(cfg *config.AppConfig) (*App, error) {
	log := slog.Default().With("component", "control")

	// 1. Initialize Storage
	var repo storage.LogRepository
	var db *postgres.DB
	if cfg.Logging.EnableDatabase && cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}

		// Run migrations
		if err := goose.SetDialect("postgres"); err != nil {
			return nil, err
		}
		if err := goose.Up(db.DB.DB, "migrations"); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}

		repo = postgres.NewLogRepo(db)
		log.Info("Using PostgreSQL log storage")
	} else {
		repo = memory.NewLogRepo()
		log.Info("Using in-memory log storage")
	}

	// 2. External log shipper
	var shipper *external.Client
	if cfg.Logging.EnableExternal && cfg.External.Enabled() {
		shipper = external.NewClient(cfg.External)
		log.Info("External log shipping enabled", "endpoint", cfg.External.Endpoint)
	}

	// 3. Shared rate-limit counters
	var redisClient *redisclient.Client
	var shared notify.SharedCounter
	if cfg.Redis.URL != "" {
		var err error
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		shared = redisClient
		log.Info("Using Redis-backed rate limit counters")
	}

	// 4. Log sink
	sink := logsink.New(logsink.Config{
		EnableConsole:  cfg.Logging.EnableConsole,
		EnableDatabase: cfg.Logging.EnableDatabase,
		EnableExternal: shipper != nil,
		MinSeverity:    domain.Severity(cfg.Logging.Level),
		MaxEntries:     cfg.Logging.MaxEntries,
		RetentionDays:  cfg.Logging.RetentionDays,
		FlushInterval:  cfg.Logging.FlushInterval,
	}, repo, shipper)

	// 5. Notification dispatcher
	dispatcher := notify.NewDispatcher(
		notify.Config{
			Enabled:          cfg.Notifications.Enabled,
			RateLimitPerHour: cfg.Notifications.RateLimitPerHour,
			BatchingEnabled:  cfg.Notifications.BatchingEnabled,
			BatchingInterval: cfg.Notifications.BatchingInterval,
			MaxBatchSize:     cfg.Notifications.MaxBatchSize,
		},
		buildSenders(cfg.Channels),
		buildTemplates(cfg.Templates),
		buildRules(cfg.Escalations),
		shared,
	)
	for _, adminCfg := range cfg.Administrators {
		dispatcher.RegisterAdministrator(adminCfg.DomainAdministrator())
	}

	// 6. Recovery registry and retry executor
	registry := recovery.NewRegistry()
	recovery.RegisterDefaults(registry)

	executor := retrier.NewExecutor()
	for module, retryCfg := range cfg.Retry {
		executor.RegisterPolicy(module, retrier.Policy{
			MaxAttempts:       retryCfg.MaxAttempts,
			InitialDelay:      retryCfg.InitialDelay,
			MaxDelay:          retryCfg.MaxDelay,
			BackoffMultiple:   retryCfg.BackoffMultiple,
			RetryableCodes:    retryCfg.RetryableCodes,
			BreakerThreshold:  retryCfg.BreakerThreshold,
			BreakerResetAfter: retryCfg.BreakerResetAfter,
		})
	}

	// 7. Pipeline facade and HTTP server
	pipe := pipeline.New(sink, dispatcher, registry, executor)
	server := NewServer(pipe, cfg.Server.Port)

	return &App{
		cfg:         cfg,
		pipe:        pipe,
		server:      server,
		db:          db,
		redisClient: redisClient,
		log:         log,
	}, nil
}

// Pipeline returns the assembled fault pipeline for request-handling code.
func (a *App) Pipeline() *pipeline.Pipeline {
	return a.pipe
}

// Start launches the flush and batch timers and the HTTP server.
func (a *App) Start(ctx context.Context) error {
	a.pipe.Sink().Start(ctx)
	a.pipe.Dispatcher().Start(ctx)

	go func() {
		if err := a.server.Start(); err != nil {
			a.log.Error("Health server stopped", "error", err)
		}
	}()

	if a.cfg.Notifications.Enabled && a.cfg.Environment != "development" {
		a.pipe.Dispatcher().NotifySystemHealth(ctx,
			"Fault pipeline started",
			domain.SeverityLow,
			map[string]any{"environment": a.cfg.Environment, "started_at": time.Now().UTC().Format(time.RFC3339)},
		)
	}

	a.log.Info("Fault pipeline started", "environment", a.cfg.Environment, "port", a.cfg.Server.Port)
	return nil
}

// Stop shuts the pipeline down: HTTP server first, then logs flushed,
// timers stopped and batches drained, then connections closed.
func (a *App) Stop(ctx context.Context) error {
	if err := a.server.Stop(ctx); err != nil {
		a.log.Warn("Health server shutdown failed", "error", err)
	}

	a.pipe.Shutdown(ctx)

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Warn("Redis close failed", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("Database close failed", "error", err)
		}
	}

	a.log.Info("Fault pipeline stopped")
	return nil
}

func buildSenders(cfg config.ChannelConfig) []channel.Sender {
	var senders []channel.Sender
	if cfg.Email != nil {
		senders = append(senders, channel.NewEmailSender(*cfg.Email))
	}
	if cfg.SMS != nil {
		senders = append(senders, channel.NewSMSSender(*cfg.SMS))
	}
	if cfg.Chat != nil {
		senders = append(senders, channel.NewChatSender(*cfg.Chat))
	}
	if cfg.Webhook != nil {
		senders = append(senders, channel.NewWebhookSender(*cfg.Webhook))
	}
	if cfg.InApp {
		senders = append(senders, channel.NewInAppSender())
	}
	return senders
}

func buildTemplates(cfgs []config.TemplateConfig) []domain.NotificationTemplate {
	templates := make([]domain.NotificationTemplate, 0, len(cfgs))
	for _, c := range cfgs {
		templates = append(templates, c.DomainTemplate())
	}
	return templates
}

func buildRules(cfgs []config.EscalationRuleConfig) []domain.EscalationRule {
	rules := make([]domain.EscalationRule, 0, len(cfgs))
	for _, c := range cfgs {
		rules = append(rules, c.DomainRule())
	}
	return rules
}
