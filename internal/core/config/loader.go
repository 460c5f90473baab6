package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	applyEnvironment(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "low"
	}
	if cfg.Logging.MaxEntries == 0 {
		cfg.Logging.MaxEntries = 1000
	}
	if cfg.Logging.RetentionDays == 0 {
		cfg.Logging.RetentionDays = 30
	}
	if cfg.Logging.FlushInterval == 0 {
		cfg.Logging.FlushInterval = 30 * time.Second
	}
	if cfg.Notifications.RateLimitPerHour == 0 {
		cfg.Notifications.RateLimitPerHour = 10
	}
	if cfg.Notifications.BatchingInterval == 0 {
		cfg.Notifications.BatchingInterval = 5 * time.Minute
	}
	if cfg.Notifications.MaxBatchSize == 0 {
		cfg.Notifications.MaxBatchSize = 10
	}
}

// applyEnvironment adjusts flags per deployment environment: production
// ships logs externally and allows more alerts; development stays console
// only with notifications off.
func applyEnvironment(cfg *AppConfig) {
	switch cfg.Environment {
	case "production":
		cfg.Logging.EnableConsole = true
		cfg.Logging.EnableDatabase = cfg.Database.URL != ""
		cfg.Logging.EnableExternal = cfg.External.Enabled()
		if cfg.Notifications.RateLimitPerHour < 20 {
			cfg.Notifications.RateLimitPerHour = 20
		}
	case "development":
		cfg.Logging.EnableConsole = true
		cfg.Logging.EnableDatabase = false
		cfg.Logging.EnableExternal = false
		cfg.Notifications.Enabled = false
	}
}

func validate(cfg *AppConfig) error {
	if cfg.Notifications.Enabled && cfg.Notifications.RateLimitPerHour <= 0 {
		return fmt.Errorf("notifications.rate_limit_per_hour must be positive")
	}
	if cfg.Notifications.BatchingEnabled && cfg.Notifications.MaxBatchSize <= 0 {
		return fmt.Errorf("notifications.max_batch_size must be positive")
	}
	seen := make(map[string]bool)
	for _, admin := range cfg.Administrators {
		if admin.ID == "" {
			return fmt.Errorf("administrator missing id")
		}
		if seen[admin.ID] {
			return fmt.Errorf("duplicate administrator id %q", admin.ID)
		}
		seen[admin.ID] = true
		if admin.Email == "" {
			return fmt.Errorf("administrator %s missing email", admin.ID)
		}
	}
	return nil
}
