package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "environment: staging\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Logging.MaxEntries != 1000 {
		t.Errorf("max entries = %d, want 1000", cfg.Logging.MaxEntries)
	}
	if cfg.Logging.FlushInterval != 30*time.Second {
		t.Errorf("flush interval = %v, want 30s", cfg.Logging.FlushInterval)
	}
	if cfg.Notifications.RateLimitPerHour != 10 {
		t.Errorf("rate limit = %d, want 10", cfg.Notifications.RateLimitPerHour)
	}
	if cfg.Notifications.BatchingInterval != 5*time.Minute {
		t.Errorf("batching interval = %v, want 5m", cfg.Notifications.BatchingInterval)
	}
}

func TestLoad_EnvironmentExpansion(t *testing.T) {
	t.Setenv("TEST_DB_URL", "postgres://u:p@localhost/faults")

	path := writeConfig(t, `
environment: staging
database:
  url: ${TEST_DB_URL}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Database.URL != "postgres://u:p@localhost/faults" {
		t.Errorf("database url = %q", cfg.Database.URL)
	}
}

func TestLoad_ProductionOverrides(t *testing.T) {
	path := writeConfig(t, `
environment: production
notifications:
  enabled: true
  rate_limit_per_hour: 5
database:
  url: postgres://localhost/faults
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.Logging.EnableDatabase {
		t.Error("production with a database URL should persist logs")
	}
	if cfg.Notifications.RateLimitPerHour < 20 {
		t.Errorf("production rate limit = %d, want >= 20", cfg.Notifications.RateLimitPerHour)
	}
}

func TestLoad_DevelopmentDisablesNotifications(t *testing.T) {
	path := writeConfig(t, `
environment: development
notifications:
  enabled: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Notifications.Enabled {
		t.Error("development should force notifications off")
	}
	if cfg.Logging.EnableDatabase {
		t.Error("development should not persist logs")
	}
}

func TestLoad_ValidatesAdministrators(t *testing.T) {
	path := writeConfig(t, `
environment: staging
administrators:
  - id: a1
    email: a1@example.com
  - id: a1
    email: dup@example.com
`)

	if _, err := Load(path); err == nil {
		t.Error("duplicate administrator id should fail validation")
	}

	path = writeConfig(t, `
environment: staging
administrators:
  - id: a1
`)
	if _, err := Load(path); err == nil {
		t.Error("administrator without email should fail validation")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/does/not/exist.yaml"); err == nil {
		t.Error("missing file should fail")
	}
}

func TestAdministratorConfig_DomainConversion(t *testing.T) {
	cfg := AdministratorConfig{
		ID:         "a1",
		Name:       "On Call",
		Email:      "a1@example.com",
		IsActive:   true,
		Channels:   []string{"email", "sms"},
		Severities: []string{"high", "critical"},
		Modules:    []string{"pos"},
	}
	cfg.QuietHours = &struct {
		Start    string `yaml:"start"`
		End      string `yaml:"end"`
		Timezone string `yaml:"timezone"`
	}{Start: "22:00", End: "07:00", Timezone: "UTC"}

	admin := cfg.DomainAdministrator()
	if len(admin.Preferences.Channels) != 2 {
		t.Errorf("channels = %v", admin.Preferences.Channels)
	}
	if admin.Preferences.QuietHours == nil || admin.Preferences.QuietHours.Start != "22:00" {
		t.Errorf("quiet hours not converted: %+v", admin.Preferences.QuietHours)
	}
	if !admin.Preferences.AllowsModule("pos") || admin.Preferences.AllowsModule("reporting") {
		t.Error("module filter not converted")
	}
}
