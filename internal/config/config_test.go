package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Server.Host == "" {
		t.Error("expected Server.Host to be set")
	}
	if cfg.Server.Port == 0 {
		t.Error("expected Server.Port to be non-zero")
	}
	if cfg.Database.Name == "" {
		t.Error("expected Database.Name to be set")
	}
	if cfg.Log.Level == "" {
		t.Error("expected Log.Level to be set")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestConfig_AutomationDefaults(t *testing.T) {
	a := GetDefaultConfig().Automation

	if a.SweepInterval != 60*time.Second {
		t.Errorf("sweep interval = %v, want 60s", a.SweepInterval)
	}
	if a.RetryAttempts != 3 || a.RetryBaseDelay != 500*time.Millisecond {
		t.Errorf("unexpected retry defaults: %d/%v", a.RetryAttempts, a.RetryBaseDelay)
	}
	if a.ContractExpiryDays != 7 || a.InvoiceDueDays != 7 {
		t.Errorf("unexpected day defaults: %d/%d", a.ContractExpiryDays, a.InvoiceDueDays)
	}
	if a.DepositRatio != 0.5 {
		t.Errorf("deposit ratio = %v, want 0.5", a.DepositRatio)
	}
	if a.DefaultIntervalMinutes != 1440 {
		t.Errorf("default interval = %d, want 1440", a.DefaultIntervalMinutes)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	content := `
database:
  driver: sqlite
  dsn: "file::memory:"
automation:
  sweep_interval: 5s
  deposit_ratio: 0.3
mail:
  provider: log
  from: billing@example.com
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.DSN != "file::memory:" {
		t.Errorf("database not overridden: %+v", cfg.Database)
	}
	if cfg.Automation.SweepInterval != 5*time.Second {
		t.Errorf("sweep interval = %v, want 5s", cfg.Automation.SweepInterval)
	}
	if cfg.Automation.DepositRatio != 0.3 {
		t.Errorf("deposit ratio = %v", cfg.Automation.DepositRatio)
	}
	if cfg.Mail.From != "billing@example.com" {
		t.Errorf("mail from = %q", cfg.Mail.From)
	}
	// untouched keys keep defaults
	if cfg.Automation.InvoiceDueDays != 7 {
		t.Errorf("invoice due days should keep default, got %d", cfg.Automation.InvoiceDueDays)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("FREELANCEHUB_MAIL_FROM", "env@example.com")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Mail.From != "env@example.com" {
		t.Errorf("mail from = %q, want env override", cfg.Mail.From)
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"mail provider", func(c *Config) { c.Mail.Provider = "smtp" }},
		{"sequencer", func(c *Config) { c.Automation.InvoiceSequencer = "uuid" }},
		{"redis sequencer without redis", func(c *Config) { c.Automation.InvoiceSequencer = "redis" }},
		{"sweep interval", func(c *Config) { c.Automation.SweepInterval = 0 }},
		{"deposit ratio", func(c *Config) { c.Automation.DepositRatio = 1.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestDatabaseConfig_ConnectionString(t *testing.T) {
	d := GetDefaultConfig().Database
	got := d.ConnectionString()
	want := "host=localhost user=postgres password=password dbname=freelancehub port=5432 sslmode=disable TimeZone=UTC"
	if got != want {
		t.Fatalf("ConnectionString() = %q, want %q", got, want)
	}
	d.DSN = "postgres://x"
	if d.ConnectionString() != "postgres://x" {
		t.Fatalf("explicit dsn should win")
	}
}
