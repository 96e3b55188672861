package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate default config: %v", err)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Database.Driver = %q, want sqlite", cfg.Database.Driver)
	}
	if cfg.Interval() != 5*time.Minute {
		t.Errorf("Interval() = %v, want 5m", cfg.Interval())
	}
	if cfg.HardLimit() != 300*time.Second {
		t.Errorf("HardLimit() = %v, want 300s", cfg.HardLimit())
	}
	if cfg.SoftLimit() != 240*time.Second {
		t.Errorf("SoftLimit() = %v, want 240s", cfg.SoftLimit())
	}
	if cfg.Server.MetricsAddress != ":9090" {
		t.Errorf("Server.MetricsAddress = %q, want :9090", cfg.Server.MetricsAddress)
	}
}

func TestConfig_EnvOverrides(t *testing.T) {
	t.Setenv(envDatabaseDSN, "/tmp/env.db")
	t.Setenv(envTwilioAuthToken, "env-token")
	t.Setenv(envSMTPPassword, "env-smtp")
	t.Setenv(envResendAPIKey, "re_env")

	cfg := DefaultConfig()

	if cfg.Database.DSN != "/tmp/env.db" {
		t.Errorf("Database.DSN = %q, want /tmp/env.db", cfg.Database.DSN)
	}
	if cfg.Notifications.WhatsApp.AuthToken != "env-token" {
		t.Errorf("WhatsApp.AuthToken = %q, want env-token", cfg.Notifications.WhatsApp.AuthToken)
	}
	if cfg.Notifications.Email.SMTP.Password != "env-smtp" {
		t.Errorf("SMTP.Password = %q, want env-smtp", cfg.Notifications.Email.SMTP.Password)
	}
	if cfg.Notifications.Email.Resend.APIKey != "re_env" {
		t.Errorf("Resend.APIKey = %q, want re_env", cfg.Notifications.Email.Resend.APIKey)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults",
			modify: func(c *Config) {},
		},
		{
			name:    "unknown driver",
			modify:  func(c *Config) { c.Database.Driver = "mysql" },
			wantErr: "database.driver",
		},
		{
			name: "postgres without dsn",
			modify: func(c *Config) {
				c.Database.Driver = "postgres"
				c.Database.DSN = ""
			},
			wantErr: "database.dsn",
		},
		{
			name:    "invalid interval",
			modify:  func(c *Config) { c.Scheduler.Interval = "soon" },
			wantErr: "scheduler.interval",
		},
		{
			name:    "negative backoff",
			modify:  func(c *Config) { c.Notifications.Retry.MaxBackoff = "-1s" },
			wantErr: "notifications.retry.max_backoff",
		},
		{
			name: "soft limit above hard limit",
			modify: func(c *Config) {
				c.Scheduler.SoftLimit = "5m"
				c.Scheduler.HardLimit = "4m"
			},
			wantErr: "soft_limit",
		},
		{
			name:    "zero workers",
			modify:  func(c *Config) { c.Scheduler.Workers = -1 },
			wantErr: "workers",
		},
		{
			name:    "kafka without brokers",
			modify:  func(c *Config) { c.Kafka.Enabled = true },
			wantErr: "kafka.brokers",
		},
		{
			name: "whatsapp without credentials",
			modify: func(c *Config) {
				c.Notifications.WhatsApp.Enabled = true
				c.Notifications.WhatsApp.From = "+15550000"
			},
			wantErr: "account_sid",
		},
		{
			name: "whatsapp from not e164",
			modify: func(c *Config) {
				c.Notifications.WhatsApp = WhatsAppConfig{Enabled: true, AccountSID: "AC1", AuthToken: "t", From: "15550000"}
			},
			wantErr: "E.164",
		},
		{
			name: "email without provider",
			modify: func(c *Config) {
				c.Notifications.Email.Enabled = true
				c.Notifications.Email.From = "alerts@example.com"
			},
			wantErr: "at least one",
		},
		{
			name: "ses without region",
			modify: func(c *Config) {
				c.Notifications.Email.Enabled = true
				c.Notifications.Email.From = "alerts@example.com"
				c.Notifications.Email.SES.Enabled = true
			},
			wantErr: "ses.region",
		},
		{
			name: "email with resend",
			modify: func(c *Config) {
				c.Notifications.Email.Enabled = true
				c.Notifications.Email.From = "alerts@example.com"
				c.Notifications.Email.Resend.APIKey = "re_123"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stockalert.yaml")
	data := `
database:
  driver: postgres
  dsn: postgres://localhost/stockalert
scheduler:
  interval: 1m
  workers: 4
kafka:
  enabled: true
  brokers: [kafka-1:9092, kafka-2:9092]
  topic: alerts
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("Database.Driver = %q, want postgres", cfg.Database.Driver)
	}
	if cfg.Interval() != time.Minute {
		t.Errorf("Interval() = %v, want 1m", cfg.Interval())
	}
	if cfg.Scheduler.Workers != 4 {
		t.Errorf("Scheduler.Workers = %d, want 4", cfg.Scheduler.Workers)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("Kafka.Brokers = %v, want 2 brokers", cfg.Kafka.Brokers)
	}
	if cfg.HardLimit() != 300*time.Second {
		t.Errorf("HardLimit() = %v, want default 300s", cfg.HardLimit())
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("LoadConfig(missing) error = nil")
	}

	bad := filepath.Join(dir, "bad.yaml")
	os.WriteFile(bad, []byte("scheduler: [unclosed"), 0600)
	if _, err := LoadConfig(bad); err == nil {
		t.Error("LoadConfig(bad yaml) error = nil")
	}

	invalid := filepath.Join(dir, "invalid.yaml")
	os.WriteFile(invalid, []byte("scheduler:\n  hard_limit: 1m\n  soft_limit: 2m\n"), 0600)
	if _, err := LoadConfig(invalid); err == nil {
		t.Error("LoadConfig(invalid limits) error = nil")
	}
}

func TestExampleConfig(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("..", "..", "configs", "stockalert.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig(example) error = %v", err)
	}
	if cfg.Redis.LockKey != "stockalert:tick" {
		t.Errorf("Redis.LockKey = %q, want stockalert:tick", cfg.Redis.LockKey)
	}
}

func TestLoadConfig_Encrypted(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "stockalert.yaml")
	data := "notifications:\n  slack:\n    enabled: true\n"
	if err := os.WriteFile(src, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv(envConfigKey, "s3cret")
	var out bytes.Buffer
	encryptConfigCmd.SetOut(&out)
	removePlain = true
	t.Cleanup(func() { removePlain = false })
	if err := runEncryptConfig(encryptConfigCmd, []string{src}); err != nil {
		t.Fatalf("runEncryptConfig() error = %v", err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Errorf("plaintext still present: %v", err)
	}

	cfg, err := LoadConfig(src + ".enc")
	if err != nil {
		t.Fatalf("LoadConfig(encrypted) error = %v", err)
	}
	if !cfg.Notifications.Slack.Enabled {
		t.Error("Slack.Enabled = false, want true")
	}

	t.Setenv(envConfigKey, "wrong")
	if _, err := LoadConfig(src + ".enc"); err == nil {
		t.Error("LoadConfig(wrong passphrase) error = nil")
	}
}

func TestEncryptConfig_RejectsInvalid(t *testing.T) {
	src := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(src, []byte("scheduler:\n  workers: -3\n"), 0600)
	t.Setenv(envConfigKey, "s3cret")

	if err := runEncryptConfig(encryptConfigCmd, []string{src}); err == nil {
		t.Error("runEncryptConfig(invalid) error = nil")
	}
	if _, err := os.Stat(src + ".enc"); !os.IsNotExist(err) {
		t.Error("encrypted file written for invalid config")
	}
}
