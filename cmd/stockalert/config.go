package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/stockalert/internal/security"
	"github.com/good-yellow-bee/stockalert/internal/storage"
)

// Config represents the stockalert configuration.
type Config struct {
	Database      DatabaseConfig      `yaml:"database"`
	Logging       LoggingConfig       `yaml:"logging"`
	Server        ServerConfig        `yaml:"server"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Redis         RedisConfig         `yaml:"redis"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Verbose       bool                `yaml:"-"` // set via CLI flag
}

// DatabaseConfig selects the storage driver.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite or postgres (default: sqlite)
	DSN    string `yaml:"dsn"`    // file path for sqlite, connection URL for postgres
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error (default: info)
	Format string `yaml:"format"` // console or json (default: console)
}

// ServerConfig contains HTTP settings.
type ServerConfig struct {
	HTTPAddress    string `yaml:"http_address"`    // API listen address (default: :8080)
	MetricsAddress string `yaml:"metrics_address"` // Prometheus listen address (default: :9090, "-" disables)
	RequestTimeout string `yaml:"request_timeout"` // Per-request pipeline bound (default: 30s)
}

// SchedulerConfig controls the batch tick.
type SchedulerConfig struct {
	Interval   string `yaml:"interval"`     // default: 5m
	HardLimit  string `yaml:"hard_limit"`   // default: 300s
	SoftLimit  string `yaml:"soft_limit"`   // default: 240s
	Workers    int    `yaml:"workers"`      // tenants processed concurrently (default: 1)
	RunOnStart bool   `yaml:"run_on_start"` // run a tick as soon as serve starts
}

// RedisConfig enables the cross-replica tick lock.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"` // default: localhost:6379
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	LockKey  string `yaml:"lock_key"`
}

// KafkaConfig enables publishing recorded alert events.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// NotificationsConfig configures the notification channels.
type NotificationsConfig struct {
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
	Email    EmailConfig    `yaml:"email"`
	Slack    SlackConfig    `yaml:"slack"`
	Retry    RetryConfig    `yaml:"retry"`
}

// WhatsAppConfig configures the Twilio WhatsApp sender.
type WhatsAppConfig struct {
	Enabled    bool    `yaml:"enabled"`
	AccountSID string  `yaml:"account_sid"`
	AuthToken  string  `yaml:"auth_token"`
	From       string  `yaml:"from"`
	BaseURL    string  `yaml:"base_url"`
	RatePerSec float64 `yaml:"rate_per_second"` // default: 1
	Burst      int     `yaml:"burst"`           // default: 5
}

// EmailConfig configures the email sender and its providers, tried in order SMTP, SES, Resend.
type EmailConfig struct {
	Enabled bool         `yaml:"enabled"`
	From    string       `yaml:"from"`
	SMTP    SMTPConfig   `yaml:"smtp"`
	SES     SESConfig    `yaml:"ses"`
	Resend  ResendConfig `yaml:"resend"`
}

// SMTPConfig contains SMTP server settings.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// SESConfig enables Amazon SES. Credentials come from the default AWS chain.
type SESConfig struct {
	Enabled bool   `yaml:"enabled"`
	Region  string `yaml:"region"`
}

// ResendConfig enables the Resend API.
type ResendConfig struct {
	APIKey string `yaml:"api_key"`
}

// SlackConfig configures the Slack webhook sender.
type SlackConfig struct {
	Enabled    bool    `yaml:"enabled"`
	RatePerSec float64 `yaml:"rate_per_second"` // default: 1
	Burst      int     `yaml:"burst"`           // default: 5
}

// RetryConfig controls retries of transient send failures.
type RetryConfig struct {
	MaxRetries     int    `yaml:"max_retries"`     // default: 2
	InitialBackoff string `yaml:"initial_backoff"` // default: 200ms
	MaxBackoff     string `yaml:"max_backoff"`     // default: 5s
}

// Environment variables that override secrets from the file.
const (
	envDatabaseDSN     = "STOCKALERT_DATABASE_DSN"
	envTwilioAuthToken = "STOCKALERT_TWILIO_AUTH_TOKEN"
	envSMTPPassword    = "STOCKALERT_SMTP_PASSWORD"
	envResendAPIKey    = "STOCKALERT_RESEND_API_KEY"

	// envConfigKey holds the passphrase for a config file ending in .enc.
	envConfigKey = "STOCKALERT_CONFIG_KEY"
)

// LoadConfig loads configuration from a YAML file. Files ending in .enc are
// decrypted with the passphrase from STOCKALERT_CONFIG_KEY.
func LoadConfig(path string) (*Config, error) {
	data, err := security.ReadFile(path, []byte(os.Getenv(envConfigKey)))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return parseConfig(data)
}

func parseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyEnv()
	cfg.setDefaults()
	return cfg
}

// applyEnv overrides secrets with values from the environment.
func (c *Config) applyEnv() {
	if v := os.Getenv(envDatabaseDSN); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv(envTwilioAuthToken); v != "" {
		c.Notifications.WhatsApp.AuthToken = v
	}
	if v := os.Getenv(envSMTPPassword); v != "" {
		c.Notifications.Email.SMTP.Password = v
	}
	if v := os.Getenv(envResendAPIKey); v != "" {
		c.Notifications.Email.Resend.APIKey = v
	}
}

// setDefaults sets default values for missing config fields.
func (c *Config) setDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = string(storage.DriverSQLite)
	}
	if c.Database.DSN == "" && c.Database.Driver == string(storage.DriverSQLite) {
		c.Database.DSN = "./data/stockalert.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	if c.Server.HTTPAddress == "" {
		c.Server.HTTPAddress = ":8080"
	}
	if c.Server.MetricsAddress == "" {
		c.Server.MetricsAddress = ":9090"
	}
	if c.Server.RequestTimeout == "" {
		c.Server.RequestTimeout = "30s"
	}
	if c.Scheduler.Interval == "" {
		c.Scheduler.Interval = "5m"
	}
	if c.Scheduler.HardLimit == "" {
		c.Scheduler.HardLimit = "300s"
	}
	if c.Scheduler.SoftLimit == "" {
		c.Scheduler.SoftLimit = "240s"
	}
	if c.Scheduler.Workers == 0 {
		c.Scheduler.Workers = 1
	}
	if c.Redis.Address == "" {
		c.Redis.Address = "localhost:6379"
	}
	if c.Notifications.WhatsApp.RatePerSec == 0 {
		c.Notifications.WhatsApp.RatePerSec = 1
	}
	if c.Notifications.WhatsApp.Burst == 0 {
		c.Notifications.WhatsApp.Burst = 5
	}
	if c.Notifications.Slack.RatePerSec == 0 {
		c.Notifications.Slack.RatePerSec = 1
	}
	if c.Notifications.Slack.Burst == 0 {
		c.Notifications.Slack.Burst = 5
	}
	if c.Notifications.Email.SMTP.Port == 0 {
		c.Notifications.Email.SMTP.Port = 587
	}
	if c.Notifications.Retry.MaxRetries == 0 {
		c.Notifications.Retry.MaxRetries = 2
	}
	if c.Notifications.Retry.InitialBackoff == "" {
		c.Notifications.Retry.InitialBackoff = "200ms"
	}
	if c.Notifications.Retry.MaxBackoff == "" {
		c.Notifications.Retry.MaxBackoff = "5s"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if _, err := storage.ParseDriver(c.Database.Driver); err != nil {
		return fmt.Errorf("database.driver: %w", err)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	for name, v := range map[string]string{
		"server.request_timeout":              c.Server.RequestTimeout,
		"scheduler.interval":                  c.Scheduler.Interval,
		"scheduler.hard_limit":                c.Scheduler.HardLimit,
		"scheduler.soft_limit":                c.Scheduler.SoftLimit,
		"notifications.retry.initial_backoff": c.Notifications.Retry.InitialBackoff,
		"notifications.retry.max_backoff":     c.Notifications.Retry.MaxBackoff,
	} {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: invalid duration %q", name, v)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.SoftLimit() >= c.HardLimit() {
		return fmt.Errorf("scheduler.soft_limit must be lower than scheduler.hard_limit")
	}
	if c.Scheduler.Workers < 1 {
		return fmt.Errorf("scheduler.workers must be at least 1")
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when kafka is enabled")
	}

	wa := c.Notifications.WhatsApp
	if wa.Enabled {
		if wa.AccountSID == "" || wa.AuthToken == "" {
			return fmt.Errorf("notifications.whatsapp.account_sid and auth_token are required")
		}
		if !strings.HasPrefix(wa.From, "+") {
			return fmt.Errorf("notifications.whatsapp.from must be an E.164 number")
		}
	}

	email := c.Notifications.Email
	if email.Enabled {
		if email.From == "" {
			return fmt.Errorf("notifications.email.from is required")
		}
		if email.SMTP.Host == "" && !email.SES.Enabled && email.Resend.APIKey == "" {
			return fmt.Errorf("notifications.email needs at least one of smtp, ses or resend")
		}
		if email.SES.Enabled && email.SES.Region == "" {
			return fmt.Errorf("notifications.email.ses.region is required when ses is enabled")
		}
	}
	return nil
}

// Interval returns the parsed tick interval. Call after Validate.
func (c *Config) Interval() time.Duration { return durationOf(c.Scheduler.Interval) }

// HardLimit returns the parsed tick hard limit.
func (c *Config) HardLimit() time.Duration { return durationOf(c.Scheduler.HardLimit) }

// SoftLimit returns the parsed tick soft limit.
func (c *Config) SoftLimit() time.Duration { return durationOf(c.Scheduler.SoftLimit) }

// RequestTimeout returns the parsed API request timeout.
func (c *Config) RequestTimeout() time.Duration { return durationOf(c.Server.RequestTimeout) }

func durationOf(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}
