// Package config loads worker configuration from YAML with environment
// overrides for credentials.
package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the worker.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Twilio     TwilioConfig     `yaml:"twilio"`
	SES        SESConfig        `yaml:"ses"`
	QuietHours QuietHoursConfig `yaml:"quiet_hours"`
	Sweeps     SweepsConfig     `yaml:"sweeps"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds Redis settings for sweep locks.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// TwilioConfig holds delivery transport credentials.
type TwilioConfig struct {
	AccountSID     string `yaml:"account_sid"`
	AuthToken      string `yaml:"auth_token"`
	FromNumber     string `yaml:"from_number"`
	WhatsAppNumber string `yaml:"whatsapp_number"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the per-delivery timeout as a duration.
func (c TwilioConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SESConfig holds AWS SES settings for email delivery. Email delivery is
// optional; an empty FromAddress leaves it unconfigured.
type SESConfig struct {
	AccessKey   string `yaml:"access_key"`
	SecretKey   string `yaml:"secret_key"`
	Region      string `yaml:"region"`
	FromAddress string `yaml:"from_address"`
}

// Enabled reports whether email delivery is configured.
func (c SESConfig) Enabled() bool {
	return c.FromAddress != ""
}

// QuietHoursConfig is the global do-not-disturb window for automated sends.
// The window may wrap midnight (e.g. 21 to 8). A disabled or malformed
// window means quiet hours never apply.
type QuietHoursConfig struct {
	Enabled   bool   `yaml:"enabled"`
	StartHour int    `yaml:"start_hour"`
	EndHour   int    `yaml:"end_hour"`
	Timezone  string `yaml:"timezone"`
}

// SweepsConfig holds sweep cadence settings.
type SweepsConfig struct {
	AutomationIntervalMinutes   int `yaml:"automation_interval_minutes"`
	ReminderIntervalMinutes     int `yaml:"reminder_interval_minutes"`
	ReminderLookaheadMinutes    int `yaml:"reminder_lookahead_minutes"`
	RegistrationIntervalMinutes int `yaml:"registration_interval_minutes"`
}

// AutomationInterval returns the automation sweep cadence.
func (c SweepsConfig) AutomationInterval() time.Duration {
	return time.Duration(c.AutomationIntervalMinutes) * time.Minute
}

// ReminderInterval returns the reminder sweep cadence.
func (c SweepsConfig) ReminderInterval() time.Duration {
	return time.Duration(c.ReminderIntervalMinutes) * time.Minute
}

// ReminderLookahead returns the due-reminder lookahead window.
func (c SweepsConfig) ReminderLookahead() time.Duration {
	return time.Duration(c.ReminderLookaheadMinutes) * time.Minute
}

// RegistrationInterval returns the approaching-registration sweep cadence.
// The cadence must be well under a day: a worker restarted before its first
// tick would otherwise skip that day's offsets, and day-offset reminders are
// never backfilled. Repeated same-day runs are harmless; the per-offset sent
// flags keep them idempotent.
func (c SweepsConfig) RegistrationInterval() time.Duration {
	return time.Duration(c.RegistrationIntervalMinutes) * time.Minute
}

// Load reads and parses the configuration file, then applies environment
// overrides for secrets. A missing .env file is not an error.
func Load(path string) (*Config, error) {
	godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Twilio.TimeoutSeconds == 0 {
		cfg.Twilio.TimeoutSeconds = 30
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-east-1"
	}
	if cfg.QuietHours.Timezone == "" {
		cfg.QuietHours.Timezone = "America/New_York"
	}
	if cfg.Sweeps.AutomationIntervalMinutes == 0 {
		cfg.Sweeps.AutomationIntervalMinutes = 60
	}
	if cfg.Sweeps.ReminderIntervalMinutes == 0 {
		cfg.Sweeps.ReminderIntervalMinutes = 5
	}
	if cfg.Sweeps.ReminderLookaheadMinutes == 0 {
		cfg.Sweeps.ReminderLookaheadMinutes = 5
	}
	if cfg.Sweeps.RegistrationIntervalMinutes == 0 {
		cfg.Sweeps.RegistrationIntervalMinutes = 60
	}

	// Environment overrides for credentials
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("TWILIO_ACCOUNT_SID"); v != "" {
		cfg.Twilio.AccountSID = v
	}
	if v := os.Getenv("TWILIO_AUTH_TOKEN"); v != "" {
		cfg.Twilio.AuthToken = v
	}
	if v := os.Getenv("TWILIO_PHONE_NUMBER"); v != "" {
		cfg.Twilio.FromNumber = v
	}
	if v := os.Getenv("TWILIO_WHATSAPP_NUMBER"); v != "" {
		cfg.Twilio.WhatsAppNumber = v
	}
	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		cfg.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		cfg.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.SES.Region = v
	}

	return &cfg, nil
}
