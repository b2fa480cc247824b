package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Storage  StorageConfig  `yaml:"storage"`
	Redis    RedisConfig    `yaml:"redis"`
	Mail     MailConfig     `yaml:"mail"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Stream   StreamConfig   `yaml:"stream"`
	Reports  ReportsConfig  `yaml:"reports"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Addr returns host:port for the listener.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoggingConfig controls the structured logger
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Debug     bool   `yaml:"debug"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// ShouldRedact reports whether PII redaction is on. Defaults to true.
func (c LoggingConfig) ShouldRedact() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// StorageConfig selects the recipient store backend
type StorageConfig struct {
	Driver       string `yaml:"driver"` // "memory" or "postgres"
	DatabaseURL  string `yaml:"database_url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// RedisConfig enables cross-process dispatch locking when URL is set
type RedisConfig struct {
	URL string `yaml:"url"`
}

// MailConfig holds mail transport settings
type MailConfig struct {
	Transport          string `yaml:"transport"` // "smtp" or "ses"
	SMTPHost           string `yaml:"smtp_host"`
	SMTPPort           int    `yaml:"smtp_port"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	AllowedDomain      string `yaml:"allowed_domain"`
	Subject            string `yaml:"subject"`
	TemplatePath       string `yaml:"template_path"`
	SESRegion          string `yaml:"ses_region"`
	SESAccessKey       string `yaml:"ses_access_key"`
	SESSecretKey       string `yaml:"ses_secret_key"`
	TimeoutSeconds     int    `yaml:"timeout_seconds"`
}

// Timeout bounds a single transport operation.
func (c MailConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DispatchConfig tunes the dispatch loop
type DispatchConfig struct {
	SendDelayMs             int `yaml:"send_delay_ms"`
	SessionRetentionMinutes int `yaml:"session_retention_minutes"`
	LockTTLMinutes          int `yaml:"lock_ttl_minutes"`
	DrainTimeoutSeconds     int `yaml:"drain_timeout_seconds"`
}

// SendDelay is the fixed gap between two consecutive sends of one batch.
func (c DispatchConfig) SendDelay() time.Duration {
	return time.Duration(c.SendDelayMs) * time.Millisecond
}

// SessionRetention is how long a finished session stays in the registry.
func (c DispatchConfig) SessionRetention() time.Duration {
	return time.Duration(c.SessionRetentionMinutes) * time.Minute
}

// LockTTL is the lifetime of the cross-process dispatch lock between refreshes.
func (c DispatchConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLMinutes) * time.Minute
}

// DrainTimeout bounds how long shutdown waits for in-flight runs, after the
// HTTP server has stopped.
func (c DispatchConfig) DrainTimeout() time.Duration {
	return time.Duration(c.DrainTimeoutSeconds) * time.Second
}

// StreamConfig tunes progress streams
type StreamConfig struct {
	PollIntervalMs      int `yaml:"poll_interval_ms"`
	HeartbeatSeconds    int `yaml:"heartbeat_seconds"`
	StallTimeoutMinutes int `yaml:"stall_timeout_minutes"`
}

// PollInterval is the period of the per-observer read loop.
func (c StreamConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// Heartbeat is the period of keep-alive comments on idle streams.
func (c StreamConfig) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

// StallTimeout ends store-backed streams that stop making progress.
func (c StreamConfig) StallTimeout() time.Duration {
	return time.Duration(c.StallTimeoutMinutes) * time.Minute
}

// ReportsConfig holds S3 delivery report archiving settings
type ReportsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	S3Bucket string `yaml:"s3_bucket"`
	S3Region string `yaml:"s3_region"`
	Prefix   string `yaml:"prefix"`
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration with every default applied, for running
// without a config file.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "memory"
	}
	if cfg.Storage.MaxOpenConns == 0 {
		cfg.Storage.MaxOpenConns = 10
	}
	if cfg.Mail.Transport == "" {
		cfg.Mail.Transport = "smtp"
	}
	if cfg.Mail.SMTPHost == "" {
		cfg.Mail.SMTPHost = "smtp.gmail.com"
	}
	if cfg.Mail.SMTPPort == 0 {
		cfg.Mail.SMTPPort = 587
	}
	if cfg.Mail.AllowedDomain == "" {
		cfg.Mail.AllowedDomain = "@gmail.com"
	}
	if cfg.Mail.Subject == "" {
		cfg.Mail.Subject = "A Quick Hello"
	}
	if cfg.Mail.SESRegion == "" {
		cfg.Mail.SESRegion = "us-east-1"
	}
	if cfg.Mail.TimeoutSeconds == 0 {
		cfg.Mail.TimeoutSeconds = 30
	}
	if cfg.Dispatch.SendDelayMs == 0 {
		cfg.Dispatch.SendDelayMs = 2000
	}
	if cfg.Dispatch.SessionRetentionMinutes == 0 {
		cfg.Dispatch.SessionRetentionMinutes = 60
	}
	if cfg.Dispatch.LockTTLMinutes == 0 {
		cfg.Dispatch.LockTTLMinutes = 10
	}
	if cfg.Dispatch.DrainTimeoutSeconds == 0 {
		cfg.Dispatch.DrainTimeoutSeconds = 300
	}
	if cfg.Stream.PollIntervalMs == 0 {
		cfg.Stream.PollIntervalMs = 1000
	}
	if cfg.Stream.HeartbeatSeconds == 0 {
		cfg.Stream.HeartbeatSeconds = 15
	}
	if cfg.Stream.StallTimeoutMinutes == 0 {
		cfg.Stream.StallTimeoutMinutes = 10
	}
	if cfg.Reports.Prefix == "" {
		cfg.Reports.Prefix = "reports/"
	}
	if cfg.Reports.S3Region == "" {
		cfg.Reports.S3Region = cfg.Mail.SESRegion
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file (if present) before reading env vars. An empty
// path skips the YAML file and starts from defaults.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = Load(path); err != nil {
			return nil, err
		}
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("SERVER_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DatabaseURL = v
		if cfg.Storage.Driver == "memory" {
			cfg.Storage.Driver = "postgres"
		}
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("MAIL_TRANSPORT"); v != "" {
		cfg.Mail.Transport = v
	}
	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Mail.SMTPHost = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("SMTP_PORT: %w", err)
		}
		cfg.Mail.SMTPPort = port
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.Mail.SESRegion = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.Mail.SESAccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.Mail.SESSecretKey = v
	}
	if v := os.Getenv("REPORTS_S3_BUCKET"); v != "" {
		cfg.Reports.S3Bucket = v
		cfg.Reports.Enabled = true
	}

	return cfg, cfg.Validate()
}

// Validate rejects combinations the server cannot start with.
func (cfg *Config) Validate() error {
	switch cfg.Storage.Driver {
	case "memory":
	case "postgres":
		if cfg.Storage.DatabaseURL == "" {
			return fmt.Errorf("storage.database_url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
	switch cfg.Mail.Transport {
	case "smtp", "ses":
	default:
		return fmt.Errorf("unknown mail transport %q", cfg.Mail.Transport)
	}
	if cfg.Reports.Enabled && cfg.Reports.S3Bucket == "" {
		return fmt.Errorf("reports.s3_bucket is required when reports are enabled")
	}
	return nil
}
