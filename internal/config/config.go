package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Email    EmailConfig    `yaml:"email"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Worker   WorkerConfig   `yaml:"worker"`
	Auth     AuthConfig     `yaml:"auth"`
	Reply    ReplyConfig    `yaml:"reply"`
	LogLevel string         `yaml:"log_level"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with container detection.
func (c ServerConfig) GetHost() string {
	// In a container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// EmailConfig holds the outbound email provider settings.
// Provider is one of "resend", "postmark", "ses", or "console" (dev).
type EmailConfig struct {
	Provider       string `yaml:"provider"`
	ResendAPIKey   string `yaml:"resend_api_key"`
	PostmarkToken  string `yaml:"postmark_token"`
	SESRegion      string `yaml:"ses_region"`
	SESAccessKey   string `yaml:"ses_access_key"`
	SESSecretKey   string `yaml:"ses_secret_key"`
	FromAddress    string `yaml:"from_address"`
	FromName       string `yaml:"from_name"`
	ReplyToDomain  string `yaml:"reply_to_domain"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured send timeout as a duration.
func (c EmailConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// WebhookConfig holds Basic auth credentials for inbound webhooks.
type WebhookConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Configured reports whether inbound webhooks can be authenticated.
func (c WebhookConfig) Configured() bool {
	return c.Username != "" && c.Password != ""
}

// WorkerConfig holds dispatcher tuning.
type WorkerConfig struct {
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	BatchSize           int `yaml:"batch_size"`
	MaxRetryAttempts    int `yaml:"max_retry_attempts"`
}

// PollInterval returns the poll interval as a duration.
func (c WorkerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// AuthConfig holds session token settings. SecretKey signs magic-link
// and session JWTs.
type AuthConfig struct {
	SecretKey          string `yaml:"secret_key"`
	MagicLinkTTLMins   int    `yaml:"magic_link_ttl_mins"`
	SessionTTLHours    int    `yaml:"session_ttl_hours"`
	MagicLinkBaseURL   string `yaml:"magic_link_base_url"`
	DisableAuthForDev  bool   `yaml:"disable_auth_for_dev"`
}

// ReplyConfig selects how replies are detected: "webhook" (inbound
// provider webhooks) or "simulated" (manual mark-replied endpoint only).
type ReplyConfig struct {
	Mode string `yaml:"mode"`
}

// Load reads and parses the configuration file, applying defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}

	// Defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Email.Provider == "" {
		cfg.Email.Provider = "console"
	}
	if cfg.Email.TimeoutSeconds == 0 {
		cfg.Email.TimeoutSeconds = 30
	}
	if cfg.Email.SESRegion == "" {
		cfg.Email.SESRegion = "us-east-1"
	}
	if cfg.Worker.PollIntervalSeconds == 0 {
		cfg.Worker.PollIntervalSeconds = 5
	}
	if cfg.Worker.BatchSize == 0 {
		cfg.Worker.BatchSize = 10
	}
	if cfg.Worker.MaxRetryAttempts == 0 {
		cfg.Worker.MaxRetryAttempts = 3
	}
	if cfg.Auth.MagicLinkTTLMins == 0 {
		cfg.Auth.MagicLinkTTLMins = 15
	}
	if cfg.Auth.SessionTTLHours == 0 {
		cfg.Auth.SessionTTLHours = 24 * 7
	}
	if cfg.Reply.Mode == "" {
		cfg.Reply.Mode = "webhook"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env
// vars, so secrets can live in .env locally and in real env vars in
// deployment. path may be empty; env vars alone are enough to run.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("SECRET_KEY"); v != "" {
		cfg.Auth.SecretKey = v
	}
	if v := os.Getenv("EMAIL_PROVIDER"); v != "" {
		cfg.Email.Provider = v
	}
	if v := os.Getenv("RESEND_API_KEY"); v != "" {
		cfg.Email.ResendAPIKey = v
	}
	if v := os.Getenv("POSTMARK_SERVER_TOKEN"); v != "" {
		cfg.Email.PostmarkToken = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.Email.SESRegion = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.Email.SESAccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.Email.SESSecretKey = v
	}
	if v := os.Getenv("EMAIL_FROM_ADDRESS"); v != "" {
		cfg.Email.FromAddress = v
	}
	if v := os.Getenv("EMAIL_FROM_NAME"); v != "" {
		cfg.Email.FromName = v
	}
	if v := os.Getenv("EMAIL_REPLY_TO_DOMAIN"); v != "" {
		cfg.Email.ReplyToDomain = v
	}
	if v := os.Getenv("WEBHOOK_USERNAME"); v != "" {
		cfg.Webhook.Username = v
	}
	if v := os.Getenv("WEBHOOK_PASSWORD"); v != "" {
		cfg.Webhook.Password = v
	}
	if v := os.Getenv("WORKER_POLL_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Worker.PollIntervalSeconds = n
		}
	}
	if v := os.Getenv("WORKER_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Worker.BatchSize = n
		}
	}
	if v := os.Getenv("MAX_RETRY_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Worker.MaxRetryAttempts = n
		}
	}
	if v := os.Getenv("REPLY_MODE"); v != "" {
		cfg.Reply.Mode = v
	}
	if v := os.Getenv("MAGIC_LINK_BASE_URL"); v != "" {
		cfg.Auth.MagicLinkBaseURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Server.Port = n
		}
	}

	return cfg, nil
}

// Warnings returns startup warnings for missing optional configuration.
// The process starts degraded rather than refusing to boot; only
// DATABASE_URL is fatal, and that's the caller's call to make.
func (c *Config) Warnings() []string {
	var w []string
	if c.Database.URL == "" {
		w = append(w, "DATABASE_URL is not set; persistence is unavailable")
	}
	if c.Auth.SecretKey == "" {
		w = append(w, "SECRET_KEY is not set; auth endpoints will reject all requests")
	}
	switch c.Email.Provider {
	case "resend":
		if c.Email.ResendAPIKey == "" {
			w = append(w, "EMAIL_PROVIDER=resend but RESEND_API_KEY is not set; sends will fail")
		}
	case "postmark":
		if c.Email.PostmarkToken == "" {
			w = append(w, "EMAIL_PROVIDER=postmark but POSTMARK_SERVER_TOKEN is not set; sends will fail")
		}
	case "ses":
		if c.Email.SESAccessKey == "" || c.Email.SESSecretKey == "" {
			w = append(w, "EMAIL_PROVIDER=ses but AWS_SES_ACCESS_KEY/AWS_SES_SECRET_KEY are not set; falling back to the default credential chain")
		}
	case "console":
		w = append(w, "EMAIL_PROVIDER=console; outgoing email is logged, not delivered")
	default:
		w = append(w, fmt.Sprintf("unknown EMAIL_PROVIDER %q; sends will fail", c.Email.Provider))
	}
	if c.Email.FromAddress == "" {
		w = append(w, "EMAIL_FROM_ADDRESS is not set; sends will fail")
	}
	if !c.Webhook.Configured() && c.Reply.Mode == "webhook" {
		w = append(w, "WEBHOOK_USERNAME/WEBHOOK_PASSWORD are not set; inbound webhooks will be rejected")
	}
	if c.Reply.Mode != "webhook" && c.Reply.Mode != "simulated" {
		w = append(w, fmt.Sprintf("unknown REPLY_MODE %q; treating as simulated", c.Reply.Mode))
	}
	return w
}
