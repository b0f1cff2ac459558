package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 9090
  host: "0.0.0.0"

database:
  url: "postgres://localhost/outreach_test"

email:
  provider: "postmark"
  postmark_token: "test-token"
  from_address: "hello@example.com"
  from_name: "Test Sender"
  reply_to_domain: "reply.example.com"
  timeout_seconds: 45

worker:
  poll_interval_seconds: 2
  batch_size: 25
  max_retry_attempts: 5

reply:
  mode: "simulated"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "postgres://localhost/outreach_test", cfg.Database.URL)
	assert.Equal(t, "postmark", cfg.Email.Provider)
	assert.Equal(t, "test-token", cfg.Email.PostmarkToken)
	assert.Equal(t, "hello@example.com", cfg.Email.FromAddress)
	assert.Equal(t, 45, cfg.Email.TimeoutSeconds)
	assert.Equal(t, 2, cfg.Worker.PollIntervalSeconds)
	assert.Equal(t, 25, cfg.Worker.BatchSize)
	assert.Equal(t, 5, cfg.Worker.MaxRetryAttempts)
	assert.Equal(t, "simulated", cfg.Reply.Mode)
}

func TestLoadDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
email:
  provider: "resend"
  resend_api_key: "test-key"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 30, cfg.Email.TimeoutSeconds)
	assert.Equal(t, 5, cfg.Worker.PollIntervalSeconds)
	assert.Equal(t, 10, cfg.Worker.BatchSize)
	assert.Equal(t, 3, cfg.Worker.MaxRetryAttempts)
	assert.Equal(t, "webhook", cfg.Reply.Mode)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadFromEnv(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
email:
  provider: "resend"
  resend_api_key: "file-key"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	os.Setenv("RESEND_API_KEY", "env-key")
	os.Setenv("WORKER_BATCH_SIZE", "50")
	os.Setenv("REPLY_MODE", "simulated")
	defer func() {
		os.Unsetenv("RESEND_API_KEY")
		os.Unsetenv("WORKER_BATCH_SIZE")
		os.Unsetenv("REPLY_MODE")
	}()

	cfg, err := LoadFromEnv(configPath)
	require.NoError(t, err)

	// Environment variables should override file values
	assert.Equal(t, "env-key", cfg.Email.ResendAPIKey)
	assert.Equal(t, 50, cfg.Worker.BatchSize)
	assert.Equal(t, "simulated", cfg.Reply.Mode)
}

func TestLoadEnvOnly(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://env/db")
	os.Setenv("EMAIL_PROVIDER", "console")
	defer func() {
		os.Unsetenv("DATABASE_URL")
		os.Unsetenv("EMAIL_PROVIDER")
	}()

	cfg, err := LoadFromEnv("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://env/db", cfg.Database.URL)
	assert.Equal(t, "console", cfg.Email.Provider)
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestWarningsDegradedStartup(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	warnings := cfg.Warnings()
	assert.NotEmpty(t, warnings)

	joined := ""
	for _, w := range warnings {
		joined += w + "\n"
	}
	assert.Contains(t, joined, "DATABASE_URL")
	assert.Contains(t, joined, "SECRET_KEY")
	assert.Contains(t, joined, "EMAIL_FROM_ADDRESS")
}

func TestWarningsProviderKeyMissing(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Email.Provider = "postmark"

	joined := ""
	for _, w := range cfg.Warnings() {
		joined += w + "\n"
	}
	assert.Contains(t, joined, "POSTMARK_SERVER_TOKEN")
}

func TestTimeout(t *testing.T) {
	cfg := EmailConfig{TimeoutSeconds: 45}
	assert.Equal(t, 45*1000000000, int(cfg.Timeout().Nanoseconds()))
}

func TestPollInterval(t *testing.T) {
	cfg := WorkerConfig{PollIntervalSeconds: 2}
	assert.Equal(t, 2*1000000000, int(cfg.PollInterval().Nanoseconds()))
}
