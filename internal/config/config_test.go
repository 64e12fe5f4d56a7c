package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("POCKETBASE_URL", "https://forms.example.test")
	t.Setenv("POCKETBASE_EMAIL", "admin@example.test")
	t.Setenv("POCKETBASE_PASS", "super-secret")
	t.Setenv("SMTP_HOSTNAME", "smtp.example.test")
	t.Setenv("SMTP_USERNAME", "mailer")
	t.Setenv("SMTP_PASSWORD", "hunter2")
	t.Setenv("MINIO_ENDPOINT", "minio.example.test:9000")
	t.Setenv("MINIO_BUCKET", "attachments")
	t.Setenv("MINIO_ROOT_USER", "root")
	t.Setenv("MINIO_ROOT_PASSWORD", "rootpass")
}

func TestLoad_DefaultsApplied(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.ConsumerBatchSize)
	assert.Equal(t, 10*time.Second, cfg.ConsumerBlock)
	assert.Equal(t, 15*time.Minute, cfg.RetryInterval)
	assert.Equal(t, 5, cfg.MailerRetries)
	assert.Equal(t, int64(64), cfg.RetryMaxInFlight)
	assert.Equal(t, ":8081", cfg.HealthAddr)
	assert.Equal(t, "starttls", cfg.SMTP.Security)
	assert.Equal(t, "plain", cfg.SMTP.Auth)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoad_MissingRequiredFieldFails(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("POCKETBASE_URL", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLoad_InvalidSMTPSecurityFails(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SMTP_SECURITY", "rot13")

	_, err := Load()
	require.Error(t, err)
}
