// Package config defines and loads the mailer's environment-driven
// configuration: a tagged struct processed by envconfig, validated by
// go-playground/validator, loaded from a godotenv-populated environment.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the full set of environment-driven knobs the mailer reads at
// startup.
type Config struct {
	PocketBase PocketBaseConfig
	SMTP       SMTPConfig
	MinIO      MinIOConfig
	Redis      RedisConfig

	ConsumerBatchSize int           `envconfig:"CONSUMER_BATCH_SIZE" default:"5"`
	ConsumerBlock     time.Duration `envconfig:"CONSUMER_BLOCK" default:"10s"`
	RetryInterval     time.Duration `envconfig:"RETRY_INTERVAL" default:"15m"`
	MailerRetries     int           `envconfig:"MAILER_RETRIES" default:"5"`
	RetryMaxInFlight  int64         `envconfig:"RETRY_MAX_INFLIGHT" default:"64"`

	APIURL     string `envconfig:"API_URL"`
	Debug      bool   `envconfig:"DEBUG" default:"false"`
	HealthAddr string `envconfig:"HEALTH_ADDR" default:":8081"`
}

// PocketBaseConfig configures the form-metadata store client.
type PocketBaseConfig struct {
	URL      string `envconfig:"POCKETBASE_URL" validate:"required,url"`
	Email    string `envconfig:"POCKETBASE_EMAIL" validate:"required,email"`
	Password string `envconfig:"POCKETBASE_PASS" validate:"required"`
}

// SMTPConfig configures the outbound mail gateway.
type SMTPConfig struct {
	Hostname   string `envconfig:"SMTP_HOSTNAME" validate:"required"`
	Port       int    `envconfig:"SMTP_PORT" default:"587"`
	Security   string `envconfig:"SMTP_SECURITY" default:"starttls" validate:"oneof=none starttls ssl"`
	Auth       string `envconfig:"SMTP_AUTH" default:"plain" validate:"oneof=plain gmail oauth2"`
	Username   string `envconfig:"SMTP_USERNAME" validate:"required"`
	Password   string `envconfig:"SMTP_PASSWORD" validate:"required"`
	PrivateKey string `envconfig:"SMTP_PRIVATE_KEY"`
	AccessURL  string `envconfig:"SMTP_ACCESS_URL"`
	Pool       bool   `envconfig:"SMTP_POOL" default:"false"`
}

// MinIOConfig configures the attachment object store.
type MinIOConfig struct {
	Endpoint     string `envconfig:"MINIO_ENDPOINT" validate:"required"`
	Bucket       string `envconfig:"MINIO_BUCKET" validate:"required"`
	UseSSL       bool   `envconfig:"MINIO_USE_SSL" default:"true"`
	RootUser     string `envconfig:"MINIO_ROOT_USER" validate:"required"`
	RootPassword string `envconfig:"MINIO_ROOT_PASSWORD" validate:"required"`
}

// RedisConfig configures the two side-state/stream connections; both share
// the same address and credentials.
type RedisConfig struct {
	Addr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

// Load loads a .env file if present (non-fatal if absent), processes
// envconfig tags into a Config, and validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process environment configuration: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate configuration: %w", err)
	}

	return &cfg, nil
}
