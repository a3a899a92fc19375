// Package config loads ignite-relay's configuration from a YAML file with
// environment variable overrides, in that order.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Security   SecurityConfig   `yaml:"security"`
	SMTP       DefaultSMTPConfig `yaml:"smtp"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Worker     WorkerConfig     `yaml:"worker"`
	Webhook    WebhookConfig    `yaml:"webhook"`
	Log        LogConfig        `yaml:"log"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig holds HTTP admission-controller server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with ECS/container detection, matching
// how operators expect a container workload to bind on 0.0.0.0 regardless
// of what a local config file says.
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifeMins int    `yaml:"conn_max_life_mins"`
}

// ConnMaxLifetime returns the configured connection lifetime as a duration.
func (c DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifeMins) * time.Minute
}

// RedisConfig holds Redis connection settings used by the rate limiter and
// the distributed lock. Job reservations are tracked in Postgres, not Redis.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// SecurityConfig holds the secrets used to protect tenant credentials and
// sign outbound material.
type SecurityConfig struct {
	// EncryptionKey encrypts SMTP config passwords at rest (AES-256-GCM).
	EncryptionKey string `yaml:"encryption_key"`
	// AdminSecret authenticates the operator-only management endpoints.
	AdminSecret string `yaml:"admin_secret"`
	// JWTSecret signs tracking-link tokens.
	JWTSecret string `yaml:"jwt_secret"`
}

// DefaultSMTPConfig seeds the process-level fallback relay used when a
// queue carries no SMTP config of its own.
type DefaultSMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// Secure selects implicit TLS; false means STARTTLS.
	Secure bool `yaml:"secure"`
}

// RateLimitConfig holds the default rate-limiter bucket sizes applied when
// a queue or app doesn't configure its own.
type RateLimitConfig struct {
	DefaultAPIKeyPerMinute int `yaml:"default_api_key_per_minute"`
	DefaultAppPerDay       int `yaml:"default_app_per_day"`
}

// WorkerConfig controls the email worker pool.
type WorkerConfig struct {
	Concurrency        int `yaml:"concurrency"`
	PollIntervalMillis int `yaml:"poll_interval_millis"`
	VisibilityTimeoutS int `yaml:"visibility_timeout_seconds"`
}

// PollInterval returns the worker poll interval as a duration.
func (c WorkerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMillis) * time.Millisecond
}

// VisibilityTimeout returns the reservation visibility timeout as a duration.
func (c WorkerConfig) VisibilityTimeout() time.Duration {
	return time.Duration(c.VisibilityTimeoutS) * time.Second
}

// WebhookConfig holds outbound webhook settings. SweepIntervalSec sets the
// retry sweeper's cadence. MaxAttempts and TimeoutSeconds are loaded but not
// read by the dispatcher, which uses its own fixed budget of 5 attempts and
// a 10s POST timeout.
type WebhookConfig struct {
	MaxAttempts      int `yaml:"max_attempts"`
	TimeoutSeconds   int `yaml:"timeout_seconds"`
	SweepIntervalSec int `yaml:"sweep_interval_seconds"`
}

// Timeout returns the webhook POST timeout as a duration.
func (c WebhookConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SweepInterval returns the sweeper's scan cadence as a duration.
func (c WebhookConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSec) * time.Second
}

// LogConfig controls the zerolog sink.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
	// AnonymizeIPs masks the final octet of client addresses in access logs.
	AnonymizeIPs bool `yaml:"anonymize_ips"`
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads and parses the configuration file, filling in defaults for
// anything the file leaves zero-valued.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 10
	}
	if cfg.Database.ConnMaxLifeMins == 0 {
		cfg.Database.ConnMaxLifeMins = 30
	}
	if cfg.Redis.URL == "" {
		cfg.Redis.URL = "redis://localhost:6379/0"
	}
	if cfg.RateLimit.DefaultAPIKeyPerMinute == 0 {
		cfg.RateLimit.DefaultAPIKeyPerMinute = 600
	}
	if cfg.RateLimit.DefaultAppPerDay == 0 {
		cfg.RateLimit.DefaultAppPerDay = 100000
	}
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = 20
	}
	if cfg.Worker.PollIntervalMillis == 0 {
		cfg.Worker.PollIntervalMillis = 250
	}
	if cfg.Worker.VisibilityTimeoutS == 0 {
		cfg.Worker.VisibilityTimeoutS = 60
	}
	if cfg.Webhook.MaxAttempts == 0 {
		cfg.Webhook.MaxAttempts = 8
	}
	if cfg.Webhook.TimeoutSeconds == 0 {
		cfg.Webhook.TimeoutSeconds = 10
	}
	if cfg.Webhook.SweepIntervalSec == 0 {
		cfg.Webhook.SweepIntervalSec = 30
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
}

// LoadFromEnv loads configuration from path with environment variable
// overrides applied afterward. It loads a .env file first (no error if
// missing) so secrets can live in .env locally and real env vars in
// production.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("ENCRYPTION_KEY"); v != "" {
		cfg.Security.EncryptionKey = v
	}
	if v := os.Getenv("ADMIN_SECRET"); v != "" {
		cfg.Security.AdminSecret = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Security.JWTSecret = v
	}
	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.SMTP.Host = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SMTP.Port = n
		}
	}
	if v := os.Getenv("SMTP_USERNAME"); v != "" {
		cfg.SMTP.Username = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		cfg.SMTP.Password = v
	}
	if v := os.Getenv("SMTP_SECURE"); v != "" {
		cfg.SMTP.Secure = v == "true" || v == "1"
	}
	if v := os.Getenv("RATE_LIMIT_DEFAULT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.DefaultAPIKeyPerMinute = n
		}
	}
	if v := os.Getenv("WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.Concurrency = n
		}
	}
	if v := os.Getenv("METRICS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("ANONYMIZE_IPS"); v != "" {
		cfg.Log.AnonymizeIPs = v == "true" || v == "1"
	}

	if err := validateSecrets(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateSecrets enforces the secret-shape rules from spec.md §6: a 32-byte
// hex encryption key (exactly 64 hex characters), an admin secret of at
// least 16 characters, and — when tracking tokens are in play — a JWT
// secret of at least 32.
func validateSecrets(cfg *Config) error {
	if cfg.Database.URL == "" {
		return fmt.Errorf("config: DATABASE_URL is required")
	}
	key := cfg.Security.EncryptionKey
	if key == "" {
		return fmt.Errorf("config: ENCRYPTION_KEY is required")
	}
	if len(key) != 64 {
		return fmt.Errorf("config: ENCRYPTION_KEY must be exactly 64 hex characters (32 bytes)")
	}
	if _, err := hex.DecodeString(key); err != nil {
		return fmt.Errorf("config: ENCRYPTION_KEY must be hex-encoded: %w", err)
	}
	if cfg.Security.AdminSecret == "" {
		return fmt.Errorf("config: ADMIN_SECRET is required")
	}
	if len(cfg.Security.AdminSecret) < 16 {
		return fmt.Errorf("config: ADMIN_SECRET must be at least 16 characters")
	}
	if cfg.Security.JWTSecret != "" && len(cfg.Security.JWTSecret) < 32 {
		return fmt.Errorf("config: JWT_SECRET must be at least 32 characters")
	}
	return nil
}
